// Package parser turns raw test-runner output into a ResultRecord.
//
// The set of summary formats is closed: pytest, unittest, go test -json and
// TAP. A caller either names the format or asks for auto detection, in which
// case every strategy is tried and the one whose summary appears last in the
// output wins (ties go to the earlier strategy in Families order).
package parser

import (
	"fmt"
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-regress/types"
)

// Family names a test-summary format
type Family string

// String implements the Stringer interface for Family
func (f Family) String() string {
	return string(f)
}

// Family enum values
const (
	FamilyAuto     Family = "auto"
	FamilyPytest   Family = "pytest"
	FamilyUnittest Family = "unittest"
	FamilyGoTest   Family = "gotest"
	FamilyTAP      Family = "tap"
)

// strategies in detection order
var strategies = []strategy{
	pytestStrategy{},
	unittestStrategy{},
	goTestStrategy{},
	tapStrategy{},
}

// Families returns the concrete formats in detection order
func Families() []Family {
	out := make([]Family, len(strategies))
	for i, s := range strategies {
		out[i] = s.family()
	}
	return out
}

// ParseFamily parses a family name. An empty string means FamilyAuto.
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	if f == "" || f == FamilyAuto {
		return FamilyAuto, nil
	}
	for _, known := range Families() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown summary format %q", s)
}

// Result is a parsed summary
type Result struct {
	Family  Family
	Record  types.ResultRecord
	Line    int    // index of the last line that contributed to the summary
	Summary string // the summary text as printed, for diagnostics
}

type strategy interface {
	family() Family
	// parse returns the summary found in lines, or false if none is present
	parse(lines []string) (*Result, bool)
}

// Parse extracts a ResultRecord from output. When no summary can be found a
// *types.ParseError is returned; an empty output is never read as "zero
// failures".
func Parse(output string, family Family) (*Result, error) {
	if family == "" {
		family = FamilyAuto
	}
	lines := splitLines(output)

	if family == FamilyAuto {
		if res, ok := detect(lines); ok {
			return res, nil
		}
		return nil, &types.ParseError{Family: string(family), Output: output}
	}

	for _, s := range strategies {
		if s.family() != family {
			continue
		}
		if res, ok := s.parse(lines); ok {
			return res, nil
		}
		return nil, &types.ParseError{Family: string(family), Output: output}
	}
	return nil, fmt.Errorf("unknown summary format %q", family)
}

func detect(lines []string) (*Result, bool) {
	var best *Result
	for _, s := range strategies {
		res, ok := s.parse(lines)
		if !ok {
			continue
		}
		if best == nil || res.Line > best.Line {
			best = res
		}
	}
	return best, best != nil
}

// splitLines strips terminal colour codes and carriage returns so summary
// matching works on what a human would read.
func splitLines(output string) []string {
	clean := stripansi.Strip(output)
	clean = strings.ReplaceAll(clean, "\r\n", "\n")
	clean = strings.ReplaceAll(clean, "\r", "\n")
	return strings.Split(clean, "\n")
}
