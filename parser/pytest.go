package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum-optimism/infra/op-regress/types"
)

var (
	// "in 12.34 seconds", "in 0.12s", "in 75.03s (0:01:15)"
	pytestDurationRe = regexp.MustCompile(`\s+in\s+[0-9.]+\s*(s|sec|secs|seconds)?(\s*\([0-9:]+\))?$`)
	pytestItemRe     = regexp.MustCompile(`^([0-9]+)\s+([a-z-]+)$`)
)

// pytestLabels maps the words pytest prints to category labels. Words mapped
// to "" are recognised but not counted.
var pytestLabels = map[string]string{
	"passed":          types.CategoryPassed,
	"failed":          types.CategoryFailed,
	"error":           types.CategoryErrors,
	"errors":          types.CategoryErrors,
	"skipped":         types.CategorySkipped,
	"xfailed":         types.CategoryXFailed,
	"xpassed":         types.CategoryXPassed,
	"deselected":      "deselected",
	"rerun":           "rerun",
	"warning":         "",
	"warnings":        "",
	"pytest-warnings": "",
}

// pytestStrategy reads the final "N passed, M failed, K skipped in Xs" line
type pytestStrategy struct{}

func (pytestStrategy) family() Family { return FamilyPytest }

func (pytestStrategy) parse(lines []string) (*Result, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if rec, ok := parsePytestSummary(lines[i]); ok {
			return &Result{Family: FamilyPytest, Record: rec, Line: i, Summary: strings.TrimSpace(lines[i])}, true
		}
	}
	return nil, false
}

// parsePytestSummary accepts a line only if, once the "=" banner and the
// duration are removed, it consists entirely of "<count> <known word>" items.
// A line made only of uncounted words needs the banner or the duration.
func parsePytestSummary(line string) (types.ResultRecord, bool) {
	body := strings.TrimSpace(line)
	framed := strings.HasPrefix(body, "=")
	body = strings.Trim(body, "= ")
	if pytestDurationRe.MatchString(body) {
		framed = true
		body = pytestDurationRe.ReplaceAllString(body, "")
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, false
	}
	if strings.HasPrefix(body, "no tests ran") {
		return types.ResultRecord{}, true
	}

	rec := types.ResultRecord{}
	for _, item := range strings.Split(body, ",") {
		m := pytestItemRe.FindStringSubmatch(strings.TrimSpace(item))
		if m == nil {
			return nil, false
		}
		label, known := pytestLabels[m[2]]
		if !known {
			return nil, false
		}
		if label == "" {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, false
		}
		rec[label] += n
	}
	if len(rec) == 0 && !framed {
		return nil, false
	}
	return rec, true
}
