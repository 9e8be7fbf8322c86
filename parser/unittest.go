package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum-optimism/infra/op-regress/types"
)

var (
	unittestRanRe    = regexp.MustCompile(`^Ran ([0-9]+) tests? in [0-9.]+s$`)
	unittestStatusRe = regexp.MustCompile(`^(OK|FAILED|NO TESTS RAN)(?:\s+\((.*)\))?$`)
	unittestItemRe   = regexp.MustCompile(`^([a-z ]+)=([0-9]+)$`)
)

// unittestStrategy reads the "Ran N tests in Xs" line and the OK/FAILED
// status line that follows it.
type unittestStrategy struct{}

func (unittestStrategy) family() Family { return FamilyUnittest }

func (unittestStrategy) parse(lines []string) (*Result, bool) {
	ran := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if unittestRanRe.MatchString(strings.TrimSpace(lines[i])) {
			ran = i
			break
		}
	}
	if ran < 0 {
		return nil, false
	}

	m := unittestRanRe.FindStringSubmatch(strings.TrimSpace(lines[ran]))
	count, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, false
	}

	for j := ran + 1; j < len(lines); j++ {
		status := strings.TrimSpace(lines[j])
		if status == "" {
			continue
		}
		sm := unittestStatusRe.FindStringSubmatch(status)
		if sm == nil {
			// a run that never printed its status did not finish cleanly
			return nil, false
		}
		rec := types.ResultRecord{types.CategoryRan: count}
		if sm[2] != "" {
			for _, item := range strings.Split(sm[2], ",") {
				im := unittestItemRe.FindStringSubmatch(strings.TrimSpace(item))
				if im == nil {
					return nil, false
				}
				n, err := strconv.Atoi(im[2])
				if err != nil {
					return nil, false
				}
				rec[strings.ReplaceAll(strings.TrimSpace(im[1]), " ", "_")] += n
			}
		}
		summary := strings.TrimSpace(lines[ran]) + " / " + status
		return &Result{Family: FamilyUnittest, Record: rec, Line: j, Summary: summary}, true
	}
	return nil, false
}
