package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum-optimism/infra/op-regress/types"
)

// TAP line regexes
var (
	tapPlanRe   = regexp.MustCompile(`^1\.\.([0-9]+)`)
	tapResultRe = regexp.MustCompile(`^(ok|not ok)\b`)
	tapSkipRe   = regexp.MustCompile(`(?i)#\s*skip`)
	tapTodoRe   = regexp.MustCompile(`(?i)#\s*todo`)
	tapBailRe   = regexp.MustCompile(`^Bail out!`)
)

// tapStrategy counts Test Anything Protocol results. Several TAP streams in
// one output are summed. Planned tests that never reported are counted as
// "missing".
type tapStrategy struct{}

func (tapStrategy) family() Family { return FamilyTAP }

func (tapStrategy) parse(lines []string) (*Result, bool) {
	rec := types.ResultRecord{}
	planned, results := 0, 0
	sawPlan := false
	last := -1
	var summary string

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case tapPlanRe.MatchString(line):
			n, err := strconv.Atoi(tapPlanRe.FindStringSubmatch(line)[1])
			if err != nil {
				continue
			}
			planned += n
			sawPlan = true
			last = i
			summary = line
		case tapResultRe.MatchString(line):
			results++
			last = i
			ok := strings.HasPrefix(line, "ok")
			switch {
			case tapSkipRe.MatchString(line):
				rec[types.CategorySkipped]++
			case tapTodoRe.MatchString(line):
				rec["todo"]++
			case ok:
				rec[types.CategoryPassed]++
			default:
				rec[types.CategoryFailed]++
			}
		case tapBailRe.MatchString(line):
			rec["bailed_out"]++
			last = i
		}
	}
	if !sawPlan {
		return nil, false
	}
	if planned > results {
		rec["missing"] = planned - results
	}
	return &Result{Family: FamilyTAP, Record: rec, Line: last, Summary: summary}, true
}
