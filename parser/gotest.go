package parser

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-regress/types"
)

// Go test2json action constants
// See https://cs.opensource.google/go/go/+/master:src/cmd/test2json/main.go;l=34-60
const (
	ActionStart  = "start"
	ActionRun    = "run"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
)

// TestEvent represents a test event from go test -json output
type TestEvent struct {
	Time    time.Time
	Action  string
	Package string
	Test    string
	Elapsed float64
	Output  string
}

// goTestStrategy counts the terminal events of top-level tests in a
// `go test -json` stream. A package that fails without any failing test
// (build failure, panic in init, TestMain exit) is counted under "errors".
type goTestStrategy struct{}

func (goTestStrategy) family() Family { return FamilyGoTest }

func (goTestStrategy) parse(lines []string) (*Result, bool) {
	// final status per package::test, later events win
	status := make(map[string]string)
	var order []string
	pkgStatus := make(map[string]string)
	var pkgOrder []string
	last := -1

	for i, line := range lines {
		event, err := parseTestEvent([]byte(strings.TrimSpace(line)))
		if err != nil || event.Action == "" {
			continue
		}
		if !isTerminalAction(event.Action) {
			continue
		}
		if event.Test == "" {
			if event.Package == "" {
				continue
			}
			if _, seen := pkgStatus[event.Package]; !seen {
				pkgOrder = append(pkgOrder, event.Package)
			}
			pkgStatus[event.Package] = event.Action
			last = i
			continue
		}
		if isSubTest(event.Test) {
			continue
		}
		key := event.Package + "::" + event.Test
		if _, seen := status[key]; !seen {
			order = append(order, key)
		}
		status[key] = event.Action
	}
	if len(pkgStatus) == 0 {
		return nil, false
	}

	rec := types.ResultRecord{}
	failedTests := make(map[string]int)
	for _, key := range order {
		switch status[key] {
		case ActionPass:
			rec[types.CategoryPassed]++
		case ActionFail:
			rec[types.CategoryFailed]++
			pkg, _, _ := strings.Cut(key, "::")
			failedTests[pkg]++
		case ActionSkip:
			rec[types.CategorySkipped]++
		}
	}
	for _, pkg := range pkgOrder {
		if pkgStatus[pkg] == ActionFail && failedTests[pkg] == 0 {
			rec[types.CategoryErrors]++
		}
	}

	summary := strings.TrimSpace(lines[last])
	return &Result{Family: FamilyGoTest, Record: rec, Line: last, Summary: summary}, true
}

func parseTestEvent(line []byte) (TestEvent, error) {
	var event TestEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return event, err
	}
	return event, nil
}

func isTerminalAction(action string) bool {
	return action == ActionPass || action == ActionFail || action == ActionSkip
}

func isSubTest(name string) bool {
	return strings.Contains(name, "/")
}
