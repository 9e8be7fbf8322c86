package types

import (
	"fmt"
	"sort"
	"strings"
)

// Common outcome category labels
const (
	CategoryPassed   = "passed"
	CategoryFailed   = "failed"
	CategoryErrors   = "errors"
	CategorySkipped  = "skipped"
	CategoryXFailed  = "xfailed"
	CategoryXPassed  = "xpassed"
	CategoryRan      = "ran"
	CategoryFailures = "failures"
)

// ResultRecord maps an outcome category to its count. Categories that are
// not present count as zero.
type ResultRecord map[string]int

// Get returns the count for a category, zero when absent
func (r ResultRecord) Get(category string) int {
	return r[category]
}

// Equal compares two records category by category. A category absent on one
// side is equal to the same category with a zero count on the other.
func (r ResultRecord) Equal(other ResultRecord) bool {
	for k, v := range r {
		if other[k] != v {
			return false
		}
	}
	for k, v := range other {
		if r[k] != v {
			return false
		}
	}
	return true
}

// Categories returns the non-zero categories in sorted order
func (r ResultRecord) Categories() []string {
	keys := make([]string, 0, len(r))
	for k, v := range r {
		if v != 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Validate rejects negative counts and empty labels
func (r ResultRecord) Validate() error {
	for k, v := range r {
		if k == "" {
			return fmt.Errorf("empty category label")
		}
		if v < 0 {
			return fmt.Errorf("category %s has negative count %d", k, v)
		}
	}
	return nil
}

// Clone returns a copy of the record
func (r ResultRecord) Clone() ResultRecord {
	out := make(ResultRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Diff lists the categories whose counts differ, formatted as
// "category: got X, want Y".
func (r ResultRecord) Diff(want ResultRecord) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range []ResultRecord{r, want} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)

	var diffs []string
	for _, k := range keys {
		if r[k] != want[k] {
			diffs = append(diffs, fmt.Sprintf("%s: got %d, want %d", k, r[k], want[k]))
		}
	}
	return diffs
}

// String renders the record with sorted keys, e.g. "{failed: 1, passed: 3}".
// Zero counts are omitted.
func (r ResultRecord) String() string {
	cats := r.Categories()
	parts := make([]string, 0, len(cats))
	for _, k := range cats {
		parts = append(parts, fmt.Sprintf("%s: %d", k, r[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
