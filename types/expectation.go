package types

import (
	"errors"
	"fmt"
	"strings"
)

// ExpectationSet is an ordered, non-empty collection of acceptable records.
// A run is acceptable if its record equals any member.
type ExpectationSet []ResultRecord

// NewExpectationSet builds a validated expectation set
func NewExpectationSet(members ...ResultRecord) (ExpectationSet, error) {
	set := make(ExpectationSet, 0, len(members))
	for _, m := range members {
		set = append(set, m.Clone())
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// Validate checks the set is non-empty and every member is well formed
func (e ExpectationSet) Validate() error {
	if len(e) == 0 {
		return errors.New("expectation set must have at least one member")
	}
	for i, m := range e {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("expectation %d: %w", i, err)
		}
	}
	return nil
}

// Match returns the index of the first member equal to r
func (e ExpectationSet) Match(r ResultRecord) (int, bool) {
	for i, m := range e {
		if r.Equal(m) {
			return i, true
		}
	}
	return -1, false
}

// String renders every member, e.g. "[{failed: 2}, {failed: 3}]"
func (e ExpectationSet) String() string {
	parts := make([]string, len(e))
	for i, m := range e {
		parts[i] = m.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
