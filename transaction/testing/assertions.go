package testing

import (
	"fmt"
	"strings"
	"testing"
)

// AssertCalls asserts that the provider's call log equals expected, in order.
//
// Example:
//
//	AssertCalls(t, p, CallAcquire, CallAutoCommitOff, CallRollback, CallAutoCommitOn, CallRelease)
func AssertCalls(t *testing.T, p *FakeProvider, expected ...Call) {
	t.Helper()
	actual := p.Calls()
	if len(actual) == len(expected) {
		match := true
		for i := range actual {
			if actual[i] != expected[i] {
				match = false
				break
			}
		}
		if match {
			return
		}
	}
	t.Errorf("unexpected call sequence\nexpected: %s\nactual:   %s", formatCalls(expected), formatCalls(actual))
}

// AssertBalanced asserts that every acquired connection was released exactly
// once and went back with autocommit enabled.
func AssertBalanced(t *testing.T, p *FakeProvider) {
	t.Helper()
	for _, c := range p.Connections() {
		if n := c.Releases(); n != 1 {
			t.Errorf("connection %d released %d times, expected exactly once", c.ID(), n)
		}
		if !c.AutoCommit() {
			t.Errorf("connection %d released with autocommit disabled", c.ID())
		}
	}
}

// AssertCallCount asserts that call was recorded exactly expected times.
func AssertCallCount(t *testing.T, p *FakeProvider, call Call, expected int) {
	t.Helper()
	if n := p.Count(call); n != expected {
		t.Errorf("expected %d %s calls, got %d\ncalls: %s", expected, call, n, formatCalls(p.Calls()))
	}
}

func formatCalls(calls []Call) string {
	if len(calls) == 0 {
		return "(none)"
	}
	parts := make([]string, len(calls))
	for i, c := range calls {
		parts[i] = string(c)
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, " → "))
}
