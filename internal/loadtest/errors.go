package loadtest

import "fmt"

// InvariantError reports a programming or configuration mistake detected at
// run time, such as sampling from a population too small to exclude anyone.
// It aborts the run.
type InvariantError struct {
	Op      string
	Message string
}

func (e *InvariantError) Error() string {
	if e.Op == "" {
		return "invariant violated: " + e.Message
	}
	return fmt.Sprintf("invariant violated in %s: %s", e.Op, e.Message)
}
