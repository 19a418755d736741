// File: internal/run/result.go
// Brief: Run outcome accounting.

package run

// StackStatus is the terminal state of one stack within a run.
type StackStatus string

const (
	StatusSucceeded StackStatus = "succeeded"
	StatusFailed    StackStatus = "failed"
	StatusSkipped   StackStatus = "skipped"
)

// Result summarizes one scheduler run. Skipped holds stacks that were never
// dispatched because a dependency failed or fail-fast ended the run early;
// they count against Success just like failures.
type Result struct {
	Succeeded []string
	Failed    []string
	Skipped   []string

	Errors map[string]error
}

// Success reports whether every in-scope stack deployed successfully.
func (r *Result) Success() bool {
	return len(r.Failed) == 0 && len(r.Skipped) == 0
}

// Status returns the terminal status of a stack, defaulting to skipped for
// stacks that never produced a result.
func (r *Result) Status(name string) StackStatus {
	for _, s := range r.Succeeded {
		if s == name {
			return StatusSucceeded
		}
	}
	for _, s := range r.Failed {
		if s == name {
			return StatusFailed
		}
	}
	return StatusSkipped
}
