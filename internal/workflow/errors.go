package workflow

import "fmt"

// ErrMissingExecutor is returned when do() is called without a step
// function.
var ErrMissingExecutor = fmt.Errorf("workflow: do called without a function")

// ErrEmptyStepName is returned when do() or sleep() is called with an empty
// step name.
var ErrEmptyStepName = fmt.Errorf("workflow: step name must not be empty")

// StepTimeoutError reports that a step attempt's deadline elapsed before the
// step function returned. The underlying function is not aborted — it
// keeps running, orphaned, and its eventual result is discarded.
type StepTimeoutError struct {
	StepName string
	Timeout  string
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %q timed out after %s", e.StepName, e.Timeout)
}

// StepFailedError wraps the error returned by a step function on an
// attempt that exhausted its retry budget.
type StepFailedError struct {
	StepName string
	Err      error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.StepName, e.Err)
}

func (e *StepFailedError) Unwrap() error {
	return e.Err
}
