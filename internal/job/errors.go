package job

import "fmt"

// Error is a job failure tagged with the state it failed in. errors.As
// reaches the underlying allocator, render or packager error.
type Error struct {
	JobID string
	Stage State
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("job failed during %s", e.Stage)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
