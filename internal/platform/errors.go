package platform

import (
	"fmt"
)

// SubmissionError means the alert was not accepted. The alert is dropped;
// callers log it and move on.
type SubmissionError struct {
	Op         string // encode, sign, request, post, read, status
	StatusCode int
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("alert submission %s (HTTP %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("alert submission %s: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
