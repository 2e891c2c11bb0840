package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedInput is returned for an unparseable scenario table or one
	// without a usable name column.
	ErrMalformedInput = errors.New("malformed input")

	// ErrDuplicateName is returned when an experiment name is already taken.
	ErrDuplicateName = errors.New("duplicate experiment name")

	// ErrBackendUnavailable wraps transient backend or storage failures seen
	// while polling.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrPartialSubmission is returned when some scenario jobs were submitted
	// before a later one failed.
	ErrPartialSubmission = errors.New("partial submission")
)

// PartialSubmissionError reports the jobs that were live on the backend when
// experiment creation failed.
type PartialSubmissionError struct {
	Experiment string
	Scenario   string

	// Submitted holds the ids of jobs created before the failure.
	Submitted []string

	// RolledBack reports whether Submitted were deleted again.
	RolledBack bool

	Err error
}

func (e *PartialSubmissionError) Error() string {
	state := "left running"
	if e.RolledBack {
		state = "rolled back"
	}
	return fmt.Sprintf("experiment %q: submitting scenario %q failed after %d job(s) were submitted (%s: %s): %v",
		e.Experiment, e.Scenario, len(e.Submitted), state, strings.Join(e.Submitted, ", "), e.Err)
}

func (e *PartialSubmissionError) Unwrap() []error {
	return []error{ErrPartialSubmission, e.Err}
}
