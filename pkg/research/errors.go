package research

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyGeneration is returned when the query generator produces no
	// queries at the start of a run.
	ErrEmptyGeneration = errors.New("query generator returned no queries")

	// ErrRunFinished is returned by Step once the final answer has been set.
	ErrRunFinished = errors.New("research run already finished")

	// ErrSearchTimeout marks a search call that exceeded its per-call timeout.
	ErrSearchTimeout = errors.New("search call timed out")

	// ErrTaskPanicked marks a dispatched call that panicked instead of returning.
	ErrTaskPanicked = errors.New("dispatched call panicked")

	// ErrInvalidArgument is returned for a bad topic or loop configuration.
	ErrInvalidArgument = errors.New("invalid argument")
)

// StageError is the error surfaced to callers when a run aborts. It names the
// stage whose collaborator failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage extracts the failing stage from an error returned by Run.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return StageInit, false
}
