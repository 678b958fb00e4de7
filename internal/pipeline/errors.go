package pipeline

import (
	"fmt"
	"time"
)

// ErrorKind classifies a pipeline failure for the request boundary.
type ErrorKind string

const (
	KindInputInvalid     ErrorKind = "input_invalid"
	KindLanguageMismatch ErrorKind = "language_mismatch"
	KindRefusal          ErrorKind = "refusal"
	KindUpstreamTimeout  ErrorKind = "upstream_timeout"
	KindUpstreamFailure  ErrorKind = "upstream_failure"
	KindCacheUnavailable ErrorKind = "cache_unavailable"
	KindCancelled        ErrorKind = "cancelled"
	KindInternal         ErrorKind = "internal"
)

// StageError annotates a failure with the stage it happened in and the time
// spent there. The wrapped error never carries raw upstream prompt text.
type StageError struct {
	Kind    ErrorKind
	Stage   string
	Elapsed time.Duration
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s in stage %s after %s: %v", e.Kind, e.Stage, e.Elapsed.Round(time.Millisecond), e.Err)
	}
	return fmt.Sprintf("%s in stage %s: %s", e.Kind, e.Stage, e.Message)
}

func (e *StageError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the identical request.
func (e *StageError) Retryable() bool {
	return e.Kind == KindUpstreamTimeout || e.Kind == KindUpstreamFailure
}
