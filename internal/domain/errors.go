package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the stable classification stored in ErrorInfo.Kind.
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "ValidationError"
	ErrorKindResolution ErrorKind = "ResolutionError"

	ErrorKindFetchNetwork     ErrorKind = "FetchError.network"
	ErrorKindFetchDisk        ErrorKind = "FetchError.disk"
	ErrorKindFetchUnsupported ErrorKind = "FetchError.unsupportedFormat"

	ErrorKindBackendAuth             ErrorKind = "BackendError.auth"
	ErrorKindBackendQuota            ErrorKind = "BackendError.quota"
	ErrorKindBackendNetwork          ErrorKind = "BackendError.network"
	ErrorKindBackendUnsupportedMedia ErrorKind = "BackendError.unsupportedMedia"
	ErrorKindBackendTimeout          ErrorKind = "BackendError.timeout"
	ErrorKindBackendRejected         ErrorKind = "BackendError.rejected"

	ErrorKindCancelled ErrorKind = "Cancelled"
	ErrorKindInternal  ErrorKind = "InternalError"
)

// Retryable reports whether an error of this kind may be retried inside the same job.
func (k ErrorKind) Retryable() bool {
	return k == ErrorKindFetchNetwork || k == ErrorKindBackendNetwork
}

var (
	ErrNotFound     = errors.New("job not found")
	ErrStillRunning = errors.New("job still running")
	ErrNoResult     = errors.New("job has no generated result")
)

// ValidationError rejects a submission before any job exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// JobError is the classified failure raised by a pipeline collaborator.
type JobError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func NewJobError(kind ErrorKind, message string, err error) *JobError {
	return &JobError{Kind: kind, Message: message, Err: err}
}

// Classify turns any error surfacing at the pipeline boundary into ErrorInfo.
func Classify(err error, stage Stage) ErrorInfo {
	var jobErr *JobError
	switch {
	case errors.As(err, &jobErr):
		return ErrorInfo{Kind: jobErr.Kind, Stage: stage, Message: jobErr.Message}
	case errors.Is(err, context.Canceled):
		return ErrorInfo{Kind: ErrorKindCancelled, Stage: stage, Message: "job cancelled"}
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorInfo{Kind: ErrorKindCancelled, Stage: stage, Message: "job timed out"}
	case err == nil:
		return ErrorInfo{Kind: ErrorKindInternal, Stage: stage, Message: "unknown failure"}
	default:
		return ErrorInfo{Kind: ErrorKindInternal, Stage: stage, Message: err.Error()}
	}
}
