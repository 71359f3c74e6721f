// Package apperr defines the error taxonomy shared by the API, worker, and
// merge pipeline: each error kind carries a fixed HTTP status and code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidText       Code = "admission.invalid_text"
	CodeTooLarge          Code = "admission.too_large"
	CodeRateLimited       Code = "admission.rate_limited"
	CodeCapacity          Code = "admission.capacity"
	CodeModelDisallowed   Code = "admission.model_disallowed"
	CodeResolverUnavail   Code = "resolver.fallback_unavailable"
	CodeSynthTransient    Code = "synth.transient"
	CodeSynthPermanent    Code = "synth.permanent"
	CodeCodecFailed       Code = "codec.encode_failed"
	CodeMergeLockTimeout  Code = "merge.lock_timeout"
	CodeCacheWriteFailed  Code = "cache.write_failed"
	CodeCancelObserved    Code = "cancel.observed"
	CodeNotFound          Code = "not_found"
	CodeRetryCapExceeded  Code = "retry_cap_exceeded"
	CodeDictConflict      Code = "dict.conflict"
	CodeInternal          Code = "internal"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrSegmentNotFound = errors.New("segment not found")
	ErrSegmentNotReady = errors.New("segment not ready")
	ErrNoWorkersOnline = errors.New("no workers online")
	ErrClaimLost       = errors.New("claim lost")
	ErrJobCanceled     = errors.New("job canceled")
)

// JobError carries the taxonomy code plus the admission/processing context
// needed by handlers to build a response body.
type JobError struct {
	Code      Code
	JobID     string
	SegmentID string
	Status    int
	Msg       string
	Err       error
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *JobError) Unwrap() error { return e.Err }

func New(code Code, status int, msg string) *JobError {
	return &JobError{Code: code, Status: status, Msg: msg}
}

func Wrap(code Code, status int, msg string, err error) *JobError {
	return &JobError{Code: code, Status: status, Msg: msg, Err: err}
}

// HTTPStatus maps any error to (httpStatus, code, message) for response
// rendering. Non-taxonomy errors become 500 internal.
func HTTPStatus(err error) (int, Code, string) {
	var je *JobError
	if errors.As(err, &je) {
		return je.Status, je.Code, je.Msg
	}
	return http.StatusInternalServerError, CodeInternal, "internal error"
}
