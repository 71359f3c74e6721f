package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBuildsJobErrorWithoutCause(t *testing.T) {
	err := New(CodeNotFound, http.StatusNotFound, "job not found")
	assert.Equal(t, CodeNotFound, err.Code)
	assert.Equal(t, http.StatusNotFound, err.Status)
	assert.Nil(t, err.Unwrap())
	assert.Equal(t, "not_found: job not found", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("backend timeout")
	err := Wrap(CodeSynthTransient, http.StatusBadGateway, "synth failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "backend timeout")
}

func TestHTTPStatusUnwrapsJobError(t *testing.T) {
	inner := New(CodeCapacity, http.StatusTooManyRequests, "at capacity")
	wrapped := fmt.Errorf("submit: %w", inner)

	status, code, msg := HTTPStatus(wrapped)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, CodeCapacity, code)
	assert.Equal(t, "at capacity", msg)
}

func TestHTTPStatusFallsBackToInternalForPlainErrors(t *testing.T) {
	status, code, msg := HTTPStatus(errors.New("something else"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeInternal, code)
	assert.Equal(t, "internal error", msg)
}

func TestJobErrorAsMatchesThroughWrapping(t *testing.T) {
	inner := New(CodeRetryCapExceeded, http.StatusConflict, "too many retries")
	wrapped := fmt.Errorf("worker: %w", inner)

	var je *JobError
	assert.True(t, errors.As(wrapped, &je))
	assert.Equal(t, CodeRetryCapExceeded, je.Code)
}
