package server

import (
	"context"
	"errors"
	"net/http"
	"syscall"

	"github.com/darkace1998/content-transformer/internal/transformer"
)

// StatusError is a request failure with the HTTP status it is answered with.
type StatusError struct {
	Code    int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func statusErrorf(code int, message string, err error) *StatusError {
	return &StatusError{Code: code, Message: message, Err: err}
}

const timeoutMessage = "Transformation did not complete within the allowed timeout"

// statusOf maps a worker or request failure to its response status and message.
func statusOf(err error) (int, string) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, se.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusRequestTimeout, timeoutMessage
	}
	var invalid *transformer.InvalidOptionError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest, err.Error()
	}
	var remote *transformer.RemoteError
	if errors.As(err, &remote) && remote.StatusCode >= 400 && remote.StatusCode < 500 {
		return remote.StatusCode, err.Error()
	}
	if errors.Is(err, syscall.ENOSPC) {
		return http.StatusInsufficientStorage, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}
