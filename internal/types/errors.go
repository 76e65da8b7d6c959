package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for the retry decision table.
type ErrorKind int

const (
	// ErrKindTransient covers timeouts, refused/reset connections and
	// device-busy responses. Retried with backoff.
	ErrKindTransient ErrorKind = iota
	// ErrKindFatal covers protocol and configuration mismatches
	// (illegal register address, malformed frames). Not retried.
	ErrKindFatal
	// ErrKindSink covers persistence write failures. Retried a bounded
	// number of times per batch.
	ErrKindSink
	// ErrKindInvariant covers configuration and composition violations
	// caught before any device is polled. Startup aborts on these.
	ErrKindInvariant
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindTransient:
		return "transient"
	case ErrKindFatal:
		return "fatal"
	case ErrKindSink:
		return "sink"
	case ErrKindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// KindError wraps an error with its classification.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// NewKindError wraps err with the given classification.
func NewKindError(kind ErrorKind, err error) *KindError {
	return &KindError{Kind: kind, Err: err}
}

// KindOf extracts the classification from err. Unclassified errors
// default to transient, so an unknown failure is retried rather than
// parking the device.
func KindOf(err error) ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ErrKindTransient
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == ErrKindFatal
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
