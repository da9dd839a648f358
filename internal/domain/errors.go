package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies fetch failures
type ErrorKind string

const (
	// KindNetwork is a transport-level failure (connection refused, timeout, ...)
	KindNetwork ErrorKind = "network"
	// KindResponse is a non-success HTTP status
	KindResponse ErrorKind = "response"
	// KindParse is a malformed payload
	KindParse ErrorKind = "parse"
)

// FetchError is the normalized failure of a remote read.
// Message is human readable and safe to show to the user.
type FetchError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Err        error     `json:"-"`
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewNetworkError wraps a transport failure
func NewNetworkError(target string, err error) *FetchError {
	return &FetchError{
		Kind:    KindNetwork,
		Message: fmt.Sprintf("request to %s failed", target),
		Err:     err,
	}
}

// NewResponseError builds a non-2xx failure. serverMessage is preferred when present.
func NewResponseError(target string, status int, serverMessage string) *FetchError {
	msg := serverMessage
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d from %s", status, target)
	}
	return &FetchError{
		Kind:       KindResponse,
		Message:    msg,
		StatusCode: status,
	}
}

// NewParseError wraps a payload decoding failure
func NewParseError(target string, err error) *FetchError {
	return &FetchError{
		Kind:    KindParse,
		Message: fmt.Sprintf("malformed response from %s", target),
		Err:     err,
	}
}

// AsFetchError normalizes any error into a FetchError. Errors that are not
// already classified are treated as network failures.
func AsFetchError(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Kind: KindNetwork, Message: err.Error(), Err: err}
}

// ValidationError signals a caller bug: mismatched forecast shapes, unknown
// indicator keys in a group definition, unparseable timestamps.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
