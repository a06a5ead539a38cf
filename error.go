// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhesession

import (
	"errors"
	"fmt"
)

// Error codes surfaced to callers. UI layers are expected to render the
// code and message and offer a retry where that makes sense.
const (
	CodeInitialization = "INITIALIZATION_ERROR"
	CodeValidation     = "VALIDATION_ERROR"
	CodeEncryption     = "ENCRYPTION_ERROR"
	CodeAuthorization  = "AUTHORIZATION_ERROR"
	CodeExpired        = "AUTHORIZATION_EXPIRED"
	CodeDecryption     = "DECRYPTION_ERROR"
	CodeMissingResult  = "MISSING_RESULT"
	CodeNoConfig       = "NO_CONFIG"
)

var (
	// ErrNoConfig is returned by Refresh when the session was never
	// initialized.
	ErrNoConfig = errors.New("session has no configuration")

	// ErrMissingResult is returned when the engine's result map lacks an
	// expected handle. A handle mapped to a zero value is not missing.
	ErrMissingResult = errors.New("decryption result missing for handle")

	// ErrAuthorizationExpired is returned when a freshly created
	// authorization is already past its validity window.
	ErrAuthorizationExpired = errors.New("authorization expired")

	// ErrValueOutOfRange is returned by the input builder when a value
	// does not fit its declared width.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrInvalidAddress is returned by the input builder for malformed
	// EVM addresses.
	ErrInvalidAddress = errors.New("invalid address")
)

// Error is a structured session error carrying a stable code, a human
// readable message, and the original cause where one exists.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrorCode walks the error chain and returns the first structured code
// found, or the empty string.
func ErrorCode(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
