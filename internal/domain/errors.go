package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingChannel is wrapped by ConfigurationError when no channel is bound.
	ErrMissingChannel = errors.New("channel URL is required")
	// ErrEmptyResult reports that recognition finished without candidate text.
	ErrEmptyResult = errors.New("No text found")
	// ErrMissingCredentials means the app or user id has not been entered yet.
	ErrMissingCredentials = errors.New("app id and user id are required")
	// ErrNotConnected is returned by chat operations issued before login completes.
	ErrNotConnected = errors.New("chat session is not connected")
)

// ConfigurationError is fatal to a conversation screen instance.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransportError is a chat send failure carrying the transport supplied reason.
type TransportError struct {
	Code   int
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Reason != "":
		return e.Reason
	case e.Err != nil:
		return e.Err.Error()
	default:
		return ""
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// RecognitionError carries a recognizer error code out of a speech provider.
type RecognitionError struct {
	Code RecognitionErrorCode
	Err  error
}

func (e *RecognitionError) Error() string {
	if e.Err == nil {
		return RecognitionErrorMessage(e.Code)
	}
	return fmt.Sprintf("%s: %v", RecognitionErrorMessage(e.Code), e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// RecognitionErrorCodeOf extracts the recognizer code from err, falling back to fallback.
func RecognitionErrorCodeOf(err error, fallback RecognitionErrorCode) RecognitionErrorCode {
	var recErr *RecognitionError
	if errors.As(err, &recErr) {
		return recErr.Code
	}
	return fallback
}
