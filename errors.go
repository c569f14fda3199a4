package chatrelay

import (
	"errors"
	"fmt"
	"strings"
)

const (
	StatusBadRequest          = 400
	StatusUnauthorized        = 401
	StatusNotFound            = 404
	StatusConflict            = 409
	StatusInternalServerError = 500
	StatusServiceUnavailable  = 503
)

// Error represents an error raised by the relay engine. It carries the
// channel context when applicable, an HTTP-like status code, and whether the
// condition is temporary. No Error is ever fatal to the process.
type Error struct {
	ChannelName string      `json:"channelName,omitempty"`
	Message     string      `json:"message"`
	Code        int         `json:"code"`
	Temporary   bool        `json:"temporary"`
	Details     interface{} `json:"details,omitempty"`
	cause       error
}

func (e *Error) Error() string {
	if e.ChannelName != "" {
		return fmt.Sprintf("error in channel %s: %s (code: %d)", e.ChannelName, e.Message, e.Code)
	}
	return fmt.Sprintf("%s (code: %d)", e.Message, e.Code)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) withCause(err error) *Error {
	e.cause = err
	return e
}

func wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return &Error{
			ChannelName: e.ChannelName,
			Message:     fmt.Sprintf("%s: %s", message, e.Message),
			Code:        e.Code,
			Temporary:   e.Temporary,
			Details:     e.Details,
			cause:       e.cause,
		}
	}
	return &Error{
		Message: fmt.Sprintf("%s: %s", message, err),
		Code:    StatusInternalServerError,
		cause:   err,
	}
}

func wrapF(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return wrap(err, fmt.Sprintf(format, args...))
}

func badRequest(channelName, message string) *Error {
	return &Error{
		Message:     message,
		Code:        StatusBadRequest,
		ChannelName: channelName,
	}
}

func notFound(channelName, message string) *Error {
	return &Error{
		Message:     message,
		Code:        StatusNotFound,
		ChannelName: channelName,
	}
}

func conflict(channelName, message string) *Error {
	return &Error{
		Message:     message,
		Code:        StatusConflict,
		ChannelName: channelName,
	}
}

// admissionDenied covers both hash mismatches and malformed channel ids.
// Callers drop the event silently; the error is only surfaced to operators.
func admissionDenied(channelName, message string) *Error {
	return &Error{
		Message:     message,
		Code:        StatusUnauthorized,
		ChannelName: channelName,
	}
}

func internal(channelName, message string) *Error {
	return &Error{
		Message:     message,
		Code:        StatusInternalServerError,
		ChannelName: channelName,
	}
}

func unavailable(channelName, message string) *Error {
	return &Error{
		Message:     message,
		Code:        StatusServiceUnavailable,
		ChannelName: channelName,
		Temporary:   true,
	}
}

// MultiError aggregates several errors into one.
type MultiError struct {
	errors []error
}

func (m *MultiError) Error() string {
	if len(m.errors) == 0 {
		return "no errors"
	}
	messages := make([]string, len(m.errors))
	for i, err := range m.errors {
		messages[i] = err.Error()
	}
	return strings.Join(messages, "; ")
}

func (m *MultiError) Unwrap() []error {
	return m.errors
}

func combine(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	if len(nonNil) == 1 {
		return nonNil[0]
	}
	return &MultiError{errors: nonNil}
}

// errorReply builds the outbound error message sent back to a client when
// its envelope could not be processed.
func errorReply(err error) errorMessage {
	var e *Error
	if errors.As(err, &e) {
		return errorMessage{
			Callback: callbackError,
			Message:  e.Message,
			Code:     e.Code,
		}
	}
	return errorMessage{
		Callback: callbackError,
		Message:  err.Error(),
		Code:     StatusInternalServerError,
	}
}
