package errors

import (
	stderrors "errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

type ErrorType string

const (
	ErrTypeTransport         ErrorType = "TRANSPORT"
	ErrTypeUpstreamStatus    ErrorType = "UPSTREAM_STATUS"
	ErrTypeMalformedResponse ErrorType = "MALFORMED_RESPONSE"
	ErrTypeApplication       ErrorType = "APPLICATION"
	ErrTypeInvalidInput      ErrorType = "INVALID_INPUT"
)

// DomainError classifies a failure talking to the backend. StatusCode is set
// for UPSTREAM_STATUS errors only.
type DomainError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Err        error
	Stack      []byte
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func (e *DomainError) StackTrace() []byte {
	return e.Stack
}

func New(errType ErrorType, message string, err error) *DomainError {
	var stack []byte
	if err != nil {
		if stackErr, ok := err.(*goerrors.Error); ok {
			stack = stackErr.Stack()
		} else {
			stack = goerrors.Wrap(err, 2).Stack()
		}
	} else {
		stack = goerrors.New(message).Stack()
	}

	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Stack:   stack,
	}
}

func Transport(message string, err error) *DomainError {
	return New(ErrTypeTransport, message, err)
}

// UpstreamStatus records a non-2xx response.
func UpstreamStatus(code int, message string) *DomainError {
	e := New(ErrTypeUpstreamStatus, message, nil)
	e.StatusCode = code
	return e
}

func Malformed(message string, err error) *DomainError {
	return New(ErrTypeMalformedResponse, message, err)
}

// Application wraps an informational outcome such as already_applied.
func Application(message string) *DomainError {
	return New(ErrTypeApplication, message, nil)
}

func InvalidInput(message string, err error) *DomainError {
	return New(ErrTypeInvalidInput, message, err)
}

// TypeOf returns the type of the first DomainError in err's chain, or "".
func TypeOf(err error) ErrorType {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Type
	}
	return ""
}

// Retryable reports whether the failure may succeed if the request is repeated.
func Retryable(err error) bool {
	switch TypeOf(err) {
	case ErrTypeTransport, ErrTypeUpstreamStatus:
		return true
	}
	return false
}
