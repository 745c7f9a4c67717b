package ironframe

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type errType string

const (
	serviceUnavailableErrType = "ServiceUnavailableError"
	containerNotFoundErrType  = "ContainerNotFoundError"
	processNotFoundErrType    = "ProcessNotFoundError"
	invalidArgumentErrType    = "InvalidArgumentError"
	propertyNotFoundErrType   = "PropertyNotFoundError"
)

// ErrInvalidArgument is wrapped by every contract violation: out-of-range
// limits, paths escaping their container subtree, malformed specs.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrDisposed is returned by accessors on released kernel objects.
var ErrDisposed = errors.New("already disposed")

// ErrContainerNotActive is returned when running a process in a container
// that has been stopped or destroyed.
var ErrContainerNotActive = errors.New("container is not active")

func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

type Error struct {
	Err error
}

func NewError(err string) *Error {
	return &Error{Err: errors.New(err)}
}

type marshalledError struct {
	Type      errType
	Message   string
	Handle    string
	ProcessID string
	Key       string
}

func (m Error) Error() string {
	return m.Err.Error()
}

func (m Error) Unwrap() error {
	return m.Err
}

func (m Error) StatusCode() int {
	var notFound ContainerNotFoundError
	var processNotFound ProcessNotFoundError
	var propertyNotFound PropertyNotFoundError
	var unavailable ServiceUnavailableError

	switch {
	case errors.As(m.Err, &notFound), errors.As(m.Err, &processNotFound), errors.As(m.Err, &propertyNotFound):
		return http.StatusNotFound
	case errors.Is(m.Err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.As(m.Err, &unavailable):
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

func (m Error) MarshalJSON() ([]byte, error) {
	var errorType errType
	handle := ""
	processID := ""
	key := ""

	var notFound ContainerNotFoundError
	var processNotFound ProcessNotFoundError
	var propertyNotFound PropertyNotFoundError
	var unavailable ServiceUnavailableError

	switch {
	case errors.As(m.Err, &notFound):
		errorType = containerNotFoundErrType
		handle = notFound.Handle
	case errors.As(m.Err, &processNotFound):
		errorType = processNotFoundErrType
		processID = processNotFound.ProcessID
	case errors.As(m.Err, &propertyNotFound):
		errorType = propertyNotFoundErrType
		handle = propertyNotFound.Handle
		key = propertyNotFound.Key
	case errors.As(m.Err, &unavailable):
		errorType = serviceUnavailableErrType
	case errors.Is(m.Err, ErrInvalidArgument):
		errorType = invalidArgumentErrType
	}

	return json.Marshal(marshalledError{
		Type:      errorType,
		Message:   m.Err.Error(),
		Handle:    handle,
		ProcessID: processID,
		Key:       key,
	})
}

func (m *Error) UnmarshalJSON(data []byte) error {
	var result marshalledError

	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}

	switch result.Type {
	case serviceUnavailableErrType:
		m.Err = ServiceUnavailableError{result.Message}
	case containerNotFoundErrType:
		m.Err = ContainerNotFoundError{result.Handle}
	case processNotFoundErrType:
		m.Err = ProcessNotFoundError{ProcessID: result.ProcessID}
	case propertyNotFoundErrType:
		m.Err = PropertyNotFoundError{Handle: result.Handle, Key: result.Key}
	case invalidArgumentErrType:
		m.Err = fmt.Errorf("%w: %s", ErrInvalidArgument, strings.TrimPrefix(result.Message, ErrInvalidArgument.Error()+": "))
	default:
		m.Err = errors.New(result.Message)
	}

	return nil
}

type ContainerNotFoundError struct {
	Handle string
}

func (err ContainerNotFoundError) Error() string {
	return fmt.Sprintf("unknown handle: %s", err.Handle)
}

func NewServiceUnavailableError(cause string) error {
	return ServiceUnavailableError{
		Cause: cause,
	}
}

type ServiceUnavailableError struct {
	Cause string
}

func (err ServiceUnavailableError) Error() string {
	return err.Cause
}

type ProcessNotFoundError struct {
	ProcessID string
}

func (err ProcessNotFoundError) Error() string {
	return fmt.Sprintf("unknown process: %s", err.ProcessID)
}

type PropertyNotFoundError struct {
	Handle string
	Key    string
}

func (err PropertyNotFoundError) Error() string {
	return fmt.Sprintf("unknown property %q on container %s", err.Key, err.Handle)
}
