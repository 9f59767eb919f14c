package exoscale

import (
	"errors"
	"fmt"
)

// ErrMachineNotFound is wrapped by the ShapeError returned when a machine
// listing comes back empty.
var ErrMachineNotFound = errors.New("exoscale: virtual machine not found")

// TransportError reports a failed HTTP exchange: connection failure,
// cancelled context or a non-2xx status.
type TransportError struct {
	Command    string
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("exoscale %s: HTTP %d: %s", e.Command, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("exoscale %s: %v", e.Command, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a response body that is not a JSON object.
type DecodeError struct {
	Command string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("exoscale %s: decode response: %v", e.Command, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ShapeError reports a valid JSON response that lacks an expected field.
type ShapeError struct {
	Command string
	Path    string
	Err     error
}

func (e *ShapeError) Error() string {
	msg := fmt.Sprintf("exoscale %s: unexpected response shape at %s", e.Command, e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ShapeError) Unwrap() error { return e.Err }
