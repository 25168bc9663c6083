package apparatus

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrTopology   = errors.New("topology error")
)

// ValidationError is returned while assembling an apparatus or protocol. It is
// never produced during execution.
type ValidationError struct {
	Subject string
	Reason  string
	Err     error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Subject, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

func Invalid(subject, reason string, err ...error) error {
	ve := &ValidationError{Subject: subject, Reason: reason}
	if len(err) > 0 {
		ve.Err = err[0]
	}
	return ve
}

type TopologyError struct {
	Component string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("%s has no flow path to a terminal vessel", e.Component)
}

func (e *TopologyError) Is(target error) bool { return target == ErrTopology }
