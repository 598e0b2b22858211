package models

import (
	"errors"
	"fmt"
)

var (
	ErrCommentRequired        = errors.New("comment is required when the observed value differs from the declared value")
	ErrReasonRequired         = errors.New("reason is required")
	ErrUnknownField           = errors.New("unknown field")
	ErrValueTypeMismatch      = errors.New("value does not match the field type")
	ErrInvalidValue           = errors.New("invalid value")
	ErrMissingDeclaredValue   = errors.New("declared value is required")
	ErrUnknownTemplate        = errors.New("unknown section template")
	ErrInvestigationTerminal  = errors.New("investigation is no longer open")
	ErrInvalidTransition      = errors.New("transition not allowed from current status")
	ErrConcurrentModification = errors.New("investigation was modified concurrently, reload and retry")

	ErrOpenInvestigationExists = errors.New("open investigation already stored for application")
)

// ValidationError rejects an input. The aggregate is left unchanged.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Field == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Field, msg)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func newValidationError(field string, err error, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Err: err, Message: fmt.Sprintf(format, args...)}
}

// StateError rejects an action that is illegal for the current status.
type StateError struct {
	Field  string
	From   string
	Action string
	Err    error
}

func (e *StateError) Error() string {
	target := e.Field
	if target == "" {
		target = "investigation"
	}
	return fmt.Sprintf("cannot %s %s in status %s", e.Action, target, e.From)
}

func (e *StateError) Unwrap() error {
	if e.Err == nil {
		return ErrInvalidTransition
	}
	return e.Err
}

func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsStateError(err error) bool {
	var s *StateError
	return errors.As(err, &s)
}
