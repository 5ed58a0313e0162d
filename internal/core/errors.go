package core

import (
	"errors"
	"fmt"
)

// ErrSessionExists is returned when starting a session under an id already in use.
var ErrSessionExists = errors.New("session already exists")

// ValidationError represents an invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
