package config

import (
	"errors"
	"fmt"
)

// ErrInvalid is wrapped by every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Error names the setting that was rejected.
type Error struct {
	Field string
	Value string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s=%q: %v", ErrInvalid, e.Field, e.Value, e.Err)
}

func (e *Error) Unwrap() []error { return []error{ErrInvalid, e.Err} }
