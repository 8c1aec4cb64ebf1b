package models

import (
	"errors"
	"fmt"
)

// ErrInvalidPayload marks a record that failed boundary validation.
var ErrInvalidPayload = errors.New("models: invalid payload")

func invalid(entity, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidPayload, entity, fmt.Sprintf(format, args...))
}
