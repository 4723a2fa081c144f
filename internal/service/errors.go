package service

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks requests the caller must fix; the HTTP layer maps it to 400.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
