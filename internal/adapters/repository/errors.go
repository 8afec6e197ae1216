package repository

import (
	"errors"
	"fmt"
)

// Sentinel kinds for store errors.
var (
	ErrNotFound    = errors.New("score record not found")
	ErrConflict    = errors.New("score record version conflict")
	ErrUnavailable = errors.New("score store unavailable")
	ErrClosed      = errors.New("score store closed")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
