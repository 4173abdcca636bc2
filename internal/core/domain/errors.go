package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrTemporary       = errors.New("temporary failure")
	ErrRecordNotFound  = errors.New("index record not found")
	ErrIndexAbsent     = errors.New("index absent")
	ErrEmptyCorpus     = errors.New("empty corpus")
	ErrSelectionFailed = errors.New("could not determine how to answer")
	ErrUnknownModel    = errors.New("unknown model")
	ErrSessionNotFound = errors.New("session not found")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
