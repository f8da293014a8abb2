package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("invalid input")
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("already exists")
	ErrReservedContext = errors.New("reserved context")
	ErrCapacity        = errors.New("capacity exhausted")
	ErrExtraction      = errors.New("extraction failed")
	ErrOCR             = errors.New("ocr failed")
	ErrStore           = errors.New("vector store failure")
	ErrTemporary       = errors.New("temporary failure")
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
