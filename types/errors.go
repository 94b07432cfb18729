package types

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrUnsupportedType    = fmt.Errorf("%w: unsupported file type", ErrValidation)
	ErrTooLarge           = fmt.Errorf("%w: file too large", ErrValidation)
	ErrConflict           = errors.New("already exists")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrCollectionNotFound = fmt.Errorf("vector collection %w", ErrNotFound)
)

// UpstreamError ошибка внешнего сервиса (эмбеддинги, LLM, векторное хранилище)
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Op: op, Err: err}
}
