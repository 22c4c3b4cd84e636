package utils

import (
	"errors"
	"fmt"
)

// Error kinds shared by the engine, services and stores. Match with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrStore      = errors.New("store error")
)

// AppError wraps an operation, human-facing message, error kind and underlying error.
type AppError struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

// Unwrap exposes both the kind and the cause so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewValidationError reports input the caller must correct; never retried.
func NewValidationError(op, msg string) error {
	return &AppError{Kind: ErrValidation, Op: op, Msg: msg}
}

// NewNotFoundError reports a referenced event or rule that does not exist.
func NewNotFoundError(op, msg string) error {
	return &AppError{Kind: ErrNotFound, Op: op, Msg: msg}
}

// NewConflictError reports state that changed between validation and commit.
func NewConflictError(op, msg string, err error) error {
	return &AppError{Kind: ErrConflict, Op: op, Msg: msg, Err: err}
}

// NewStoreError reports a failed store call. Nothing was applied.
func NewStoreError(op, msg string, err error) error {
	return &AppError{Kind: ErrStore, Op: op, Msg: msg, Err: err}
}

// IsKind reports whether err carries one of the known kinds and returns it.
func IsKind(err error) (error, bool) {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrStore} {
		if errors.Is(err, kind) {
			return kind, true
		}
	}
	return nil, false
}
