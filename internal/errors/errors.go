// Package errors wraps the standard errors package with the service's error
// categories. Callers import it in place of "errors" so categorised and plain
// errors share one set of helpers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Category classifies a failure for handling at component boundaries.
type Category string

const (
	// CategoryConfiguration marks malformed rules or settings. Logged, rule skipped.
	CategoryConfiguration Category = "configuration"
	// CategoryDataAbsent marks a parameter missing from a sample. Skipped silently.
	CategoryDataAbsent Category = "data-absent"
	// CategorySuppressionStore marks suppression state read/write failures.
	CategorySuppressionStore Category = "suppression-store"
	// CategoryRecording marks audit history write failures.
	CategoryRecording Category = "recording"
	// CategoryDispatch marks channel send failures.
	CategoryDispatch Category = "dispatch"
	// CategoryNotFound marks lookups of records that do not exist.
	CategoryNotFound Category = "not-found"
	// CategoryValidation marks rejected input at the API or config boundary.
	CategoryValidation Category = "validation"
	// CategoryUnknown is reported for errors without a category.
	CategoryUnknown Category = "unknown"
)

// Error is a categorised error carrying the operation that failed.
type Error struct {
	Category Category
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Newf creates a categorised error with a formatted message. %w verbs wrap.
func Newf(category Category, op, format string, args ...any) error {
	return &Error{Category: category, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap categorises err. A nil err returns nil.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Op: op, Err: err}
}

// CategoryOf returns the outermost category attached to err.
func CategoryOf(err error) Category {
	var e *Error
	if As(err, &e) {
		return e.Category
	}
	return CategoryUnknown
}

// IsCategory reports whether any error in err's chain carries category.
func IsCategory(err error, category Category) bool {
	for err != nil {
		var e *Error
		if !As(err, &e) {
			return false
		}
		if e.Category == category {
			return true
		}
		err = e.Err
	}
	return false
}

func New(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }
