// Package errors provides enhanced errors carrying a component, a category
// and structured context, alongside re-exports of the standard helpers so
// callers only need a single errors import.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Category classifies an error for status mapping and reporting.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryNotFound      Category = "not-found"
	CategoryConflict      Category = "conflict"
	CategoryDatabase      Category = "database"
	CategoryNotification  Category = "notification"
	CategoryConfiguration Category = "configuration"
	CategoryInternal      Category = "internal"
)

// EnhancedError is an error annotated with component, category and context.
type EnhancedError struct {
	Err       error
	component string
	category  Category
	context   map[string]any
}

// Error returns the message of the wrapped error.
func (e *EnhancedError) Error() string {
	if e.Err == nil {
		return string(e.category)
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error to errors.Is and errors.As.
func (e *EnhancedError) Unwrap() error {
	return e.Err
}

// Component returns the component that produced the error.
func (e *EnhancedError) Component() string {
	return e.component
}

// Category returns the error category.
func (e *EnhancedError) Category() Category {
	return e.category
}

// Context returns a copy of the structured context.
func (e *EnhancedError) Context() map[string]any {
	return maps.Clone(e.context)
}

// String renders the error with its context keys in stable order, for logs.
func (e *EnhancedError) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s/%s] %s", e.component, e.category, e.Error())
	for _, k := range slices.Sorted(maps.Keys(e.context)) {
		fmt.Fprintf(&b, " %s=%v", k, e.context[k])
	}
	return b.String()
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err *EnhancedError
}

// New starts a builder wrapping err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: &EnhancedError{Err: err, category: CategoryInternal}}
}

// Newf starts a builder with a formatted message.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the producing component.
func (b *ErrorBuilder) Component(component string) *ErrorBuilder {
	b.err.component = component
	return b
}

// Category sets the error category.
func (b *ErrorBuilder) Category(category Category) *ErrorBuilder {
	b.err.category = category
	return b
}

// Context attaches a key/value pair.
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.err.context == nil {
		b.err.context = make(map[string]any)
	}
	b.err.context[key] = value
	return b
}

// Build returns the assembled error.
func (b *ErrorBuilder) Build() error {
	return b.err
}

// CategoryOf returns the category of the first EnhancedError in err's chain,
// or CategoryInternal when there is none.
func CategoryOf(err error) Category {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.category
	}
	return CategoryInternal
}

// IsCategory reports whether err carries the given category.
func IsCategory(err error, category Category) bool {
	return err != nil && CategoryOf(err) == category
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join is errors.Join from the standard library.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// NewStd creates a plain sentinel error.
func NewStd(text string) error {
	return stderrors.New(text)
}
