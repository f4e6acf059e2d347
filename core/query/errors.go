package query

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrValidation      = errors.New("query validation failed")
	ErrUnknownOperator = errors.New("unknown filter operator")
)

// ValidationKind classifies a ValidationError.
type ValidationKind string

const (
	UnsupportedResource ValidationKind = "unsupported_resource"
	ConflictingSelect   ValidationKind = "conflicting_select"
	UnknownColumn       ValidationKind = "unknown_column"
	InvalidJoin         ValidationKind = "invalid_join"
	InvalidPagination   ValidationKind = "invalid_pagination"
	InvalidIdentifier   ValidationKind = "invalid_identifier"
	InvalidFilter       ValidationKind = "invalid_filter"
)

// ValidationError reports a request the compiler refuses to translate. These
// are developer-facing defects in the caller, not end-user messages.
type ValidationError struct {
	Kind     ValidationKind
	Resource string
	Detail   string
}

func (e *ValidationError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s on resource '%s': %s", e.Kind, e.Resource, e.Detail)
}

// Is matches ErrValidation and any ValidationError of the same kind.
func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	var other *ValidationError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// NewValidationError builds a ValidationError with a formatted detail.
func NewValidationError(kind ValidationKind, resource, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Resource: resource, Detail: fmt.Sprintf(format, args...)}
}

// UnknownOperatorError reports a filter operator outside the supported set.
type UnknownOperatorError struct {
	Operator string
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("unknown filter operator '%s'", e.Operator)
}

func (e *UnknownOperatorError) Is(target error) bool {
	return target == ErrUnknownOperator
}
