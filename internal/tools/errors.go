package tools

import (
	"errors"
	"fmt"

	"marketintel/internal/types"
)

// Tool registry errors.
var (
	// ErrToolNotFound is returned when a tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolNameEmpty is returned when a tool has no name.
	ErrToolNameEmpty = errors.New("tool name cannot be empty")

	// ErrToolInvokeNil is returned when a tool has no invoke function.
	ErrToolInvokeNil = errors.New("tool invoke function cannot be nil")

	// ErrToolAlreadyRegistered is returned when registering a duplicate.
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	// ErrInvalidReliability is returned when a reliability weight is outside [0,1].
	ErrInvalidReliability = errors.New("reliability weight must be within [0,1]")

	// ErrCategoryNotServed is returned when a step asks a tool for a category it is not bound to.
	ErrCategoryNotServed = errors.New("tool does not serve category")

	// ErrMissingRequiredArg is returned when a required parameter is missing.
	ErrMissingRequiredArg = errors.New("missing required argument")

	// ErrNoRecords is the cause attached to empty_result failures.
	ErrNoRecords = errors.New("tool returned no records")

	// ErrRecordWithoutKey is the cause attached to records that cannot be deduplicated.
	ErrRecordWithoutKey = errors.New("record has no identity key")
)

// Failure is a classified tool error. Tools return it through Fail so the
// registry can report the right kind; unclassified errors become unavailable.
type Failure struct {
	Kind types.FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Fail wraps err with a failure kind.
func Fail(kind types.FailureKind, err error) error {
	return &Failure{Kind: kind, Err: err}
}

// Failf builds a Failure from a format string.
func Failf(kind types.FailureKind, format string, args ...any) error {
	return &Failure{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the failure kind carried by err, or unavailable for
// unclassified errors. A nil error has no kind.
func KindOf(err error) types.FailureKind {
	if err == nil {
		return types.FailureNone
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return types.FailureUnavailable
}
