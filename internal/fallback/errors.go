package fallback

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEligibleTool is returned when a configured category has no tool.
	ErrNoEligibleTool = errors.New("no eligible tool for category")

	// ErrInvalidCategory is returned for malformed category specs.
	ErrInvalidCategory = errors.New("invalid category")

	// ErrUnknownCategory is returned when a category is not tracked by the policy.
	ErrUnknownCategory = errors.New("unknown category")
)

// ConfigurationError reports a problem detected before any step runs.
type ConfigurationError struct {
	Category string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Category == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: category %q: %v", e.Category, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
