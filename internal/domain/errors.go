package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	ErrDataValidation       = errors.New("data validation failed")
	ErrOptimization         = errors.New("optimization failed")
	ErrInvalidWeights       = errors.New("invalid weights")
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// DataValidationError reports price history that failed validation in strict mode.
type DataValidationError struct {
	Codes []string
}

func (e *DataValidationError) Error() string {
	return fmt.Sprintf("data validation failed: %s", strings.Join(e.Codes, ", "))
}

// Is allows errors.Is(err, ErrDataValidation).
func (e *DataValidationError) Is(target error) bool {
	return target == ErrDataValidation
}

// OptimizationError reports a numerical failure inside an optimizer backend.
type OptimizationError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *OptimizationError) Error() string {
	msg := fmt.Sprintf("optimization failed (%s): %s", e.Backend, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OptimizationError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, ErrOptimization).
func (e *OptimizationError) Is(target error) bool {
	return target == ErrOptimization
}

// InvalidWeightsError reports weights that cannot be blended or normalized.
type InvalidWeightsError struct {
	Sum    float64
	Reason string
}

func (e *InvalidWeightsError) Error() string {
	return fmt.Sprintf("invalid weights (sum=%g): %s", e.Sum, e.Reason)
}

// Is allows errors.Is(err, ErrInvalidWeights).
func (e *InvalidWeightsError) Is(target error) bool {
	return target == ErrInvalidWeights
}

// InvalidConfigurationError reports a configuration value rejected at load time.
type InvalidConfigurationError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// Is allows errors.Is(err, ErrInvalidConfiguration).
func (e *InvalidConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// NewConfigError is a shorthand for building an InvalidConfigurationError.
func NewConfigError(field, format string, args ...interface{}) error {
	return &InvalidConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
