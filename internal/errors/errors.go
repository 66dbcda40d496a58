// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicatePosition   = errors.New("position already open for symbol")
	ErrNoPositionToClose   = errors.New("no position to close")
	ErrInvalidSize         = errors.New("invalid position size")
	ErrBreakerTriggered    = errors.New("circuit breaker triggered")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrNoVotes             = errors.New("no model votes available")
)

// RiskError represents a risk limit violation.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.2f, limit: %.2f)", e.Rule, e.Message, e.Current, e.Limit)
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{
		Rule:    rule,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// ExecutionError represents an error during order simulation or position
// lifecycle operations.
type ExecutionError struct {
	Symbol string
	Action string
	Reason string
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution error %s %s: %s: %v", e.Action, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("execution error %s %s: %s", e.Action, e.Symbol, e.Reason)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(symbol, action, reason string, err error) *ExecutionError {
	return &ExecutionError{
		Symbol: symbol,
		Action: action,
		Reason: reason,
		Err:    err,
	}
}

// ConfigError represents a configuration validation failure. Fatal at
// startup, never recoverable at runtime.
type ConfigError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfigInvalid
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field string, value interface{}, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
