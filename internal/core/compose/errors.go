// Package compose contains pure functions for parsing deployment manifests.
// This is part of the Functional Core - all functions are pure with no I/O.
package compose

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("manifest is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Manifest structure errors
	ErrNoServices = errors.New("manifest must define at least one service")

	// Service validation errors
	ErrServiceNoImage       = errors.New("service must have image or build")
	ErrServiceInvalidPort   = errors.New("invalid port configuration")
	ErrServiceInvalidVolume = errors.New("invalid volume configuration")
	ErrUnknownDependency    = errors.New("depends_on references undeclared service")
	ErrCircularDependency   = errors.New("circular dependency detected")

	// Build validation errors
	ErrBuildNoContext = errors.New("build section must declare a context")

	// Resource validation errors
	ErrInvalidCPU    = errors.New("invalid CPU value")
	ErrInvalidMemory = errors.New("invalid memory value")

	// Unsupported feature errors
	ErrUnsupportedFeature = errors.New("unsupported manifest feature")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "services.app.ports[0]"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
