// Package failure defines the underwriting error taxonomy. Each type survives
// wrapping and is detected with errors.As.
package failure

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a stage failure for the stage run log.
type Kind string

const (
	KindConfiguration        Kind = "configuration"
	KindMissingDependency    Kind = "missing_dependency"
	KindArithmeticDegenerate Kind = "arithmetic_degenerate"
	KindInternal             Kind = "internal"
)

// ConfigurationError means a property's attributes fall outside every bucket
// of a compiled-in rate table.
type ConfigurationError struct {
	Table      string
	Attributes map[string]any
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: no %s bucket matches %s", e.Table, formatAttrs(e.Attributes))
}

// NewConfigurationError builds a ConfigurationError for table.
func NewConfigurationError(table string, attrs map[string]any) *ConfigurationError {
	return &ConfigurationError{Table: table, Attributes: attrs}
}

// MissingDependencyError means an upstream stage has not produced a fact the
// current stage needs.
type MissingDependencyError struct {
	Stage      string // stage expected to produce the dependency, may be empty
	Dependency string // meta key or result type
}

func (e *MissingDependencyError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("missing dependency: %s not found, upstream stage incomplete", e.Dependency)
	}
	return fmt.Sprintf("missing dependency: %s not found, upstream stage %s incomplete", e.Dependency, e.Stage)
}

// NewMissingDependency builds a MissingDependencyError.
func NewMissingDependency(stage, dependency string) *MissingDependencyError {
	return &MissingDependencyError{Stage: stage, Dependency: dependency}
}

// ArithmeticDegenerateError means a divisor is zero, negative or absent.
type ArithmeticDegenerateError struct {
	Quantity string
	Reason   string
}

func (e *ArithmeticDegenerateError) Error() string {
	return fmt.Sprintf("degenerate arithmetic: %s: %s", e.Quantity, e.Reason)
}

// NewDegenerate builds an ArithmeticDegenerateError.
func NewDegenerate(quantity, reason string) *ArithmeticDegenerateError {
	return &ArithmeticDegenerateError{Quantity: quantity, Reason: reason}
}

// IsConfiguration reports whether err wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsMissingDependency reports whether err wraps a MissingDependencyError.
func IsMissingDependency(err error) bool {
	var me *MissingDependencyError
	return errors.As(err, &me)
}

// IsDegenerate reports whether err wraps an ArithmeticDegenerateError.
func IsDegenerate(err error) bool {
	var de *ArithmeticDegenerateError
	return errors.As(err, &de)
}

// Classify returns the Kind of err. Errors outside the taxonomy (storage,
// encoding) are internal.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case IsConfiguration(err):
		return KindConfiguration
	case IsMissingDependency(err):
		return KindMissingDependency
	case IsDegenerate(err):
		return KindArithmeticDegenerate
	default:
		return KindInternal
	}
}

func formatAttrs(attrs map[string]any) string {
	if len(attrs) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, attrs[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
