// Package domain defines the core entities, ports, and errors of the
// Malloy publisher catalog.
package domain

import "fmt"

// NotFoundError indicates a catalog entity (project, package, model,
// connection) was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input at the service boundary.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// FrozenConfigError indicates a mutating operation was attempted while
// the publisher config is frozen.
type FrozenConfigError struct {
	Message string
}

func (e *FrozenConfigError) Error() string { return e.Message }

// ConfigError indicates the publisher config file could not be loaded.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// CompilationError indicates a Malloy model or notebook failed to compile.
type CompilationError struct {
	Message  string
	Problems []string
}

func (e *CompilationError) Error() string { return e.Message }

// QueryError indicates a Malloy query failed at runtime.
type QueryError struct {
	Message  string
	Problems []string
}

func (e *QueryError) Error() string { return e.Message }

// ConnectionError indicates a database connection failed (I/O, auth).
type ConnectionError struct {
	Message string
}

func (e *ConnectionError) Error() string { return e.Message }

// NotImplementedError indicates a reserved feature (versionId) was requested.
type NotImplementedError struct {
	Message string
}

func (e *NotImplementedError) Error() string { return e.Message }

// FetchError indicates a package could not be materialized from its location.
// BadURI distinguishes malformed locations from transport failures.
type FetchError struct {
	Message string
	BadURI  bool
}

func (e *FetchError) Error() string { return e.Message }

// ErrProjectNotFound creates the canonical project-not-found error.
func ErrProjectNotFound(name string) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf("Resource not found: project '%s'", name)}
}

// ErrPackageNotFound creates the canonical package-not-found error.
func ErrPackageNotFound(name string) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf("Resource not found: Package '%s'", name)}
}

// ErrModelNotFound creates the canonical model-not-found error. It also
// covers kind mismatches (asking for a notebook as a model and vice versa).
func ErrModelNotFound(path string) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf("Resource not found: Model '%s'", path)}
}

// ErrConnectionNotFound creates the canonical connection-not-found error.
func ErrConnectionNotFound(name string) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf("Resource not found: Connection '%s'", name)}
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrFrozenConfig creates the canonical frozen-config error.
func ErrFrozenConfig() *FrozenConfigError {
	return &FrozenConfigError{Message: "The publisher configuration is frozen and cannot be modified"}
}

// ErrConfig creates a ConfigError with a formatted message.
func ErrConfig(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// ErrConnection creates a ConnectionError with a formatted message.
func ErrConnection(format string, args ...interface{}) *ConnectionError {
	return &ConnectionError{Message: fmt.Sprintf(format, args...)}
}

// ErrNotImplemented creates the uniform reserved-parameter error.
func ErrNotImplemented(feature string) *NotImplementedError {
	return &NotImplementedError{Message: fmt.Sprintf("Not implemented: %s", feature)}
}

// ErrFetch creates a FetchError.
func ErrFetch(badURI bool, format string, args ...interface{}) *FetchError {
	return &FetchError{Message: fmt.Sprintf(format, args...), BadURI: badURI}
}

// Canonical query-resolution validation messages. Both surfaces (HTTP and
// MCP) must emit these exact strings.
const (
	MsgBothQueryAndQueryName    = "Cannot provide both 'query' and 'queryName'"
	MsgNeitherQueryNorQueryName = "Must provide either 'query' or 'queryName'"
)
