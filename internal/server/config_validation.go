// config_validation.go - Startup validation of the server configuration.
//
// Every problem is collected so the operator sees all of them at once; the
// server refuses to start (and never opens a socket) while any remain.
package server

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig is wrapped by every *ConfigError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigErrorCode is the stable code carried by configuration errors.
const ConfigErrorCode = "EARG"

// ConfigValidationError represents a single invalid field.
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// ConfigError aggregates the validation failures of one Config.
type ConfigError struct {
	Errors []ConfigValidationError
}

func (e *ConfigError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] configuration validation failed with %d error(s):", ConfigErrorCode, len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("\n  %d. %s", i+1, err.Error()))
	}
	return sb.String()
}

// Code returns ConfigErrorCode.
func (e *ConfigError) Code() string {
	return ConfigErrorCode
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// Has reports whether field failed validation.
func (e *ConfigError) Has(field string) bool {
	for _, err := range e.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// ConfigValidator accumulates validation errors.
type ConfigValidator struct {
	errors []ConfigValidationError
}

// NewConfigValidator creates a new configuration validator.
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{
		errors: make([]ConfigValidationError, 0),
	}
}

// AddError adds a validation error.
func (v *ConfigValidator) AddError(field, message string) {
	v.errors = append(v.errors, ConfigValidationError{
		Field:   field,
		Message: message,
	})
}

// HasErrors returns true if there are validation errors.
func (v *ConfigValidator) HasErrors() bool {
	return len(v.errors) > 0
}

// Err returns a *ConfigError when anything failed, nil otherwise.
func (v *ConfigValidator) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return &ConfigError{Errors: v.errors}
}

// ValidateRequired validates that a string setting is not empty.
func (v *ConfigValidator) ValidateRequired(field, value string) {
	if value == "" {
		v.AddError(field, "must be a non-empty string")
	}
}

// ValidatePort validates a TCP port; 0 asks the OS for a free one.
func (v *ConfigValidator) ValidatePort(field string, port int) {
	if port < 0 || port > 65535 {
		v.AddError(field, fmt.Sprintf("port must be between 0 and 65535 (got %d)", port))
	}
}

// ValidatePositiveInt validates that a value is a positive integer.
func (v *ConfigValidator) ValidatePositiveInt(field string, value int64) {
	if value < 1 {
		v.AddError(field, fmt.Sprintf("must be a positive integer (got %d)", value))
	}
}

// ValidateNonNegative validates counters and durations where zero means
// "disabled".
func (v *ConfigValidator) ValidateNonNegative(field string, value int64) {
	if value < 0 {
		v.AddError(field, fmt.Sprintf("must not be negative (got %d)", value))
	}
}

// ValidateEnum validates that a value is one of allowed options.
func (v *ConfigValidator) ValidateEnum(field, value string, allowed []string) {
	for _, opt := range allowed {
		if value == opt {
			return
		}
	}

	v.AddError(field, fmt.Sprintf("must be one of: %s (got: %q)", strings.Join(allowed, ", "), value))
}

// Validate checks cfg and returns a *ConfigError listing every problem.
func (cfg Config) Validate() error {
	v := NewConfigValidator()

	v.ValidateRequired("secret", cfg.Secret)
	if strings.ContainsAny(cfg.Secret, "/?#") {
		v.AddError("secret", "must be a single path segment")
	}
	v.ValidatePositiveInt("max", int64(cfg.Max))
	v.ValidatePositiveInt("maxSize", cfg.MaxSize)
	if cfg.Timeout <= 0 {
		v.AddError("timeout", fmt.Sprintf("must be a positive duration (got %s)", cfg.Timeout))
	}
	v.ValidatePort("port", cfg.Port)
	v.ValidateNonNegative("maxAge", int64(cfg.MaxAge))
	v.ValidateNonNegative("sweepInterval", int64(cfg.SweepInterval))
	v.ValidateNonNegative("uploadRate", int64(cfg.UploadRate))
	v.ValidateNonNegative("shutdownGrace", int64(cfg.ShutdownGrace))
	v.ValidateEnum("shutdownMode", string(cfg.ShutdownMode), []string{string(ShutdownDrain), string(ShutdownCancel)})

	return v.Err()
}
