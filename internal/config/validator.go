package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "rules.max_parallelism")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateRules()...)
	errors = append(errors, c.validateSecurity()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateRules validates the RulesConfig
func (c *Config) validateRules() []ValidationError {
	var errors []ValidationError

	if strings.ContainsRune(c.Rules.File, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "rules.file",
			Value:   c.Rules.File,
			Message: "path contains invalid null character",
		})
	}

	if c.Rules.MaxParallelism < 1 {
		errors = append(errors, ValidationError{
			Field:   "rules.max_parallelism",
			Value:   c.Rules.MaxParallelism,
			Message: "must be at least 1",
		})
	}

	const maxParallelism = 64
	if c.Rules.MaxParallelism > maxParallelism {
		errors = append(errors, ValidationError{
			Field:   "rules.max_parallelism",
			Value:   c.Rules.MaxParallelism,
			Message: fmt.Sprintf("exceeds maximum of %d", maxParallelism),
		})
	}

	return errors
}

// validateSecurity validates the SecurityConfig
func (c *Config) validateSecurity() []ValidationError {
	var errors []ValidationError

	for i, cmd := range c.Security.AllowedCommands {
		field := fmt.Sprintf("security.allowed_commands[%d]", i)
		if strings.TrimSpace(cmd) == "" {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   cmd,
				Message: "must not be empty",
			})
			continue
		}
		if strings.ContainsAny(cmd, "\x00 \t") {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   cmd,
				Message: "must be a single program name without whitespace",
			})
		}
	}

	for i, pattern := range c.Security.SensitivePatterns {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("security.sensitive_patterns[%d]", i),
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}

	if c.Security.CommandTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "security.command_timeout_seconds",
			Value:   c.Security.CommandTimeoutSeconds,
			Message: "must be positive",
		})
	}

	if strings.ContainsAny(c.Security.EncryptionKeyEnv, "= \x00") {
		errors = append(errors, ValidationError{
			Field:   "security.encryption_key_env",
			Value:   c.Security.EncryptionKeyEnv,
			Message: "must be a valid environment variable name",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
