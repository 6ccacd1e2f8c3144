package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "zero max parallelism",
			mutate:    func(c *Config) { c.Rules.MaxParallelism = 0 },
			wantField: "rules.max_parallelism",
		},
		{
			name:      "excessive max parallelism",
			mutate:    func(c *Config) { c.Rules.MaxParallelism = 1000 },
			wantField: "rules.max_parallelism",
		},
		{
			name:      "null byte in rules file",
			mutate:    func(c *Config) { c.Rules.File = "rules\x00.yaml" },
			wantField: "rules.file",
		},
		{
			name:      "empty allowed command",
			mutate:    func(c *Config) { c.Security.AllowedCommands = []string{"npm", " "} },
			wantField: "security.allowed_commands[1]",
		},
		{
			name:      "allowed command with arguments",
			mutate:    func(c *Config) { c.Security.AllowedCommands = []string{"rm -rf"} },
			wantField: "security.allowed_commands[0]",
		},
		{
			name:      "bad sensitive pattern",
			mutate:    func(c *Config) { c.Security.SensitivePatterns = []string{"[unclosed"} },
			wantField: "security.sensitive_patterns[0]",
		},
		{
			name:      "non-positive command timeout",
			mutate:    func(c *Config) { c.Security.CommandTimeoutSeconds = 0 },
			wantField: "security.command_timeout_seconds",
		},
		{
			name:      "bad encryption key env",
			mutate:    func(c *Config) { c.Security.EncryptionKeyEnv = "A=B" },
			wantField: "security.encryption_key_env",
		},
		{
			name:      "invalid log level",
			mutate:    func(c *Config) { c.Logging.Level = "verbose" },
			wantField: "logging.level",
		},
		{
			name:      "zero log size",
			mutate:    func(c *Config) { c.Logging.MaxSizeMB = 0 },
			wantField: "logging.max_size_mb",
		},
		{
			name:      "huge log size",
			mutate:    func(c *Config) { c.Logging.MaxSizeMB = 5000 },
			wantField: "logging.max_size_mb",
		},
		{
			name:      "negative backups",
			mutate:    func(c *Config) { c.Logging.MaxBackups = -1 },
			wantField: "logging.max_backups",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), errs)
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestConfig_Validate_AccumulatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Rules.MaxParallelism = -1
	cfg.Security.CommandTimeoutSeconds = -5
	cfg.Logging.Level = "loud"

	if errs := cfg.Validate(); len(errs) != 3 {
		t.Errorf("Validate() returned %d errors, want 3: %v", len(errs), errs)
	}
}

func TestValidLogLevels(t *testing.T) {
	levels := ValidLogLevels()
	expected := []string{"debug", "info", "warn", "error"}
	if len(levels) != len(expected) {
		t.Fatalf("ValidLogLevels() length = %d, want %d", len(levels), len(expected))
	}
	for i, level := range expected {
		if levels[i] != level {
			t.Errorf("ValidLogLevels()[%d] = %q, want %q", i, levels[i], level)
		}
	}
}
