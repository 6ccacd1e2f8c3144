package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete sxn configuration
type Config struct {
	Rules    RulesConfig    `mapstructure:"rules" yaml:"rules"`
	Security SecurityConfig `mapstructure:"security" yaml:"security"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// RulesConfig controls where rules are read from and how the engine runs them
type RulesConfig struct {
	// File is the rules file path. Relative paths resolve against the project root.
	// (default: ".sxn/rules.yaml")
	File string `mapstructure:"file" yaml:"file"`
	// Parallel runs independent rules of a phase concurrently (default: true)
	Parallel bool `mapstructure:"parallel" yaml:"parallel"`
	// MaxParallelism caps concurrent rules per phase (default: NumCPU, at most 8)
	MaxParallelism int `mapstructure:"max_parallelism" yaml:"max_parallelism"`
	// ContinueOnFailure keeps scheduling after a rule fails and skips the
	// automatic rollback (default: false)
	ContinueOnFailure bool `mapstructure:"continue_on_failure" yaml:"continue_on_failure"`
}

// SecurityConfig controls what rules are allowed to do
type SecurityConfig struct {
	// AllowedCommands is the program allowlist for setup_commands.
	// Entries match either the program as written or its base name.
	AllowedCommands []string `mapstructure:"allowed_commands" yaml:"allowed_commands"`
	// SensitivePatterns are glob patterns that mark files as secrets.
	// Sensitive files are copied with 0600 unless a rule says otherwise.
	SensitivePatterns []string `mapstructure:"sensitive_patterns" yaml:"sensitive_patterns"`
	// CommandTimeoutSeconds is the default per-command timeout (default: 300)
	CommandTimeoutSeconds int `mapstructure:"command_timeout_seconds" yaml:"command_timeout_seconds"`
	// EncryptionKeyEnv names the environment variable holding the
	// base64-encoded 32-byte key for encrypted copies (default: "SXN_ENCRYPTION_KEY")
	EncryptionKeyEnv string `mapstructure:"encryption_key_env" yaml:"encryption_key_env"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress" yaml:"compress"`
	// Rotate rotates the log file by size; when false the log only grows (default: true)
	Rotate bool `mapstructure:"rotate" yaml:"rotate"`
}

// DefaultMaxParallelism returns the per-phase concurrency cap used when none is configured.
func DefaultMaxParallelism() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// DefaultRulesFile is the rules file location relative to the project root.
const DefaultRulesFile = ".sxn/rules.yaml"

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Rules: RulesConfig{
			File:              DefaultRulesFile,
			Parallel:          true,
			MaxParallelism:    DefaultMaxParallelism(),
			ContinueOnFailure: false,
		},
		Security: SecurityConfig{
			AllowedCommands: []string{
				"bundle", "npm", "yarn", "pnpm", "bun",
				"pip", "poetry", "uv",
				"go", "make", "cargo", "mix",
				"git", "bin/rails", "bin/setup",
			},
			SensitivePatterns: []string{
				".env", ".env.*", "*.key", "*.pem",
				"config/master.key", "config/credentials/*.key",
			},
			CommandTimeoutSeconds: 300,
			EncryptionKeyEnv:      "SXN_ENCRYPTION_KEY",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
			Rotate:     true,
		},
	}
}

// CommandTimeout returns the command timeout as a time.Duration
func (c *SecurityConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// ResolveRulesFile returns the rules file path, resolving a relative File
// against projectRoot.
func (c *RulesConfig) ResolveRulesFile(projectRoot string) string {
	path := c.File
	if path == "" {
		path = DefaultRulesFile
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(projectRoot, path)
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Rules defaults
	viper.SetDefault("rules.file", defaults.Rules.File)
	viper.SetDefault("rules.parallel", defaults.Rules.Parallel)
	viper.SetDefault("rules.max_parallelism", defaults.Rules.MaxParallelism)
	viper.SetDefault("rules.continue_on_failure", defaults.Rules.ContinueOnFailure)

	// Security defaults
	viper.SetDefault("security.allowed_commands", defaults.Security.AllowedCommands)
	viper.SetDefault("security.sensitive_patterns", defaults.Security.SensitivePatterns)
	viper.SetDefault("security.command_timeout_seconds", defaults.Security.CommandTimeoutSeconds)
	viper.SetDefault("security.encryption_key_env", defaults.Security.EncryptionKeyEnv)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
	viper.SetDefault("logging.rotate", defaults.Logging.Rotate)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sxn")
	}
	// Fall back to ~/.config/sxn
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sxn"
	}
	return filepath.Join(home, ".config", "sxn")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LogDir returns the directory debug logs are written to
func LogDir() string {
	return filepath.Join(ConfigDir(), "logs")
}

// LockDir returns the directory holding per-session apply locks
func LockDir() string {
	return filepath.Join(ConfigDir(), "locks")
}
