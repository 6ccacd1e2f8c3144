package cmd

import (
	"strings"

	"github.com/Iron-Ham/sxn/internal/config"
	"github.com/Iron-Ham/sxn/internal/errors"
	"github.com/Iron-Ham/sxn/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "sxn",
	Short: "Session provisioning for git worktrees",
	Long: `sxn provisions isolated development sessions built on git worktrees.

Each session is set up by a declarative rules file: copy secrets from the
project, render templates and run install commands. Rules declare their
dependencies, run in parallel phases, and are rolled back as a unit when
one of them fails.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/sxn/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/sxn")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SXN")
	// SXN_RULES_MAX_PARALLELISM for rules.max_parallelism
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// loadConfig returns the validated configuration. Unlike config.Get it
// surfaces validation errors so a broken config file is not silently
// replaced by defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// newLogger builds the debug logger described by cfg. Disabled logging and
// an unwritable log directory both yield a no-op logger.
func newLogger(cfg *config.Config) *logging.Logger {
	if !cfg.Logging.Enabled {
		return logging.NopLogger()
	}

	var (
		logger *logging.Logger
		err    error
	)
	if cfg.Logging.Rotate {
		logger, err = logging.NewLoggerWithRotation(config.LogDir(), cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		})
	} else {
		logger, err = logging.NewLogger(config.LogDir(), cfg.Logging.Level)
	}
	if err != nil {
		return logging.NopLogger()
	}
	return logger
}
