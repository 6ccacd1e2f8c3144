package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/sxn/internal/config"
	"github.com/Iron-Ham/sxn/internal/engine"
	"github.com/Iron-Ham/sxn/internal/errors"
	"github.com/Iron-Ham/sxn/internal/filelock"
	"github.com/Iron-Ham/sxn/internal/logging"
	"github.com/Iron-Ham/sxn/internal/rules"
)

// errRulesFailed is returned after a run whose result was already printed.
var errRulesFailed = errors.New("rules did not apply cleanly")

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Apply and check session setup rules",
}

var rulesApplyCmd = &cobra.Command{
	Use:   "apply [session-dir]",
	Short: "Apply the project's rules to a session",
	Long: `Apply the project's rules file to a session worktree.

Rules are grouped into phases by their dependencies. The rules of a phase run
in parallel up to --max-parallelism. When a rule fails, nothing further is
scheduled and every applied rule is rolled back, unless --continue-on-failure
is set.

The session defaults to the current directory. The project is the main
worktree of the session's repository unless --project is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRulesApply,
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate [session-dir]",
	Short: "Check the rules file without applying it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRulesValidate,
}

var rulesKindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the available rule kinds",
	Args:  cobra.NoArgs,
	RunE:  runRulesKinds,
}

var rulesWatchCmd = &cobra.Command{
	Use:   "watch [session-dir]",
	Short: "Re-validate the rules file whenever it changes",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRulesWatch,
}

var (
	rulesFile              string
	rulesProject           string
	rulesParallel          bool
	rulesMaxParallelism    int
	rulesContinueOnFailure bool
	rulesValidateOnly      bool
	rulesJSON              bool
	rulesMetricsFile       string
)

func init() {
	for _, c := range []*cobra.Command{rulesApplyCmd, rulesValidateCmd, rulesWatchCmd} {
		c.Flags().StringVar(&rulesFile, "rules", "", "rules file (default is <project>/"+config.DefaultRulesFile+")")
		c.Flags().StringVar(&rulesProject, "project", "", "project root (default is the main worktree)")
	}

	rulesApplyCmd.Flags().BoolVar(&rulesParallel, "parallel", true, "Run the rules of a phase concurrently")
	rulesApplyCmd.Flags().IntVar(&rulesMaxParallelism, "max-parallelism", 0, "Cap on concurrent rules per phase")
	rulesApplyCmd.Flags().BoolVar(&rulesContinueOnFailure, "continue-on-failure", false, "Keep going after a failure and skip the rollback")
	rulesApplyCmd.Flags().BoolVar(&rulesValidateOnly, "validate-only", false, "Resolve and validate without applying")
	rulesApplyCmd.Flags().BoolVar(&rulesJSON, "json", false, "Output the result as JSON")
	rulesApplyCmd.Flags().StringVar(&rulesMetricsFile, "metrics-file", "", "Write Prometheus metrics for the run to this file")

	rulesCmd.AddCommand(rulesApplyCmd)
	rulesCmd.AddCommand(rulesValidateCmd)
	rulesCmd.AddCommand(rulesKindsCmd)
	rulesCmd.AddCommand(rulesWatchCmd)
	rootCmd.AddCommand(rulesCmd)
}

// runContext bundles what every rules command needs.
type runContext struct {
	cfg     *config.Config
	logger  *logging.Logger
	session *session
	path    string
	env     *rules.Env
}

func newRunContext(args []string) (*runContext, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	var dir string
	if len(args) > 0 {
		dir = args[0]
	}
	s, err := resolveSession(dir, rulesProject)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg).With("session", s.SessionRoot)
	env, err := newEnv(cfg, s, logger)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	return &runContext{
		cfg:     cfg,
		logger:  logger,
		session: s,
		path:    rulesPath(cfg, s.ProjectRoot, rulesFile),
		env:     env,
	}, nil
}

// applyOptions merges flags over the configured defaults. Only flags the
// user actually set override the config file.
func (rc *runContext) applyOptions(cmd *cobra.Command) engine.Options {
	opts := engine.Options{
		Parallel:          rc.cfg.Rules.Parallel,
		MaxParallelism:    rc.cfg.Rules.MaxParallelism,
		ContinueOnFailure: rc.cfg.Rules.ContinueOnFailure,
		ValidateOnly:      rulesValidateOnly,
	}
	flags := cmd.Flags()
	if flags.Changed("parallel") {
		opts.Parallel = rulesParallel
	}
	if flags.Changed("max-parallelism") {
		opts.MaxParallelism = rulesMaxParallelism
	}
	if flags.Changed("continue-on-failure") {
		opts.ContinueOnFailure = rulesContinueOnFailure
	}
	return opts
}

func runRulesApply(cmd *cobra.Command, args []string) error {
	rc, err := newRunContext(args)
	if err != nil {
		return err
	}
	defer func() { _ = rc.logger.Close() }()

	lock := filelock.ForSession(config.LockDir(), rc.session.SessionRoot)
	acquired, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("another sxn run is applying rules to %s", rc.session.SessionRoot)
	}
	defer func() { _ = lock.Unlock() }()

	specs, err := rules.LoadFile(rc.path)
	if err != nil {
		return err
	}

	engineOpts := []engine.Option{engine.WithLogger(rc.logger)}
	var reg *prometheus.Registry
	if rulesMetricsFile != "" {
		reg = prometheus.NewRegistry()
		engineOpts = append(engineOpts, engine.WithMetrics(engine.NewMetrics(reg)))
	}
	eng := engine.New(rules.DefaultRegistry(), rc.env, engineOpts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := eng.ApplyRules(ctx, specs, rc.applyOptions(cmd))

	if reg != nil {
		if err := prometheus.WriteToTextfile(rulesMetricsFile, reg); err != nil {
			rc.logger.Warn("failed to write metrics", "path", rulesMetricsFile, "error", err.Error())
		}
	}

	if rulesJSON {
		if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		newPrinter(cmd.OutOrStdout()).printResult(result)
	}

	if !result.Success() {
		return errRulesFailed
	}
	return nil
}

func runRulesValidate(cmd *cobra.Command, args []string) error {
	rc, err := newRunContext(args)
	if err != nil {
		return err
	}
	defer func() { _ = rc.logger.Close() }()

	return validateRulesFile(cmd.OutOrStdout(), rc)
}

// validateRulesFile loads and strictly validates the rules file, printing
// the rules in the order they would run.
func validateRulesFile(w io.Writer, rc *runContext) error {
	p := newPrinter(w)
	fail := func(err error) error {
		label := "✗"
		if errors.IsRuleError(err) {
			label = "✗ invalid rules:"
		}
		p.printf("%s %s\n", p.style(errorStyle, label), p.errorText(err))
		return err
	}

	specs, err := rules.LoadFile(rc.path)
	if err != nil {
		return fail(err)
	}
	ordered, err := engine.New(rules.DefaultRegistry(), rc.env, engine.WithLogger(rc.logger)).ValidateRulesConfig(specs)
	if err != nil {
		return fail(err)
	}

	p.printf("%s %s: %d rules\n", p.style(successStyle, "✓"), rc.path, len(ordered))
	for _, r := range ordered {
		line := fmt.Sprintf("  %s (%s)", r.Name(), r.Kind())
		if deps := r.Dependencies(); len(deps) > 0 {
			line += p.style(mutedStyle, " after "+strings.Join(deps, ", "))
		}
		p.printf("%s\n", line)
	}
	return nil
}

func runRulesKinds(cmd *cobra.Command, args []string) error {
	for _, kind := range engine.New(rules.DefaultRegistry(), nil).AvailableRuleKinds() {
		fmt.Fprintln(cmd.OutOrStdout(), kind)
	}
	return nil
}

func runRulesWatch(cmd *cobra.Command, args []string) error {
	rc, err := newRunContext(args)
	if err != nil {
		return err
	}
	defer func() { _ = rc.logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	_ = validateRulesFile(out, rc)
	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", rc.path)

	err = watchFile(ctx, rc.path, defaultWatchDebounce, func() {
		_ = validateRulesFile(out, rc)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
