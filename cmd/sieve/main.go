package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ib-77/sieve/internal/config"
	"github.com/ib-77/sieve/internal/logging"
	"github.com/ib-77/sieve/internal/monitoring"
	"github.com/ib-77/sieve/pkg/pipe"
	"github.com/ib-77/sieve/pkg/proc"
	"github.com/ib-77/sieve/pkg/sieve"
)

type options struct {
	configPath string
	transport  string
	maxProcs   int
	maxFiles   int
	verbose    bool
	metrics    bool
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the root command and returns the process exit status.
func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.Execute(); err != nil {
		for _, e := range proc.Errors(err) {
			fmt.Fprintf(stderr, "sieve: %v\n", e)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "sieve [N]",
		Short: "Print the primes up to N with a chain of concurrent filter stages",
		Long: `sieve emits the integers 2..N into a pipe and lets a growing chain of
filter stages sieve them. Every stage reports the first value it reads as a
prime, spawns the next stage and forwards whatever that prime does not divide.

One "prime <v>" line is written to stdout per prime. Logs and diagnostics go
to stderr. N defaults to 35.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "YAML or TOML config file")
	flags.StringVar(&opts.transport, "transport", pipe.OSName, fmt.Sprintf("pipe transport (%v)", pipe.Names()))
	flags.IntVar(&opts.maxProcs, "max-procs", proc.DefaultMaxProcs, "maximum number of live procs")
	flags.IntVar(&opts.maxFiles, "max-files", proc.DefaultMaxFiles, "maximum open descriptors per proc")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log proc lifecycle at debug level")
	flags.BoolVar(&opts.metrics, "metrics", false, "dump metrics to stderr on exit")

	return cmd
}

func run(cmd *cobra.Command, args []string, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, args, opts, cfg); err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	if opts.verbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	transport, err := pipe.Lookup(cfg.Sieve.Transport)
	if err != nil {
		return err
	}

	metrics := monitoring.NewMetrics()
	sys := proc.NewSystem(proc.Config{
		Transport: transport,
		MaxProcs:  cfg.Limits.MaxProcs,
		MaxFiles:  cfg.Limits.MaxFiles,
	}, proc.WithLogger(logger.Logger), proc.WithObserver(metrics))

	p, err := sieve.New(sys, cfg.Sieve.Limit,
		sieve.WithReporter(sieve.NewLineReporter(cmd.OutOrStdout())),
		sieve.WithObserver(metrics))
	if err != nil {
		return err
	}

	logger.Debug("starting",
		zap.Int("limit", p.Limit()),
		zap.String("transport", transport.Name()),
		zap.Int("max_procs", cfg.Limits.MaxProcs),
		zap.Int("max_files", cfg.Limits.MaxFiles))

	stop := reapOnSignal(cmd.Context(), sys, logger.Logger)
	err = p.Run(cmd.Context())
	stop()

	if opts.metrics {
		if merr := metrics.WriteText(cmd.ErrOrStderr()); merr != nil {
			logger.Warn("failed to write metrics", zap.Error(merr))
		}
	}
	return err
}

// applyFlags overlays N and every flag the user set explicitly onto cfg.
func applyFlags(cmd *cobra.Command, args []string, opts *options, cfg *config.Config) error {
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%w: N must be an integer, got %q", config.ErrInvalid, args[0])
		}
		cfg.Sieve.Limit = n
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Sieve.Transport = opts.transport
	}
	if flags.Changed("max-procs") {
		cfg.Limits.MaxProcs = opts.maxProcs
	}
	if flags.Changed("max-files") {
		cfg.Limits.MaxFiles = opts.maxFiles
	}
	return cfg.Validate()
}

// reapOnSignal kills every open endpoint on SIGINT or SIGTERM so that a
// wedged pipeline unwinds instead of hanging. The returned func stops
// listening.
func reapOnSignal(ctx context.Context, sys *proc.System, logger *zap.Logger) func() {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer close(done)
		<-ctx.Done()
		// after a clean join nothing is live and there is nothing to reap
		if sys.Live() > 0 {
			logger.Warn("interrupted, reaping procs", zap.Int("live", sys.Live()))
			sys.Kill()
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
