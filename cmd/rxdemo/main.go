// Command rxdemo runs small scenarios against the rx engine: cold and hot
// sources, flattening strategies, retries, scheduler hops and combinators.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/baxromumarov/rx"
	"github.com/baxromumarov/rx/scheduler"
)

type rootOptions struct {
	config  string
	verbose bool
	timeout time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "rxdemo",
		Short:        "Run demonstration scenarios of the rx engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd, opts)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return scheduler.Shutdown()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.config, "config", "", "YAML file sizing the shared schedulers")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every signal of the scenarios")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "deadline of a scenario")

	for _, sc := range scenarios {
		cmd.AddCommand(newScenarioCommand(sc, opts))
	}
	cmd.AddCommand(newAllCommand(opts))
	return cmd
}

func setup(cmd *cobra.Command, opts *rootOptions) error {
	level := zerolog.WarnLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.TimeOnly}).
		Level(level).
		With().
		Timestamp().
		Logger()
	rx.SetLogger(logger)

	if opts.config == "" {
		return nil
	}
	cfg, err := scheduler.LoadConfig(opts.config)
	if err != nil {
		return err
	}
	if err := scheduler.SetDefaults(cfg, scheduler.WithLogger(logger)); err != nil {
		return fmt.Errorf("apply scheduler config: %w", err)
	}
	logger.Info().
		Int("parallel_workers", cfg.ParallelWorkers).
		Int("elastic_max_workers", cfg.ElasticMaxWorkers).
		Msg("scheduler defaults loaded")
	return nil
}

func newScenarioCommand(sc scenario, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   sc.name,
		Short: sc.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScenario(cmd, sc, opts)
		},
	}
}

func newAllCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run every scenario in turn",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, sc := range scenarios {
				if err := runScenario(cmd, sc, opts); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func runScenario(cmd *cobra.Command, sc scenario, opts *rootOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "=== %s ===\n", sc.short)
	if err := sc.run(ctx, &printer{w: out, verbose: opts.verbose}); err != nil {
		return fmt.Errorf("%s: %w", sc.name, err)
	}
	fmt.Fprintln(out)
	return nil
}
