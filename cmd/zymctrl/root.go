package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zoobzio/capitan"

	"github.com/born-ml/zymctrl/internal/config"
	"github.com/born-ml/zymctrl/internal/logging"
	"github.com/born-ml/zymctrl/internal/metrics"
	"github.com/born-ml/zymctrl/internal/pipeline"
)

// app holds state shared by the subcommands.
type app struct {
	configPath      string
	logLevel        string
	logFormat       string
	metricsAddr     string
	metricsTextfile string

	cfg     config.Config
	logger  zerolog.Logger
	closers []func()
}

// buildRootCmd constructs the command tree.
func buildRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "zymctrl",
		Short:         "EC-conditioned enzyme sequence generation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file (.yaml, .yml, .json, .toml)")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: trace|debug|info|warn|error|off")
	pf.StringVar(&a.logFormat, "log-format", "", "Log format: json|console")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address while running")
	pf.StringVar(&a.metricsTextfile, "metrics-textfile", "", "Write metrics in textfile format on exit")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.setup(cmd)
	}
	root.PersistentPostRunE = func(*cobra.Command, []string) error {
		return a.teardown()
	}

	root.AddCommand(
		newGenerateCmd(a),
		newFinetuneCmd(a),
		newInitModelCmd(a),
		newScoreCmd(a),
		newCheckpointsCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads the config, applies flag overrides and starts logging and
// metrics.
func (a *app) setup(cmd *cobra.Command) error {
	a.cfg = config.Default()
	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.logLevel != "" {
		a.cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		a.cfg.Log.Format = a.logFormat
	}
	if a.metricsAddr != "" {
		a.cfg.Metrics.Addr = a.metricsAddr
	}
	if a.metricsTextfile != "" {
		a.cfg.Metrics.Textfile = a.metricsTextfile
	}

	logger, err := logging.New(logging.Options{Level: a.cfg.Log.Level, Format: a.cfg.Log.Format, Writer: cmd.ErrOrStderr()})
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	a.logger = logger
	a.subscribe()

	if addr := a.cfg.Metrics.Addr; addr != "" {
		bound, done, err := metrics.Serve(cmd.Context(), addr)
		if err != nil {
			return err
		}
		a.logger.Info().Str("addr", bound.String()).Msg("metrics endpoint listening")
		go func() {
			if err := <-done; err != nil {
				a.logger.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}
	return nil
}

// subscribe logs every pipeline signal at debug level.
func (a *app) subscribe() {
	if a.logger.GetLevel() > zerolog.DebugLevel {
		return
	}
	signals := []capitan.Signal{
		pipeline.BatchGenerated,
		pipeline.TrainEvaluated,
		pipeline.CheckpointSaved,
		pipeline.FilterCompleted,
		pipeline.WeightsFallback,
		pipeline.RunCompleted,
	}
	for _, sig := range signals {
		l := capitan.Hook(sig, func(_ context.Context, e *capitan.Event) {
			runID, _ := pipeline.RunIDKey.From(e)
			a.logger.Debug().Str("signal", string(sig)).Str("run_id", runID).Msg("event")
		})
		a.closers = append(a.closers, func() { l.Close() })
	}
}

func (a *app) teardown() error {
	for _, c := range a.closers {
		c()
	}
	a.closers = nil
	if path := a.cfg.Metrics.Textfile; path != "" {
		return metrics.WriteTextfile(path)
	}
	return nil
}

// newPipeline builds a pipeline from the merged config.
func (a *app) newPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	return pipeline.New(ctx, a.cfg, pipeline.WithLogger(a.logger))
}
