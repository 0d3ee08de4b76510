package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"equipdb/internal/config"
	"equipdb/internal/metrics"
	"equipdb/internal/metrics/datadog"
	"equipdb/internal/pipeline"
	"equipdb/internal/projector"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Create tables and run every stage in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return execute(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func newStageCmd(a *app) *cobra.Command {
	names := []string{pipeline.StageStats, pipeline.StageWeaponProperty, pipeline.StageWeaponName}
	return &cobra.Command{
		Use:       "stage <" + strings.Join(names, "|") + ">",
		Short:     "Run a single stage",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return execute(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0])
		},
	}
}

// execute performs one run of the named stages (all when none are named) and
// prints one summary line per stage to out.
func execute(ctx context.Context, cfg config.Config, out, errOut io.Writer, only ...string) error {
	runID := pipeline.NewRunID()
	logger := log.New(errOut, "run="+runID+" ", log.LstdFlags|log.Lmsgprefix)

	closeMetrics, err := setupMetrics(ctx, cfg, runID, logger)
	if err != nil {
		return err
	}
	defer closeMetrics()

	stages, err := buildStages(cfg, logger, only...)
	if err != nil {
		return err
	}

	runner := pipeline.NewDefaultRunner(logger)
	runner.Verbose = cfg.Verbose
	sums, err := runner.Run(ctx, cfg.StorageConfig(), cfg.InputDir, stages...)
	for i := range sums {
		fmt.Fprintln(out, sums[i].String())
	}
	if err != nil {
		return fmt.Errorf("run %s failed: %w", runID, err)
	}
	return nil
}

func buildStages(cfg config.Config, logger pipeline.Logger, only ...string) ([]pipeline.Stage, error) {
	mapping := projector.DefaultMapping()
	if cfg.Projection.MappingFile != "" {
		m, err := projector.LoadMappingFile(cfg.Projection.MappingFile)
		if err != nil {
			return nil, err
		}
		mapping = m
	}
	proj, err := projector.New(mapping, projector.Options{
		Slots:          cfg.Projection.Slots,
		HealthFallback: cfg.Projection.HealthFallback,
	})
	if err != nil {
		return nil, err
	}

	stages := pipeline.Stages(pipeline.Documents{
		Stats:          cfg.Documents.Stats,
		WeaponProperty: cfg.Documents.WeaponProperty,
		WeaponName:     cfg.Documents.WeaponName,
	}, proj, logger, cfg.Debug)

	if len(only) == 0 {
		return stages, nil
	}
	out := make([]pipeline.Stage, 0, len(only))
	for _, name := range only {
		st, err := pipeline.Select(stages, name)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// setupMetrics installs the configured backend and returns its shutdown func.
// A backend that fails to initialize is logged and replaced by the no-op one.
func setupMetrics(ctx context.Context, cfg config.Config, runID string, logger *log.Logger) (func(), error) {
	switch cfg.Metrics.Backend {
	case "", "none":
		return func() {}, nil

	case "datadog":
		tags := append([]string{"run:" + runID}, cfg.Metrics.Tags...)
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    "equipdb",
			Tags:       tags,
			FlushEvery: cfg.Metrics.FlushEvery,
		})
		if err != nil {
			logger.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}, nil
		}
		logger.Printf("metrics: backend=datadog tags=%v", tags)
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logger.Printf("metrics: datadog close/flush error: %v", err)
			}
			metrics.SetBackend(nil)
		}, nil

	default:
		return nil, fmt.Errorf("unknown metrics backend %q", cfg.Metrics.Backend)
	}
}
