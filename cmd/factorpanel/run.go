package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"factorpanel/internal/config"
	"factorpanel/internal/infrastructure"
	"factorpanel/internal/operations"
	"factorpanel/pkg/contracts"
)

type runFlags struct {
	engine  string
	steps   []string
	noPlots bool
	export  string
	report  string
}

func (c *cli) runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline",
		Long: `Run loads the inputs, builds the final panel, fits the regressions,
renders the histograms and writes the optional exports.

--steps limits the run to the named steps and their dependencies.`,
		Example: `  factorpanel run --config configs/factorpanel.yaml
  factorpanel run --steps factors --export out/final.parquet
  factorpanel run --engine sqlite --no-plots`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVar(&f.engine, "engine", "", "join engine: frame or sqlite")
	cmd.Flags().StringSliceVar(&f.steps, "steps", nil, "steps to run, with their dependencies (default all)")
	cmd.Flags().BoolVar(&f.noPlots, "no-plots", false, "skip the histograms")
	cmd.Flags().StringVar(&f.export, "export", "", "write the final table to this .csv or .parquet path")
	cmd.Flags().StringVar(&f.report, "report", "", "write the regression report to this .csv or .xlsx path")
	return cmd
}

// apply overlays the command line onto cfg and revalidates it
func (f runFlags) apply(cfg *config.Config) error {
	if f.engine != "" {
		cfg.Join.Engine = f.engine
	}
	if f.noPlots {
		cfg.Plots.Enabled = false
	}
	if f.export != "" {
		cfg.Output.ExportPath = f.export
	}
	if f.report != "" {
		cfg.Output.ReportPath = f.report
	}
	return cfg.Validate()
}

func (c *cli) run(ctx context.Context, out io.Writer, f runFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = infrastructure.EnsureTraceID(ctx)

	cfg, logger, err := c.setup()
	if err != nil {
		return err
	}
	if err := f.apply(cfg); err != nil {
		return err
	}

	providers, closeTrace, err := initTelemetry(cfg.Observability, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
		closeTrace()
	}()

	p, err := operations.NewPipeline(ctx, cfg, operations.PipelineDeps{
		Logger:    logger,
		Providers: providers,
		Summary:   out,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	logger.InfoContext(ctx, "run starting",
		slog.String("version", contracts.Version),
		slog.String("engine", cfg.Join.Engine),
		slog.Any("steps", f.steps))

	res, runErr := p.Run(ctx, f.steps...)
	if res != nil {
		writeStepTable(out, res.Response, p.Steps())
	}

	if path := cfg.Observability.MetricsFile; path != "" {
		if err := providers.WriteMetrics(path); err != nil {
			logger.WarnContext(ctx, "failed to write metrics", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	return runErr
}

// initTelemetry starts the providers. The returned func closes the trace file.
func initTelemetry(obs config.ObservabilityConfig, logger *slog.Logger) (*infrastructure.OTelProviders, func(), error) {
	closeTrace := func() {}
	otelCfg := infrastructure.OTelConfig{
		ServiceName:    obs.ServiceName,
		ServiceVersion: contracts.Version,
		EnableTracing:  obs.Tracing,
	}
	if obs.Tracing && obs.TraceFile != "" {
		file, err := os.Create(obs.TraceFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create trace file: %w", err)
		}
		otelCfg.TraceWriter = file
		closeTrace = func() { file.Close() }
	}

	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		closeTrace()
		return nil, nil, err
	}
	return providers, closeTrace, nil
}

// writeStepTable prints one line per step that took part in the run
func writeStepTable(w io.Writer, resp *operations.OperationResponse, order []string) {
	fmt.Fprintf(w, "\nrun %s: %s in %s\n", resp.ID, resp.Status, resp.Duration.Round(time.Millisecond))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tATTEMPTS\tROWS\tDURATION")
	for _, id := range order {
		st, ok := resp.Steps[id]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", id, st.Status, st.Attempts, st.Rows(), st.Duration().Round(time.Millisecond))
	}
	tw.Flush()
}
