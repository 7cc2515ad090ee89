package operations

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-gota/gota/dataframe"

	"factorpanel/internal/config"
	"factorpanel/internal/exporter"
	"factorpanel/internal/infrastructure"
	"factorpanel/internal/loader"
	"factorpanel/internal/panel"
	"factorpanel/internal/plotting"
	"factorpanel/internal/regression"
)

// PipelineDeps are the collaborators of a Pipeline. Every field is optional.
type PipelineDeps struct {
	Logger    *slog.Logger
	Providers *infrastructure.OTelProviders
	// Summary receives the text regression summary
	Summary io.Writer
	// Config overrides the runner section of the application config
	Config *Config
}

// Pipeline wires the load, build, regression, plotting and export steps
// for one configuration
type Pipeline struct {
	cfg     *config.Config
	manager *Manager
	joiner  panel.Joiner
	logger  *slog.Logger
}

// RunResult carries the artifacts of a finished run
type RunResult struct {
	Response  *OperationResponse
	Final     dataframe.DataFrame
	Results   *regression.ResultSet
	PlotFiles []string
}

// NewPipeline builds the step graph for cfg. Close releases the join engine.
func NewPipeline(ctx context.Context, cfg *config.Config, deps PipelineDeps) (*Pipeline, error) {
	logger := deps.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	opts, err := panel.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	joiner, err := panel.NewJoiner(ctx, cfg.Join.Engine)
	if err != nil {
		return nil, err
	}

	tracer, err := NewOperationTracer(deps.Providers)
	if err != nil {
		joiner.Close()
		return nil, err
	}

	runCfg := deps.Config
	if runCfg == nil {
		runCfg = ConfigFromSettings(cfg.Runner)
	}

	builder := panel.NewBuilder(opts, joiner, logger)
	steps := []Step{
		NewLoadStage(loader.New(cfg, logger), logger),
		NewPanelStage(builder),
		NewMembershipStage(builder),
		NewClassifyStage(builder),
		NewFactorsStage(builder, logger),
		NewRegressStage(cfg.Regression.Classes, regression.OptionsFromConfig(cfg), logger),
	}
	if cfg.Plots.Enabled {
		renderer := plotting.NewRenderer(plotting.OptionsFromConfig(cfg), logger)
		steps = append(steps, NewVisualizeStage(renderer, cfg.Plots.Column))
	}
	steps = append(steps, NewExportStage(exporter.New(logger), cfg.Output.ExportPath, cfg.Output.ReportPath, deps.Summary))

	registry := NewRegistry()
	for _, step := range steps {
		if err := registry.Register(step); err != nil {
			joiner.Close()
			return nil, err
		}
	}
	if err := registry.ValidateDependencies(); err != nil {
		joiner.Close()
		return nil, err
	}

	return &Pipeline{
		cfg:     cfg,
		manager: NewManager(registry, runCfg, tracer, logger),
		joiner:  joiner,
		logger:  infrastructure.WithComponent(logger, "pipeline"),
	}, nil
}

// Steps returns the registered step IDs in execution order
func (p *Pipeline) Steps() []string {
	ordered, err := p.manager.GetRegistry().GetDependencyOrder()
	if err != nil {
		return nil
	}
	ids := make([]string, len(ordered))
	for i, s := range ordered {
		ids[i] = s.ID()
	}
	return ids
}

// Run executes the given steps and their dependencies, or every step when
// none are named. The result is returned alongside a step failure so the
// artifacts produced so far stay reachable.
func (p *Pipeline) Run(ctx context.Context, steps ...string) (*RunResult, error) {
	resp, err := p.manager.Execute(ctx, OperationRequest{
		Steps: steps,
		Parameters: map[string]interface{}{
			"engine":      p.cfg.Join.Engine,
			"window":      fmt.Sprintf("%s..%s", p.cfg.Window.Start, p.cfg.Window.End),
			"granularity": p.cfg.Window.MembershipGranularity,
		},
	})
	if resp == nil {
		return nil, err
	}

	res := &RunResult{Response: resp}
	if v, ok := resp.Artifacts[ContextKeyFinal].(dataframe.DataFrame); ok {
		res.Final = v
	}
	if v, ok := resp.Artifacts[ContextKeyResults].(*regression.ResultSet); ok {
		res.Results = v
	}
	if v, ok := resp.Artifacts[ContextKeyPlotFiles].([]string); ok {
		res.PlotFiles = v
	}
	return res, err
}

// Close releases the join engine
func (p *Pipeline) Close() error {
	return p.joiner.Close()
}
