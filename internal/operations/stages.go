package operations

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-gota/gota/dataframe"

	"factorpanel/internal/exporter"
	"factorpanel/internal/frame"
	"factorpanel/internal/loader"
	"factorpanel/internal/panel"
	"factorpanel/internal/plotting"
	"factorpanel/internal/regression"
)

// LoadStage reads the six input tables
type LoadStage struct {
	BaseStage
	loader *loader.Loader
	logger *slog.Logger
}

// NewLoadStage creates the load step
func NewLoadStage(l *loader.Loader, logger *slog.Logger) *LoadStage {
	return &LoadStage{
		BaseStage: NewBaseStage(StageIDLoad, StageNameLoad, nil),
		loader:    l,
		logger:    stageLogger(logger, StageIDLoad),
	}
}

// Execute loads every input concurrently and stores the tables
func (s *LoadStage) Execute(ctx context.Context, state *OperationState) error {
	tables, err := s.loader.LoadAll(ctx)
	if err != nil {
		return err
	}
	state.SetContext(ContextKeyTables, tables)

	stepState := stageState(state, s.ID())
	counts := map[string]int{
		loader.TableFirms:          tables.Firms.Nrow(),
		loader.TableCalendar:       tables.Calendar.Nrow(),
		loader.TableMembership:     tables.Membership.Nrow(),
		loader.TableReturns:        tables.Returns.Nrow(),
		loader.TableClassification: tables.Classification.Nrow(),
		loader.TableFactors:        tables.Factors.Nrow(),
	}
	total := 0
	for table, n := range counts {
		stepState.SetMetadata(table, n)
		total += n
	}
	stepState.SetMetadata(MetaRows, total)
	stepState.SetMetadata(MetaSources, tables.Sources)
	for table, info := range tables.Sources {
		s.logger.DebugContext(ctx, "input fingerprint",
			"table", table, "bytes", info.Bytes, "digest", info.Digest)
	}
	s.logger.InfoContext(ctx, "inputs loaded", "tables", len(counts), "rows", total)
	return nil
}

// PanelStage crosses firms with the trading calendar and attaches returns
type PanelStage struct {
	BaseStage
	builder *panel.Builder
}

// NewPanelStage creates the panel step
func NewPanelStage(b *panel.Builder) *PanelStage {
	return &PanelStage{
		BaseStage: NewBaseStage(StageIDPanel, StageNamePanel, []string{StageIDLoad}),
		builder:   b,
	}
}

// Validate checks that the inputs were loaded
func (s *PanelStage) Validate(state *OperationState) error {
	_, err := Tables(state)
	return err
}

// Execute builds the firm-date panel
func (s *PanelStage) Execute(ctx context.Context, state *OperationState) error {
	tables, err := Tables(state)
	if err != nil {
		return err
	}
	df, err := s.builder.BuildPanel(ctx, tables.Firms, tables.Calendar, tables.Returns)
	if err != nil {
		return err
	}
	return storePanel(state, s.ID(), df)
}

// MembershipStage keeps panel rows inside an index membership interval and
// the analysis window
type MembershipStage struct {
	BaseStage
	builder *panel.Builder
}

// NewMembershipStage creates the membership step
func NewMembershipStage(b *panel.Builder) *MembershipStage {
	return &MembershipStage{
		BaseStage: NewBaseStage(StageIDMembership, StageNameMembership, []string{StageIDPanel}),
		builder:   b,
	}
}

// Validate checks that a panel was built
func (s *MembershipStage) Validate(state *OperationState) error {
	_, err := Panel(state)
	return err
}

// Execute filters the panel by membership
func (s *MembershipStage) Execute(ctx context.Context, state *OperationState) error {
	tables, err := Tables(state)
	if err != nil {
		return err
	}
	df, err := Panel(state)
	if err != nil {
		return err
	}
	out, err := s.builder.FilterMembership(ctx, df, tables.Membership)
	if err != nil {
		return err
	}
	return storePanel(state, s.ID(), out)
}

// ClassifyStage attaches an industry class to every row
type ClassifyStage struct {
	BaseStage
	builder *panel.Builder
}

// NewClassifyStage creates the classification step
func NewClassifyStage(b *panel.Builder) *ClassifyStage {
	return &ClassifyStage{
		BaseStage: NewBaseStage(StageIDClassify, StageNameClassify, []string{StageIDMembership}),
		builder:   b,
	}
}

// Validate checks that a panel was built
func (s *ClassifyStage) Validate(state *OperationState) error {
	_, err := Panel(state)
	return err
}

// Execute runs the industry range join
func (s *ClassifyStage) Execute(ctx context.Context, state *OperationState) error {
	tables, err := Tables(state)
	if err != nil {
		return err
	}
	df, err := Panel(state)
	if err != nil {
		return err
	}
	out, err := s.builder.Classify(ctx, df, tables.Classification)
	if err != nil {
		return err
	}
	return storePanel(state, s.ID(), out)
}

// FactorsStage merges the monthly factors and publishes the final table
type FactorsStage struct {
	BaseStage
	builder *panel.Builder
	logger  *slog.Logger
}

// NewFactorsStage creates the factor merge step
func NewFactorsStage(b *panel.Builder, logger *slog.Logger) *FactorsStage {
	return &FactorsStage{
		BaseStage: NewBaseStage(StageIDFactors, StageNameFactors, []string{StageIDClassify}),
		builder:   b,
		logger:    stageLogger(logger, StageIDFactors),
	}
}

// Validate checks that a panel was built
func (s *FactorsStage) Validate(state *OperationState) error {
	_, err := Panel(state)
	return err
}

// Execute merges factors by year and month
func (s *FactorsStage) Execute(ctx context.Context, state *OperationState) error {
	tables, err := Tables(state)
	if err != nil {
		return err
	}
	df, err := Panel(state)
	if err != nil {
		return err
	}
	final, err := s.builder.MergeFactors(ctx, df, tables.Factors)
	if err != nil {
		return err
	}
	if err := storePanel(state, s.ID(), final); err != nil {
		return err
	}
	state.SetContext(ContextKeyFinal, final)

	summary, err := panel.Summarize(final)
	if err != nil {
		return err
	}
	stepState := stageState(state, s.ID())
	stepState.SetMetadata("firms", summary.Firms)
	stepState.SetMetadata("dates", summary.Dates)
	stepState.SetMetadata("unmatched_factors", summary.UnmatchedFactors)

	s.logger.InfoContext(ctx, "final table ready",
		"rows", summary.Rows,
		"firms", summary.Firms,
		"dates", summary.Dates,
		"classes", summary.Classes(),
		"statuses", summary.StatusCounts,
		"unmatched_factors", summary.UnmatchedFactors,
		"mean_ret", summary.MeanReturn,
		"std_ret", summary.StdReturn)
	return nil
}

// RegressStage fits the factor model per class and pooled
type RegressStage struct {
	BaseStage
	classes []int
	opts    regression.Options
	logger  *slog.Logger
}

// NewRegressStage creates the regression step
func NewRegressStage(classes []int, opts regression.Options, logger *slog.Logger) *RegressStage {
	return &RegressStage{
		BaseStage: NewBaseStage(StageIDRegress, StageNameRegress, []string{StageIDFactors}),
		classes:   classes,
		opts:      opts,
		logger:    logger,
	}
}

// Validate checks that the final table exists
func (s *RegressStage) Validate(state *OperationState) error {
	_, err := Final(state)
	return err
}

// Execute fits every model. The result set is stored even when no model
// could be fitted.
func (s *RegressStage) Execute(ctx context.Context, state *OperationState) error {
	final, err := Final(state)
	if err != nil {
		return err
	}
	set, err := regression.FitAll(ctx, final, s.classes, s.opts, s.logger)
	if set != nil {
		state.SetContext(ContextKeyResults, set)
		stepState := stageState(state, s.ID())
		stepState.SetMetadata("fitted", len(set.Succeeded()))
		stepState.SetMetadata("failed", len(set.Failed()))
		stepState.SetMetadata(MetaRows, final.Nrow())
	}
	return err
}

// VisualizeStage renders the return histograms
type VisualizeStage struct {
	BaseStage
	renderer *plotting.Renderer
	column   string
}

// NewVisualizeStage creates the histogram step for column
func NewVisualizeStage(r *plotting.Renderer, column string) *VisualizeStage {
	return &VisualizeStage{
		BaseStage: NewBaseStage(StageIDVisualize, StageNameVisualize, []string{StageIDFactors}),
		renderer:  r,
		column:    column,
	}
}

// Validate checks that the final table carries the plotted column
func (s *VisualizeStage) Validate(state *OperationState) error {
	final, err := Final(state)
	if err != nil {
		return err
	}
	return frame.Require(final, "final table", s.column)
}

// Execute writes the overlay and stacked charts
func (s *VisualizeStage) Execute(ctx context.Context, state *OperationState) error {
	final, err := Final(state)
	if err != nil {
		return err
	}
	values := frame.Floats(final, s.column)
	files, err := s.renderer.Render(ctx, values)
	if err != nil {
		return err
	}
	state.SetContext(ContextKeyPlotFiles, files)
	stepState := stageState(state, s.ID())
	stepState.SetMetadata(MetaRows, len(values))
	stepState.SetMetadata(MetaOutput, files)
	return nil
}

// ExportStage writes the optional artifacts: the final table, the
// regression report and a text summary
type ExportStage struct {
	BaseStage
	exporter   *exporter.Exporter
	exportPath string
	reportPath string
	summary    io.Writer
}

// NewExportStage creates the export step. Empty paths and a nil summary
// writer disable the matching artifact.
func NewExportStage(e *exporter.Exporter, exportPath, reportPath string, summary io.Writer) *ExportStage {
	return &ExportStage{
		BaseStage:  NewBaseStage(StageIDExport, StageNameExport, []string{StageIDFactors, StageIDRegress}),
		exporter:   e,
		exportPath: exportPath,
		reportPath: reportPath,
		summary:    summary,
	}
}

// Validate checks that the final table and the results exist
func (s *ExportStage) Validate(state *OperationState) error {
	if _, err := Final(state); err != nil {
		return err
	}
	_, err := Results(state)
	return err
}

// Execute writes each enabled artifact
func (s *ExportStage) Execute(ctx context.Context, state *OperationState) error {
	final, err := Final(state)
	if err != nil {
		return err
	}
	set, err := Results(state)
	if err != nil {
		return err
	}
	stepState := stageState(state, s.ID())

	if s.exportPath != "" {
		n, err := s.exporter.ExportTable(ctx, final, s.exportPath)
		if err != nil {
			return err
		}
		state.SetContext(ContextKeyExportPath, s.exportPath)
		stepState.SetMetadata(MetaRows, n)
	}
	if s.reportPath != "" {
		if err := s.exporter.WriteReport(ctx, set, s.reportPath); err != nil {
			return err
		}
		state.SetContext(ContextKeyReportPath, s.reportPath)
	}
	if s.summary != nil {
		if err := s.exporter.WriteSummary(s.summary, set); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}

// Tables returns the loaded inputs from the run context
func Tables(state *OperationState) (*loader.Tables, error) {
	return contextValue[*loader.Tables](state, ContextKeyTables)
}

// Panel returns the latest intermediate table from the run context
func Panel(state *OperationState) (dataframe.DataFrame, error) {
	return contextValue[dataframe.DataFrame](state, ContextKeyPanel)
}

// Final returns the final analysis table from the run context
func Final(state *OperationState) (dataframe.DataFrame, error) {
	return contextValue[dataframe.DataFrame](state, ContextKeyFinal)
}

// Results returns the regression results from the run context
func Results(state *OperationState) (*regression.ResultSet, error) {
	return contextValue[*regression.ResultSet](state, ContextKeyResults)
}

func contextValue[T any](state *OperationState, key string) (T, error) {
	var zero T
	v, ok := state.GetContext(key)
	if !ok {
		return zero, fmt.Errorf("%s not available", key)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s has type %T", key, v)
	}
	return t, nil
}

func storePanel(state *OperationState, stageID string, df dataframe.DataFrame) error {
	if df.Err != nil {
		return df.Err
	}
	state.SetContext(ContextKeyPanel, df)
	stageState(state, stageID).SetMetadata(MetaRows, df.Nrow())
	return nil
}

// stageState returns the state of stageID, registering one when a step
// runs outside a Manager
func stageState(state *OperationState, stageID string) *StepState {
	if st := state.GetStage(stageID); st != nil {
		return st
	}
	st := NewStepState(stageID, stageID)
	state.SetStage(stageID, st)
	return st
}

func stageLogger(logger *slog.Logger, stageID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("step", stageID))
}

// Compile-time interface checks
var (
	_ Step = (*LoadStage)(nil)
	_ Step = (*PanelStage)(nil)
	_ Step = (*MembershipStage)(nil)
	_ Step = (*ClassifyStage)(nil)
	_ Step = (*FactorsStage)(nil)
	_ Step = (*RegressStage)(nil)
	_ Step = (*VisualizeStage)(nil)
	_ Step = (*ExportStage)(nil)
)
