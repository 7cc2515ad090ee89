package plotting

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"factorpanel/internal/config"
	apperrors "factorpanel/internal/errors"
	"factorpanel/internal/infrastructure"
)

// Output file names under the plot directory
const (
	OverlayFile = "histogram_overlay.png"
	StackedFile = "histogram_stacked.png"
)

// layer styles, cycled when more bin counts are requested
var palette = []color.NRGBA{
	{R: 31, G: 119, B: 180, A: 90},
	{R: 255, G: 127, B: 14, A: 90},
	{R: 44, G: 160, B: 44, A: 90},
}

var dashes = [][]vg.Length{nil, {vg.Points(4), vg.Points(2)}, {vg.Points(1), vg.Points(2)}}

// Options sizes and labels the charts
type Options struct {
	Dir    string
	Column string
	Bins   []int
	Width  vg.Length
	Height vg.Length
}

// OptionsFromConfig extracts plot options from the run configuration.
// Sizes are configured in inches.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dir:    cfg.Plots.Dir,
		Column: cfg.Plots.Column,
		Bins:   cfg.Plots.Bins,
		Width:  vg.Length(cfg.Plots.Width) * vg.Inch,
		Height: vg.Length(cfg.Plots.Height) * vg.Inch,
	}
}

// Renderer draws histograms to PNG files
type Renderer struct {
	opts   Options
	logger *slog.Logger
}

// NewRenderer creates a Renderer
func NewRenderer(opts Options, logger *slog.Logger) *Renderer {
	return &Renderer{opts: opts, logger: infrastructure.WithComponent(logger, "plotting")}
}

// Render writes the overlay and stacked charts of values into the plot
// directory and returns the written paths
func (r *Renderer) Render(ctx context.Context, values []float64) ([]string, error) {
	if err := os.MkdirAll(r.opts.Dir, 0o755); err != nil {
		return nil, apperrors.NewStorageError("create plot directory", err).WithContext("dir", r.opts.Dir)
	}

	overlay := filepath.Join(r.opts.Dir, OverlayFile)
	if err := r.RenderOverlay(values, r.opts.Bins, overlay); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stacked := filepath.Join(r.opts.Dir, StackedFile)
	if err := r.RenderStacked(values, r.opts.Bins, stacked); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "histograms rendered",
		"values", len(values),
		"bins", r.opts.Bins,
		"overlay", overlay,
		"stacked", stacked)
	return []string{overlay, stacked}, nil
}

// RenderOverlay draws one histogram layer per bin count on a single chart
func (r *Renderer) RenderOverlay(values []float64, bins []int, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Distribution of %s", r.column())
	p.X.Label.Text = r.column()
	p.Y.Label.Text = "count"
	p.Legend.Top = true

	for i, n := range bins {
		b, err := Bin(values, n)
		if err != nil {
			return apperrors.NewAppValidationError(fmt.Sprintf("histogram with %d bins: %v", n, err))
		}
		h := b.histogram()
		style(h, i)
		p.Add(h)
		p.Legend.Add(fmt.Sprintf("%d bins", n), h)
	}

	if err := p.Save(r.opts.Width, r.opts.Height, path); err != nil {
		return apperrors.NewStorageError("save overlay histogram", err).WithContext("path", path)
	}
	return nil
}

// RenderStacked draws one chart per bin count, vertically aligned on a
// shared canvas
func (r *Renderer) RenderStacked(values []float64, bins []int, path string) error {
	if len(bins) == 0 {
		return apperrors.NewAppValidationError("no bin counts to render")
	}

	plots := make([][]*plot.Plot, len(bins))
	for i, n := range bins {
		b, err := Bin(values, n)
		if err != nil {
			return apperrors.NewAppValidationError(fmt.Sprintf("histogram with %d bins: %v", n, err))
		}
		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s, %d bins", r.column(), n)
		p.Y.Label.Text = "count"
		h := b.histogram()
		style(h, i)
		p.Add(h)
		plots[i] = []*plot.Plot{p}
	}
	plots[len(plots)-1][0].X.Label.Text = r.column()

	img := vgimg.New(r.opts.Width, r.opts.Height*vg.Length(len(bins)))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: len(bins),
		Cols: 1,
		PadY: vg.Millimeter * 4,
		PadX: vg.Millimeter * 2,
	}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		plots[i][0].Draw(canvases[i][0])
	}

	f, err := os.Create(path)
	if err != nil {
		return apperrors.NewStorageError("create stacked histogram", err).WithContext("path", path)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return apperrors.NewStorageError("write stacked histogram", err).WithContext("path", path)
	}
	if err := f.Close(); err != nil {
		return apperrors.NewStorageError("close stacked histogram", err).WithContext("path", path)
	}
	return nil
}

func (r *Renderer) column() string {
	if r.opts.Column == "" {
		return "ret"
	}
	return r.opts.Column
}

// style gives layer i its own translucent fill and dash pattern
func style(h *plotter.Histogram, i int) {
	c := palette[i%len(palette)]
	h.FillColor = c
	h.LineStyle.Color = color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255}
	h.LineStyle.Width = vg.Points(0.5)
	h.LineStyle.Dashes = dashes[i%len(dashes)]
}
