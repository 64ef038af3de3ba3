package monitor

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"path/filepath"

	"github.com/banshee-data/cs-ranging/internal/fsutil"
	"github.com/banshee-data/cs-ranging/internal/pipeline"
	"github.com/banshee-data/cs-ranging/internal/ranging"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var seriesColors = []color.Color{
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 255, G: 127, B: 14, A: 255},
}

// PlotWriter exports the four charts of a pair as one PNG, stacked
// vertically.
type PlotWriter struct {
	fs  fsutil.FileSystem
	dir string
	cfg ranging.Config
}

// NewPlotWriter writes PNGs under dir on fsys.
func NewPlotWriter(fsys fsutil.FileSystem, dir string, cfg ranging.Config) *PlotWriter {
	if cfg.ChannelSpacingHz <= 0 || cfg.SpectrumPoints <= 0 {
		cfg = ranging.DefaultConfig()
	}
	return &PlotWriter{fs: fsys, dir: dir, cfg: cfg}
}

// Path returns where Save writes the PNG for e.
func (pw *PlotWriter) Path(e *Entry) string {
	return filepath.Join(pw.dir, fmt.Sprintf("counter_%05d_%s.png", e.Counter, e.PairedAt.UTC().Format("20060102_150405")))
}

// Save renders e to Path(e).
func (pw *PlotWriter) Save(e *Entry) (string, error) {
	if err := pw.fs.MkdirAll(pw.dir, 0o755); err != nil {
		return "", fmt.Errorf("create plot dir: %w", err)
	}
	path := pw.Path(e)
	f, err := pw.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := pw.WritePNG(f, e); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

// Handler returns a named pair handler that saves every pair.
func (pw *PlotWriter) Handler() pipeline.NamedHandler {
	return pipeline.NamedHandler{Name: "plots", Handle: func(_ context.Context, p pipeline.Pair) error {
		_, err := pw.Save(NewEntry(p))
		return err
	}}
}

// WritePNG renders the four charts for e to w.
func (pw *PlotWriter) WritePNG(w io.Writer, e *Entry) error {
	specs := pairCharts(e, pw.cfg)
	rows := make([][]*plot.Plot, len(specs))
	for i, spec := range specs {
		p, err := gonumPlot(spec)
		if err != nil {
			return fmt.Errorf("%s: %w", spec.title, err)
		}
		rows[i] = []*plot.Plot{p}
	}

	const width, rowHeight = 10 * vg.Inch, 3 * vg.Inch
	img := vgimg.New(width, rowHeight*vg.Length(len(rows)))
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: len(rows), Cols: 1, PadY: vg.Millimeter * 4, PadX: vg.Millimeter * 4}
	canvases := plot.Align(rows, tiles, dc)
	for i := range rows {
		rows[i][0].Draw(canvases[i][0])
	}

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

func gonumPlot(spec chartSpec) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = spec.title
	p.X.Label.Text = spec.xName
	p.Y.Label.Text = spec.yName

	drawn := false
	for i, s := range spec.series {
		if len(s.data) == 0 {
			continue
		}
		drawn = true
		keys := s.data.Keys()
		pts := make(plotter.XYs, len(keys))
		for j, k := range keys {
			x := float64(k)
			if spec.xValue != nil {
				x = spec.xValue(k)
			}
			pts[j] = plotter.XY{X: x, Y: s.data[k]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = seriesColors[i%len(seriesColors)]
		line.Width = vg.Points(1)
		p.Add(line)
		if len(spec.series) > 1 {
			p.Legend.Add(s.name, line)
		}
	}
	if !drawn {
		p.X.Min, p.X.Max = 0, 1
		p.Y.Min, p.Y.Max = 0, 1
	}
	p.Legend.Top = true
	return p, nil
}
