package viz

import (
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/born-ml/unet/internal/train"
)

// PlotHistory draws loss and accuracy against epoch progress, one panel
// each, with a line per phase, and writes a PNG to path.
func PlotHistory(log *train.MetricLog, path string) error {
	if log == nil || log.Len() == 0 {
		return errors.New("plot history: no records")
	}

	lossPlot, err := metricPlot(log, train.KeyLoss, "Loss")
	if err != nil {
		return err
	}
	accPlot, err := metricPlot(log, train.KeyAccuracy, "Pixel accuracy")
	if err != nil {
		return err
	}
	accPlot.Y.Min, accPlot.Y.Max = 0, 1

	img := vgimg.New(vg.Points(960), vg.Points(360))
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 1, Cols: 2, PadX: vg.Millimeter * 4}
	canvases := plot.Align([][]*plot.Plot{{lossPlot, accPlot}}, tiles, dc)
	lossPlot.Draw(canvases[0][0])
	accPlot.Draw(canvases[0][1])

	//nolint:gosec // G304: output path is user supplied.
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "plot history")
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

func metricPlot(log *train.MetricLog, key, title string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Epoch"
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	for i, phase := range []train.Phase{train.PhaseTrain, train.PhaseValid} {
		xs, ys := log.Series(phase, key)
		if len(xs) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(xs))
		for j := range xs {
			pts[j].X, pts[j].Y = xs[j], ys[j]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, errors.Wrapf(err, "plot %s %s", phase, key)
		}
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(i)
		p.Add(line)
		p.Legend.Add(string(phase), line)
	}
	return p, nil
}
