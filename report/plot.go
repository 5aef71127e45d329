package report

import (
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/tsawler/go-graphsemi/training"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 5 * vg.Inch
)

type series struct {
	name   string
	dashed bool
	value  func(training.EpochRecord) (float64, bool)
}

func trainValue(f func(training.EpochMetrics) float64) func(training.EpochRecord) (float64, bool) {
	return func(rec training.EpochRecord) (float64, bool) {
		return f(rec.Train), true
	}
}

func validationValue(f func(training.EpochMetrics) float64) func(training.EpochRecord) (float64, bool) {
	return func(rec training.EpochRecord) (float64, bool) {
		return f(rec.Validation), rec.Validation.Pairs > 0
	}
}

var historySeries = []series{
	{name: "train_loss", value: trainValue(func(m training.EpochMetrics) float64 { return m.TotalLoss })},
	{name: "val_loss", dashed: true, value: validationValue(func(m training.EpochMetrics) float64 { return m.TotalLoss })},
	{name: "train_class_acc", value: trainValue(func(m training.EpochMetrics) float64 { return m.ClassAccuracy })},
	{name: "val_class_acc", dashed: true, value: validationValue(func(m training.EpochMetrics) float64 { return m.ClassAccuracy })},
	{name: "train_relation_acc", value: trainValue(func(m training.EpochMetrics) float64 { return m.RelationAccuracy })},
	{name: "val_relation_acc", dashed: true, value: validationValue(func(m training.EpochMetrics) float64 { return m.RelationAccuracy })},
	{name: "similarity", value: func(rec training.EpochRecord) (float64, bool) {
		return rec.Similarity, !math.IsNaN(rec.Similarity)
	}},
}

// PlotHistory draws loss and accuracy curves per epoch and saves them to
// path. The image format follows the file extension.
func PlotHistory(history []training.EpochRecord, path string) error {
	if len(history) == 0 {
		return fmt.Errorf("no epochs to plot")
	}

	p := plot.New()
	p.Title.Text = "Training Loss and Accuracy"
	p.X.Label.Text = "Epoch #"
	p.Y.Label.Text = "Loss/Accuracy"
	p.Legend.Top = true

	for i, s := range historySeries {
		var pts plotter.XYs
		for _, rec := range history {
			v, ok := s.value(rec)
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(rec.Epoch), Y: v})
		}
		if len(pts) == 0 {
			continue
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrapf(err, "plot %s", s.name)
		}
		line.LineStyle.Color = plotutil.Color(i)
		line.LineStyle.Width = vg.Points(1.5)
		if s.dashed {
			line.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(3)}
		}
		p.Add(line)
		p.Legend.Add(s.name, line)
	}

	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return errors.Wrap(err, "save history plot")
	}
	return nil
}

// PlotProjection draws a 2-D scatter of points coloured by label
func PlotProjection(points mat.Matrix, labels []string, title, path string) error {
	rows, cols := points.Dims()
	if cols != 2 {
		return fmt.Errorf("projection needs 2 columns, got %d", cols)
	}
	if rows != len(labels) {
		return fmt.Errorf("%d points but %d labels", rows, len(labels))
	}
	if rows == 0 {
		return fmt.Errorf("no points to plot")
	}

	groups := make(map[string]plotter.XYs)
	for i := 0; i < rows; i++ {
		groups[labels[i]] = append(groups[labels[i]], plotter.XY{X: points.At(i, 0), Y: points.At(i, 1)})
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "dim 1"
	p.Y.Label.Text = "dim 2"

	for i, name := range names {
		sc, err := plotter.NewScatter(groups[name])
		if err != nil {
			return errors.Wrapf(err, "plot label %s", name)
		}
		sc.GlyphStyle.Color = plotutil.Color(i)
		sc.GlyphStyle.Shape = plotutil.Shape(i)
		sc.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(sc)
		p.Legend.Add(name, sc)
	}

	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return errors.Wrap(err, "save projection plot")
	}
	return nil
}
