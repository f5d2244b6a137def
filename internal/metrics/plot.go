package metrics

import (
	"fmt"
	"image/color"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// cmGrid adapts a ConfusionMatrix to plotter.GridXYZ. Row 0 is drawn on top.
type cmGrid struct {
	cm *ConfusionMatrix
}

func (g cmGrid) Dims() (c, r int)   { n := g.cm.NumClasses(); return n, n }
func (g cmGrid) Z(c, r int) float64 { return float64(g.cm.At(r, c)) }
func (g cmGrid) X(c int) float64    { return float64(c) }
func (g cmGrid) Y(r int) float64    { return float64(g.cm.NumClasses() - 1 - r) }

// blues is a white to dark blue ramp.
type blues int

func (p blues) Colors() []color.Color {
	n := int(p)
	from := color.RGBA{R: 247, G: 251, B: 255, A: 255}
	to := color.RGBA{R: 8, G: 48, B: 107, A: 255}
	out := make([]color.Color, n)
	for i := range out {
		t := float64(i) / float64(n-1)
		out[i] = color.RGBA{
			R: lerp(from.R, to.R, t),
			G: lerp(from.G, to.G, t),
			B: lerp(from.B, to.B, t),
			A: 255,
		}
	}
	return out
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
}

var _ palette.Palette = blues(0)

// PlotConfusionMatrix renders cm as an annotated heat map. The image format
// follows the extension of path (png, svg, pdf, ...).
func PlotConfusionMatrix(cm *ConfusionMatrix, classNames []string, title, path string) error {
	n := cm.NumClasses()
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Predicted label"
	p.Y.Label.Text = "True label"

	hm := plotter.NewHeatMap(cmGrid{cm: cm}, blues(64))
	if hm.Min == hm.Max {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	var xys plotter.XYs
	var labels []string
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			xys = append(xys, plotter.XY{X: float64(c), Y: float64(n - 1 - r)})
			labels = append(labels, fmt.Sprint(cm.At(r, c)))
		}
	}
	l, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
	if err != nil {
		return errors.Wrap(err, "failed to create labels")
	}
	p.Add(l)

	xTicks := make(plot.ConstantTicks, n)
	yTicks := make(plot.ConstantTicks, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprint(i)
		if i < len(classNames) {
			name = classNames[i]
		}
		xTicks[i] = plot.Tick{Value: float64(i), Label: name}
		yTicks[i] = plot.Tick{Value: float64(n - 1 - i), Label: name}
	}
	p.X.Tick.Marker = xTicks
	p.Y.Tick.Marker = yTicks
	p.X.Min, p.X.Max = -0.5, float64(n)-0.5
	p.Y.Min, p.Y.Max = -0.5, float64(n)-0.5

	if err := p.Save(5*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save confusion matrix plot to %s", path)
	}
	return nil
}
