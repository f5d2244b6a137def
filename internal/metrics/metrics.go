// Package metrics computes classification metrics for predicted labels.
package metrics

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Argmax returns the index of the largest value; ties resolve to the lowest index.
func Argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// ConfusionMatrix counts predictions: row = true class, column = predicted class.
type ConfusionMatrix struct {
	m *mat.Dense
}

// NewConfusionMatrix builds the matrix from paired label slices.
func NewConfusionMatrix(yTrue, yPred []int, numClasses int) *ConfusionMatrix {
	if len(yTrue) != len(yPred) {
		panic(fmt.Sprintf("ConfusionMatrix: %d true labels but %d predictions", len(yTrue), len(yPred)))
	}
	m := mat.NewDense(numClasses, numClasses, nil)
	for i, t := range yTrue {
		p := yPred[i]
		if t < 0 || t >= numClasses || p < 0 || p >= numClasses {
			panic(fmt.Sprintf("ConfusionMatrix: label pair (%d,%d) out of range", t, p))
		}
		m.Set(t, p, m.At(t, p)+1)
	}
	return &ConfusionMatrix{m: m}
}

// NumClasses returns the matrix dimension.
func (c *ConfusionMatrix) NumClasses() int {
	r, _ := c.m.Dims()
	return r
}

// At returns the count of samples of class trueClass predicted as predClass.
func (c *ConfusionMatrix) At(trueClass, predClass int) int {
	return int(c.m.At(trueClass, predClass))
}

// Total returns the number of samples.
func (c *ConfusionMatrix) Total() int {
	return int(mat.Sum(c.m))
}

// Correct returns the trace.
func (c *ConfusionMatrix) Correct() int {
	return int(mat.Trace(c.m))
}

// Matrix exposes the underlying counts.
func (c *ConfusionMatrix) Matrix() mat.Matrix { return c.m }

func (c *ConfusionMatrix) String() string {
	return fmt.Sprintf("%v", mat.Formatted(c.m, mat.Squeeze()))
}

// ClassMetrics holds the per-class (or averaged) scores.
type ClassMetrics struct {
	Name      string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report is a classification report in the usual precision/recall/F1 layout.
type Report struct {
	Classes     []ClassMetrics
	Accuracy    float64
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
	Total       int
}

// NewReport derives per-class and averaged metrics from cm.
// Undefined ratios (zero denominators) are reported as 0.
func NewReport(cm *ConfusionMatrix, classNames []string) Report {
	n := cm.NumClasses()
	r := Report{Total: cm.Total()}

	precision := make([]float64, n)
	recall := make([]float64, n)
	f1 := make([]float64, n)
	support := make([]float64, n)

	for k := 0; k < n; k++ {
		tp := cm.m.At(k, k)
		predicted := floats.Sum(mat.Col(nil, k, cm.m))
		actual := floats.Sum(cm.m.RawRowView(k))

		precision[k] = safeDiv(tp, predicted)
		recall[k] = safeDiv(tp, actual)
		f1[k] = safeDiv(2*precision[k]*recall[k], precision[k]+recall[k])
		support[k] = actual

		name := fmt.Sprint(k)
		if k < len(classNames) {
			name = classNames[k]
		}
		r.Classes = append(r.Classes, ClassMetrics{
			Name:      name,
			Precision: precision[k],
			Recall:    recall[k],
			F1:        f1[k],
			Support:   int(actual),
		})
	}

	total := float64(r.Total)
	r.Accuracy = safeDiv(float64(cm.Correct()), total)
	r.MacroAvg = ClassMetrics{
		Name:      "macro avg",
		Precision: floats.Sum(precision) / float64(n),
		Recall:    floats.Sum(recall) / float64(n),
		F1:        floats.Sum(f1) / float64(n),
		Support:   r.Total,
	}
	r.WeightedAvg = ClassMetrics{
		Name:      "weighted avg",
		Precision: safeDiv(floats.Dot(precision, support), total),
		Recall:    safeDiv(floats.Dot(recall, support), total),
		F1:        safeDiv(floats.Dot(f1, support), total),
		Support:   r.Total,
	}
	return r
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func (r Report) String() string {
	width := len(r.WeightedAvg.Name)
	for _, c := range r.Classes {
		width = max(width, len(c.Name))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s  %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	row := func(c ClassMetrics) {
		fmt.Fprintf(&b, "%*s  %9.2f %9.2f %9.2f %9d\n", width, c.Name, c.Precision, c.Recall, c.F1, c.Support)
	}
	for _, c := range r.Classes {
		row(c)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s  %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Total)
	row(r.MacroAvg)
	row(r.WeightedAvg)
	return b.String()
}
