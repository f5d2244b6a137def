// Package eval runs a trained network over a test split and reports metrics.
package eval

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/mesonet/internal/dataset"
	"github.com/FlavioCFOliveira/mesonet/internal/metrics"
	"github.com/FlavioCFOliveira/mesonet/internal/net"
)

// Result holds the collected labels and derived metrics of one pass.
type Result struct {
	ClassNames []string
	YTrue      []int
	YPred      []int
	Confusion  *metrics.ConfusionMatrix
	Report     metrics.Report
}

// Run predicts every sample of src in order, printing one
// "Prediction: <label>" line per sample, and builds the report from the
// same pass. The network is left in evaluation mode.
func Run(n *net.Network, src dataset.Source, classNames []string, out io.Writer) (*Result, error) {
	if out == nil {
		out = io.Discard
	}
	n.SetTraining(false)

	res := &Result{ClassNames: classNames}
	fmt.Fprintln(out, "\nTesting the model...")
	for b, err := range src.Batches() {
		if err != nil {
			return nil, errors.Wrap(err, "failed to load test batch")
		}
		logits := n.Forward(b.X, b.Size)
		classes := len(logits) / b.Size
		for i := 0; i < b.Size; i++ {
			pred := metrics.Argmax(logits[i*classes : (i+1)*classes])
			if pred >= len(classNames) {
				return nil, errors.Errorf("predicted class %d has no name (classes %v)", pred, classNames)
			}
			fmt.Fprintf(out, "Prediction: %s\n", classNames[pred])
			res.YTrue = append(res.YTrue, b.Labels[i])
			res.YPred = append(res.YPred, pred)
		}
	}
	if len(res.YTrue) == 0 {
		return nil, errors.New("test set produced no samples")
	}

	res.Confusion = metrics.NewConfusionMatrix(res.YTrue, res.YPred, len(classNames))
	res.Report = metrics.NewReport(res.Confusion, classNames)
	return res, nil
}

// Print writes the classification report and the confusion matrix.
func (r *Result) Print(out io.Writer) {
	fmt.Fprintln(out, "Classification Report:")
	fmt.Fprintln(out, r.Report)
	fmt.Fprintln(out, "Confusion Matrix:")
	fmt.Fprintln(out, r.Confusion)
}

// Plot renders the confusion matrix to path.
func (r *Result) Plot(path string) error {
	return metrics.PlotConfusionMatrix(r.Confusion, r.ClassNames, "Confusion Matrix", path)
}
