// Package train runs the epoch loop with validation, checkpointing,
// learning-rate scheduling and early stopping.
package train

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/FlavioCFOliveira/mesonet/internal/dataset"
	"github.com/FlavioCFOliveira/mesonet/internal/metrics"
	"github.com/FlavioCFOliveira/mesonet/internal/net"
	"github.com/FlavioCFOliveira/mesonet/internal/opt"
)

// Options configures a Trainer.
type Options struct {
	Epochs         int
	Patience       int
	CheckpointPath string

	// Out receives the per-epoch report lines.
	Out io.Writer
	// Log receives diagnostics; nil discards them.
	Log *slog.Logger
	// Progress shows a per-epoch progress bar on ProgressOut (stderr by default).
	Progress    bool
	ProgressOut io.Writer

	// Callbacks run after the checkpoint decision of every epoch, after the
	// scheduler step.
	Callbacks []net.Callback
}

// State is the mutable training state carried across epochs.
type State struct {
	Epoch       int // last completed epoch, 1-based
	BestValLoss float64
	BestEpoch   int
	BadEpochs   int // consecutive epochs without strict improvement
	Saves       int
	Stopped     bool
}

// History summarises a finished run.
type History struct {
	Epochs       []net.EpochLogs
	BestValLoss  float64
	BestEpoch    int
	EpochsRun    int
	StoppedEarly bool
	Saves        int
}

// Trainer drives a network through its epochs.
type Trainer struct {
	net       *net.Network
	scheduler opt.Scheduler
	opts      Options
	state     State
}

// New creates a Trainer. scheduler may be nil for a constant learning rate.
func New(n *net.Network, scheduler opt.Scheduler, opts Options) *Trainer {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.ProgressOut == nil {
		opts.ProgressOut = os.Stderr
	}
	return &Trainer{
		net:       n,
		scheduler: scheduler,
		opts:      opts,
		state:     State{BestValLoss: math.Inf(1)},
	}
}

// State returns a copy of the current training state.
func (t *Trainer) State() State { return t.state }

// Fit trains until Epochs is reached or early stopping triggers.
//
// Every epoch runs: train over all batches, validate, save the checkpoint on
// a strictly lower validation loss (otherwise count a bad epoch), step the
// scheduler, then stop once the bad-epoch count reaches Patience.
func (t *Trainer) Fit(train, val dataset.Source) (*History, error) {
	if t.opts.Epochs <= 0 || t.opts.Patience <= 0 {
		return nil, errors.Errorf("epochs (%d) and patience (%d) must be positive", t.opts.Epochs, t.opts.Patience)
	}

	callbacks := t.opts.Callbacks
	if t.scheduler != nil {
		callbacks = append([]net.Callback{net.NewSchedulerCallback(t.scheduler)}, callbacks...)
	}
	for _, cb := range callbacks {
		if err := cb.OnTrainBegin(t.net); err != nil {
			return nil, err
		}
	}

	hist, err := t.loop(train, val, callbacks)
	for _, cb := range callbacks {
		if cerr := cb.OnTrainEnd(t.net); err == nil {
			err = cerr
		}
	}
	return hist, err
}

func (t *Trainer) loop(train, val dataset.Source, callbacks []net.Callback) (*History, error) {
	hist := &History{}
	out := t.opts.Out

	for epoch := t.state.Epoch + 1; epoch <= t.opts.Epochs; epoch++ {
		fmt.Fprintf(out, "Epoch %d/%d\n", epoch, t.opts.Epochs)
		for _, cb := range callbacks {
			cb.OnEpochBegin(epoch, t.net)
		}
		start := time.Now()
		lr := t.net.Optimizer().LearningRate()

		trainLoss, trainAcc, err := t.trainEpoch(train, epoch)
		if err != nil {
			return hist, errors.Wrapf(err, "epoch %d training", epoch)
		}
		valLoss, valAcc, err := Validate(t.net, val)
		if err != nil {
			return hist, errors.Wrapf(err, "epoch %d validation", epoch)
		}

		fmt.Fprintf(out, "Train Loss: %.4f, Train Accuracy: %.2f%%\n", trainLoss, trainAcc)
		fmt.Fprintf(out, "Validation Loss: %.4f, Validation Accuracy: %.2f%%\n", valLoss, valAcc)

		logs := net.EpochLogs{
			Epoch:         epoch,
			TrainLoss:     trainLoss,
			TrainAccuracy: trainAcc,
			ValLoss:       valLoss,
			ValAccuracy:   valAcc,
			LearningRate:  lr,
		}

		if valLoss < t.state.BestValLoss {
			meta := net.CheckpointMeta{Epoch: epoch, ValLoss: valLoss, ValAccuracy: valAcc}
			if err := t.net.Save(t.opts.CheckpointPath, meta); err != nil {
				return hist, errors.Wrapf(err, "epoch %d checkpoint", epoch)
			}
			t.state.BestValLoss = valLoss
			t.state.BestEpoch = epoch
			t.state.BadEpochs = 0
			t.state.Saves++
			logs.Improved = true
			fmt.Fprintln(out, "Best model saved!")
		} else {
			t.state.BadEpochs++
		}
		t.state.Epoch = epoch

		for _, cb := range callbacks {
			if err := cb.OnEpochEnd(logs, t.net); err != nil {
				return hist, err
			}
		}
		hist.Epochs = append(hist.Epochs, logs)

		t.opts.Log.Info("epoch done",
			"epoch", epoch,
			"val_loss", valLoss,
			"best", t.state.BestValLoss,
			"bad_epochs", t.state.BadEpochs,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)

		if t.state.BadEpochs >= t.opts.Patience {
			fmt.Fprintln(out, "Early stopping triggered!")
			t.state.Stopped = true
			break
		}
	}

	hist.BestValLoss = t.state.BestValLoss
	hist.BestEpoch = t.state.BestEpoch
	hist.EpochsRun = t.state.Epoch
	hist.StoppedEarly = t.state.Stopped
	hist.Saves = t.state.Saves
	return hist, nil
}

// trainEpoch returns the mean batch loss and the accuracy in percent.
func (t *Trainer) trainEpoch(src dataset.Source, epoch int) (float64, float64, error) {
	t.net.SetTraining(true)

	var bar *pb.ProgressBar
	if t.opts.Progress {
		bar = pb.New(src.NumBatches())
		bar.Output = t.opts.ProgressOut
		bar.SetRefreshRate(time.Second)
		bar.SetMaxWidth(80)
		bar.Prefix(fmt.Sprintf("Epoch %d ", epoch))
		bar.Start()
		defer bar.Finish()
	}

	var sumLoss float64
	var batches, correct, total int
	for b, err := range src.Batches() {
		if err != nil {
			return 0, 0, err
		}
		l, logits := t.net.TrainBatch(b.X, b.Labels)
		sumLoss += l
		batches++
		correct += countCorrect(logits, b.Labels)
		total += b.Size
		if bar != nil {
			bar.Increment()
		}
	}
	if batches == 0 {
		return 0, 0, errors.New("training set produced no batches")
	}
	return sumLoss / float64(batches), 100 * float64(correct) / float64(total), nil
}

// Validate evaluates n on src in evaluation mode and returns the mean batch
// loss and the accuracy in percent. Parameters, gradients and running
// statistics are left untouched and the previous mode is restored.
func Validate(n *net.Network, src dataset.Source) (float64, float64, error) {
	prev := n.Training()
	n.SetTraining(false)
	defer n.SetTraining(prev)

	var sumLoss float64
	var batches, correct, total int
	for b, err := range src.Batches() {
		if err != nil {
			return 0, 0, err
		}
		l, logits := n.EvalBatch(b.X, b.Labels)
		sumLoss += l
		batches++
		correct += countCorrect(logits, b.Labels)
		total += b.Size
	}
	if batches == 0 {
		return 0, 0, errors.New("validation set produced no batches")
	}
	return sumLoss / float64(batches), 100 * float64(correct) / float64(total), nil
}

func countCorrect(logits []float32, labels []int) int {
	classes := len(logits) / len(labels)
	correct := 0
	for i, y := range labels {
		if metrics.Argmax(logits[i*classes:(i+1)*classes]) == y {
			correct++
		}
	}
	return correct
}
