// Package mesonet wires configuration, data, model, training and evaluation
// into a Session.
package mesonet

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/mesonet/internal/config"
	"github.com/FlavioCFOliveira/mesonet/internal/dataset"
	"github.com/FlavioCFOliveira/mesonet/internal/eval"
	"github.com/FlavioCFOliveira/mesonet/internal/layer"
	"github.com/FlavioCFOliveira/mesonet/internal/loss"
	"github.com/FlavioCFOliveira/mesonet/internal/model"
	"github.com/FlavioCFOliveira/mesonet/internal/net"
	"github.com/FlavioCFOliveira/mesonet/internal/opt"
	"github.com/FlavioCFOliveira/mesonet/internal/train"
)

// Re-export common types for easier access
type (
	Config  = config.Config
	Network = net.Network
	History = train.History
	Result  = eval.Result
)

// Sentinel errors callers may test with errors.Is.
var (
	ErrMissingDirectory  = dataset.ErrMissingDirectory
	ErrEmptyDataset      = dataset.ErrEmptyDataset
	ErrCheckpointLoad    = net.ErrCheckpointLoad
	ErrDeviceUnavailable = layer.ErrDeviceUnavailable
	ErrInvalidConfig     = config.ErrInvalid
)

// DefaultConfig returns the stock hyper-parameters.
func DefaultConfig() Config { return config.Default() }

// Session is the context object of one run: configuration, device, model,
// seeded randomness and output sinks.
type Session struct {
	Config Config
	Device layer.Device
	Model  *net.Network
	Log    *slog.Logger
	Out    io.Writer

	rng *rand.Rand
}

// NewSession validates cfg and builds a freshly initialised model.
// out receives the user-facing report; log receives diagnostics.
func NewSession(cfg Config, out io.Writer, log *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if out == nil {
		out = io.Discard
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dev, err := layer.SelectDevice(cfg.Device)
	if err != nil {
		log.Warn("device fallback", "requested", cfg.Device, "err", err)
	}
	fmt.Fprintf(out, "Using device: %s\n", dev.Type())
	log.Info("device selected", "name", dev.Name())

	rng := rand.New(rand.NewSource(cfg.Seed))
	m := model.NewMesoNet(rng, cfg.ImageSize,
		loss.NewWeightedCrossEntropy(cfg.ClassWeights),
		opt.NewAdamW(cfg.LearningRate, cfg.WeightDecay))

	return &Session{
		Config: cfg,
		Device: dev,
		Model:  m,
		Log:    log,
		Out:    out,
		rng:    rng,
	}, nil
}

func (s *Session) openSplit(name, root string) (*dataset.ImageFolder, error) {
	ds, err := dataset.NewImageFolder(root, s.Config.ClassNames, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "%s split", name)
	}
	fmt.Fprintf(s.Out, "%s directory %s: %v\n", name, root, classCounts(ds))
	s.Log.Debug("split loaded", "split", name, "dataset", ds.String())
	return ds, nil
}

func classCounts(ds *dataset.ImageFolder) map[string]int {
	counts := make(map[string]int)
	for i, n := range ds.ClassDistribution() {
		counts[ds.ClassNames()[i]] = n
	}
	return counts
}

// TrainLoaders opens the training (shuffled, augmented) and validation splits.
func (s *Session) TrainLoaders() (trainLoader, valLoader *dataset.Loader, err error) {
	mean, std := s.Config.MeanStd()
	size := s.Config.ImageSize

	trainDS, err := s.openSplit("Train", s.Config.TrainDir)
	if err != nil {
		return nil, nil, err
	}
	valDS, err := s.openSplit("Validation", s.Config.ValDir)
	if err != nil {
		return nil, nil, err
	}

	trainPipe := dataset.TrainPipeline(size, s.Config.FlipProb, s.Config.RotationDegrees, mean, std)
	evalPipe := dataset.EvalPipeline(size, mean, std)
	trainLoader = dataset.NewLoader(trainDS, trainPipe, s.Config.BatchSize, true, s.rng)
	valLoader = dataset.NewLoader(valDS, evalPipe, s.Config.ValBatchSize, false, s.rng)
	return trainLoader, valLoader, nil
}

// TestLoader opens the test split in fixed order.
func (s *Session) TestLoader() (*dataset.Loader, error) {
	mean, std := s.Config.MeanStd()
	testDS, err := s.openSplit("Test", s.Config.TestDir)
	if err != nil {
		return nil, err
	}
	return dataset.NewLoader(testDS, dataset.EvalPipeline(s.Config.ImageSize, mean, std), s.Config.TestBatchSize, false, s.rng), nil
}

// Train runs the full training loop and writes the best checkpoint to
// Config.CheckpointPath.
func (s *Session) Train() (*History, error) {
	fmt.Fprintln(s.Out, "Loading datasets...")
	trainLoader, valLoader, err := s.TrainLoaders()
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(s.Out, "Datasets loaded successfully!")

	callbacks := []net.Callback{net.Logger{Log: s.Log}}
	if s.Config.HistoryPath != "" {
		callbacks = append(callbacks, net.NewCSVLogger(s.Config.HistoryPath, false))
	}

	sched := opt.NewStepLR(s.Model.Optimizer(), s.Config.StepSize, s.Config.Gamma)
	trainer := train.New(s.Model, sched, train.Options{
		Epochs:         s.Config.Epochs,
		Patience:       s.Config.Patience,
		CheckpointPath: s.Config.CheckpointPath,
		Out:            s.Out,
		Log:            s.Log,
		Progress:       s.Config.Progress,
		Callbacks:      callbacks,
	})

	fmt.Fprintln(s.Out, "Starting training...")
	hist, err := trainer.Fit(trainLoader, valLoader)
	if err != nil {
		return hist, err
	}
	fmt.Fprintln(s.Out, "Training completed!")
	s.Log.Info("training finished",
		"epochs", hist.EpochsRun,
		"best_epoch", hist.BestEpoch,
		"best_val_loss", hist.BestValLoss,
		"early_stop", hist.StoppedEarly,
	)
	return hist, nil
}

// Evaluate loads checkpointPath into the model, predicts the test split and
// prints the classification report. The confusion matrix is rendered to
// Config.PlotPath when set.
func (s *Session) Evaluate(checkpointPath string) (*Result, error) {
	meta, err := s.Model.Load(checkpointPath)
	if err != nil {
		return nil, err
	}
	s.Log.Info("checkpoint loaded", "path", checkpointPath, "epoch", meta.Epoch, "val_loss", meta.ValLoss)

	testLoader, err := s.TestLoader()
	if err != nil {
		return nil, err
	}
	res, err := eval.Run(s.Model, testLoader, s.Config.ClassNames, s.Out)
	if err != nil {
		return nil, err
	}
	res.Print(s.Out)

	if s.Config.PlotPath != "" {
		if err := res.Plot(s.Config.PlotPath); err != nil {
			return res, err
		}
		s.Log.Info("confusion matrix saved", "path", s.Config.PlotPath)
	}
	return res, nil
}

// Run trains, then evaluates the checkpoint that training produced.
// A differing explicit evaluation checkpoint is honoured with a warning.
func (s *Session) Run() (*History, *Result, error) {
	hist, err := s.Train()
	if err != nil {
		return hist, nil, err
	}
	ckpt := s.Config.EvalCheckpoint()
	if ckpt != s.Config.CheckpointPath {
		s.Log.Warn("evaluating a different checkpoint than the one just trained",
			"trained", s.Config.CheckpointPath, "evaluated", ckpt)
	}
	res, err := s.Evaluate(ckpt)
	return hist, res, err
}

// Summary prints the model architecture.
func (s *Session) Summary() error {
	return s.Model.Summary(s.Out)
}
