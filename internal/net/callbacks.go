package net

import (
	"log/slog"

	"github.com/FlavioCFOliveira/mesonet/internal/opt"
)

// EpochLogs carries the metrics of one completed epoch.
type EpochLogs struct {
	Epoch         int // 1-based
	TrainLoss     float64
	TrainAccuracy float64 // percent
	ValLoss       float64
	ValAccuracy   float64 // percent
	LearningRate  float64 // rate used during the epoch
	Improved      bool    // validation loss strictly improved and a checkpoint was written
}

// Callback defines the interface for training callbacks.
type Callback interface {
	OnTrainBegin(n *Network) error
	OnTrainEnd(n *Network) error
	OnEpochBegin(epoch int, n *Network)
	OnEpochEnd(logs EpochLogs, n *Network) error
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (c BaseCallback) OnTrainBegin(n *Network) error               { return nil }
func (c BaseCallback) OnTrainEnd(n *Network) error                 { return nil }
func (c BaseCallback) OnEpochBegin(epoch int, n *Network)          {}
func (c BaseCallback) OnEpochEnd(logs EpochLogs, n *Network) error { return nil }

// SchedulerCallback is a callback that wraps a learning rate scheduler.
type SchedulerCallback struct {
	BaseCallback
	scheduler opt.Scheduler
}

func NewSchedulerCallback(scheduler opt.Scheduler) *SchedulerCallback {
	return &SchedulerCallback{scheduler: scheduler}
}

func (c *SchedulerCallback) OnEpochEnd(logs EpochLogs, n *Network) error {
	c.scheduler.Step()
	return nil
}

// Logger logs training progress as structured records.
type Logger struct {
	BaseCallback
	Log *slog.Logger
}

func (c Logger) OnEpochEnd(logs EpochLogs, n *Network) error {
	if c.Log == nil {
		return nil
	}
	c.Log.Debug("epoch finished",
		"epoch", logs.Epoch,
		"train_loss", logs.TrainLoss,
		"train_acc", logs.TrainAccuracy,
		"val_loss", logs.ValLoss,
		"val_acc", logs.ValAccuracy,
		"lr", logs.LearningRate,
		"improved", logs.Improved,
	)
	return nil
}
