package net

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// CSVLogger logs per-epoch training history to a CSV file.
type CSVLogger struct {
	BaseCallback
	Filename string
	Append   bool

	file   *os.File
	writer *csv.Writer
	start  time.Time
}

var csvHeader = []string{"epoch", "train_loss", "train_acc", "val_loss", "val_acc", "lr", "improved", "time_seconds"}

// NewCSVLogger creates a new CSVLogger.
func NewCSVLogger(filename string, append bool) *CSVLogger {
	return &CSVLogger{
		Filename: filename,
		Append:   append,
	}
}

func (c *CSVLogger) OnTrainBegin(n *Network) error {
	mode := os.O_CREATE | os.O_WRONLY
	if c.Append {
		mode |= os.O_APPEND
	} else {
		mode |= os.O_TRUNC
	}

	if err := os.MkdirAll(filepath.Dir(c.Filename), 0o755); err != nil {
		return errors.Wrapf(err, "CSVLogger: failed to create directory for %s", c.Filename)
	}
	file, err := os.OpenFile(c.Filename, mode, 0644)
	if err != nil {
		return errors.Wrapf(err, "CSVLogger: failed to open file %s", c.Filename)
	}
	c.file = file
	c.writer = csv.NewWriter(file)
	c.start = time.Now()

	// Write header if not appending or if file is empty
	info, err := file.Stat()
	if err == nil && (info.Size() == 0 || !c.Append) {
		c.writer.Write(csvHeader)
		c.writer.Flush()
	}
	return c.writer.Error()
}

func (c *CSVLogger) OnEpochEnd(logs EpochLogs, n *Network) error {
	if c.writer == nil {
		return nil
	}

	elapsed := time.Since(c.start).Seconds()
	record := []string{
		strconv.Itoa(logs.Epoch),
		fmt.Sprintf("%.6f", logs.TrainLoss),
		fmt.Sprintf("%.4f", logs.TrainAccuracy),
		fmt.Sprintf("%.6f", logs.ValLoss),
		fmt.Sprintf("%.4f", logs.ValAccuracy),
		strconv.FormatFloat(logs.LearningRate, 'g', -1, 64),
		strconv.FormatBool(logs.Improved),
		fmt.Sprintf("%.2f", elapsed),
	}

	if err := c.writer.Write(record); err != nil {
		return errors.Wrap(err, "CSVLogger: failed to write record")
	}
	c.writer.Flush()
	return c.writer.Error()
}

func (c *CSVLogger) OnTrainEnd(n *Network) error {
	if c.file == nil {
		return nil
	}
	c.writer.Flush()
	err := c.writer.Error()
	if cerr := c.file.Close(); err == nil {
		err = cerr
	}
	c.file = nil
	c.writer = nil
	return err
}
