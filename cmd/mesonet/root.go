package main

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/FlavioCFOliveira/mesonet/internal/config"
	"github.com/FlavioCFOliveira/mesonet/mesonet"
)

type app struct {
	v       *viper.Viper
	cfgFile string
	envFile string
	cfg     config.Config
	log     *slog.Logger
}

// flag name -> config key
var flagKeys = map[string]string{
	"train-dir":       "train_dir",
	"val-dir":         "val_dir",
	"test-dir":        "test_dir",
	"classes":         "class_names",
	"image-size":      "image_size",
	"batch-size":      "batch_size",
	"epochs":          "epochs",
	"patience":        "patience",
	"lr":              "learning_rate",
	"weight-decay":    "weight_decay",
	"step-size":       "step_size",
	"gamma":           "gamma",
	"class-weights":   "class_weights",
	"checkpoint":      "checkpoint_path",
	"eval-checkpoint": "eval_checkpoint_path",
	"history":         "history_path",
	"plot":            "plot_path",
	"device":          "device",
	"seed":            "seed",
	"progress":        "progress",
	"log-level":       "log_level",
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	d := config.Default()

	root := &cobra.Command{
		Use:           "mesonet",
		Short:         "Train and evaluate the MesoNet Real/Fake image classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file with MESONET_* variables")

	pf.String("train-dir", d.TrainDir, "training split root")
	pf.String("val-dir", d.ValDir, "validation split root")
	pf.String("test-dir", d.TestDir, "test split root")
	pf.StringSlice("classes", d.ClassNames, "class names in label order")
	pf.Int("image-size", d.ImageSize, "square input resolution")
	pf.Int("batch-size", d.BatchSize, "training batch size")
	pf.Int("epochs", d.Epochs, "maximum number of epochs")
	pf.Int("patience", d.Patience, "epochs without improvement before stopping")
	pf.Float64("lr", d.LearningRate, "initial learning rate")
	pf.Float64("weight-decay", d.WeightDecay, "decoupled weight decay")
	pf.Int("step-size", d.StepSize, "epochs between learning rate decays")
	pf.Float64("gamma", d.Gamma, "learning rate decay factor")
	pf.StringSlice("class-weights", formatFloats(d.ClassWeights), "loss weight per class")
	pf.String("checkpoint", d.CheckpointPath, "best model checkpoint path")
	pf.String("eval-checkpoint", d.EvalCheckpointPath, "checkpoint to evaluate (defaults to --checkpoint)")
	pf.String("history", d.HistoryPath, "per-epoch CSV history (empty disables)")
	pf.String("plot", d.PlotPath, "confusion matrix image (empty disables)")
	pf.String("device", d.Device, "auto, cpu or gpu")
	pf.Int64("seed", d.Seed, "random seed")
	pf.Bool("progress", d.Progress, "show a progress bar per epoch")
	pf.String("log-level", d.LogLevel, "debug, info, warn or error")

	config.SetDefaults(a.v)
	pf.VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			a.v.BindPFlag(key, f)
		}
	})

	root.AddCommand(
		newTrainCmd(a),
		newEvaluateCmd(a),
		newRunCmd(a),
		newSummaryCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) init(logOut io.Writer) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to load %s", a.envFile)
		}
	}
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	a.log.Debug("configuration", "config", cfg.String())
	return nil
}

// formatFloats renders slice defaults as strings; viper decodes them back
// into the float fields.
func formatFloats(fs []float64) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return out
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func (a *app) session(cmd *cobra.Command) (*mesonet.Session, error) {
	return mesonet.NewSession(a.cfg, cmd.OutOrStdout(), a.log)
}
