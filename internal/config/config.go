// Package config holds the training and evaluation settings.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix is the prefix of environment overrides, e.g. MESONET_EPOCHS.
const EnvPrefix = "MESONET"

// Config contains every tunable of a training and evaluation run.
type Config struct {
	TrainDir   string   `mapstructure:"train_dir"`
	ValDir     string   `mapstructure:"val_dir"`
	TestDir    string   `mapstructure:"test_dir"`
	ClassNames []string `mapstructure:"class_names"`
	ImageSize  int      `mapstructure:"image_size"`

	BatchSize     int `mapstructure:"batch_size"`
	ValBatchSize  int `mapstructure:"val_batch_size"`
	TestBatchSize int `mapstructure:"test_batch_size"`

	Epochs       int       `mapstructure:"epochs"`
	Patience     int       `mapstructure:"patience"`
	LearningRate float64   `mapstructure:"learning_rate"`
	WeightDecay  float64   `mapstructure:"weight_decay"`
	StepSize     int       `mapstructure:"step_size"`
	Gamma        float64   `mapstructure:"gamma"`
	ClassWeights []float64 `mapstructure:"class_weights"`

	FlipProb        float64   `mapstructure:"flip_prob"`
	RotationDegrees float64   `mapstructure:"rotation_degrees"`
	Mean            []float64 `mapstructure:"mean"`
	Std             []float64 `mapstructure:"std"`

	CheckpointPath     string `mapstructure:"checkpoint_path"`
	EvalCheckpointPath string `mapstructure:"eval_checkpoint_path"`
	HistoryPath        string `mapstructure:"history_path"`
	PlotPath           string `mapstructure:"plot_path"`

	Device   string `mapstructure:"device"`
	Seed     int64  `mapstructure:"seed"`
	Progress bool   `mapstructure:"progress"`
	LogLevel string `mapstructure:"log_level"`
}

// Default returns the stock MesoNet hyper-parameters.
func Default() Config {
	return Config{
		TrainDir:   "data/Train",
		ValDir:     "data/Validation",
		TestDir:    "data/Test",
		ClassNames: []string{"Real", "Fake"},
		ImageSize:  128,

		BatchSize:     16,
		ValBatchSize:  16,
		TestBatchSize: 1,

		Epochs:       20,
		Patience:     3,
		LearningRate: 1e-4,
		WeightDecay:  1e-5,
		StepSize:     5,
		Gamma:        0.1,
		ClassWeights: []float64{1, 2},

		FlipProb:        0.5,
		RotationDegrees: 10,
		Mean:            []float64{0.5, 0.5, 0.5},
		Std:             []float64{0.5, 0.5, 0.5},

		CheckpointPath: "MesoNet_model.ckpt",
		HistoryPath:    "training_history.csv",
		PlotPath:       "confusion_matrix.png",

		Device:   "auto",
		Seed:     42,
		Progress: true,
		LogLevel: "info",
	}
}

// SetDefaults registers every key with its default on v, so that
// environment variables and Unmarshal see the full key set.
func SetDefaults(v *viper.Viper) {
	d := Default()
	t := reflect.TypeOf(d)
	val := reflect.ValueOf(d)
	for i := 0; i < t.NumField(); i++ {
		v.SetDefault(t.Field(i).Tag.Get("mapstructure"), val.Field(i).Interface())
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// Load reads the optional config file configured on v and decodes the result.
func Load(v *viper.Viper) (Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "failed to read config file %s", v.ConfigFileUsed())
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode configuration")
	}
	return c, c.Validate()
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.ImageSize > 0 && c.ImageSize%4 == 0, "image_size must be a positive multiple of 4, got %d", c.ImageSize)
	check(c.BatchSize > 0, "batch_size must be positive, got %d", c.BatchSize)
	check(c.ValBatchSize > 0, "val_batch_size must be positive, got %d", c.ValBatchSize)
	check(c.TestBatchSize > 0, "test_batch_size must be positive, got %d", c.TestBatchSize)
	check(c.Epochs > 0, "epochs must be positive, got %d", c.Epochs)
	check(c.Patience > 0, "patience must be positive, got %d", c.Patience)
	check(c.LearningRate > 0, "learning_rate must be positive, got %v", c.LearningRate)
	check(c.WeightDecay >= 0, "weight_decay must not be negative, got %v", c.WeightDecay)
	check(c.StepSize > 0, "step_size must be positive, got %d", c.StepSize)
	check(c.Gamma > 0, "gamma must be positive, got %v", c.Gamma)
	check(len(c.ClassNames) == 2, "class_names must name exactly 2 classes, got %v", c.ClassNames)
	check(len(c.ClassWeights) == len(c.ClassNames), "class_weights must have one weight per class, got %v", c.ClassWeights)
	for _, w := range c.ClassWeights {
		check(w >= 0, "class weight %v is negative", w)
	}
	check(c.FlipProb >= 0 && c.FlipProb <= 1, "flip_prob must be within [0,1], got %v", c.FlipProb)
	check(c.RotationDegrees >= 0, "rotation_degrees must not be negative, got %v", c.RotationDegrees)
	check(len(c.Mean) == 3 && len(c.Std) == 3, "mean and std need 3 values, got %v and %v", c.Mean, c.Std)
	for _, s := range c.Std {
		check(s > 0, "std value %v must be positive", s)
	}
	check(c.CheckpointPath != "", "checkpoint_path is required")

	if len(problems) > 0 {
		return errors.Wrap(ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// EvalCheckpoint returns the checkpoint to evaluate: EvalCheckpointPath when
// set, the training checkpoint otherwise.
func (c Config) EvalCheckpoint() string {
	if c.EvalCheckpointPath != "" {
		return c.EvalCheckpointPath
	}
	return c.CheckpointPath
}

// MeanStd returns Mean and Std as fixed-size channel arrays.
func (c Config) MeanStd() (mean, std [3]float32) {
	for i := 0; i < 3 && i < len(c.Mean) && i < len(c.Std); i++ {
		mean[i] = float32(c.Mean[i])
		std[i] = float32(c.Std[i])
	}
	return mean, std
}

// Fields returns the config keys in declaration order.
func (c Config) Fields() []string {
	st := reflect.TypeOf(c)
	fld := make([]string, st.NumField())
	for i := range fld {
		fld[i] = st.Field(i).Tag.Get("mapstructure")
	}
	return fld
}

func (c Config) String() string {
	s := reflect.ValueOf(c)
	str := []string{"== Config =="}
	for i, key := range c.Fields() {
		str = append(str, fmt.Sprintf("%-20s: %v", key, s.Field(i).Interface()))
	}
	return strings.Join(str, "\n")
}
