package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrConfig = errors.New("invalid config")

// Config captures the runtime knobs for a training run.
type Config struct {
	// Format is "csv" (image/label text files) or "cifar10" (binary records).
	Format      string `yaml:"format"`
	TrainImages string `yaml:"train_images"`
	TrainLabels string `yaml:"train_labels"`
	TestImages  string `yaml:"test_images"`
	TestLabels  string `yaml:"test_labels"`
	Predictions string `yaml:"predictions"`

	Hidden     []int  `yaml:"hidden"`
	Classes    int    `yaml:"classes"`
	Activation string `yaml:"activation"`
	BiasInit   string `yaml:"bias_init"`

	LearningRate      float64       `yaml:"learning_rate"`
	Decay             float64       `yaml:"decay"`
	BatchSize         int           `yaml:"batch_size"`
	DivideLrByBatches bool          `yaml:"divide_lr_by_batches"`
	Epochs            int           `yaml:"epochs"`
	TimeBudget        time.Duration `yaml:"time_budget"`
	EvaluateTrain     bool          `yaml:"evaluate_train"`
	Seed              int64         `yaml:"seed"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	TrainImages  string
	TrainLabels  string
	TestImages   string
	TestLabels   string
	Predictions  string
	Activation   string
	LearningRate float64
	BatchSize    int
	Epochs       int
	TimeBudget   time.Duration
	Seed         int64
}

// Default mirrors the digit classification homework setup.
func Default() *Config {
	return &Config{
		Format:       "csv",
		TrainImages:  "train_image.csv",
		TrainLabels:  "train_label.csv",
		TestImages:   "test_image.csv",
		Predictions:  "test_predictions.csv",
		Hidden:       []int{50, 50, 50},
		Classes:      10,
		Activation:   "sigmoid",
		BiasInit:     "zero",
		LearningRate: 0.01,
		Decay:        1,
		Epochs:       100,
	}
}

// Load reads a YAML config on top of Default. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.TrainImages != "" {
		c.TrainImages = o.TrainImages
	}
	if o.TrainLabels != "" {
		c.TrainLabels = o.TrainLabels
	}
	if o.TestImages != "" {
		c.TestImages = o.TestImages
	}
	if o.TestLabels != "" {
		c.TestLabels = o.TestLabels
	}
	if o.Predictions != "" {
		c.Predictions = o.Predictions
	}
	if o.Activation != "" {
		c.Activation = o.Activation
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.BatchSize != 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.TimeBudget > 0 {
		c.TimeBudget = o.TimeBudget
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrConfig)
	}
	switch strings.ToLower(c.Format) {
	case "csv":
		if c.TrainLabels == "" {
			return fmt.Errorf("%w: train_labels is required for csv", ErrConfig)
		}
	case "cifar10":
	default:
		return fmt.Errorf("%w: unknown format %q", ErrConfig, c.Format)
	}
	if c.TrainImages == "" {
		return fmt.Errorf("%w: train_images is required", ErrConfig)
	}
	if c.TestLabels != "" && c.TestImages == "" {
		return fmt.Errorf("%w: test_labels given without test_images", ErrConfig)
	}
	for i, h := range c.Hidden {
		if h <= 0 {
			return fmt.Errorf("%w: hidden layer %d width must be > 0 (got %d)", ErrConfig, i, h)
		}
	}
	if c.Classes <= 1 {
		return fmt.Errorf("%w: classes must be > 1 (got %d)", ErrConfig, c.Classes)
	}
	switch c.BiasInit {
	case "", "zero", "random":
	default:
		return fmt.Errorf("%w: bias_init must be zero or random (got %q)", ErrConfig, c.BiasInit)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning_rate must be > 0 (got %v)", ErrConfig, c.LearningRate)
	}
	if c.Decay < 0 {
		return fmt.Errorf("%w: decay must be >= 0 (got %v)", ErrConfig, c.Decay)
	}
	if c.Epochs <= 0 && c.TimeBudget <= 0 {
		return fmt.Errorf("%w: set epochs and/or time_budget", ErrConfig)
	}
	if c.TimeBudget < 0 {
		return fmt.Errorf("%w: time_budget must be >= 0 (got %s)", ErrConfig, c.TimeBudget)
	}
	return nil
}

// Sizes returns the layer widths for a given input feature count.
func (c *Config) Sizes(features int) []int {
	sizes := make([]int, 0, len(c.Hidden)+2)
	sizes = append(sizes, features)
	sizes = append(sizes, c.Hidden...)
	return append(sizes, c.Classes)
}
