// Package config holds the run configuration. Values are layered: built-in
// defaults, then an optional YAML file, then command line flags.
package config

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/alexflint/go-arg"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-graphsemi/checkpoints"
	"github.com/tsawler/go-graphsemi/dataset"
	"github.com/tsawler/go-graphsemi/graph"
	"github.com/tsawler/go-graphsemi/layers"
	"github.com/tsawler/go-graphsemi/optimizer"
	"github.com/tsawler/go-graphsemi/report"
	"github.com/tsawler/go-graphsemi/sampling"
	"github.com/tsawler/go-graphsemi/training"
	"gopkg.in/yaml.v2"
)

// Config is the complete configuration of a training run
type Config struct {
	ConfigFile string `yaml:"-" arg:"--config,-c" help:"YAML configuration file; flags override it"`

	// inputs and outputs
	Expression      string `yaml:"expression" arg:"--exp,-e" help:"expression table, features in rows and samples in columns"`
	Labels          string `yaml:"labels" arg:"--label,-l" help:"label table keyed by sample id"`
	LabelColumn     string `yaml:"label_column" arg:"--label-column" help:"label column in the label table"`
	ModelPath       string `yaml:"model" arg:"--model,-m" help:"checkpoint output path"`
	LabelBinPath    string `yaml:"label_bin" arg:"--label-bin,-b" help:"optional label class list output path"`
	PlotPath        string `yaml:"plot" arg:"--plot,-p" help:"optional loss/accuracy plot output path"`
	HistoryPath     string `yaml:"history" arg:"--history" help:"optional per-epoch CSV output path"`
	ProjectionPath  string `yaml:"projection" arg:"--projection" help:"optional t-SNE plot of every sample's target embedding"`
	PredictionsPath string `yaml:"predictions" arg:"--predictions" help:"optional per-sample predicted label table (TSV)"`
	Format          string `yaml:"format" arg:"--format" help:"checkpoint format: json or proto"`
	MetricsAddr     string `yaml:"metrics_addr" arg:"--metrics-addr" help:"serve Prometheus metrics on this address"`

	LogLevel  string `yaml:"log_level" arg:"--log-level" help:"panic, fatal, error, warn, info, debug or trace"`
	LogFormat string `yaml:"log_format" arg:"--log-format" help:"text or json"`

	// loading
	Shuffle  bool  `yaml:"shuffle" arg:"--shuffle" help:"shuffle sample order on load"`
	LoadSeed int64 `yaml:"load_seed" arg:"--load-seed"`

	// similarity graph
	K              int    `yaml:"k" arg:"--k" help:"neighbors per sample"`
	GraphAlgorithm string `yaml:"graph_algorithm" arg:"--graph-algorithm" help:"auto, kdtree or brute"`
	GraphWorkers   int    `yaml:"graph_workers" arg:"--graph-workers" help:"parallel neighbor queries, 0 for GOMAXPROCS"`

	// context sampling
	SampleSize    int     `yaml:"sample_size" arg:"--sample-size" help:"number of context pairs"`
	R1            float64 `yaml:"r1" arg:"--r1" help:"probability a positive partner is chosen by label"`
	R2            float64 `yaml:"r2" arg:"--r2" help:"probability a negative partner is chosen by label"`
	Q             int     `yaml:"q" arg:"--q" help:"nearest neighbors considered per proximity draw"`
	D             float64 `yaml:"d" arg:"--d" help:"distance threshold between near and far"`
	PositiveRatio float64 `yaml:"positive_ratio" arg:"--positive-ratio"`
	MaxRetries    int     `yaml:"max_retries" arg:"--max-retries"`
	SamplingSeed  int64   `yaml:"sampling_seed" arg:"--sampling-seed"`

	// split
	TrainRatio      float64 `yaml:"train_ratio" arg:"--train-ratio"`
	ValidationRatio float64 `yaml:"validation_ratio" arg:"--validation-ratio"`
	TestRatio       float64 `yaml:"test_ratio" arg:"--test-ratio"`
	SplitSeed       int64   `yaml:"split_seed" arg:"--split-seed"`

	// model
	FeatureUnits    int     `yaml:"feature_units" arg:"--feature-units"`
	FeatureDropout  float64 `yaml:"feature_dropout" arg:"--feature-dropout"`
	Units1          int     `yaml:"units1" arg:"--units1"`
	Units2          int     `yaml:"units2" arg:"--units2"`
	Units3          int     `yaml:"units3" arg:"--units3"`
	Units4          int     `yaml:"units4" arg:"--units4"`
	ClassDropout    float64 `yaml:"class_dropout" arg:"--class-dropout"`
	RelationDropout float64 `yaml:"relation_dropout" arg:"--relation-dropout"`
	ClassWeight     float64 `yaml:"class_weight" arg:"--class-weight"`
	RelationWeight  float64 `yaml:"relation_weight" arg:"--relation-weight"`
	Optimizer       string  `yaml:"optimizer" arg:"--optimizer" help:"sgd, adam or rmsprop"`
	LearningRate    float64 `yaml:"learning_rate" arg:"--lr"`
	ModelSeed       int64   `yaml:"model_seed" arg:"--model-seed"`

	// training loop
	Epochs          int     `yaml:"epochs" arg:"--epochs" help:"number of epochs to train for"`
	BatchSize       int     `yaml:"batch_size" arg:"--batch-size"`
	ValidateEvery   int     `yaml:"validate_every" arg:"--validate-every" help:"validation batch every N steps, 0 disables"`
	SimilarityEvery int     `yaml:"similarity_every" arg:"--similarity-every" help:"similarity evaluation every N epochs, 0 disables"`
	ShuffleSeed     int64   `yaml:"shuffle_seed" arg:"--shuffle-seed"`
	Progress        bool    `yaml:"progress" arg:"--progress" help:"draw a progress bar on stderr"`
	Scheduler       string  `yaml:"scheduler" arg:"--scheduler" help:"constant, step, exponential, cosine or plateau"`
	StepSize        int     `yaml:"step_size" arg:"--step-size"`
	Gamma           float64 `yaml:"gamma" arg:"--gamma"`
	EtaMin          float64 `yaml:"eta_min" arg:"--eta-min"`
	Patience        int     `yaml:"patience" arg:"--patience"`

	// t-SNE projection
	Perplexity     float64 `yaml:"perplexity" arg:"--perplexity"`
	TSNEIterations int     `yaml:"tsne_iterations" arg:"--tsne-iterations"`
}

// Default returns the reference run: k=2 neighbors, 10000 pairs, a 60/20/20
// split and batches of 32 for 75 epochs
func Default() Config {
	arch := layers.DefaultArchitecture()
	sample := sampling.DefaultConfig()
	ratios := training.DefaultSplitRatios()
	tsne := report.DefaultProjectionOptions()

	return Config{
		LabelColumn: "tissue",
		Format:      "json",
		LogLevel:    "info",
		LogFormat:   "text",

		Shuffle:  true,
		LoadSeed: 33,

		K:              2,
		GraphAlgorithm: string(graph.Auto),

		SampleSize:    sample.Count,
		R1:            sample.R1,
		R2:            sample.R2,
		Q:             sample.Q,
		D:             sample.D,
		PositiveRatio: sample.PositiveRatio,
		MaxRetries:    sample.MaxRetries,
		SamplingSeed:  sample.Seed,

		TrainRatio:      ratios.Train,
		ValidationRatio: ratios.Validation,
		TestRatio:       ratios.Test,
		SplitSeed:       99,

		FeatureUnits:    arch.FeatureUnits,
		FeatureDropout:  arch.FeatureDropout,
		Units1:          arch.Units1,
		Units2:          arch.Units2,
		Units3:          arch.Units3,
		Units4:          arch.Units4,
		ClassDropout:    arch.ClassDropout,
		RelationDropout: arch.RelationDropout,
		ClassWeight:     1,
		RelationWeight:  1,
		Optimizer:       "adam",
		LearningRate:    0.001,
		ModelSeed:       1,

		Epochs:          75,
		BatchSize:       32,
		ValidateEvery:   1,
		SimilarityEvery: 1,
		ShuffleSeed:     42,
		Scheduler:       "constant",

		Perplexity:     tsne.Perplexity,
		TSNEIterations: tsne.Iterations,
	}
}

// LoadYAML overlays the YAML file at path onto c. Keys missing from the
// file keep their current values.
func (c *Config) LoadYAML(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open config file")
	}
	defer f.Close()
	return c.ReadYAML(f)
}

// ReadYAML overlays YAML from r onto c. Unknown keys are rejected.
func (c *Config) ReadYAML(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.SetStrict(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return errors.Wrap(err, "parse config")
	}
	return nil
}

// WriteYAML writes c as YAML
func (c Config) WriteYAML(w io.Writer) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	_, err = w.Write(data)
	return err
}

// Parse builds a Config from command line arguments (without the program
// name). Flags override the YAML file named by --config, which overrides
// the defaults. The returned parser can print usage.
func Parse(program string, args []string) (Config, *arg.Parser, error) {
	cfg := Default()
	p, err := arg.NewParser(arg.Config{Program: program}, &cfg)
	if err != nil {
		return cfg, nil, err
	}
	if err := p.Parse(args); err != nil {
		return cfg, p, err
	}
	if cfg.ConfigFile == "" {
		return cfg, p, nil
	}

	layered := Default()
	if err := layered.LoadYAML(cfg.ConfigFile); err != nil {
		return cfg, p, err
	}
	p, err = arg.NewParser(arg.Config{Program: program}, &layered)
	if err != nil {
		return layered, nil, err
	}
	if err := p.Parse(args); err != nil {
		return layered, p, err
	}
	return layered, p, nil
}

// Validate reports every invalid setting
func (c Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}
	unit := func(name string, v float64) {
		if !(v >= 0 && v <= 1) {
			add("%s must be in [0, 1], got %v", name, v)
		}
	}

	if c.Expression == "" {
		add("expression table path is required")
	}
	if c.Labels == "" {
		add("label table path is required")
	}
	if c.ModelPath == "" {
		add("model output path is required")
	}
	if _, err := checkpoints.ParseFormat(c.Format); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		result = multierror.Append(result, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		add("unknown log format %q", c.LogFormat)
	}

	if c.K < 1 {
		add("k must be at least 1, got %d", c.K)
	}
	switch graph.Algorithm(c.GraphAlgorithm) {
	case graph.Auto, graph.KDTree, graph.Brute:
	default:
		add("unknown graph algorithm %q", c.GraphAlgorithm)
	}
	if c.GraphWorkers < 0 {
		add("graph workers must not be negative")
	}

	if c.SampleSize < 1 {
		add("sample size must be at least 1, got %d", c.SampleSize)
	}
	unit("r1", c.R1)
	unit("r2", c.R2)
	unit("positive ratio", c.PositiveRatio)
	if c.Q < 1 {
		add("q must be at least 1, got %d", c.Q)
	}
	if !(c.D >= 0) {
		add("d must not be negative, got %v", c.D)
	}
	if c.MaxRetries < 1 {
		add("max retries must be at least 1, got %d", c.MaxRetries)
	}

	if c.TrainRatio < 0 || c.ValidationRatio < 0 || c.TestRatio < 0 {
		add("split ratios must not be negative")
	} else if sum := c.TrainRatio + c.ValidationRatio + c.TestRatio; math.Abs(sum-1) > 1e-6 {
		add("split ratios must sum to 1, got %v", sum)
	}

	if c.Units1 < 1 || c.Units2 < 1 || c.Units3 < 1 || c.Units4 < 1 || c.FeatureUnits < 0 {
		add("layer widths must be positive")
	}
	unit("feature dropout", c.FeatureDropout)
	unit("class dropout", c.ClassDropout)
	unit("relation dropout", c.RelationDropout)
	if c.ClassWeight < 0 || c.RelationWeight < 0 || c.ClassWeight+c.RelationWeight == 0 {
		add("loss weights must be non-negative and not both zero")
	}
	if !(c.LearningRate > 0) {
		add("learning rate must be positive, got %v", c.LearningRate)
	}
	if _, err := optimizer.New(c.Optimizer, 0.1); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := training.NewScheduler(c.SchedulerOptions()); err != nil {
		result = multierror.Append(result, err)
	}
	if c.TSNEIterations < 1 || !(c.Perplexity > 0) {
		add("t-SNE needs positive perplexity and iterations")
	}

	if err := c.ControllerConfig().Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// LoadOptions converts the loading settings
func (c Config) LoadOptions(logger logrus.FieldLogger) dataset.LoadOptions {
	return dataset.LoadOptions{
		LabelColumn: c.LabelColumn,
		ShuffleSeed: c.LoadSeed,
		Shuffle:     c.Shuffle,
		Logger:      logger,
	}
}

// GraphOptions converts the graph settings
func (c Config) GraphOptions(logger logrus.FieldLogger) graph.Options {
	return graph.Options{
		Algorithm: graph.Algorithm(c.GraphAlgorithm),
		Workers:   c.GraphWorkers,
		Logger:    logger,
	}
}

// SamplingConfig converts the sampling settings
func (c Config) SamplingConfig() sampling.Config {
	return sampling.Config{
		Count:         c.SampleSize,
		R1:            c.R1,
		R2:            c.R2,
		Q:             c.Q,
		D:             c.D,
		PositiveRatio: c.PositiveRatio,
		MaxRetries:    c.MaxRetries,
		Seed:          c.SamplingSeed,
	}
}

// SplitRatios converts the split settings
func (c Config) SplitRatios() training.SplitRatios {
	return training.SplitRatios{Train: c.TrainRatio, Validation: c.ValidationRatio, Test: c.TestRatio}
}

// Architecture converts the layer widths and dropout rates
func (c Config) Architecture() layers.Architecture {
	return layers.Architecture{
		FeatureUnits:    c.FeatureUnits,
		FeatureDropout:  c.FeatureDropout,
		Units1:          c.Units1,
		Units2:          c.Units2,
		Units3:          c.Units3,
		Units4:          c.Units4,
		ClassDropout:    c.ClassDropout,
		RelationDropout: c.RelationDropout,
	}
}

// LossWeights converts the objective weights
func (c Config) LossWeights() training.LossWeights {
	return training.LossWeights{Classification: c.ClassWeight, Relation: c.RelationWeight}
}

// NewOptimizer builds the configured optimizer
func (c Config) NewOptimizer() (optimizer.Optimizer, error) {
	return optimizer.New(c.Optimizer, c.LearningRate)
}

// SchedulerOptions converts the learning rate schedule. The cosine period
// is the run length.
func (c Config) SchedulerOptions() training.SchedulerOptions {
	return training.SchedulerOptions{
		Name:     c.Scheduler,
		StepSize: c.StepSize,
		Gamma:    c.Gamma,
		TMax:     c.Epochs,
		EtaMin:   c.EtaMin,
		Patience: c.Patience,
	}
}

// ControllerConfig converts the training loop settings. Scheduler,
// Reporter and Progress are left for the caller.
func (c Config) ControllerConfig() training.ControllerConfig {
	return training.ControllerConfig{
		Epochs:          c.Epochs,
		BatchSize:       c.BatchSize,
		ValidateEvery:   c.ValidateEvery,
		SimilarityEvery: c.SimilarityEvery,
		ShuffleSeed:     c.ShuffleSeed,
	}
}

// ProjectionOptions converts the t-SNE settings
func (c Config) ProjectionOptions() report.ProjectionOptions {
	opts := report.DefaultProjectionOptions()
	opts.Perplexity = c.Perplexity
	opts.Iterations = c.TSNEIterations
	return opts
}

// CheckpointFormat converts the checkpoint format name
func (c Config) CheckpointFormat() (checkpoints.CheckpointFormat, error) {
	return checkpoints.ParseFormat(c.Format)
}

// NewLogger builds the run logger
func (c Config) NewLogger(out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	if strings.ToLower(c.LogFormat) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
