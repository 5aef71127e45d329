package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-graphsemi/checkpoints"
	"github.com/tsawler/go-graphsemi/graph"
)

func validConfig() Config {
	c := Default()
	c.Expression = "exp.tsv"
	c.Labels = "labels.tsv"
	c.ModelPath = "model.json"
	return c
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValidOnceInputsAreSet(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	err := Default().Validate()
	require.Error(t, err)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 3)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	c := validConfig()
	c.K = 0
	c.R1 = 1.5
	c.TrainRatio = 0.9
	c.LearningRate = 0
	c.Optimizer = "lbfgs"
	c.Format = "onnx"
	c.LogFormat = "xml"
	c.Epochs = 0

	err := c.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"k must be", "r1", "sum to 1", "learning rate", "lbfgs", "onnx", "xml", "epochs"} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative ratio", func(c *Config) { c.TestRatio = -0.2; c.TrainRatio = 1 }},
		{"zero sample size", func(c *Config) { c.SampleSize = 0 }},
		{"zero q", func(c *Config) { c.Q = 0 }},
		{"negative d", func(c *Config) { c.D = -1 }},
		{"positive ratio", func(c *Config) { c.PositiveRatio = 2 }},
		{"dropout", func(c *Config) { c.ClassDropout = 1.5 }},
		{"zero width", func(c *Config) { c.Units3 = 0 }},
		{"both weights zero", func(c *Config) { c.ClassWeight = 0; c.RelationWeight = 0 }},
		{"graph algorithm", func(c *Config) { c.GraphAlgorithm = "annoy" }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"scheduler", func(c *Config) { c.Scheduler = "warmup" }},
		{"batch size", func(c *Config) { c.BatchSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestReadYAMLOverlaysDefaults(t *testing.T) {
	c := Default()
	err := c.ReadYAML(strings.NewReader("k: 5\nepochs: 3\noptimizer: sgd\nshuffle: false\n"))
	require.NoError(t, err)

	assert.Equal(t, 5, c.K)
	assert.Equal(t, 3, c.Epochs)
	assert.Equal(t, "sgd", c.Optimizer)
	assert.False(t, c.Shuffle)
	assert.Equal(t, Default().BatchSize, c.BatchSize)

	assert.Error(t, c.ReadYAML(strings.NewReader("nonsense_key: 1\n")))
	assert.NoError(t, c.ReadYAML(strings.NewReader("")))
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	c := validConfig()
	c.R2 = 0.3

	var buf bytes.Buffer
	require.NoError(t, c.WriteYAML(&buf))

	var back Config
	require.NoError(t, back.ReadYAML(&buf))
	assert.Equal(t, c, back)
}

func TestParsePrecedence(t *testing.T) {
	path := writeFile(t, "run.yaml", "k: 5\nepochs: 3\nbatch_size: 16\nexpression: from-file.tsv\n")

	c, _, err := Parse("train", []string{"--config", path, "--epochs", "9", "-l", "labels.tsv"})
	require.NoError(t, err)

	assert.Equal(t, 5, c.K)
	assert.Equal(t, 9, c.Epochs)
	assert.Equal(t, 16, c.BatchSize)
	assert.Equal(t, 0.5, c.R1)
	assert.Equal(t, "labels.tsv", c.Labels)
	assert.Equal(t, "from-file.tsv", c.Expression)
	assert.Equal(t, path, c.ConfigFile)
}

func TestParseWithoutConfigFile(t *testing.T) {
	c, p, err := Parse("train", []string{"-e", "exp.tsv", "--lr", "0.01", "--positive-ratio", "0.7", "--predictions", "pred.tsv"})
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Equal(t, "exp.tsv", c.Expression)
	assert.Equal(t, 0.01, c.LearningRate)
	assert.Equal(t, 0.7, c.PositiveRatio)
	assert.Equal(t, "pred.tsv", c.PredictionsPath)
	assert.Equal(t, 75, c.Epochs)

	_, _, err = Parse("train", []string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
	_, _, err = Parse("train", []string{"--epochs", "many"})
	assert.Error(t, err)
}

func TestConverters(t *testing.T) {
	c := validConfig()
	c.GraphAlgorithm = "brute"
	c.Scheduler = "cosine"
	c.Epochs = 12
	c.Format = "proto"

	assert.Equal(t, graph.Brute, c.GraphOptions(nil).Algorithm)

	s := c.SamplingConfig()
	assert.Equal(t, c.SampleSize, s.Count)
	assert.Equal(t, c.SamplingSeed, s.Seed)
	assert.NoError(t, s.Validate())

	r := c.SplitRatios()
	assert.InDelta(t, 1.0, r.Train+r.Validation+r.Test, 1e-12)

	arch := c.Architecture()
	assert.Equal(t, c.Units3, arch.Units3)
	assert.Equal(t, c.RelationDropout, arch.RelationDropout)

	assert.Equal(t, 12, c.SchedulerOptions().TMax)
	assert.Equal(t, 12, c.ControllerConfig().Epochs)
	assert.Equal(t, c.ClassWeight, c.LossWeights().Classification)

	opt, err := c.NewOptimizer()
	require.NoError(t, err)
	assert.Equal(t, c.LearningRate, opt.GetLearningRate())

	f, err := c.CheckpointFormat()
	require.NoError(t, err)
	assert.Equal(t, checkpoints.FormatProto, f)

	assert.Equal(t, c.TSNEIterations, c.ProjectionOptions().Iterations)
	load := c.LoadOptions(nil)
	assert.Equal(t, "tissue", load.LabelColumn)
	assert.Equal(t, int64(33), load.ShuffleSeed)
}

func TestNewLogger(t *testing.T) {
	c := validConfig()
	c.LogLevel = "debug"
	c.LogFormat = "json"

	var buf bytes.Buffer
	logger, err := c.NewLogger(&buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("k", 2).Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	c.LogLevel = "loud"
	_, err = c.NewLogger(&buf)
	assert.Error(t, err)
}
