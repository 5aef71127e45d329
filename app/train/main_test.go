package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-graphsemi/config"
	"github.com/tsawler/go-graphsemi/dataset"
	"github.com/tsawler/go-graphsemi/report"
)

// writeTables writes a 4-gene expression table over 12 samples in two
// clusters and a label table with two unlabeled samples
func writeTables(t *testing.T, dir string) (string, string) {
	t.Helper()
	var exp, labels strings.Builder

	exp.WriteString("gene")
	labels.WriteString("\ttissue\n")
	for s := 0; s < 12; s++ {
		fmt.Fprintf(&exp, "\ts%d", s)
		label := []string{"liver", "brain"}[s%2]
		if s == 4 || s == 7 {
			label = "NA"
		}
		fmt.Fprintf(&labels, "s%d\t%s\n", s, label)
	}
	exp.WriteString("\n")
	for g := 0; g < 4; g++ {
		fmt.Fprintf(&exp, "g%d", g)
		for s := 0; s < 12; s++ {
			v := float64(5*(s%2)) + 0.1*float64((s*3+g*7)%5)
			fmt.Fprintf(&exp, "\t%g", v)
		}
		exp.WriteString("\n")
	}

	expPath := filepath.Join(dir, "exp.tsv")
	labelPath := filepath.Join(dir, "labels.tsv")
	require.NoError(t, os.WriteFile(expPath, []byte(exp.String()), 0o644))
	require.NoError(t, os.WriteFile(labelPath, []byte(labels.String()), 0o644))
	return expPath, labelPath
}

func TestRunWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Expression, cfg.Labels = writeTables(t, dir)
	cfg.ModelPath = filepath.Join(dir, "out", "model.json")
	cfg.LabelBinPath = filepath.Join(dir, "out", "classes.yaml")
	cfg.PlotPath = filepath.Join(dir, "out", "history.png")
	cfg.HistoryPath = filepath.Join(dir, "out", "history.csv")
	cfg.PredictionsPath = filepath.Join(dir, "predictions.tsv")
	cfg.SampleSize = 60
	cfg.Epochs = 2
	cfg.BatchSize = 8
	cfg.Units1, cfg.Units2, cfg.Units3, cfg.Units4 = 6, 5, 4, 3
	require.NoError(t, cfg.Validate())

	logger, hook := test.NewNullLogger()
	require.NoError(t, run(cfg, logger))

	for _, path := range []string{cfg.ModelPath, cfg.LabelBinPath, cfg.PlotPath, cfg.HistoryPath} {
		info, err := os.Stat(path)
		require.NoError(t, err, path)
		assert.Greater(t, info.Size(), int64(0), path)
	}

	f, err := os.Open(cfg.PredictionsPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := report.ReadPredictions(f)
	require.NoError(t, err)
	require.Len(t, rows, 12)
	unlabeled := 0
	for _, row := range rows {
		assert.Contains(t, []string{"brain", "liver"}, row.Predicted)
		if row.Label == dataset.Unlabeled {
			unlabeled++
		}
	}
	assert.Equal(t, 2, unlabeled)

	sampled := 0
	for _, entry := range hook.AllEntries() {
		if entry.Message == "sampled context pairs" {
			sampled++
		}
		assert.NotEqual(t, logrus.ErrorLevel, entry.Level, entry.Message)
	}
	assert.Equal(t, 1, sampled)
}

func TestServeMetricsStopsCleanly(t *testing.T) {
	logger, hook := test.NewNullLogger()
	stop := serveMetrics("127.0.0.1:0", prometheus.NewRegistry(), logger)
	stop()

	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, "serving metrics", hook.AllEntries()[0].Message)
	for _, entry := range hook.AllEntries() {
		assert.Equal(t, logrus.InfoLevel, entry.Level, entry.Message)
	}
}
