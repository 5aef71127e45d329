// Command train fits the graph-regularised semi-supervised model on an
// expression table and a partial label table, then writes a checkpoint,
// an optional loss/accuracy plot and a classification report.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-graphsemi/checkpoints"
	"github.com/tsawler/go-graphsemi/config"
	"github.com/tsawler/go-graphsemi/dataset"
	"github.com/tsawler/go-graphsemi/graph"
	"github.com/tsawler/go-graphsemi/model"
	"github.com/tsawler/go-graphsemi/report"
	"github.com/tsawler/go-graphsemi/sampling"
	"github.com/tsawler/go-graphsemi/training"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v2"
)

func main() {
	cfg, p, err := config.Parse("train", os.Args[1:])
	switch {
	case err == arg.ErrHelp:
		p.WriteHelp(os.Stdout)
		os.Exit(0)
	case err != nil && p != nil:
		p.Fail(err.Error())
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		p.Fail(err.Error())
	}

	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("training failed")
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	runID := uuid.NewString()
	log := logger.WithField("run", runID)

	log.Info("loading training data")
	matrix, labels, err := dataset.Load(cfg.Expression, cfg.Labels, cfg.LoadOptions(log))
	if err != nil {
		return err
	}

	log.WithField("k", cfg.K).Info("building similarity graph")
	g, err := graph.Build(matrix, cfg.K, cfg.GraphOptions(log))
	if err != nil {
		return err
	}

	pairs, _, err := sampling.Sample(g, labels, cfg.SamplingConfig(), log)
	if err != nil {
		return err
	}

	split, err := training.SplitPairs(pairs, cfg.SplitRatios(), cfg.SplitSeed)
	if err != nil {
		return err
	}
	binarizer, err := dataset.NewLabelBinarizer(labels.Classes())
	if err != nil {
		return err
	}
	data, err := training.NewSplitData(split, matrix, labels, binarizer)
	if err != nil {
		return err
	}

	opt, err := cfg.NewOptimizer()
	if err != nil {
		return err
	}
	m, err := model.New(cfg.Architecture(), matrix.Dims(), binarizer.NumClasses(), opt, cfg.LossWeights(), cfg.ModelSeed)
	if err != nil {
		return err
	}
	training.NewModelArchitecturePrinter("GraphSemi").PrintArchitecture(os.Stdout, m.Spec())

	reporters := []training.Reporter{report.NewLogReporter(log)}
	if cfg.HistoryPath != "" {
		reporters = append(reporters, report.NewCSVReporter(cfg.HistoryPath))
	}
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reporters = append(reporters, report.NewPrometheusReporter(reg, runID))
		stop := serveMetrics(cfg.MetricsAddr, reg, log)
		defer stop()
	}

	scheduler, err := training.NewScheduler(cfg.SchedulerOptions())
	if err != nil {
		return err
	}
	ctrlCfg := cfg.ControllerConfig()
	ctrlCfg.Scheduler = scheduler
	ctrlCfg.Reporter = report.Multi(reporters...)
	if cfg.Progress {
		ctrlCfg.Progress = os.Stderr
	}

	ctrl, err := training.NewController(m, m.Similarity(), data, ctrlCfg, log)
	if err != nil {
		return err
	}
	result, err := ctrl.Run()
	if err != nil {
		return err
	}

	log.Info("evaluating the model")
	if result.Test != nil && result.Test.ClassConfusion.TotalSamples > 0 {
		cr, err := report.NewClassificationReport(result.Test.ClassConfusion, binarizer.Classes())
		if err != nil {
			return err
		}
		if err := cr.Write(os.Stdout); err != nil {
			return err
		}
	}
	if result.Test != nil && result.Test.RelationConfusion.TotalSamples > 0 {
		rr, err := report.NewRelationReport(result.Test)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout)
		if err := rr.Write(os.Stdout); err != nil {
			return err
		}
	}
	if err := report.WriteSummaries(os.Stdout, report.SummarizeHistory(result.History)); err != nil {
		return err
	}

	if cfg.PlotPath != "" {
		if err := report.PlotHistory(result.History, cfg.PlotPath); err != nil {
			return err
		}
		log.WithField("path", cfg.PlotPath).Info("wrote loss/accuracy plot")
	}
	if cfg.PredictionsPath != "" {
		if err := writePredictions(cfg.PredictionsPath, m, matrix, labels, binarizer); err != nil {
			return err
		}
		log.WithField("path", cfg.PredictionsPath).Info("wrote per-sample predictions")
	}
	if cfg.ProjectionPath != "" {
		if err := writeProjection(cfg, m, matrix, labels); err != nil {
			log.WithError(err).Warn("projection failed")
		} else {
			log.WithField("path", cfg.ProjectionPath).Info("wrote embedding projection")
		}
	}

	log.Info("serializing the model and label binarizer")
	return saveOutputs(cfg, runID, m, binarizer, result.State)
}

func serveMetrics(addr string, reg *prometheus.Registry, log logrus.FieldLogger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", report.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics listener stopped")
		}
	}()
	log.WithField("addr", addr).Info("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("metrics listener shutdown")
		}
	}
}

func writePredictions(path string, m *model.TrainingModel, matrix *dataset.FeatureMatrix, labels *dataset.LabelMap, binarizer *dataset.LabelBinarizer) error {
	probs, err := m.Classify(mat.DenseCopyOf(matrix.Matrix()))
	if err != nil {
		return err
	}
	rows, err := report.NewSamplePredictions(matrix.SampleIDs(), labels, probs, binarizer)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create predictions file")
	}
	defer f.Close()
	return report.WritePredictions(f, rows)
}

func writeProjection(cfg config.Config, m *model.TrainingModel, matrix *dataset.FeatureMatrix, labels *dataset.LabelMap) error {
	emb, err := m.Embed(mat.DenseCopyOf(matrix.Matrix()))
	if err != nil {
		return err
	}
	points, err := report.ProjectEmbeddings(emb, cfg.ProjectionOptions())
	if err != nil {
		return err
	}
	names := make([]string, labels.Len())
	for i := range names {
		names[i] = labels.Label(i)
	}
	return report.PlotProjection(points, names, "t-SNE of target embeddings", cfg.ProjectionPath)
}

func saveOutputs(cfg config.Config, runID string, m *model.TrainingModel, binarizer *dataset.LabelBinarizer, state training.TrainingState) error {
	format, err := cfg.CheckpointFormat()
	if err != nil {
		return err
	}
	cp, err := checkpoints.FromModel(m, binarizer.Classes(), state, cfg.ModelSeed)
	if err != nil {
		return err
	}
	cp.Metadata.ID = runID
	cp.Metadata.Description = fmt.Sprintf("trained on %s for %d epochs", cfg.Expression, state.Epoch)
	if err := checkpoints.NewCheckpointSaver(format).SaveCheckpoint(cp, cfg.ModelPath); err != nil {
		return err
	}

	if cfg.LabelBinPath == "" {
		return nil
	}
	out, err := yaml.Marshal(struct {
		Classes []string `yaml:"classes"`
	}{binarizer.Classes()})
	if err != nil {
		return errors.Wrap(err, "marshal label classes")
	}
	return errors.Wrap(os.WriteFile(cfg.LabelBinPath, out, 0o644), "write label classes")
}
