package training

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-graphsemi/dataset"
	"github.com/tsawler/go-graphsemi/errdefs"
)

// Phase is the Controller's position in its run
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseEpoch
	PhaseBatchStep
	PhaseEpochSummary
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseEpoch:
		return "epoch"
	case PhaseBatchStep:
		return "batch_step"
	case PhaseEpochSummary:
		return "epoch_summary"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ControllerConfig holds configuration for a training run
type ControllerConfig struct {
	Epochs          int
	BatchSize       int
	ValidateEvery   int   // validation mini-batch every N training steps (0 = never)
	SimilarityEvery int   // similarity evaluation every N epochs (0 = never)
	ShuffleSeed     int64 // seeds training and validation batch order

	Scheduler LRScheduler // nil keeps the model's learning rate
	Reporter  Reporter    // nil drops epoch records
	Progress  io.Writer   // nil disables the progress bar
}

// DefaultControllerConfig returns the configuration used by the CLI
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Epochs:          10,
		BatchSize:       64,
		ValidateEvery:   10,
		SimilarityEvery: 1,
		ShuffleSeed:     42,
	}
}

// Validate reports every invalid field
func (c ControllerConfig) Validate() error {
	var result *multierror.Error
	if c.Epochs < 1 {
		result = multierror.Append(result, fmt.Errorf("epochs must be at least 1, got %d", c.Epochs))
	}
	if c.BatchSize < 1 {
		result = multierror.Append(result, fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize))
	}
	if c.ValidateEvery < 0 {
		result = multierror.Append(result, fmt.Errorf("validate_every must be non-negative, got %d", c.ValidateEvery))
	}
	if c.SimilarityEvery < 0 {
		result = multierror.Append(result, fmt.Errorf("similarity_every must be non-negative, got %d", c.SimilarityEvery))
	}
	return result.ErrorOrNil()
}

// SplitData holds the resolved datasets of a Split
type SplitData struct {
	Train      *PairDataset
	Validation *PairDataset
	Test       *PairDataset
}

// NewSplitData resolves every partition of split against the same matrix,
// labels and binarizer. The training partition must not be empty.
func NewSplitData(split *Split, matrix *dataset.FeatureMatrix, labels *dataset.LabelMap, binarizer *dataset.LabelBinarizer) (*SplitData, error) {
	if split == nil || len(split.Train) == 0 {
		return nil, errdefs.InvalidInput("training.NewSplitData", "training partition is empty")
	}

	var data SplitData
	var err error
	if data.Train, err = NewPairDataset(split.Train, matrix, labels, binarizer); err != nil {
		return nil, err
	}
	if data.Validation, err = NewPairDataset(split.Validation, matrix, labels, binarizer); err != nil {
		return nil, err
	}
	if data.Test, err = NewPairDataset(split.Test, matrix, labels, binarizer); err != nil {
		return nil, err
	}
	return &data, nil
}

// TrainingState is the Controller's process-lifetime state
type TrainingState struct {
	Phase Phase
	Epoch int // 1-based; 0 while idle
	Batch int // 1-based index within the epoch
	Step  int // training steps taken over the whole run

	CumulativeLoss LossBreakdown // sum of per-step losses
	LastSimilarity float64       // NaN until a similarity evaluation succeeds
	LearningRate   float64
}

// EpochRecord is the per-epoch metrics record handed to a Reporter
type EpochRecord struct {
	Epoch        int
	Train        EpochMetrics
	Validation   EpochMetrics // Pairs == 0 when no validation batch ran
	Similarity   float64      // NaN when not evaluated this epoch or evaluation failed
	LearningRate float64
	Duration     time.Duration
	EvalFailures int
}

// Reporter consumes epoch records. Reporter errors are logged and never
// stop training.
type Reporter interface {
	OnEpoch(rec EpochRecord) error
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(rec EpochRecord) error

func (f ReporterFunc) OnEpoch(rec EpochRecord) error { return f(rec) }

// Result is what a completed run yields for reporting and serialisation
type Result struct {
	History    []EpochRecord
	Train      *Evaluation // nil if the final evaluation failed
	Validation *Evaluation
	Test       *Evaluation
	State      TrainingState
}

// Controller drives mini-batch optimisation of a Model over a SplitData
type Controller struct {
	model  Model
	sim    SimilarityModel
	data   *SplitData
	config ControllerConfig
	logger logrus.FieldLogger

	state   TrainingState
	history []EpochRecord
}

// NewController creates a Controller in PhaseIdle. sim may be nil, which
// disables similarity evaluation.
func NewController(model Model, sim SimilarityModel, data *SplitData, config ControllerConfig, logger logrus.FieldLogger) (*Controller, error) {
	if model == nil {
		return nil, errdefs.InvalidInput("training.NewController", "model is required")
	}
	if data == nil || data.Train == nil || data.Train.Len() == 0 {
		return nil, errdefs.InvalidInput("training.NewController", "training data is empty")
	}
	if err := config.Validate(); err != nil {
		return nil, errdefs.InvalidInput("training.NewController", "%v", err)
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	return &Controller{
		model:  model,
		sim:    sim,
		data:   data,
		config: config,
		logger: logger.WithField("component", "controller"),
		state: TrainingState{
			Phase:          PhaseIdle,
			LastSimilarity: math.NaN(),
			LearningRate:   model.LearningRate(),
		},
	}, nil
}

// State returns a snapshot of the current training state
func (c *Controller) State() TrainingState {
	return c.state
}

// History returns the epoch records produced so far
func (c *Controller) History() []EpochRecord {
	return c.history
}

// Run trains for the configured number of epochs. A failed TrainStep aborts
// the run with a TrainingStepError; evaluation failures are logged and the
// run continues.
func (c *Controller) Run() (*Result, error) {
	if c.state.Phase != PhaseIdle {
		return nil, fmt.Errorf("controller already ran (phase %s)", c.state.Phase)
	}

	cfg := c.config
	baseLR := c.model.LearningRate()
	trainLoader := NewDataLoader(c.data.Train, cfg.BatchSize, true, cfg.ShuffleSeed)
	var valLoader *DataLoader
	if c.data.Validation != nil && c.data.Validation.Len() > 0 {
		valLoader = NewDataLoader(c.data.Validation, cfg.BatchSize, true, cfg.ShuffleSeed+1)
		valLoader.Reset()
	}

	var session *TrainingSession
	if cfg.Progress != nil {
		session = NewTrainingSession(cfg.Progress, cfg.Epochs, trainLoader.Len())
	}

	c.logger.WithFields(logrus.Fields{
		"epochs":      cfg.Epochs,
		"batch_size":  cfg.BatchSize,
		"train_pairs": c.data.Train.Len(),
		"batches":     trainLoader.Len(),
	}).Info("starting training")

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		c.state.Phase = PhaseEpoch
		c.state.Epoch = epoch
		c.state.Batch = 0
		c.applySchedule(epoch, baseLR)
		epochStart := time.Now()

		trainAcc := newMetricsAccumulator(c.model.LossWeights(), c.data.Train.NumClasses())
		var valAcc *metricsAccumulator
		if valLoader != nil {
			valAcc = newMetricsAccumulator(c.model.LossWeights(), c.data.Validation.NumClasses())
		}
		evalFailures := 0

		if session != nil {
			session.StartEpoch(epoch)
		}

		trainLoader.Reset()
		for batch := trainLoader.Next(); batch != nil; batch = trainLoader.Next() {
			c.state.Phase = PhaseBatchStep
			c.state.Batch++

			out, err := c.model.TrainStep(batch)
			if err == nil && out == nil {
				err = fmt.Errorf("train step returned no output")
			}
			if err != nil {
				stepErr := &errdefs.TrainingStepError{Epoch: epoch, Batch: c.state.Batch, Err: err}
				c.logger.WithError(err).WithFields(logrus.Fields{
					"epoch": epoch,
					"batch": c.state.Batch,
				}).Error("training step failed, aborting run")
				return nil, stepErr
			}

			c.state.Step++
			c.state.CumulativeLoss.Classification += out.Loss.Classification
			c.state.CumulativeLoss.Relation += out.Loss.Relation
			c.state.CumulativeLoss.Total += out.Loss.Total

			trainAcc.addLosses(out.Loss.Classification, batch.LabeledCount(), out.Loss.Relation, batch.Size())
			if out.Prediction != nil {
				if err := trainAcc.addAccuracy(batch, out.Prediction); err != nil {
					evalFailures++
					c.warnEvaluation(&errdefs.EvaluationError{Epoch: epoch, Stage: "train", Err: err})
				}
			}

			if valAcc != nil && cfg.ValidateEvery > 0 && c.state.Step%cfg.ValidateEvery == 0 {
				if err := c.validateBatch(valLoader, valAcc); err != nil {
					evalFailures++
					c.warnEvaluation(&errdefs.EvaluationError{Epoch: epoch, Stage: "validation", Err: err})
				}
			}

			if session != nil {
				m := trainAcc.metrics()
				session.UpdateTrainingProgress(c.state.Batch, m.TotalLoss, m.ClassAccuracy, m.RelationAccuracy)
			}
		}
		if session != nil {
			session.FinishTrainingEpoch()
		}

		c.state.Phase = PhaseEpochSummary
		rec := EpochRecord{
			Epoch:        epoch,
			Train:        trainAcc.metrics(),
			Similarity:   math.NaN(),
			LearningRate: c.state.LearningRate,
		}
		if valAcc != nil {
			rec.Validation = valAcc.metrics()
		}

		if c.sim != nil && cfg.SimilarityEvery > 0 && epoch%cfg.SimilarityEvery == 0 {
			score, err := EvaluateSimilarity(c.sim, c.data.Validation, cfg.BatchSize)
			if err != nil {
				evalFailures++
				c.warnEvaluation(&errdefs.EvaluationError{Epoch: epoch, Stage: "similarity", Err: err})
			} else {
				c.state.LastSimilarity = score
			}
			rec.Similarity = score
		}

		rec.Duration = time.Since(epochStart)
		rec.EvalFailures = evalFailures
		c.history = append(c.history, rec)

		c.logger.WithFields(logrus.Fields{
			"epoch":         epoch,
			"train_loss":    rec.Train.TotalLoss,
			"train_cls_acc": rec.Train.ClassAccuracy,
			"train_rel_acc": rec.Train.RelationAccuracy,
			"val_loss":      rec.Validation.TotalLoss,
			"similarity":    rec.Similarity,
			"lr":            rec.LearningRate,
			"duration":      rec.Duration,
		}).Info("epoch complete")

		if session != nil {
			session.PrintEpochSummary(rec)
		}
		if cfg.Reporter != nil {
			if err := cfg.Reporter.OnEpoch(rec); err != nil {
				c.logger.WithError(err).WithField("epoch", epoch).Warn("reporter failed")
			}
		}
	}

	c.state.Phase = PhaseDone
	result := &Result{History: c.history}
	result.Train = c.finalEvaluation("train", c.data.Train)
	result.Validation = c.finalEvaluation("validation", c.data.Validation)
	result.Test = c.finalEvaluation("test", c.data.Test)
	result.State = c.state

	c.logger.WithFields(logrus.Fields{
		"epochs": cfg.Epochs,
		"steps":  c.state.Step,
	}).Info("training complete")
	return result, nil
}

// applySchedule sets the learning rate for epoch (1-based)
func (c *Controller) applySchedule(epoch int, baseLR float64) {
	sched := c.config.Scheduler
	if sched == nil {
		c.state.LearningRate = c.model.LearningRate()
		return
	}

	var lr float64
	if plateau, ok := sched.(PlateauScheduler); ok {
		lr = c.model.LearningRate()
		if n := len(c.history); n > 0 {
			prev := c.history[n-1]
			metric := prev.Train.TotalLoss
			if prev.Validation.Pairs > 0 {
				metric = prev.Validation.TotalLoss
			}
			lr = plateau.Observe(metric, lr)
		}
	} else {
		lr = sched.LearningRate(epoch-1, baseLR)
	}

	if lr != c.model.LearningRate() {
		c.logger.WithFields(logrus.Fields{
			"epoch":     epoch,
			"scheduler": sched.Name(),
			"lr":        lr,
		}).Debug("learning rate updated")
	}
	c.model.SetLearningRate(lr)
	c.state.LearningRate = lr
}

// validateBatch scores the next validation batch, wrapping around at the
// end of the split
func (c *Controller) validateBatch(loader *DataLoader, acc *metricsAccumulator) error {
	batch := loader.Next()
	if batch == nil {
		loader.Reset()
		batch = loader.Next()
	}
	if batch == nil {
		return fmt.Errorf("validation split is empty")
	}

	pred, err := c.model.PredictBatch(batch)
	if err != nil {
		return err
	}
	return acc.add(batch, pred)
}

func (c *Controller) finalEvaluation(stage string, ds *PairDataset) *Evaluation {
	if ds == nil || ds.Len() == 0 {
		return nil
	}
	eval, err := Evaluate(c.model, ds, c.config.BatchSize)
	if err != nil {
		c.warnEvaluation(&errdefs.EvaluationError{Epoch: c.state.Epoch, Stage: "final " + stage, Err: err})
		return nil
	}
	return eval
}

func (c *Controller) warnEvaluation(err *errdefs.EvaluationError) {
	c.logger.WithError(err).WithFields(logrus.Fields{
		"epoch": err.Epoch,
		"stage": err.Stage,
	}).Warn("evaluation failed, continuing")
}
