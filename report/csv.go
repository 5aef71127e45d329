package report

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/tsawler/go-graphsemi/training"
)

// EpochRow is the CSV form of a training.EpochRecord
type EpochRow struct {
	Epoch            int     `csv:"epoch"`
	Loss             float64 `csv:"loss"`
	ClassLoss        float64 `csv:"class_loss"`
	ClassAccuracy    float64 `csv:"class_acc"`
	RelationLoss     float64 `csv:"relation_loss"`
	RelationAccuracy float64 `csv:"relation_acc"`
	ValLoss          float64 `csv:"val_loss"`
	ValClassLoss     float64 `csv:"val_class_loss"`
	ValClassAccuracy float64 `csv:"val_class_acc"`
	ValRelationLoss  float64 `csv:"val_relation_loss"`
	ValRelationAcc   float64 `csv:"val_relation_acc"`
	ValPairs         int     `csv:"val_pairs"`
	Similarity       float64 `csv:"similarity"`
	LearningRate     float64 `csv:"learning_rate"`
	Seconds          float64 `csv:"seconds"`
	EvalFailures     int     `csv:"eval_failures"`
}

// NewEpochRow flattens rec
func NewEpochRow(rec training.EpochRecord) *EpochRow {
	return &EpochRow{
		Epoch:            rec.Epoch,
		Loss:             rec.Train.TotalLoss,
		ClassLoss:        rec.Train.ClassLoss,
		ClassAccuracy:    rec.Train.ClassAccuracy,
		RelationLoss:     rec.Train.RelationLoss,
		RelationAccuracy: rec.Train.RelationAccuracy,
		ValLoss:          rec.Validation.TotalLoss,
		ValClassLoss:     rec.Validation.ClassLoss,
		ValClassAccuracy: rec.Validation.ClassAccuracy,
		ValRelationLoss:  rec.Validation.RelationLoss,
		ValRelationAcc:   rec.Validation.RelationAccuracy,
		ValPairs:         rec.Validation.Pairs,
		Similarity:       rec.Similarity,
		LearningRate:     rec.LearningRate,
		Seconds:          rec.Duration.Seconds(),
		EvalFailures:     rec.EvalFailures,
	}
}

// CSVReporter rewrites a CSV history file after every epoch so the file is
// complete even if the run aborts
type CSVReporter struct {
	path string

	mu   sync.Mutex
	rows []*EpochRow
}

// NewCSVReporter writes to path, creating parent directories on first use
func NewCSVReporter(path string) *CSVReporter {
	return &CSVReporter{path: path}
}

// Rows returns the rows written so far
func (r *CSVReporter) Rows() []*EpochRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*EpochRow(nil), r.rows...)
}

func (r *CSVReporter) OnEpoch(rec training.EpochRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rows = append(r.rows, NewEpochRow(rec))
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return errors.Wrap(err, "create history directory")
	}
	f, err := os.Create(r.path)
	if err != nil {
		return errors.Wrap(err, "create history file")
	}
	if err := gocsv.MarshalFile(&r.rows, f); err != nil {
		f.Close()
		return errors.Wrap(err, "write history")
	}
	return f.Close()
}

// ReadHistory loads a file written by CSVReporter
func ReadHistory(path string) ([]*EpochRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open history file")
	}
	defer f.Close()

	var rows []*EpochRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, errors.Wrap(err, "parse history")
	}
	return rows, nil
}
