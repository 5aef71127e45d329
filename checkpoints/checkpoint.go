// Package checkpoints saves and restores trained dual-objective models
// together with their label set, optimizer state and training progress.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tsawler/go-graphsemi/dataset"
	"github.com/tsawler/go-graphsemi/layers"
	"github.com/tsawler/go-graphsemi/model"
	"github.com/tsawler/go-graphsemi/optimizer"
	"github.com/tsawler/go-graphsemi/training"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	frameworkName    = "go-graphsemi"
	frameworkVersion = "1.0.0"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatProto
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// ParseFormat maps a configuration value to a CheckpointFormat
func ParseFormat(name string) (CheckpointFormat, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return FormatJSON, nil
	case "proto", "protobuf", "pb":
		return FormatProto, nil
	default:
		return FormatJSON, fmt.Errorf("unknown checkpoint format %q", name)
	}
}

// Checkpoint is a complete model state: architecture, weights, label set,
// optimizer buffers and training progress
type Checkpoint struct {
	Architecture layers.Architecture  `json:"architecture"`
	InputDim     int                  `json:"input_dim"`
	Classes      []string             `json:"classes"`
	LossWeights  training.LossWeights `json:"loss_weights"`
	Weights      []WeightTensor       `json:"weights"`

	TrainingState  TrainingState             `json:"training_state"`
	OptimizerState *optimizer.OptimizerState `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor is one model parameter with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight" or "bias"
}

// TrainingState captures training progress at save time
type TrainingState struct {
	Epoch        int      `json:"epoch"`
	Step         int      `json:"step"`
	LearningRate float64  `json:"learning_rate"`
	MeanLoss     float64  `json:"mean_loss"`
	Similarity   *float64 `json:"similarity,omitempty"` // absent until evaluated
	Seed         int64    `json:"seed"`
}

// CheckpointMetadata identifies a checkpoint
type CheckpointMetadata struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// FromModel snapshots m. classes must be the binarizer classes the model
// was built for and seed the seed passed to model.New.
func FromModel(m *model.TrainingModel, classes []string, state training.TrainingState, seed int64) (*Checkpoint, error) {
	if m == nil {
		return nil, fmt.Errorf("nil model")
	}
	spec := m.Spec()
	if len(classes) != spec.NumClasses {
		return nil, fmt.Errorf("model has %d classes, got %d class names", spec.NumClasses, len(classes))
	}

	optState, err := m.Optimizer().GetState()
	if err != nil {
		return nil, errors.Wrap(err, "optimizer state")
	}

	cp := &Checkpoint{
		Architecture:   spec.Architecture,
		InputDim:       spec.InputDim,
		Classes:        append([]string(nil), classes...),
		LossWeights:    m.LossWeights(),
		OptimizerState: optState,
		TrainingState: TrainingState{
			Epoch:        state.Epoch,
			Step:         state.Step,
			LearningRate: m.LearningRate(),
			Seed:         seed,
		},
		Metadata: newMetadata(),
	}
	if state.Step > 0 {
		cp.TrainingState.MeanLoss = state.CumulativeLoss.Total / float64(state.Step)
	}
	if !math.IsNaN(state.LastSimilarity) {
		sim := state.LastSimilarity
		cp.TrainingState.Similarity = &sim
	}

	for _, p := range m.Parameters() {
		layer, kind := p.Name, ""
		if i := strings.LastIndex(p.Name, "."); i >= 0 {
			layer, kind = p.Name[:i], p.Name[i+1:]
		}
		cp.Weights = append(cp.Weights, WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float64(nil), p.Value...),
			Layer: layer,
			Type:  kind,
		})
	}
	return cp, nil
}

// Restore rebuilds the model and label binarizer stored in cp. The
// optimizer resumes from the saved buffers and step count.
func Restore(cp *Checkpoint) (*model.TrainingModel, *dataset.LabelBinarizer, error) {
	if cp == nil {
		return nil, nil, fmt.Errorf("nil checkpoint")
	}
	if cp.OptimizerState == nil {
		return nil, nil, fmt.Errorf("checkpoint has no optimizer state")
	}

	binarizer, err := dataset.NewLabelBinarizer(cp.Classes)
	if err != nil {
		return nil, nil, errors.Wrap(err, "restore classes")
	}
	opt, err := optimizer.New(cp.OptimizerState.Type, cp.TrainingState.LearningRate)
	if err != nil {
		return nil, nil, errors.Wrap(err, "restore optimizer")
	}
	if err := opt.LoadState(cp.OptimizerState); err != nil {
		return nil, nil, errors.Wrap(err, "restore optimizer state")
	}

	m, err := model.New(cp.Architecture, cp.InputDim, binarizer.NumClasses(), opt, cp.LossWeights, cp.TrainingState.Seed)
	if err != nil {
		return nil, nil, errors.Wrap(err, "rebuild model")
	}
	values := make(map[string][]float64, len(cp.Weights))
	for _, w := range cp.Weights {
		if _, dup := values[w.Name]; dup {
			return nil, nil, fmt.Errorf("duplicate weight tensor %s", w.Name)
		}
		values[w.Name] = w.Data
	}
	if err := m.LoadParameters(values); err != nil {
		return nil, nil, errors.Wrap(err, "restore weights")
	}
	return m, binarizer, nil
}

func newMetadata() CheckpointMetadata {
	return CheckpointMetadata{
		ID:        uuid.NewString(),
		Version:   frameworkVersion,
		Framework: frameworkName,
		CreatedAt: time.Now().UTC(),
	}
}

// CheckpointSaver handles saving model checkpoints in one format
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// Format returns the saver's serialization format
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint writes checkpoint to path, creating parent directories
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint == nil {
		return fmt.Errorf("nil checkpoint")
	}
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata = newMetadata()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create checkpoint directory")
	}

	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(checkpoint, path)
	case FormatProto:
		return cs.saveProto(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	switch cs.format {
	case FormatJSON:
		return cs.loadJSON(path)
	case FormatProto:
		return cs.loadProto(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

func (cs *CheckpointSaver) saveJSON(checkpoint *Checkpoint, path string) error {
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal checkpoint")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write checkpoint")
	}
	return nil
}

func (cs *CheckpointSaver) loadJSON(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read checkpoint")
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, errors.Wrap(err, "unmarshal checkpoint")
	}
	return &checkpoint, nil
}

// saveProto stores the checkpoint as a binary google.protobuf.Struct
func (cs *CheckpointSaver) saveProto(checkpoint *Checkpoint, path string) error {
	raw, err := json.Marshal(checkpoint)
	if err != nil {
		return errors.Wrap(err, "marshal checkpoint")
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return errors.Wrap(err, "flatten checkpoint")
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return errors.Wrap(err, "build proto struct")
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal proto")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write checkpoint")
	}
	return nil
}

func (cs *CheckpointSaver) loadProto(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read checkpoint")
	}
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "unmarshal proto")
	}
	raw, err := json.Marshal(msg.AsMap())
	if err != nil {
		return nil, errors.Wrap(err, "re-encode checkpoint")
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(raw, &checkpoint); err != nil {
		return nil, errors.Wrap(err, "unmarshal checkpoint")
	}
	return &checkpoint, nil
}
