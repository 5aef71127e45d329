package optimizer

import (
	"fmt"
	"strings"
)

// Parameter is one learnable tensor. Value and Grad alias the owning layer's
// storage, so an optimizer step updates the model in place.
type Parameter struct {
	Name  string
	Shape []int
	Value []float64
	Grad  []float64
}

// Optimizer defines the common interface for all optimizers. State buffers
// are allocated on the first Step and matched to parameters by position.
type Optimizer interface {
	// Step applies one update using the gradients currently held in params
	Step(params []*Parameter) error

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from a checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float64)

	// GetLearningRate returns the current learning rate
	GetLearningRate() float64
}

// OptimizerState represents the complete state of an optimizer
type OptimizerState struct {
	Type       string                 `json:"type"`       // "Adam", "SGD", etc.
	Parameters map[string]interface{} `json:"parameters"` // Hyperparameters
	StateData  []StateTensor          `json:"state_data"`
}

// StateTensor is one per-parameter state buffer (momentum, variance, ...)
type StateTensor struct {
	Name      string    `json:"name"`
	Data      []float64 `json:"data"`
	StateType string    `json:"state_type"`
}

// New builds an optimizer by name with default hyperparameters and the given
// learning rate
func New(name string, lr float64) (Optimizer, error) {
	switch strings.ToLower(name) {
	case "sgd":
		config := DefaultSGDConfig()
		config.LearningRate = lr
		return NewSGDOptimizer(config)
	case "adam":
		config := DefaultAdamConfig()
		config.LearningRate = lr
		return NewAdamOptimizer(config)
	case "rmsprop":
		config := DefaultRMSPropConfig()
		config.LearningRate = lr
		return NewRMSPropOptimizer(config)
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("nil optimizer state")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

// checkParameters verifies every parameter has a gradient of matching size
func checkParameters(params []*Parameter) error {
	if len(params) == 0 {
		return fmt.Errorf("no parameters provided")
	}
	for i, p := range params {
		if p == nil {
			return fmt.Errorf("parameter %d is nil", i)
		}
		if len(p.Value) != len(p.Grad) {
			return fmt.Errorf("parameter %s: %d values but %d gradients", p.Name, len(p.Value), len(p.Grad))
		}
	}
	return nil
}
