package optimizer

import (
	"fmt"
	"math"
)

// AdamOptimizerState holds Adam hyperparameters and moment estimates
type AdamOptimizerState struct {
	// Hyperparameters
	LearningRate float64
	Beta1        float64 // Momentum decay (typically 0.9)
	Beta2        float64 // Variance decay (typically 0.999)
	Epsilon      float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float64 // L2 regularization coefficient

	MomentumBuffers [][]float64 // First moment for each parameter
	VarianceBuffers [][]float64 // Second moment for each parameter

	// Step tracking for bias correction
	StepCount uint64
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates a new Adam optimizer
func NewAdamOptimizer(config AdamConfig) (*AdamOptimizerState, error) {
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0,1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0,1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	return &AdamOptimizerState{
		LearningRate: config.LearningRate,
		Beta1:        config.Beta1,
		Beta2:        config.Beta2,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
	}, nil
}

// Step performs a single Adam optimization step
func (adam *AdamOptimizerState) Step(params []*Parameter) error {
	if err := checkParameters(params); err != nil {
		return err
	}
	if adam.MomentumBuffers == nil {
		adam.MomentumBuffers = allocateBuffers(params)
		adam.VarianceBuffers = allocateBuffers(params)
	}
	if err := matchBuffers(adam.MomentumBuffers, params, "momentum"); err != nil {
		return err
	}
	if err := matchBuffers(adam.VarianceBuffers, params, "variance"); err != nil {
		return err
	}

	adam.StepCount++
	t := float64(adam.StepCount)
	correction1 := 1 - math.Pow(adam.Beta1, t)
	correction2 := 1 - math.Pow(adam.Beta2, t)

	for i, p := range params {
		m, v := adam.MomentumBuffers[i], adam.VarianceBuffers[i]
		for j, g := range p.Grad {
			if adam.WeightDecay > 0 {
				g += adam.WeightDecay * p.Value[j]
			}
			m[j] = adam.Beta1*m[j] + (1-adam.Beta1)*g
			v[j] = adam.Beta2*v[j] + (1-adam.Beta2)*g*g

			mHat := m[j] / correction1
			vHat := v[j] / correction2
			p.Value[j] -= adam.LearningRate * mHat / (math.Sqrt(vHat) + adam.Epsilon)
		}
	}

	return nil
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizerState) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.LearningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    float64(adam.StepCount),
		},
	}
	state.StateData = append(state.StateData, extractBufferState(adam.MomentumBuffers, "momentum")...)
	state.StateData = append(state.StateData, extractBufferState(adam.VarianceBuffers, "variance")...)
	return state, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *AdamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	momentum, err := restoreBufferState(state.StateData, "momentum")
	if err != nil {
		return err
	}
	variance, err := restoreBufferState(state.StateData, "variance")
	if err != nil {
		return err
	}
	if len(momentum) != len(variance) {
		return fmt.Errorf("adam state has %d momentum and %d variance buffers", len(momentum), len(variance))
	}

	adam.LearningRate = extractFloatParam(state.Parameters, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloatParam(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloatParam(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloatParam(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloatParam(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", 0)
	adam.MomentumBuffers = momentum
	adam.VarianceBuffers = variance

	return nil
}

// GetStepCount returns the current optimization step number
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// UpdateLearningRate updates the learning rate
func (adam *AdamOptimizerState) UpdateLearningRate(lr float64) {
	adam.LearningRate = lr
}

// GetLearningRate returns the current learning rate
func (adam *AdamOptimizerState) GetLearningRate() float64 {
	return adam.LearningRate
}
