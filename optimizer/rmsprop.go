package optimizer

import (
	"fmt"
	"math"
)

// RMSPropOptimizerState holds RMSProp hyperparameters and running averages
type RMSPropOptimizerState struct {
	// Hyperparameters
	LearningRate float64
	Alpha        float64 // Smoothing constant for the squared gradient average
	Epsilon      float64
	WeightDecay  float64
	Momentum     float64
	Centered     bool // Normalise by the estimated gradient variance

	SquaredGradAvgBuffers [][]float64
	MomentumBuffers       [][]float64 // only if momentum > 0
	GradientAvgBuffers    [][]float64 // only if centered

	StepCount uint64
}

// RMSPropConfig holds configuration for RMSProp optimizer
type RMSPropConfig struct {
	LearningRate float64
	Alpha        float64
	Epsilon      float64
	WeightDecay  float64
	Momentum     float64
	Centered     bool
}

// DefaultRMSPropConfig returns default RMSProp optimizer configuration
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.01,
		Alpha:        0.99,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		Momentum:     0.0,
		Centered:     false,
	}
}

// NewRMSPropOptimizer creates a new RMSProp optimizer
func NewRMSPropOptimizer(config RMSPropConfig) (*RMSPropOptimizerState, error) {
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Alpha < 0 || config.Alpha >= 1 {
		return nil, fmt.Errorf("alpha must be in [0,1): %f", config.Alpha)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}

	return &RMSPropOptimizerState{
		LearningRate: config.LearningRate,
		Alpha:        config.Alpha,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
		Momentum:     config.Momentum,
		Centered:     config.Centered,
	}, nil
}

// Step performs a single RMSProp optimization step
func (rms *RMSPropOptimizerState) Step(params []*Parameter) error {
	if err := checkParameters(params); err != nil {
		return err
	}
	if rms.SquaredGradAvgBuffers == nil {
		rms.SquaredGradAvgBuffers = allocateBuffers(params)
		if rms.Momentum > 0 {
			rms.MomentumBuffers = allocateBuffers(params)
		}
		if rms.Centered {
			rms.GradientAvgBuffers = allocateBuffers(params)
		}
	}
	if err := matchBuffers(rms.SquaredGradAvgBuffers, params, "squared_grad_avg"); err != nil {
		return err
	}
	if rms.Momentum > 0 {
		if err := matchBuffers(rms.MomentumBuffers, params, "momentum"); err != nil {
			return err
		}
	}
	if rms.Centered {
		if err := matchBuffers(rms.GradientAvgBuffers, params, "gradient_avg"); err != nil {
			return err
		}
	}

	for i, p := range params {
		sq := rms.SquaredGradAvgBuffers[i]
		for j, g := range p.Grad {
			if rms.WeightDecay > 0 {
				g += rms.WeightDecay * p.Value[j]
			}
			sq[j] = rms.Alpha*sq[j] + (1-rms.Alpha)*g*g

			avg := sq[j]
			if rms.Centered {
				ga := rms.GradientAvgBuffers[i]
				ga[j] = rms.Alpha*ga[j] + (1-rms.Alpha)*g
				avg -= ga[j] * ga[j]
			}
			denom := math.Sqrt(math.Max(avg, 0)) + rms.Epsilon

			if rms.Momentum > 0 {
				buf := rms.MomentumBuffers[i]
				buf[j] = rms.Momentum*buf[j] + g/denom
				p.Value[j] -= rms.LearningRate * buf[j]
			} else {
				p.Value[j] -= rms.LearningRate * g / denom
			}
		}
	}

	rms.StepCount++
	return nil
}

// GetState extracts optimizer state for checkpointing
func (rms *RMSPropOptimizerState) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "RMSProp",
		Parameters: map[string]interface{}{
			"learning_rate": rms.LearningRate,
			"alpha":         rms.Alpha,
			"epsilon":       rms.Epsilon,
			"weight_decay":  rms.WeightDecay,
			"momentum":      rms.Momentum,
			"centered":      rms.Centered,
			"step_count":    float64(rms.StepCount),
		},
	}
	state.StateData = append(state.StateData, extractBufferState(rms.SquaredGradAvgBuffers, "squared_grad_avg")...)
	state.StateData = append(state.StateData, extractBufferState(rms.MomentumBuffers, "momentum")...)
	state.StateData = append(state.StateData, extractBufferState(rms.GradientAvgBuffers, "gradient_avg")...)
	return state, nil
}

// LoadState restores optimizer state from checkpoint
func (rms *RMSPropOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("RMSProp", state); err != nil {
		return err
	}

	squared, err := restoreBufferState(state.StateData, "squared_grad_avg")
	if err != nil {
		return err
	}
	momentum, err := restoreBufferState(state.StateData, "momentum")
	if err != nil {
		return err
	}
	gradAvg, err := restoreBufferState(state.StateData, "gradient_avg")
	if err != nil {
		return err
	}

	rms.LearningRate = extractFloatParam(state.Parameters, "learning_rate", rms.LearningRate)
	rms.Alpha = extractFloatParam(state.Parameters, "alpha", rms.Alpha)
	rms.Epsilon = extractFloatParam(state.Parameters, "epsilon", rms.Epsilon)
	rms.WeightDecay = extractFloatParam(state.Parameters, "weight_decay", rms.WeightDecay)
	rms.Momentum = extractFloatParam(state.Parameters, "momentum", rms.Momentum)
	rms.Centered = extractBoolParam(state.Parameters, "centered", rms.Centered)
	rms.StepCount = extractUint64Param(state.Parameters, "step_count", 0)
	rms.SquaredGradAvgBuffers = squared
	rms.MomentumBuffers = momentum
	rms.GradientAvgBuffers = gradAvg

	return nil
}

// GetStepCount returns the current optimization step number
func (rms *RMSPropOptimizerState) GetStepCount() uint64 {
	return rms.StepCount
}

// UpdateLearningRate updates the learning rate
func (rms *RMSPropOptimizerState) UpdateLearningRate(lr float64) {
	rms.LearningRate = lr
}

// GetLearningRate returns the current learning rate
func (rms *RMSPropOptimizerState) GetLearningRate() float64 {
	return rms.LearningRate
}
