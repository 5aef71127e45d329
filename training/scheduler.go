package training

import (
	"fmt"
	"math"
	"strings"
)

// LRScheduler maps a 0-based epoch to a learning rate. The Controller asks
// once at the start of every epoch.
type LRScheduler interface {
	LearningRate(epoch int, baseLR float64) float64
	Name() string
}

// PlateauScheduler follows a monitored loss instead of the epoch counter.
// Observe receives the previous epoch's loss and returns the rate to use.
type PlateauScheduler interface {
	LRScheduler
	Observe(loss, currentLR float64) float64
}

// SchedulerOptions parameterise NewScheduler. Zero values take the named
// schedule's default.
type SchedulerOptions struct {
	Name     string  `yaml:"name"`
	StepSize int     `yaml:"step_size"`
	Gamma    float64 `yaml:"gamma"` // decay factor; the reduction factor for plateau
	TMax     int     `yaml:"t_max"`
	EtaMin   float64 `yaml:"eta_min"`
	Patience int     `yaml:"patience"`
}

func (o SchedulerOptions) withDefaults() SchedulerOptions {
	o.Name = strings.ToLower(o.Name)
	if o.StepSize <= 0 {
		o.StepSize = 30
	}
	if o.Gamma <= 0 || o.Gamma >= 1 {
		o.Gamma = 0.1
		if o.Name == "exponential" {
			o.Gamma = 0.95
		}
	}
	if o.TMax <= 0 {
		o.TMax = 100
	}
	if o.EtaMin < 0 {
		o.EtaMin = 0
	}
	if o.Patience <= 0 {
		o.Patience = 10
	}
	return o
}

// NewScheduler builds a schedule by name: constant, step, exponential,
// cosine or plateau
func NewScheduler(opts SchedulerOptions) (LRScheduler, error) {
	opts = opts.withDefaults()
	switch opts.Name {
	case "", "constant", "none":
		return constantSchedule{}, nil
	case "step":
		return stepSchedule{every: opts.StepSize, gamma: opts.Gamma}, nil
	case "exponential":
		return exponentialSchedule{gamma: opts.Gamma}, nil
	case "cosine":
		return cosineSchedule{period: opts.TMax, floor: opts.EtaMin}, nil
	case "plateau":
		return &plateauSchedule{factor: opts.Gamma, patience: opts.Patience}, nil
	default:
		return nil, fmt.Errorf("unknown scheduler %q", opts.Name)
	}
}

type constantSchedule struct{}

func (constantSchedule) LearningRate(_ int, baseLR float64) float64 { return baseLR }
func (constantSchedule) Name() string                               { return "constant" }

// stepSchedule multiplies the rate by gamma every `every` epochs
type stepSchedule struct {
	every int
	gamma float64
}

func (s stepSchedule) LearningRate(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.gamma, float64(epoch/s.every))
}

func (s stepSchedule) Name() string { return "step" }

type exponentialSchedule struct {
	gamma float64
}

func (s exponentialSchedule) LearningRate(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.gamma, float64(epoch))
}

func (s exponentialSchedule) Name() string { return "exponential" }

// cosineSchedule anneals from the base rate to floor over period epochs
// and stays at floor afterwards
type cosineSchedule struct {
	period int
	floor  float64
}

func (s cosineSchedule) LearningRate(epoch int, baseLR float64) float64 {
	if epoch >= s.period {
		return s.floor
	}
	progress := float64(epoch) / float64(s.period)
	return s.floor + (baseLR-s.floor)*(1+math.Cos(math.Pi*progress))/2
}

func (s cosineSchedule) Name() string { return "cosine" }

// plateauSchedule multiplies the rate by factor after patience consecutive
// epochs without a lower loss. A NaN loss never counts as an improvement,
// and the first finite loss after NaN always does.
type plateauSchedule struct {
	factor   float64
	patience int

	best    float64
	stalled int
	lr      float64
	started bool
}

func (s *plateauSchedule) Observe(loss, currentLR float64) float64 {
	if !s.started {
		s.best, s.lr, s.started = loss, currentLR, true
		return s.lr
	}

	if loss < s.best || (math.IsNaN(s.best) && !math.IsNaN(loss)) {
		s.best = loss
		s.stalled = 0
		return s.lr
	}

	s.stalled++
	if s.stalled >= s.patience {
		s.lr *= s.factor
		s.stalled = 0
	}
	return s.lr
}

// LearningRate returns the tracked rate once Observe has run
func (s *plateauSchedule) LearningRate(_ int, baseLR float64) float64 {
	if s.started {
		return s.lr
	}
	return baseLR
}

func (s *plateauSchedule) Name() string { return "plateau" }
