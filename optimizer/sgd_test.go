package optimizer

import (
	"math"
	"testing"
)

func newParam(name string, values, grads []float64) *Parameter {
	return &Parameter{
		Name:  name,
		Shape: []int{len(values)},
		Value: values,
		Grad:  grads,
	}
}

func assertClose(t *testing.T, name string, want, got []float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("%s: expected %d values, got %d", name, len(want), len(got))
	}
	for i := range want {
		if math.Abs(want[i]-got[i]) > 1e-12 {
			t.Errorf("%s[%d]: expected %.15f, got %.15f", name, i, want[i], got[i])
		}
	}
}

// TestDefaultSGDConfig tests the default SGD configuration
func TestDefaultSGDConfig(t *testing.T) {
	config := DefaultSGDConfig()

	if config.LearningRate != 0.01 {
		t.Errorf("Expected LearningRate 0.01, got %f", config.LearningRate)
	}
	if config.Momentum != 0 {
		t.Errorf("Expected Momentum 0, got %f", config.Momentum)
	}
	if config.WeightDecay != 0 {
		t.Errorf("Expected WeightDecay 0, got %f", config.WeightDecay)
	}
	if config.Nesterov {
		t.Errorf("Expected Nesterov false")
	}
}

func TestSGDConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config SGDConfig
	}{
		{"negative lr", SGDConfig{LearningRate: -1}},
		{"negative momentum", SGDConfig{LearningRate: 0.1, Momentum: -0.1}},
		{"momentum above one", SGDConfig{LearningRate: 0.1, Momentum: 1.5}},
		{"negative weight decay", SGDConfig{LearningRate: 0.1, WeightDecay: -1}},
		{"nesterov without momentum", SGDConfig{LearningRate: 0.1, Nesterov: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSGDOptimizer(tt.config); err == nil {
				t.Errorf("Expected error for %+v", tt.config)
			}
		})
	}
}

func TestSGDVanillaStep(t *testing.T) {
	sgd, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.1})
	if err != nil {
		t.Fatalf("Failed to create optimizer: %v", err)
	}

	p := newParam("w", []float64{1, 2, 3}, []float64{1, -1, 0.5})
	if err := sgd.Step([]*Parameter{p}); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	assertClose(t, "w", []float64{0.9, 2.1, 2.95}, p.Value)
	if sgd.GetStepCount() != 1 {
		t.Errorf("Expected step count 1, got %d", sgd.GetStepCount())
	}
	if sgd.MomentumBuffers != nil {
		t.Errorf("Vanilla SGD should not allocate momentum buffers")
	}
}

func TestSGDMomentumAndWeightDecay(t *testing.T) {
	sgd, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Momentum: 0.9, WeightDecay: 0.01})
	if err != nil {
		t.Fatalf("Failed to create optimizer: %v", err)
	}

	p := newParam("w", []float64{1}, []float64{1})

	// step 1: g = 1 + 0.01*1 = 1.01, buf = 1.01, w = 1 - 0.101
	if err := sgd.Step([]*Parameter{p}); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	assertClose(t, "step1", []float64{0.899}, p.Value)

	// step 2: g = 1 + 0.00899, buf = 0.9*1.01 + 1.00899, w -= 0.1*buf
	if err := sgd.Step([]*Parameter{p}); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	buf := 0.9*1.01 + 1.00899
	assertClose(t, "step2", []float64{0.899 - 0.1*buf}, p.Value)
}

func TestSGDNesterov(t *testing.T) {
	sgd, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Momentum: 0.5, Nesterov: true})
	if err != nil {
		t.Fatalf("Failed to create optimizer: %v", err)
	}

	p := newParam("w", []float64{0}, []float64{2})
	if err := sgd.Step([]*Parameter{p}); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	// buf = 2, g = 2 + 0.5*2 = 3
	assertClose(t, "w", []float64{-0.3}, p.Value)
}

func TestSGDRejectsMismatchedParameters(t *testing.T) {
	sgd, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Momentum: 0.9})

	if err := sgd.Step(nil); err == nil {
		t.Errorf("Expected error for empty parameter list")
	}
	if err := sgd.Step([]*Parameter{newParam("bad", []float64{1, 2}, []float64{1})}); err == nil {
		t.Errorf("Expected error for gradient size mismatch")
	}

	if err := sgd.Step([]*Parameter{newParam("w", []float64{1}, []float64{1})}); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	// buffers are bound to the first parameter layout
	if err := sgd.Step([]*Parameter{newParam("w", []float64{1, 2}, []float64{1, 1})}); err == nil {
		t.Errorf("Expected error when parameter layout changes")
	}
}

func TestSGDStateRoundTrip(t *testing.T) {
	sgd, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.05, Momentum: 0.9})
	p := newParam("w", []float64{1, 1}, []float64{0.5, -0.5})
	for i := 0; i < 3; i++ {
		if err := sgd.Step([]*Parameter{p}); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
	}

	state, err := sgd.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.Type != "SGD" || len(state.StateData) != 1 {
		t.Fatalf("Unexpected state: %+v", state)
	}

	restored, _ := NewSGDOptimizer(DefaultSGDConfig())
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if restored.GetStepCount() != 3 || restored.GetLearningRate() != 0.05 || restored.Momentum != 0.9 {
		t.Errorf("Hyperparameters not restored: %+v", restored)
	}

	// both continue identically
	a := newParam("w", append([]float64(nil), p.Value...), []float64{0.5, -0.5})
	b := newParam("w", append([]float64(nil), p.Value...), []float64{0.5, -0.5})
	_ = sgd.Step([]*Parameter{a})
	_ = restored.Step([]*Parameter{b})
	assertClose(t, "continued", a.Value, b.Value)

	adamState := &OptimizerState{Type: "Adam"}
	if err := restored.LoadState(adamState); err == nil {
		t.Errorf("Expected type mismatch error")
	}
}

func TestNewByName(t *testing.T) {
	for _, name := range []string{"sgd", "Adam", "RMSPROP"} {
		opt, err := New(name, 0.2)
		if err != nil {
			t.Fatalf("New(%q) failed: %v", name, err)
		}
		if opt.GetLearningRate() != 0.2 {
			t.Errorf("New(%q): expected lr 0.2, got %f", name, opt.GetLearningRate())
		}
		opt.UpdateLearningRate(0.1)
		if opt.GetLearningRate() != 0.1 {
			t.Errorf("New(%q): UpdateLearningRate had no effect", name)
		}
	}
	if _, err := New("lbfgs", 0.1); err == nil {
		t.Errorf("Expected error for unknown optimizer")
	}
}
