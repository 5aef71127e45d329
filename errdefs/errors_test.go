package errdefs

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestPredicatesSurviveWrapping(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"invalid input", InvalidInput("graph.Build", "need %d samples", 2), IsInvalidInput},
		{"sampling exhausted", &SamplingExhaustedError{Anchor: 3, Label: "A"}, IsSamplingExhausted},
		{"training step", &TrainingStepError{Epoch: 1, Batch: 2, Err: base}, IsTrainingStep},
		{"evaluation", &EvaluationError{Epoch: 1, Stage: "similarity", Err: base}, IsEvaluation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(errors.Wrap(tt.err, "outer")))
			assert.True(t, tt.check(fmt.Errorf("fmt outer: %w", tt.err)))
			assert.False(t, tt.check(base))
		})
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	base := errors.New("nan loss")
	err := &TrainingStepError{Epoch: 4, Batch: 7, Err: base}

	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "epoch 4 batch 7")
}

func TestSamplingExhaustedMessage(t *testing.T) {
	err := &SamplingExhaustedError{Anchor: 9, Label: "liver", Relation: 0, Attempts: 100, Reason: "empty complement"}
	assert.Equal(t, `sampling exhausted for anchor 9 (label "liver", negative draw) after 100 attempts: empty complement`, err.Error())
}
