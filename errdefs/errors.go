package errdefs

import (
	"errors"
	"fmt"
)

// InvalidInputError reports malformed or insufficient input to graph
// construction, splitting or loading. It is never retryable.
type InvalidInputError struct {
	Op     string // operation that rejected the input, e.g. "graph.Build"
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s: invalid input: %s", e.Op, e.Reason)
}

// InvalidInput builds an InvalidInputError with a formatted reason
func InvalidInput(op, format string, args ...interface{}) error {
	return &InvalidInputError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// SamplingExhaustedError is returned when the sampler could not find a valid
// partner for an anchor within its retry budget.
type SamplingExhaustedError struct {
	Anchor   int
	Label    string
	Relation uint8
	Attempts int
	Reason   string
}

func (e *SamplingExhaustedError) Error() string {
	kind := "negative"
	if e.Relation == 1 {
		kind = "positive"
	}
	return fmt.Sprintf("sampling exhausted for anchor %d (label %q, %s draw) after %d attempts: %s",
		e.Anchor, e.Label, kind, e.Attempts, e.Reason)
}

// TrainingStepError wraps a failure inside a mandatory optimisation step.
// A run that sees one of these is aborted.
type TrainingStepError struct {
	Epoch int
	Batch int
	Err   error
}

func (e *TrainingStepError) Error() string {
	return fmt.Sprintf("training step failed at epoch %d batch %d: %v", e.Epoch, e.Batch, e.Err)
}

func (e *TrainingStepError) Unwrap() error { return e.Err }

// EvaluationError wraps a failure in best-effort monitoring. Callers log it
// and carry on.
type EvaluationError struct {
	Epoch int
	Stage string // "validation", "similarity", "final"
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("%s evaluation failed at epoch %d: %v", e.Stage, e.Epoch, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

func IsInvalidInput(err error) bool {
	var target *InvalidInputError
	return errors.As(err, &target)
}

func IsSamplingExhausted(err error) bool {
	var target *SamplingExhaustedError
	return errors.As(err, &target)
}

func IsTrainingStep(err error) bool {
	var target *TrainingStepError
	return errors.As(err, &target)
}

func IsEvaluation(err error) bool {
	var target *EvaluationError
	return errors.As(err, &target)
}
