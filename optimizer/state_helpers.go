package optimizer

import (
	"fmt"
)

// Common helper functions for optimizer state management

// allocateBuffers returns zeroed buffers shaped like params
func allocateBuffers(params []*Parameter) [][]float64 {
	buffers := make([][]float64, len(params))
	for i, p := range params {
		buffers[i] = make([]float64, len(p.Value))
	}
	return buffers
}

// matchBuffers checks that previously allocated buffers still fit params
func matchBuffers(buffers [][]float64, params []*Parameter, name string) error {
	if len(buffers) != len(params) {
		return fmt.Errorf("%s buffers track %d parameters, got %d", name, len(buffers), len(params))
	}
	for i, p := range params {
		if len(buffers[i]) != len(p.Value) {
			return fmt.Errorf("%s buffer %d holds %d values, parameter %s has %d",
				name, i, len(buffers[i]), p.Name, len(p.Value))
		}
	}
	return nil
}

// extractBufferState copies buffers into named state tensors
func extractBufferState(buffers [][]float64, stateType string) []StateTensor {
	out := make([]StateTensor, 0, len(buffers))
	for i, buf := range buffers {
		out = append(out, StateTensor{
			Name:      fmt.Sprintf("%s_%d", stateType, i),
			Data:      append([]float64(nil), buf...),
			StateType: stateType,
		})
	}
	return out
}

// restoreBufferState rebuilds the buffers of one state type, ordered by the
// index suffix of their names
func restoreBufferState(tensors []StateTensor, stateType string) ([][]float64, error) {
	var count int
	for _, t := range tensors {
		if t.StateType == stateType {
			count++
		}
	}
	if count == 0 {
		return nil, nil
	}

	buffers := make([][]float64, count)
	for _, t := range tensors {
		if t.StateType != stateType {
			continue
		}
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= count {
			return nil, fmt.Errorf("bad %s state tensor name %q", stateType, t.Name)
		}
		if buffers[idx] != nil {
			return nil, fmt.Errorf("duplicate %s state tensor %q", stateType, t.Name)
		}
		buffers[idx] = append([]float64(nil), t.Data...)
	}
	return buffers, nil
}

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0", "variance_1", "squared_grad_avg_0"
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}

	if lastUnderscoreIdx == -1 {
		return -1
	}

	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// extractFloatParam safely extracts a float parameter from the state map
func extractFloatParam(params map[string]interface{}, key string, defaultValue float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map.
// JSON decoding turns every number into float64.
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	switch v := params[key].(type) {
	case float64:
		return uint64(v)
	case uint64:
		return v
	case int:
		return uint64(v)
	}
	return defaultValue
}
