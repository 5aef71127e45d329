package training

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-graphsemi/layers"
)

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar(&buf, "Testing", 4)

	for i := 1; i <= 4; i++ {
		pb.Update(i, map[string]float64{
			"loss":    1.0 - float64(i)*0.1,
			"cls_acc": float64(i) * 0.2,
		})
	}
	pb.Finish()

	out := buf.String()
	assert.Contains(t, out, "Testing: 100%")
	assert.Contains(t, out, "4/4")
	assert.Contains(t, out, "cls_acc=80.00%")
	assert.Contains(t, out, "loss=0.600")
	assert.True(t, strings.HasSuffix(out, "]\n"))

	// metrics render in key order
	last := out[strings.LastIndex(out, "\r"):]
	assert.Less(t, strings.Index(last, "cls_acc"), strings.Index(last, "loss"))
}

func TestProgressBarZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	NewProgressBar(&buf, "Empty", 0).Finish()
	assert.Contains(t, buf.String(), "Empty: 100%")
}

func TestModelArchitecturePrinting(t *testing.T) {
	spec, err := layers.TwinTower(layers.DefaultArchitecture(), 20, 3)
	require.NoError(t, err)

	var buf bytes.Buffer
	NewModelArchitecturePrinter("GraphSemi").PrintArchitecture(&buf, spec)
	out := buf.String()

	assert.Contains(t, out, "GraphSemi(")
	assert.Contains(t, out, "# shared encoder")
	assert.Contains(t, out, "# training heads")
	assert.Contains(t, out, "(anchor.hidden1): Linear(in_features=20, out_features=200, bias=true)")
	assert.Contains(t, out, "(output1.dropout): Dropout(p=0.25)")
	assert.Contains(t, out, "(output2.sigmoid): Sigmoid()")
	assert.Contains(t, out, "Total parameters: "+formatParameterCount(spec.TotalParameters()))
}

func TestFormatParameterCount(t *testing.T) {
	assert.Equal(t, "999", formatParameterCount(999))
	assert.Equal(t, "1.5K", formatParameterCount(1500))
	assert.Equal(t, "2.0M", formatParameterCount(2000000))
}

func TestTrainingSessionSummary(t *testing.T) {
	var buf bytes.Buffer
	ts := NewTrainingSession(&buf, 3, 2)
	ts.StartEpoch(1)
	ts.UpdateTrainingProgress(1, 0.8, 0.5, 0.75)
	ts.FinishTrainingEpoch()
	ts.PrintEpochSummary(EpochRecord{
		Epoch:      1,
		Train:      EpochMetrics{TotalLoss: 0.8, ClassAccuracy: 0.5, RelationAccuracy: 0.75, Pairs: 4},
		Similarity: math.NaN(),
	})

	out := buf.String()
	assert.Contains(t, out, "Epoch 1/3")
	assert.Contains(t, out, "Training   - Loss: 0.8000, Class Acc: 50.00%, Relation Acc: 75.00%")
	assert.NotContains(t, out, "Validation -")
	assert.NotContains(t, out, "Similarity -")
}
