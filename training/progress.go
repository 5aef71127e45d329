package training

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tsawler/go-graphsemi/layers"
)

// ProgressBar renders a single-line training progress bar
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar writing to out
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		current:     0,
		startTime:   time.Now(),
		width:       40, // Character width of progress bar
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// UpdateMetrics updates metrics without advancing progress
func (pb *ProgressBar) UpdateMetrics(metrics map[string]float64) {
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render() {
	percentage := 1.0
	if pb.total > 0 {
		percentage = math.Min(float64(pb.current)/float64(pb.total), 1.0)
	}

	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64

	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			totalTime := time.Duration(float64(elapsed) / percentage)
			eta = totalTime - elapsed
		}
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d",
		pb.description,
		percentage*100,
		bar,
		pb.current,
		pb.total,
	)

	if pb.showETA && eta > 0 {
		line += fmt.Sprintf(" [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		line += fmt.Sprintf(" [%s<00:00", formatDuration(elapsed))
	}

	if pb.showRate && rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	// sorted so repeated renders keep a stable layout
	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := pb.metrics[key]
		if strings.Contains(key, "acc") {
			line += fmt.Sprintf(", %s=%.2f%%", key, value*100)
		} else {
			line += fmt.Sprintf(", %s=%.3f", key, value)
		}
	}

	line += "]"
	fmt.Fprint(pb.out, line)
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ModelArchitecturePrinter prints the layer stacks of a twin-tower model
type ModelArchitecturePrinter struct {
	modelName string
}

// NewModelArchitecturePrinter creates a new model architecture printer
func NewModelArchitecturePrinter(modelName string) *ModelArchitecturePrinter {
	return &ModelArchitecturePrinter{
		modelName: modelName,
	}
}

// PrintArchitecture writes every stack with its layers and a parameter
// summary
func (p *ModelArchitecturePrinter) PrintArchitecture(out io.Writer, spec *layers.TwinTowerSpec) {
	fmt.Fprintf(out, "Model Architecture:\n")
	fmt.Fprintf(out, "%s(\n", p.modelName)

	for _, group := range []struct {
		title  string
		stacks []*layers.ModelSpec
	}{
		{"shared encoder", spec.EncoderStacks()},
		{"training heads", spec.HeadStacks()},
	} {
		fmt.Fprintf(out, "  # %s\n", group.title)
		for _, stack := range group.stacks {
			fmt.Fprintf(out, "  (%s): Sequential(\n", stack.Name)
			for i, layer := range stack.Layers {
				fmt.Fprintf(out, "    %s\n", p.formatLayer(layer, i))
			}
			fmt.Fprintf(out, "  )\n")
		}
	}

	fmt.Fprintf(out, ")\n\n")

	total := spec.TotalParameters()
	fmt.Fprintf(out, "Total parameters: %s\n", formatParameterCount(total))
	fmt.Fprintf(out, "Trainable parameters: %s\n", formatParameterCount(total))
	fmt.Fprintf(out, "Params size (MB): %.3f\n\n", float64(total*8)/1024/1024) // 8 bytes per float64
}

func (p *ModelArchitecturePrinter) formatLayer(layer layers.LayerSpec, index int) string {
	switch layer.Type {
	case layers.Dense:
		return p.formatDense(layer)
	case layers.ReLU:
		return fmt.Sprintf("(%s): ReLU()", layer.Name)
	case layers.Softmax:
		return fmt.Sprintf("(%s): Softmax(dim=-1)", layer.Name)
	case layers.Sigmoid:
		return fmt.Sprintf("(%s): Sigmoid()", layer.Name)
	case layers.Dropout:
		return fmt.Sprintf("(%s): Dropout(p=%g)", layer.Name, layer.FloatParam("rate", 0))
	default:
		return fmt.Sprintf("(%s): %s()", layer.Name, layer.Type.String())
	}
}

// formatDense formats a Dense/Linear layer
func (p *ModelArchitecturePrinter) formatDense(layer layers.LayerSpec) string {
	return fmt.Sprintf("(%s): Linear(in_features=%d, out_features=%d, bias=%t)",
		layer.Name, layer.IntParam("input_size", 0), layer.IntParam("output_size", 0), layer.BoolParam("use_bias", true))
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}

// TrainingSession drives per-epoch progress output for the Controller
type TrainingSession struct {
	out           io.Writer
	epochs        int
	stepsPerEpoch int
	currentEpoch  int

	trainProgress *ProgressBar
}

// NewTrainingSession creates a new training session writing to out
func NewTrainingSession(out io.Writer, epochs, stepsPerEpoch int) *TrainingSession {
	return &TrainingSession{
		out:           out,
		epochs:        epochs,
		stepsPerEpoch: stepsPerEpoch,
	}
}

// StartEpoch begins a new epoch (1-based for display)
func (ts *TrainingSession) StartEpoch(epoch int) {
	ts.currentEpoch = epoch
	description := fmt.Sprintf("Epoch %d/%d", epoch, ts.epochs)
	ts.trainProgress = NewProgressBar(ts.out, description, ts.stepsPerEpoch)
}

// UpdateTrainingProgress updates training progress
func (ts *TrainingSession) UpdateTrainingProgress(step int, loss, classAccuracy, relationAccuracy float64) {
	ts.trainProgress.Update(step, map[string]float64{
		"loss":    loss,
		"cls_acc": classAccuracy,
		"rel_acc": relationAccuracy,
	})
}

// FinishTrainingEpoch completes the training phase of an epoch
func (ts *TrainingSession) FinishTrainingEpoch() {
	if ts.trainProgress != nil {
		ts.trainProgress.Finish()
	}
}

// PrintEpochSummary prints a summary of the completed epoch
func (ts *TrainingSession) PrintEpochSummary(rec EpochRecord) {
	fmt.Fprintf(ts.out, "Epoch %d/%d Summary:\n", rec.Epoch, ts.epochs)
	fmt.Fprintf(ts.out, "  Training   - Loss: %.4f, Class Acc: %.2f%%, Relation Acc: %.2f%%\n",
		rec.Train.TotalLoss, rec.Train.ClassAccuracy*100, rec.Train.RelationAccuracy*100)
	if rec.Validation.Pairs > 0 {
		fmt.Fprintf(ts.out, "  Validation - Loss: %.4f, Class Acc: %.2f%%, Relation Acc: %.2f%%\n",
			rec.Validation.TotalLoss, rec.Validation.ClassAccuracy*100, rec.Validation.RelationAccuracy*100)
	}
	if !math.IsNaN(rec.Similarity) {
		fmt.Fprintf(ts.out, "  Similarity - %.4f\n", rec.Similarity)
	}
	fmt.Fprintln(ts.out)
}
