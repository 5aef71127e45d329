package dataset

import (
	"encoding/csv"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-graphsemi/errdefs"
)

// LoadOptions controls how the expression and label tables are read
type LoadOptions struct {
	LabelColumn string // label column in the label table, "tissue" by default
	ShuffleSeed int64  // seed for the sample column shuffle
	Shuffle     bool
	Logger      logrus.FieldLogger
}

// Load reads both tables, shuffles samples, standardises features and aligns
// labels to the resulting sample order.
func Load(expPath, labelPath string, opts LoadOptions) (*FeatureMatrix, *LabelMap, error) {
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	raw, err := LoadExpressionFile(expPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.Shuffle {
		raw = raw.ShuffleSamples(opts.ShuffleSeed)
	}
	matrix := raw.Standardize()

	column := opts.LabelColumn
	if column == "" {
		column = "tissue"
	}
	f, err := os.Open(labelPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open label table")
	}
	defer f.Close()

	labels, err := ReadLabels(f, column, matrix.SampleIDs(), logger)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read label table %s", labelPath)
	}

	logger.WithFields(logrus.Fields{
		"component": "loader",
		"samples":   matrix.Rows(),
		"features":  matrix.Dims(),
		"classes":   len(labels.Classes()),
		"labeled":   labels.LabeledCount(),
	}).Info("loaded training data")
	if dist := labels.Distribution(); len(dist) > 0 {
		fields := make(logrus.Fields, len(dist))
		for label, n := range dist {
			fields[label] = n
		}
		logger.WithFields(fields).Debug("label distribution")
	}

	return matrix, labels, nil
}

// LoadExpressionFile reads a tab-separated table with features in rows and
// samples in columns.
func LoadExpressionFile(path string) (*FeatureMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open expression table")
	}
	defer f.Close()

	m, err := ReadExpression(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read expression table %s", path)
	}
	return m, nil
}

// ReadExpression parses a features x samples table. The header row holds the
// sample ids (its first cell is the feature id column name) and the first
// column of every following row holds the feature id.
func ReadExpression(r io.Reader) (*FeatureMatrix, error) {
	reader := newTSVReader(r)

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errdefs.InvalidInput("dataset.ReadExpression", "empty table")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	if len(header) < 2 {
		return nil, errdefs.InvalidInput("dataset.ReadExpression", "header has no sample columns")
	}
	sampleIDs := header[1:]

	var featureIDs []string
	var columns [][]float64 // per feature
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read line %d", line)
		}
		if len(record) != len(header) {
			return nil, errdefs.InvalidInput("dataset.ReadExpression",
				"line %d has %d fields, expected %d", line, len(record), len(header))
		}

		values := make([]float64, len(sampleIDs))
		for j, cell := range record[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, errdefs.InvalidInput("dataset.ReadExpression",
					"line %d column %q: %v", line, sampleIDs[j], err)
			}
			values[j] = v
		}
		featureIDs = append(featureIDs, record[0])
		columns = append(columns, values)
	}

	if len(featureIDs) == 0 {
		return nil, errdefs.InvalidInput("dataset.ReadExpression", "no feature rows")
	}

	// transpose to samples x features
	rows := make([][]float64, len(sampleIDs))
	for i := range rows {
		rows[i] = make([]float64, len(featureIDs))
		for j := range featureIDs {
			rows[i][j] = columns[j][i]
		}
	}

	return NewFeatureMatrix(rows, sampleIDs, featureIDs)
}

// ShuffleSamples returns a copy with the sample order permuted by seed
func (m *FeatureMatrix) ShuffleSamples(seed int64) *FeatureMatrix {
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(m.Rows())

	rows := make([][]float64, m.Rows())
	ids := make([]string, m.Rows())
	for i, src := range perm {
		rows[i] = append([]float64(nil), m.Row(src)...)
		ids[i] = m.sampleIDs[src]
	}

	// dimensions are unchanged, so construction cannot fail
	out, _ := NewFeatureMatrix(rows, ids, m.featureIDs)
	return out
}

// ReadLabels reads a sample -> label table and aligns it to sampleIDs.
// Missing values and samples absent from the table become Unlabeled.
func ReadLabels(r io.Reader, column string, sampleIDs []string, logger logrus.FieldLogger) (*LabelMap, error) {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	reader := newTSVReader(r)

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errdefs.InvalidInput("dataset.ReadLabels", "empty table")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	col := -1
	for i, name := range header {
		if strings.TrimSpace(name) == column {
			col = i
			break
		}
	}
	if col <= 0 {
		return nil, errdefs.InvalidInput("dataset.ReadLabels", "label column %q not found in header %v", column, header)
	}

	bySample := make(map[string]string)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read line %d", line)
		}
		if len(record) <= col {
			return nil, errdefs.InvalidInput("dataset.ReadLabels", "line %d has no %q field", line, column)
		}
		bySample[record[0]] = normalizeLabel(record[col])
	}

	labels := make([]string, len(sampleIDs))
	missing := 0
	for i, id := range sampleIDs {
		label, ok := bySample[id]
		if !ok {
			missing++
			label = Unlabeled
		}
		labels[i] = label
	}
	if missing > 0 {
		logger.WithFields(logrus.Fields{
			"component": "loader",
			"missing":   missing,
		}).Warn("samples without a label row are treated as unlabeled")
	}

	return NewLabelMap(labels), nil
}

func normalizeLabel(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "", "na", "nan", "null", "none":
		return Unlabeled
	}
	return v
}

func newTSVReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}
