package sampling

import (
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-graphsemi/dataset"
	"github.com/tsawler/go-graphsemi/errdefs"
	"github.com/tsawler/go-graphsemi/graph"
)

func buildGraph(t *testing.T, rows [][]float64, k int) *graph.SimilarityGraph {
	t.Helper()
	m, err := dataset.NewFeatureMatrix(rows, nil, nil)
	require.NoError(t, err)
	g, err := graph.Build(m, k, graph.Options{})
	require.NoError(t, err)
	return g
}

// clusters returns n samples spread over three well separated 2-d blobs,
// labeled by blob with every fourth sample unlabeled
func clusters(t *testing.T, n int) (*graph.SimilarityGraph, *dataset.LabelMap) {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	names := []string{"A", "B", "C"}
	rows := make([][]float64, n)
	labels := make([]string, n)
	for i := range rows {
		c := i % 3
		rows[i] = []float64{float64(c*20) + rng.NormFloat64(), rng.NormFloat64()}
		labels[i] = names[c]
		if i%4 == 0 {
			labels[i] = dataset.Unlabeled
		}
	}
	return buildGraph(t, rows, 8), dataset.NewLabelMap(labels)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Count = 1000
	cfg.Q = 5
	cfg.D = 3
	return cfg
}

func TestSampleIsDeterministicPerSeed(t *testing.T) {
	g, labels := clusters(t, 90)
	cfg := testConfig()

	a, _, err := Sample(g, labels, cfg, nil)
	require.NoError(t, err)
	b, _, err := Sample(g, labels, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	cfg.Seed = 124
	c, _, err := Sample(g, labels, cfg, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestSampleNeverPairsAnchorWithItself(t *testing.T) {
	g, labels := clusters(t, 60)

	for _, r := range []float64{0, 0.5, 1} {
		cfg := testConfig()
		cfg.R1, cfg.R2 = r, r
		pairs, stats, err := Sample(g, labels, cfg, nil)
		require.NoError(t, err)
		require.Len(t, pairs, cfg.Count)
		assert.Equal(t, cfg.Count, stats.Positives+stats.Negatives)

		for _, p := range pairs {
			assert.NotEqual(t, p.Anchor, p.Partner)
			assert.True(t, p.Relation == 0 || p.Relation == 1)
			assert.True(t, p.Anchor >= 0 && p.Anchor < g.Len())
			assert.True(t, p.Partner >= 0 && p.Partner < g.Len())
		}
	}
}

func TestPositiveRatioConverges(t *testing.T) {
	g, labels := clusters(t, 60)

	for _, ratio := range []float64{0.5, 0.3, 0.8} {
		cfg := testConfig()
		cfg.Count = 20000
		cfg.PositiveRatio = ratio

		pairs, _, err := Sample(g, labels, cfg, nil)
		require.NoError(t, err)

		var positives int
		for _, p := range pairs {
			positives += int(p.Relation)
		}
		assert.InDelta(t, ratio, float64(positives)/float64(len(pairs)), 0.02, "ratio %g", ratio)
	}
}

func TestLabelRoutesRespectLabels(t *testing.T) {
	g, labels := clusters(t, 60)
	cfg := testConfig()
	cfg.R1, cfg.R2 = 1, 1

	pairs, stats, err := Sample(g, labels, cfg, nil)
	require.NoError(t, err)

	for _, p := range pairs {
		if !labels.IsLabeled(p.Anchor) {
			continue
		}
		if p.Relation == 1 {
			assert.Equal(t, labels.Label(p.Anchor), labels.Label(p.Partner))
		} else {
			assert.True(t, labels.IsLabeled(p.Partner))
			assert.NotEqual(t, labels.Label(p.Anchor), labels.Label(p.Partner))
		}
	}
	// unlabeled anchors had to fall back
	assert.Greater(t, stats.NoSameLabelPeer, 0)
	assert.Greater(t, stats.NoOtherLabel, 0)
}

func TestGraphRoutesRespectDistance(t *testing.T) {
	g, labels := clusters(t, 60)
	cfg := testConfig()
	cfg.R1, cfg.R2 = 0, 0

	pairs, stats, err := Sample(g, labels, cfg, nil)
	require.NoError(t, err)

	for _, p := range pairs {
		if p.Relation == 1 {
			near := g.Within(p.Anchor, cfg.D)
			if len(near) == 0 {
				near = g.Neighbors(p.Anchor)
			}
			if len(near) > cfg.Q {
				near = near[:cfg.Q]
			}
			found := false
			for _, nb := range near {
				found = found || nb.Index == p.Partner
			}
			assert.True(t, found, "positive %+v outside the anchor's neighborhood", p)
		} else {
			assert.False(t, g.IsNeighbor(p.Anchor, p.Partner, cfg.D), "negative %+v inside d", p)
		}
	}
	assert.Zero(t, stats.Routes[SameLabel])
	assert.Zero(t, stats.Routes[OtherLabel])
}

func TestSmallLabeledScenario(t *testing.T) {
	g := buildGraph(t, [][]float64{{0, 0}, {0, 1}, {10, 10}, {5, 5}}, 2)
	labels := dataset.NewLabelMap([]string{"A", "A", "B", dataset.Unlabeled})

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	cfg := Config{
		Count:         200,
		R1:            1,
		R2:            0.5,
		Q:             2,
		D:             100,
		PositiveRatio: 1,
		MaxRetries:    DefaultMaxRetries,
		Seed:          123,
	}
	pairs, stats, err := Sample(g, labels, cfg, logger)
	require.NoError(t, err)

	sawUnlabeled := false
	for _, p := range pairs {
		assert.Equal(t, uint8(1), p.Relation)
		switch labels.Label(p.Anchor) {
		case "A":
			assert.Equal(t, "A", labels.Label(p.Partner))
		case dataset.Unlabeled:
			sawUnlabeled = true
		}
	}
	require.True(t, sawUnlabeled)
	// B and the unlabeled sample both lack a same-label peer
	assert.Greater(t, stats.NoSameLabelPeer, 0)

	var fallbacks int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.DebugLevel && e.Message == "no same-label peer, falling back to graph proximity" {
			fallbacks++
		}
	}
	assert.Equal(t, stats.NoSameLabelPeer, fallbacks)
	assert.Equal(t, "sampled context pairs", hook.LastEntry().Message)
}

func TestSampleExhaustedWhenEverythingIsNear(t *testing.T) {
	g := buildGraph(t, [][]float64{{0}, {1}, {2}}, 2)
	labels := dataset.NewLabelMap([]string{"A", "A", "A"})

	cfg := Config{
		Count:         10,
		R1:            0,
		R2:            0,
		Q:             2,
		D:             5,
		PositiveRatio: 0,
		MaxRetries:    10,
		Seed:          1,
	}
	_, stats, err := Sample(g, labels, cfg, nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsSamplingExhausted(err), "got %v", err)
	assert.Equal(t, 1, stats.DistalFullScans)
}

func TestConfigValidate(t *testing.T) {
	g, labels := clusters(t, 12)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero count", func(c *Config) { c.Count = 0 }},
		{"r1 above one", func(c *Config) { c.R1 = 1.5 }},
		{"negative r2", func(c *Config) { c.R2 = -0.1 }},
		{"zero q", func(c *Config) { c.Q = 0 }},
		{"negative d", func(c *Config) { c.D = -1 }},
		{"nan ratio", func(c *Config) { c.PositiveRatio = math.NaN() }},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, _, err := Sample(g, labels, cfg, nil)
			require.Error(t, err)
			assert.True(t, errdefs.IsInvalidInput(err))
		})
	}
}

func TestNewSamplerRejectsMismatchedLabels(t *testing.T) {
	g, _ := clusters(t, 12)
	_, err := NewSampler(g, dataset.NewLabelMap([]string{"A"}), nil)
	assert.True(t, errdefs.IsInvalidInput(err))
}

func TestNilLoggerIsDiscarded(t *testing.T) {
	g, labels := clusters(t, 12)
	s, err := NewSampler(g, labels, nil)
	require.NoError(t, err)

	l, ok := s.logger.(*logrus.Logger)
	require.True(t, ok)
	assert.Equal(t, io.Discard, l.Out)
}
