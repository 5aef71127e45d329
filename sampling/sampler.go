package sampling

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-graphsemi/dataset"
	"github.com/tsawler/go-graphsemi/errdefs"
	"github.com/tsawler/go-graphsemi/graph"
)

// ContextPair is one sampled training pair. Relation is 1 for a positive
// (graph-proximal or same-label) pairing and 0 for a negative one.
type ContextPair struct {
	Anchor   int
	Partner  int
	Relation uint8
}

// Route records how a partner was chosen
type Route int

const (
	SameLabel Route = iota
	NearNeighbor
	AnyNeighbor // no neighbor within d: unrestricted neighbor list
	OtherLabel
	Distal
)

func (r Route) String() string {
	switch r {
	case SameLabel:
		return "same_label"
	case NearNeighbor:
		return "near_neighbor"
	case AnyNeighbor:
		return "any_neighbor"
	case OtherLabel:
		return "other_label"
	case Distal:
		return "distal"
	default:
		return fmt.Sprintf("route(%d)", int(r))
	}
}

const (
	DefaultPositiveRatio = 0.5
	DefaultMaxRetries    = 100
)

// Config parameterises one sampling run
type Config struct {
	Count int // number of pairs to produce

	// R1 is the probability that a positive partner is chosen by label
	// rather than by graph proximity; R2 is the same for negatives.
	R1, R2 float64

	// Q caps the candidate pool per proximity draw to the Q nearest neighbors
	Q int
	// D is the distance threshold separating near from far
	D float64

	// PositiveRatio is the probability that a draw is positive
	PositiveRatio float64
	// MaxRetries bounds rejection sampling of distal partners
	MaxRetries int

	Seed int64
}

// DefaultConfig mirrors the reference run: 10000 pairs, r1=r2=0.5, q=100, d=10
func DefaultConfig() Config {
	return Config{
		Count:         10000,
		R1:            0.5,
		R2:            0.5,
		Q:             100,
		D:             10,
		PositiveRatio: DefaultPositiveRatio,
		MaxRetries:    DefaultMaxRetries,
		Seed:          123,
	}
}

// Validate rejects out-of-range parameters
func (c Config) Validate() error {
	switch {
	case c.Count < 1:
		return errdefs.InvalidInput("sampling", "count must be >= 1, got %d", c.Count)
	case !probability(c.R1):
		return errdefs.InvalidInput("sampling", "r1 must be in [0,1], got %g", c.R1)
	case !probability(c.R2):
		return errdefs.InvalidInput("sampling", "r2 must be in [0,1], got %g", c.R2)
	case !probability(c.PositiveRatio):
		return errdefs.InvalidInput("sampling", "positive ratio must be in [0,1], got %g", c.PositiveRatio)
	case c.Q < 1:
		return errdefs.InvalidInput("sampling", "q must be >= 1, got %d", c.Q)
	case !(c.D >= 0):
		return errdefs.InvalidInput("sampling", "d must be >= 0, got %g", c.D)
	case c.MaxRetries < 1:
		return errdefs.InvalidInput("sampling", "max retries must be >= 1, got %d", c.MaxRetries)
	}
	return nil
}

// probability is false for NaN
func probability(p float64) bool {
	return p >= 0 && p <= 1
}

// Stats counts how partners were chosen during a run
type Stats struct {
	Positives int
	Negatives int
	Routes    map[Route]int

	// fallbacks
	NoSameLabelPeer int // label-based positive fell back to proximity
	NoNearNeighbor  int // proximity positive fell back to the full neighbor list
	NoOtherLabel    int // label-based negative fell back to distal
	DistalFullScans int // rejection sampling gave up and scanned the complement
}

func newStats() *Stats {
	return &Stats{Routes: make(map[Route]int)}
}

// Sampler draws context pairs from a similarity graph and label map. The
// label groups are computed once and reused across Sample calls.
type Sampler struct {
	graph   *graph.SimilarityGraph
	labels  *dataset.LabelMap
	classes []string // known labels, sorted
	labeled int      // number of labeled samples
	logger  logrus.FieldLogger
}

// NewSampler validates that graph and labels describe the same samples
func NewSampler(g *graph.SimilarityGraph, labels *dataset.LabelMap, logger logrus.FieldLogger) (*Sampler, error) {
	if g == nil || labels == nil {
		return nil, errdefs.InvalidInput("sampling.NewSampler", "graph and labels are required")
	}
	if err := labels.Validate(g.Len()); err != nil {
		return nil, err
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	return &Sampler{
		graph:   g,
		labels:  labels,
		classes: labels.Classes(),
		labeled: labels.LabeledCount(),
		logger:  logger.WithField("component", "sampler"),
	}, nil
}

// Sample is a convenience wrapper around NewSampler and Sampler.Sample
func Sample(g *graph.SimilarityGraph, labels *dataset.LabelMap, cfg Config, logger logrus.FieldLogger) ([]ContextPair, *Stats, error) {
	s, err := NewSampler(g, labels, logger)
	if err != nil {
		return nil, nil, err
	}
	return s.Sample(cfg)
}

// Sample produces exactly cfg.Count pairs. For a fixed seed the output is
// identical across calls. Every pair has Anchor != Partner.
func (s *Sampler) Sample(cfg Config) ([]ContextPair, *Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	stats := newStats()
	pairs := make([]ContextPair, 0, cfg.Count)
	n := s.graph.Len()

	for draw := 0; draw < cfg.Count; draw++ {
		anchor := rng.Intn(n)
		positive := rng.Float64() < cfg.PositiveRatio

		var (
			partner int
			route   Route
			err     error
		)
		if positive {
			partner, route = s.positive(rng, cfg, anchor, stats)
			stats.Positives++
		} else {
			partner, route, err = s.negative(rng, cfg, anchor, stats)
			if err != nil {
				return nil, stats, err
			}
			stats.Negatives++
		}
		stats.Routes[route]++

		if partner == anchor {
			// every route excludes the anchor; reaching this is a bug
			return nil, stats, fmt.Errorf("sampler produced self pair for anchor %d via %s", anchor, route)
		}

		pair := ContextPair{Anchor: anchor, Partner: partner}
		if positive {
			pair.Relation = 1
		}
		pairs = append(pairs, pair)
	}

	s.logger.WithFields(logrus.Fields{
		"pairs":              len(pairs),
		"positives":          stats.Positives,
		"negatives":          stats.Negatives,
		"no_same_label_peer": stats.NoSameLabelPeer,
		"no_near_neighbor":   stats.NoNearNeighbor,
		"no_other_label":     stats.NoOtherLabel,
		"distal_full_scans":  stats.DistalFullScans,
	}).Info("sampled context pairs")

	return pairs, stats, nil
}

func (s *Sampler) positive(rng *rand.Rand, cfg Config, anchor int, stats *Stats) (int, Route) {
	if rng.Float64() < cfg.R1 {
		if partner, ok := s.sameLabelPeer(rng, anchor); ok {
			return partner, SameLabel
		}
		stats.NoSameLabelPeer++
		s.logger.WithFields(logrus.Fields{
			"anchor": anchor,
			"label":  s.labels.Label(anchor),
		}).Debug("no same-label peer, falling back to graph proximity")
	}
	return s.nearPeer(rng, cfg, anchor, stats)
}

func (s *Sampler) negative(rng *rand.Rand, cfg Config, anchor int, stats *Stats) (int, Route, error) {
	if rng.Float64() < cfg.R2 {
		if partner, ok := s.otherLabelPeer(rng, anchor); ok {
			return partner, OtherLabel, nil
		}
		stats.NoOtherLabel++
		s.logger.WithFields(logrus.Fields{
			"anchor": anchor,
			"label":  s.labels.Label(anchor),
		}).Debug("no differently labeled sample, falling back to distal selection")
	}
	partner, err := s.distalPeer(rng, cfg, anchor, stats)
	if err != nil {
		return 0, Distal, err
	}
	return partner, Distal, nil
}

// sameLabelPeer picks uniformly among the other members of anchor's label
func (s *Sampler) sameLabelPeer(rng *rand.Rand, anchor int) (int, bool) {
	if !s.labels.IsLabeled(anchor) {
		return 0, false
	}
	members := s.labels.Members(s.labels.Label(anchor))
	if len(members) < 2 {
		return 0, false
	}
	// choose among len-1 peers, skipping the anchor's own slot
	pick := rng.Intn(len(members) - 1)
	if pick >= indexOf(members, anchor) {
		pick++
	}
	return members[pick], true
}

// otherLabelPeer picks uniformly among samples with a known label that
// differs from the anchor's
func (s *Sampler) otherLabelPeer(rng *rand.Rand, anchor int) (int, bool) {
	if !s.labels.IsLabeled(anchor) {
		return 0, false
	}
	own := s.labels.Label(anchor)
	pool := s.labeled - len(s.labels.Members(own))
	if pool <= 0 {
		return 0, false
	}

	pick := rng.Intn(pool)
	for _, class := range s.classes {
		if class == own {
			continue
		}
		members := s.labels.Members(class)
		if pick < len(members) {
			return members[pick], true
		}
		pick -= len(members)
	}
	return 0, false
}

// nearPeer picks among the Q nearest neighbors within distance D, falling
// back to the whole neighbor list when none is that close
func (s *Sampler) nearPeer(rng *rand.Rand, cfg Config, anchor int, stats *Stats) (int, Route) {
	candidates := s.graph.Within(anchor, cfg.D)
	route := NearNeighbor
	if len(candidates) == 0 {
		candidates = s.graph.Neighbors(anchor)
		route = AnyNeighbor
		stats.NoNearNeighbor++
		s.logger.WithFields(logrus.Fields{
			"anchor": anchor,
			"d":      cfg.D,
		}).Debug("no neighbor within d, using the unrestricted neighbor list")
	}
	if len(candidates) > cfg.Q {
		candidates = candidates[:cfg.Q]
	}
	return candidates[rng.Intn(len(candidates))].Index, route
}

// distalPeer picks uniformly among samples that are neither the anchor nor
// one of its neighbors within distance D
func (s *Sampler) distalPeer(rng *rand.Rand, cfg Config, anchor int, stats *Stats) (int, error) {
	n := s.graph.Len()
	near := s.graph.Within(anchor, cfg.D)

	excluded := func(j int) bool {
		if j == anchor {
			return true
		}
		for _, nb := range near {
			if nb.Index == j {
				return true
			}
		}
		return false
	}

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if j := rng.Intn(n); !excluded(j) {
			return j, nil
		}
	}

	// rejection sampling kept hitting the neighborhood; scan the complement
	stats.DistalFullScans++
	complement := make([]int, 0, n-1-len(near))
	for j := 0; j < n; j++ {
		if !excluded(j) {
			complement = append(complement, j)
		}
	}
	if len(complement) == 0 {
		err := &errdefs.SamplingExhaustedError{
			Anchor:   anchor,
			Label:    s.labels.Label(anchor),
			Relation: 0,
			Attempts: cfg.MaxRetries,
			Reason:   fmt.Sprintf("every other sample lies within d=%g of the anchor", cfg.D),
		}
		s.logger.WithError(err).Error("cannot draw a negative partner")
		return 0, err
	}
	return complement[rng.Intn(len(complement))], nil
}

func indexOf(sorted []int, v int) int {
	lo, hi := 0, len(sorted)
	for lo < hi {
		mid := (lo + hi) / 2
		if sorted[mid] < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
