package graph

import (
	"math"
	"sort"
)

// Neighbor is one weighted edge of the similarity graph
type Neighbor struct {
	Index    int
	Distance float64 // Euclidean distance in feature space
}

// Edge is an undirected edge with I < J
type Edge struct {
	I, J     int
	Distance float64
}

// SimilarityGraph is a k-nearest-neighbor graph over sample indices. Every
// neighbor list has exactly K entries, sorted by (distance, index), and never
// contains the sample itself. It is immutable after Build.
type SimilarityGraph struct {
	k         int
	neighbors [][]Neighbor
}

// Len returns the number of samples in the graph
func (g *SimilarityGraph) Len() int {
	return len(g.neighbors)
}

// K returns the effective neighbor count
func (g *SimilarityGraph) K() int {
	return g.k
}

// Neighbors returns the sorted neighbor list of sample i. The returned slice
// must not be modified.
func (g *SimilarityGraph) Neighbors(i int) []Neighbor {
	return g.neighbors[i]
}

// Within returns the prefix of i's neighbor list whose distance is <= d
func (g *SimilarityGraph) Within(i int, d float64) []Neighbor {
	list := g.neighbors[i]
	n := sort.Search(len(list), func(j int) bool { return list[j].Distance > d })
	return list[:n]
}

// IsNeighbor reports whether j is in i's neighbor list within distance d
func (g *SimilarityGraph) IsNeighbor(i, j int, d float64) bool {
	for _, nb := range g.Within(i, d) {
		if nb.Index == j {
			return true
		}
	}
	return false
}

// Edges returns the undirected edge set, deduplicated and ordered by (I, J)
func (g *SimilarityGraph) Edges() []Edge {
	seen := make(map[[2]int]struct{})
	var edges []Edge
	for i, list := range g.neighbors {
		for _, nb := range list {
			a, b := i, nb.Index
			if a > b {
				a, b = b, a
			}
			key := [2]int{a, b}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			edges = append(edges, Edge{I: a, J: b, Distance: nb.Distance})
		}
	}
	sort.Slice(edges, func(x, y int) bool {
		if edges[x].I != edges[y].I {
			return edges[x].I < edges[y].I
		}
		return edges[x].J < edges[y].J
	})
	return edges
}

// MeanDistance returns the mean edge weight, useful when choosing d
func (g *SimilarityGraph) MeanDistance() float64 {
	var sum float64
	var n int
	for _, list := range g.neighbors {
		for _, nb := range list {
			sum += nb.Distance
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// sortNeighbors orders by ascending distance, lower index first on ties
func sortNeighbors(list []Neighbor) {
	sort.Slice(list, func(a, b int) bool {
		if list[a].Distance != list[b].Distance {
			return list[a].Distance < list[b].Distance
		}
		return list[a].Index < list[b].Index
	})
}
