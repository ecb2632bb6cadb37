package match

import (
	"math"
	"sync"

	"github.com/coder/hnsw"

	"github.com/classtrack/classtrack/pkg/logging"
)

// hnswMaxNeighbors is the M parameter of the HNSW graph.
const hnswMaxNeighbors = 16

// hnswSearchK is how many neighbors a lookup retrieves before the
// per-identity minimum is taken.
const hnswSearchK = 8

// HNSWMatcher is an approximate matcher backed by an HNSW graph over
// all reference embeddings. It trades the brute matcher's exactness for
// sublinear lookups; useful once the gallery outgrows a single
// classroom. The graph is rebuilt lazily whenever the gallery snapshot
// version changes.
type HNSWMatcher struct {
	source    Source
	threshold float64

	mu      sync.Mutex
	version uint64
	graph   *hnsw.Graph[int]
	ids     []string // exemplar node key -> identity ID
}

// NewHNSWMatcher creates an approximate matcher with the given
// confidence threshold.
func NewHNSWMatcher(source Source, threshold float64) *HNSWMatcher {
	return &HNSWMatcher{source: source, threshold: threshold}
}

// Match searches the index for the probe's nearest exemplars and
// returns the closest identity. Ties resolve to the lexicographically
// lowest identity ID among the retrieved neighbors.
func (m *HNSWMatcher) Match(probe []float32) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rebuildLocked()

	if m.graph == nil || len(m.ids) == 0 {
		return Result{Distance: math.MaxFloat64}
	}

	neighbors := m.graph.Search(probe, hnswSearchK)
	best := Result{Distance: math.MaxFloat64}
	for _, n := range neighbors {
		id := m.ids[n.Key]
		// Recompute the exact distance from the stored vector; the graph's
		// internal ordering is approximate.
		dist := EuclideanDistance(probe, n.Value)
		if dist < best.Distance || (dist == best.Distance && id < best.IdentityID) {
			best.Distance = dist
			best.IdentityID = id
		}
	}

	if best.IdentityID == "" {
		return Result{Distance: math.MaxFloat64}
	}
	best.Confident = best.Distance <= m.threshold
	return best
}

// rebuildLocked rebuilds the graph when the gallery has changed since
// the last build. Callers hold m.mu.
func (m *HNSWMatcher) rebuildLocked() {
	snap := m.source.Snapshot()
	if m.graph != nil && snap.Version == m.version {
		return
	}

	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance

	var ids []string
	for _, ident := range snap.Identities {
		for _, emb := range ident.Embeddings {
			g.Add(hnsw.MakeNode(len(ids), emb))
			ids = append(ids, ident.ID)
		}
	}

	m.graph = g
	m.ids = ids
	m.version = snap.Version

	logging.Component("match").Debugf("Rebuilt HNSW index: %d exemplars, gallery version %d",
		len(ids), snap.Version)
}
