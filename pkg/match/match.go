// Package match finds the nearest enrolled identity for a probe
// embedding. Matching uses Euclidean distance with a nearest-exemplar
// policy: an identity's distance is the minimum over all of its
// reference embeddings, which preserves intra-class variation from
// multiple enrollment angles.
package match

import (
	"math"

	"github.com/classtrack/classtrack/pkg/gallery"
)

// Result is the outcome of matching one probe against the gallery.
type Result struct {
	// IdentityID is the nearest identity, empty when the gallery is empty.
	IdentityID string
	// Distance is the probe's distance to the nearest exemplar.
	Distance float64
	// Confident is true when Distance is at or below the configured
	// threshold.
	Confident bool
}

// Matcher matches probe embeddings against the current gallery.
// Implementations must be deterministic for an unchanged gallery and
// must treat an empty gallery as a valid state that never matches.
type Matcher interface {
	Match(probe []float32) Result
}

// Source provides gallery snapshots to a matcher.
type Source interface {
	Snapshot() *gallery.Snapshot
}

// BruteMatcher scans every reference embedding of every identity.
// Linear in the total number of exemplars, which is fine at classroom
// scale.
type BruteMatcher struct {
	source    Source
	threshold float64
}

// NewBruteMatcher creates an exhaustive matcher. threshold is the
// maximum distance accepted as a confident match.
func NewBruteMatcher(source Source, threshold float64) *BruteMatcher {
	return &BruteMatcher{source: source, threshold: threshold}
}

// Match finds the identity with the globally minimal exemplar distance.
// Exact distance ties resolve to the lexicographically lowest identity
// ID, keeping results deterministic.
func (m *BruteMatcher) Match(probe []float32) Result {
	snap := m.source.Snapshot()

	best := Result{Distance: math.MaxFloat64}
	for _, ident := range snap.Identities {
		dist := identityDistance(probe, ident.Embeddings)
		if dist < best.Distance ||
			(dist == best.Distance && best.IdentityID != "" && ident.ID < best.IdentityID) {
			best.Distance = dist
			best.IdentityID = ident.ID
		}
	}

	if best.IdentityID == "" {
		return Result{Distance: math.MaxFloat64}
	}
	best.Confident = best.Distance <= m.threshold
	return best
}

// identityDistance is the nearest-exemplar distance for one identity.
func identityDistance(probe []float32, embeddings [][]float32) float64 {
	min := math.MaxFloat64
	for _, emb := range embeddings {
		if d := EuclideanDistance(probe, emb); d < min {
			min = d
		}
	}
	return min
}

// EuclideanDistance calculates the Euclidean distance between two
// embeddings. Mismatched lengths yield MaxFloat64 so a bad probe can
// never match.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.MaxFloat64
	}

	var sum float64
	for i := range a {
		diff := float64(a[i] - b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
