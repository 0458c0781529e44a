package clustering

import (
	"errors"
	"math/bits"
	"math/rand"
)

// Match is the best centroid found by an Index.
type Match struct {
	Slot       int
	Similarity float64
}

// Index finds the nearest cluster centroid for a vector. Slots are assigned
// in insertion order starting at zero. Implementations must prefer the lowest
// slot when similarities tie so clustering stays deterministic.
type Index interface {
	Add(centroid []float32) int
	Update(slot int, centroid []float32)
	Best(vector []float32, threshold float64) (Match, bool, error)
}

// LinearIndex compares against every centroid.
type LinearIndex struct {
	centroids [][]float32
}

// NewLinearIndex returns the exact scan index.
func NewLinearIndex() Index {
	return &LinearIndex{}
}

func (l *LinearIndex) Add(centroid []float32) int {
	l.centroids = append(l.centroids, centroid)
	return len(l.centroids) - 1
}

func (l *LinearIndex) Update(slot int, centroid []float32) {
	l.centroids[slot] = centroid
}

func (l *LinearIndex) Best(vector []float32, threshold float64) (Match, bool, error) {
	best := Match{Slot: -1}
	for slot, centroid := range l.centroids {
		sim, err := Cosine(vector, centroid)
		if err != nil {
			return Match{}, false, err
		}
		if sim >= threshold && (best.Slot < 0 || sim > best.Similarity) {
			best = Match{Slot: slot, Similarity: sim}
		}
	}
	return best, best.Slot >= 0, nil
}

const (
	defaultLSHPlanes = 64
	defaultLSHSeed   = 1337
)

// LSHIndex narrows candidates with random hyperplane signatures before
// running the exact cosine check. Centroids whose signature differs by more
// than maxHamming bits are never compared, so recall depends on the radius.
type LSHIndex struct {
	hasher     *planeHasher
	maxHamming int
	centroids  [][]float32
	signatures []uint64
}

// NewLSHIndex builds an index with the given plane count (at most 64) and
// Hamming radius.
func NewLSHIndex(planes int, seed int64, maxHamming int) *LSHIndex {
	if seed == 0 {
		seed = defaultLSHSeed
	}
	return &LSHIndex{hasher: newPlaneHasher(planes, seed), maxHamming: maxHamming}
}

func (l *LSHIndex) Add(centroid []float32) int {
	l.centroids = append(l.centroids, centroid)
	l.signatures = append(l.signatures, l.hasher.signature(centroid))
	return len(l.centroids) - 1
}

func (l *LSHIndex) Update(slot int, centroid []float32) {
	l.centroids[slot] = centroid
	l.signatures[slot] = l.hasher.signature(centroid)
}

func (l *LSHIndex) Best(vector []float32, threshold float64) (Match, bool, error) {
	sig := l.hasher.signature(vector)
	best := Match{Slot: -1}
	for slot, centroid := range l.centroids {
		if bits.OnesCount64(sig^l.signatures[slot]) > l.maxHamming {
			continue
		}
		sim, err := Cosine(vector, centroid)
		if err != nil {
			return Match{}, false, err
		}
		if sim >= threshold && (best.Slot < 0 || sim > best.Similarity) {
			best = Match{Slot: slot, Similarity: sim}
		}
	}
	return best, best.Slot >= 0, nil
}

// planeHasher projects vectors onto seeded random planes. Planes are drawn
// lazily once the dimension is known.
type planeHasher struct {
	count  int
	seed   int64
	dims   int
	planes [][]float32
}

func newPlaneHasher(count int, seed int64) *planeHasher {
	if count <= 0 || count > 64 {
		count = defaultLSHPlanes
	}
	return &planeHasher{count: count, seed: seed}
}

func (h *planeHasher) signature(vector []float32) uint64 {
	if len(vector) == 0 {
		return 0
	}
	if err := h.ensurePlanes(len(vector)); err != nil {
		return 0
	}
	var sig uint64
	for i, plane := range h.planes {
		if dot(vector, plane) >= 0 {
			sig |= 1 << (63 - i)
		}
	}
	return sig
}

func (h *planeHasher) ensurePlanes(dims int) error {
	if dims <= 0 {
		return errors.New("plane hasher requires positive dimension")
	}
	if h.dims == dims && len(h.planes) == h.count {
		return nil
	}
	rng := rand.New(rand.NewSource(h.seed))
	planes := make([][]float32, h.count)
	for i := range planes {
		plane := make([]float32, dims)
		for j := range plane {
			plane[j] = float32(rng.NormFloat64())
		}
		planes[i] = plane
	}
	h.planes = planes
	h.dims = dims
	return nil
}

func dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
