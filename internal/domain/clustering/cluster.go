package clustering

import (
	"fmt"
	"sort"
	"time"
)

// DefaultThreshold is the minimum cosine similarity for joining a cluster.
const DefaultThreshold = 0.8

// Item is a clusterable question.
type Item struct {
	ID         int64
	Embedding  []float32
	Confidence float64
	CreatedAt  time.Time
}

// Member is an item inside a cluster together with the similarity it had
// to the cluster centroid when it joined. Founders have similarity 1.
type Member struct {
	Item
	Similarity float64
}

// Seed is a cluster that already exists before the run, keyed by the id of
// the record it came from.
type Seed struct {
	Key     int64
	Members []Member
}

// Cluster is the transient result of one clustering run.
type Cluster struct {
	// SeedKeys lists the seeds folded into this cluster, lowest first.
	SeedKeys []int64
	Members  []Member
	Centroid []float32
}

// Items returns the member items in join order.
func (c Cluster) Items() []Item {
	out := make([]Item, len(c.Members))
	for i, m := range c.Members {
		out[i] = m.Item
	}
	return out
}

// IDs returns member ids in join order.
func (c Cluster) IDs() []int64 {
	out := make([]int64, len(c.Members))
	for i, m := range c.Members {
		out[i] = m.ID
	}
	return out
}

// Option configures a Clusterer.
type Option func(*Clusterer)

// WithIndex swaps the nearest-centroid backend. The factory is invoked once
// per run.
func WithIndex(factory func() Index) Option {
	return func(c *Clusterer) {
		if factory != nil {
			c.newIndex = factory
		}
	}
}

// WithSeedMerging folds seeds whose centroids meet the threshold into the
// earliest such seed.
func WithSeedMerging(enabled bool) Option {
	return func(c *Clusterer) {
		c.mergeSeeds = enabled
	}
}

// Clusterer runs greedy threshold clustering.
type Clusterer struct {
	threshold  float64
	newIndex   func() Index
	mergeSeeds bool
}

// NewClusterer builds a Clusterer. Thresholds outside (0, 1] fall back to
// DefaultThreshold.
func NewClusterer(threshold float64, opts ...Option) *Clusterer {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	c := &Clusterer{threshold: threshold, newIndex: NewLinearIndex}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Threshold reports the similarity threshold in use.
func (c *Clusterer) Threshold() float64 {
	return c.threshold
}

type workingCluster struct {
	seedKeys []int64
	members  []Member
	centroid []float32
}

func (w *workingCluster) recompute() error {
	vectors := make([][]float32, len(w.members))
	for i, m := range w.members {
		vectors[i] = m.Embedding
	}
	centroid, err := Centroid(vectors)
	if err != nil {
		return err
	}
	w.centroid = centroid
	return nil
}

// Cluster assigns items to seeds or new clusters. Seeds are placed first in
// ascending key order. Items are walked by confidence descending, then
// creation time, then id. Each item joins the cluster whose centroid is the
// most similar at or above the threshold, after which that centroid is
// recomputed from every member. Items without an embedding are skipped.
func (c *Clusterer) Cluster(seeds []Seed, items []Item) ([]Cluster, error) {
	index := c.newIndex()
	dims := 0
	checkDims := func(vec []float32, id int64) error {
		if dims == 0 {
			dims = len(vec)
			return nil
		}
		if len(vec) != dims {
			return fmt.Errorf("%w: question %d has %d values, expected %d", ErrDimensionMismatch, id, len(vec), dims)
		}
		return nil
	}

	ordered := make([]Seed, len(seeds))
	copy(ordered, seeds)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Key < ordered[j].Key })

	var clusters []*workingCluster
	for _, seed := range ordered {
		wc := &workingCluster{seedKeys: []int64{seed.Key}}
		for _, m := range seed.Members {
			if len(m.Embedding) == 0 {
				continue
			}
			if err := checkDims(m.Embedding, m.ID); err != nil {
				return nil, err
			}
			wc.members = append(wc.members, m)
		}
		if len(wc.members) == 0 {
			continue
		}
		if err := wc.recompute(); err != nil {
			return nil, err
		}
		if c.mergeSeeds {
			match, ok, err := index.Best(wc.centroid, c.threshold)
			if err != nil {
				return nil, err
			}
			if ok {
				target := clusters[match.Slot]
				target.seedKeys = append(target.seedKeys, wc.seedKeys...)
				target.members = append(target.members, wc.members...)
				if err := target.recompute(); err != nil {
					return nil, err
				}
				index.Update(match.Slot, target.centroid)
				continue
			}
		}
		index.Add(wc.centroid)
		clusters = append(clusters, wc)
	}

	for _, item := range sortItems(items) {
		if len(item.Embedding) == 0 {
			continue
		}
		if err := checkDims(item.Embedding, item.ID); err != nil {
			return nil, err
		}
		match, ok, err := index.Best(item.Embedding, c.threshold)
		if err != nil {
			return nil, err
		}
		if !ok {
			wc := &workingCluster{
				members:  []Member{{Item: item, Similarity: 1}},
				centroid: cloneVector(item.Embedding),
			}
			index.Add(wc.centroid)
			clusters = append(clusters, wc)
			continue
		}
		target := clusters[match.Slot]
		target.members = append(target.members, Member{Item: item, Similarity: match.Similarity})
		if err := target.recompute(); err != nil {
			return nil, err
		}
		index.Update(match.Slot, target.centroid)
	}

	out := make([]Cluster, len(clusters))
	for i, wc := range clusters {
		out[i] = Cluster{SeedKeys: wc.seedKeys, Members: wc.members, Centroid: wc.centroid}
	}
	return out, nil
}

func sortItems(items []Item) []Item {
	ordered := make([]Item, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool { return ranksBefore(ordered[i], ordered[j]) })
	return ordered
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
