// Package batching implements the partitioning strategies the ETL executor
// uses to split entity streams into bounded units of work, ported from
// ztoq's batch_strategies.py: size-bounded, time-bounded, adaptive,
// entity-type-grouped, and similarity-clustered packing, plus the
// optimal-batch-size and processing-time-estimate helpers.
package batching

import (
	"math"
	"sort"
)

// Strategy partitions a finite ordered sequence of items into a finite
// ordered list of non-empty batches. Implementations must never emit an
// empty batch.
type Strategy[T any] interface {
	Batches(items []T) [][]T
}

// SizeOf returns an item's declared size; used by SizeStrategy.
type SizeOf[T any] func(item T) int

// SizeStrategy packs items greedily so that no batch's total size exceeds
// MaxBatchSize, preserving input order. A single item whose own size
// exceeds MaxBatchSize becomes its own batch.
type SizeStrategy[T any] struct {
	MaxBatchSize int
	SizeOf       SizeOf[T] // if nil, every item has size 1
	OnOversize   func(item T, size int) // optional warning hook
}

func (s SizeStrategy[T]) Batches(items []T) [][]T {
	sizeOf := s.SizeOf
	if sizeOf == nil {
		sizeOf = func(T) int { return 1 }
	}
	var out [][]T
	var current []T
	currentTotal := 0
	for _, it := range items {
		sz := sizeOf(it)
		if sz > s.MaxBatchSize {
			if len(current) > 0 {
				out = append(out, current)
				current = nil
				currentTotal = 0
			}
			if s.OnOversize != nil {
				s.OnOversize(it, sz)
			}
			out = append(out, []T{it})
			continue
		}
		if len(current) > 0 && currentTotal+sz > s.MaxBatchSize {
			out = append(out, current)
			current = nil
			currentTotal = 0
		}
		current = append(current, it)
		currentTotal += sz
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

// TimeOf returns an item's estimated processing time in seconds; used by
// TimeStrategy.
type TimeOf[T any] func(item T) float64

// TimeStrategy packs items greedily so that no batch's total estimated
// time exceeds MaxBatchTime, preserving input order.
type TimeStrategy[T any] struct {
	MaxBatchTime float64
	TimeOf       TimeOf[T]
	OnOversize   func(item T, time float64)
}

func (s TimeStrategy[T]) Batches(items []T) [][]T {
	var out [][]T
	var current []T
	currentTotal := 0.0
	for _, it := range items {
		t := s.TimeOf(it)
		if t > s.MaxBatchTime {
			if len(current) > 0 {
				out = append(out, current)
				current = nil
				currentTotal = 0
			}
			if s.OnOversize != nil {
				s.OnOversize(it, t)
			}
			out = append(out, []T{it})
			continue
		}
		if len(current) > 0 && currentTotal+t > s.MaxBatchTime {
			out = append(out, current)
			current = nil
			currentTotal = 0
		}
		current = append(current, it)
		currentTotal += t
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

// TypeOf returns an item's grouping key; used by EntityTypeStrategy.
type TypeOf[T any] func(item T) string

// EntityTypeStrategy groups items by TypeOf and splits each group into
// batches of at most MaxBatchSize (0 means unbounded per group).
// Cross-batch order follows first occurrence of each type.
type EntityTypeStrategy[T any] struct {
	TypeOf       TypeOf[T]
	MaxBatchSize int
}

func (s EntityTypeStrategy[T]) Batches(items []T) [][]T {
	order := []string{}
	groups := map[string][]T{}
	for _, it := range items {
		k := s.TypeOf(it)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], it)
	}
	var out [][]T
	for _, k := range order {
		g := groups[k]
		if s.MaxBatchSize <= 0 {
			out = append(out, g)
			continue
		}
		for len(g) > 0 {
			n := s.MaxBatchSize
			if n > len(g) {
				n = len(g)
			}
			out = append(out, g[:n])
			g = g[n:]
		}
	}
	return out
}

// Features returns an item's feature vector; used by SimilarityStrategy.
type Features[T any] func(item T) []float64

// SimilarityStrategy greedily clusters items: pop a seed, then add every
// remaining item whose normalized similarity to the seed is at least
// Threshold, up to MaxBatchSize (0 means unbounded); repeat until
// exhausted.
type SimilarityStrategy[T any] struct {
	Features     Features[T]
	Threshold    float64
	MaxBatchSize int
}

func (s SimilarityStrategy[T]) Batches(items []T) [][]T {
	remaining := append([]T(nil), items...)
	var out [][]T
	for len(remaining) > 0 {
		seed := remaining[0]
		rest := remaining[1:]
		batch := []T{seed}
		seedFeatures := s.Features(seed)
		var leftover []T
		for _, cand := range rest {
			if s.MaxBatchSize > 0 && len(batch) >= s.MaxBatchSize {
				leftover = append(leftover, cand)
				continue
			}
			if similarity(seedFeatures, s.Features(cand)) >= s.Threshold {
				batch = append(batch, cand)
			} else {
				leftover = append(leftover, cand)
			}
		}
		out = append(out, batch)
		remaining = leftover
	}
	return out
}

// similarity returns 1 - euclidean(a,b)/sqrt(dim), the normalized
// similarity measure used by SimilarityStrategy. Mismatched dimensions are
// padded with zeros.
func similarity(a, b []float64) float64 {
	dim := len(a)
	if len(b) > dim {
		dim = len(b)
	}
	if dim == 0 {
		return 1
	}
	sumSq := 0.0
	for i := 0; i < dim; i++ {
		var av, bv float64
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		d := av - bv
		sumSq += d * d
	}
	dist := math.Sqrt(sumSq)
	return 1 - dist/math.Sqrt(float64(dim))
}

// AdaptiveState is the feedback-controlled batch-size regulator. A fixed
// batch size is produced per call to Batches; Adapt adjusts the size
// after each observed (size, time) measurement so that later calls track
// the configured TargetTime.
type AdaptiveState struct {
	CurrentBatchSize int
	Min              int
	Max              int
	TargetTime       float64
	AdaptationRate   float64
	History          []SizeTime
}

// SizeTime is one observed (batch size, processing time) sample.
type SizeTime struct {
	Size int
	Time float64
}

// NewAdaptiveState builds a regulator clamped to [min, max], starting at
// initialSize.
func NewAdaptiveState(initialSize, min, max int, targetTime, adaptationRate float64) *AdaptiveState {
	return &AdaptiveState{
		CurrentBatchSize: clampInt(initialSize, min, max),
		Min:              min,
		Max:              max,
		TargetTime:       targetTime,
		AdaptationRate:   adaptationRate,
	}
}

// Adapt records a (CurrentBatchSize, time) observation and recomputes
// CurrentBatchSize for the next batch: shrink when time exceeds target,
// grow when time is comfortably under target (<0.8x), otherwise hold.
func (a *AdaptiveState) Adapt(observedTime float64) {
	a.History = append(a.History, SizeTime{Size: a.CurrentBatchSize, Time: observedTime})

	next := float64(a.CurrentBatchSize)
	switch {
	case observedTime > a.TargetTime:
		factor := a.TargetTime / observedTime
		if factor < 0.5 {
			factor = 0.5
		}
		if factor > 0.9 {
			factor = 0.9
		}
		next = float64(a.CurrentBatchSize) * factor
	case observedTime < 0.8*a.TargetTime:
		factor := (a.TargetTime/observedTime)*a.AdaptationRate + 1
		if factor < 1.1 {
			factor = 1.1
		}
		if factor > 1.5 {
			factor = 1.5
		}
		next = float64(a.CurrentBatchSize) * factor
	}
	a.CurrentBatchSize = clampInt(int(math.Round(next)), a.Min, a.Max)
}

// Batches slices items into fixed-size chunks at the current adaptive
// size. Callers are expected to invoke Adapt with the observed processing
// time of each returned batch before requesting the next one.
func (a *AdaptiveState) Batches(items []any) [][]any {
	var out [][]any
	for len(items) > 0 {
		n := a.CurrentBatchSize
		if n > len(items) {
			n = len(items)
		}
		if n <= 0 {
			n = len(items)
		}
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// CreateBatches is the generic sort-then-slice helper ztoq exposes at
// module scope (independent of the five named strategies): it sorts items
// by the given key function, ascending, then slices into fixed-size
// chunks.
func CreateBatches[T any](items []T, batchSize int, keyOf func(T) float64) [][]T {
	sorted := append([]T(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return keyOf(sorted[i]) < keyOf(sorted[j]) })
	var out [][]T
	for len(sorted) > 0 {
		n := batchSize
		if n > len(sorted) {
			n = len(sorted)
		}
		if n <= 0 {
			n = len(sorted)
		}
		out = append(out, sorted[:n])
		sorted = sorted[n:]
	}
	return out
}

// OptimalBatchSizeParams configures ConfigureOptimalBatchSize.
type OptimalBatchSizeParams struct {
	EntityCount       int
	AvailableMemoryMB float64 // 0 means no memory constraint; system memory is not queried
	EntitySizeMB      float64
	Parallelism       int
	APIRateLimitRPM   float64 // 0 means no rate constraint
	Min               int
	Max               int
}

// ConfigureOptimalBatchSize derives a batch size bounded by memory budget,
// API rate limit, and entity count, clamped to [Min, Max].
func ConfigureOptimalBatchSize(p OptimalBatchSizeParams) int {
	min, max := p.Min, p.Max
	if min <= 0 {
		min = 1
	}
	if max <= 0 {
		max = 1000
	}
	parallelism := p.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	candidates := []float64{float64(p.EntityCount)}

	if p.EntitySizeMB > 0 && p.AvailableMemoryMB > 0 {
		memConstraint := p.AvailableMemoryMB / p.EntitySizeMB / float64(parallelism)
		candidates = append(candidates, memConstraint)
	}
	if p.APIRateLimitRPM > 0 {
		rateConstraint := p.APIRateLimitRPM / float64(parallelism) * 0.9
		candidates = append(candidates, rateConstraint)
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c < best {
			best = c
		}
	}
	return clampInt(int(best), min, max)
}

// EstimateProcessingTime predicts the processing time for a batch of the
// given size from a history of (size, time) observations: linear
// interpolation between bracketing points, linear extrapolation at the
// ends, and `defaultPerItem * size` when history is empty.
func EstimateProcessingTime(history []SizeTime, size int, defaultPerItem float64) float64 {
	if len(history) == 0 {
		return defaultPerItem * float64(size)
	}
	sorted := append([]SizeTime(nil), history...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })

	if size <= sorted[0].Size {
		if len(sorted) == 1 {
			return sorted[0].Time * float64(size) / float64(sorted[0].Size)
		}
		return extrapolate(sorted[0], sorted[1], size)
	}
	if size >= sorted[len(sorted)-1].Size {
		if len(sorted) == 1 {
			return sorted[0].Time * float64(size) / float64(sorted[0].Size)
		}
		a, b := sorted[len(sorted)-2], sorted[len(sorted)-1]
		return extrapolate(a, b, size)
	}
	for i := 0; i < len(sorted)-1; i++ {
		a, b := sorted[i], sorted[i+1]
		if size >= a.Size && size <= b.Size {
			if b.Size == a.Size {
				return a.Time
			}
			frac := float64(size-a.Size) / float64(b.Size-a.Size)
			return a.Time + frac*(b.Time-a.Time)
		}
	}
	return defaultPerItem * float64(size)
}

func extrapolate(a, b SizeTime, size int) float64 {
	if b.Size == a.Size {
		return a.Time
	}
	slope := (b.Time - a.Time) / float64(b.Size-a.Size)
	return a.Time + slope*float64(size-a.Size)
}
