package batching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeStrategy_PacksBySize(t *testing.T) {
	sizes := map[int]int{0: 3, 1: 7, 2: 8, 3: 2}
	items := []int{0, 1, 2, 3}
	strat := SizeStrategy[int]{
		MaxBatchSize: 10,
		SizeOf:       func(i int) int { return sizes[i] },
	}
	batches := strat.Batches(items)
	require.Len(t, batches, 2)
	assert.Equal(t, []int{0, 1}, batches[0])
	assert.Equal(t, []int{2, 3}, batches[1])
}

func TestSizeStrategy_OversizeSingleton(t *testing.T) {
	strat := SizeStrategy[int]{MaxBatchSize: 5, SizeOf: func(i int) int { return i }}
	batches := strat.Batches([]int{2, 9, 3})
	require.Len(t, batches, 3)
	assert.Equal(t, []int{2}, batches[0])
	assert.Equal(t, []int{9}, batches[1])
	assert.Equal(t, []int{3}, batches[2])
}

func TestEntityTypeStrategy_GroupsAndSplits(t *testing.T) {
	items := []string{"a1", "b1", "a2", "a3", "b2"}
	strat := EntityTypeStrategy[string]{
		TypeOf:       func(s string) string { return s[:1] },
		MaxBatchSize: 2,
	}
	batches := strat.Batches(items)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a1", "a2"}, batches[0])
	assert.Equal(t, []string{"a3"}, batches[1])
	assert.Equal(t, []string{"b1", "b2"}, batches[2])
}

func TestAdaptiveState_ShrinksOnSlowBatch(t *testing.T) {
	a := NewAdaptiveState(10, 5, 15, 0.5, 0.2)
	a.Adapt(1.0)
	assert.Equal(t, 5, a.CurrentBatchSize)
}

func TestAdaptiveState_GrowsOnFastBatch(t *testing.T) {
	a := NewAdaptiveState(5, 5, 15, 0.5, 0.2)
	a.Adapt(0.2)
	assert.GreaterOrEqual(t, a.CurrentBatchSize, 6)
	assert.LessOrEqual(t, a.CurrentBatchSize, 15)
}

func TestEstimateProcessingTime_InterpolatesAndExtrapolates(t *testing.T) {
	history := []SizeTime{{Size: 10, Time: 1.0}, {Size: 20, Time: 2.0}}
	assert.InDelta(t, 1.5, EstimateProcessingTime(history, 15, 0.1), 1e-9)
	assert.InDelta(t, 3.0, EstimateProcessingTime(history, 30, 0.1), 1e-9)
	assert.InDelta(t, 0.5, EstimateProcessingTime(history, 5, 0.1), 1e-9)
	assert.InDelta(t, 0.5, EstimateProcessingTime(nil, 5, 0.1), 1e-9)
}

func TestConfigureOptimalBatchSize_ClampsToMemoryAndRate(t *testing.T) {
	size := ConfigureOptimalBatchSize(OptimalBatchSizeParams{
		EntityCount:       10000,
		AvailableMemoryMB: 100,
		EntitySizeMB:      1,
		Parallelism:       4,
		APIRateLimitRPM:   120,
		Min:               1,
		Max:               1000,
	})
	// memory constraint: 100/1/4 = 25; rate constraint: 120/4*0.9 = 27
	assert.Equal(t, 25, size)
}
