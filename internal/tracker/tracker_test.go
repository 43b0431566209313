package tracker

import (
	"context"
	"testing"

	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeBatches_ExactCounts(t *testing.T) {
	s := store.New()
	tr := New(s)
	ctx := context.Background()

	require.NoError(t, tr.InitializeBatches(ctx, "PROJ", controlplane.EntityTestCase, 25, 10, false))

	batches, err := tr.GetPendingBatches(ctx, "PROJ", controlplane.EntityTestCase)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, 0, batches[0].BatchNumber)
	assert.Equal(t, 3, batches[0].TotalBatches)
	assert.Equal(t, 10, batches[0].TotalItems)
	assert.Equal(t, 3, batches[2].TotalBatches)
	assert.Equal(t, 5, batches[2].TotalItems)
}

func TestPhaseStatus_Aggregation(t *testing.T) {
	complete := []controlplane.EntityBatch{
		{Status: controlplane.StatusCompleted, ProcessedItems: 10},
		{Status: controlplane.StatusCompleted, ProcessedItems: 5},
	}
	assert.Equal(t, controlplane.StatusCompleted, PhaseStatus(complete))

	partial := []controlplane.EntityBatch{
		{Status: controlplane.StatusCompleted, ProcessedItems: 10},
		{Status: controlplane.StatusFailed, ProcessedItems: 0},
	}
	assert.Equal(t, controlplane.StatusPartial, PhaseStatus(partial))

	failed := []controlplane.EntityBatch{
		{Status: controlplane.StatusFailed, ProcessedItems: 0},
	}
	assert.Equal(t, controlplane.StatusFailed, PhaseStatus(failed))
}
