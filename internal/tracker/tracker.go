// Package tracker implements the per-(project, entity type) batch progress
// bookkeeping (spec C3): initializing batch rows with exact item counts,
// upserting progress idempotently, and listing pending batches for resume.
package tracker

import (
	"context"
	"fmt"

	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/store"
)

// Tracker persists EntityBatch rows for one project via a Store.
type Tracker struct {
	store store.Store
}

func New(s store.Store) *Tracker {
	return &Tracker{store: s}
}

// InitializeBatches creates batch_number = 0..ceil(totalItems/batchSize)-1
// rows with exact item counts (the last batch may be short). TotalBatches
// and per-batch TotalItems are fixed here and never mutated again.
func (t *Tracker) InitializeBatches(ctx context.Context, projectKey string, entityType controlplane.EntityType, totalItems, batchSize int, incremental bool) error {
	if batchSize <= 0 {
		return fmt.Errorf("tracker: batchSize must be positive")
	}
	totalBatches := (totalItems + batchSize - 1) / batchSize
	if totalBatches == 0 {
		totalBatches = 0
	}
	remaining := totalItems
	for n := 0; n < totalBatches; n++ {
		items := batchSize
		if remaining < batchSize {
			items = remaining
		}
		remaining -= items
		b := controlplane.EntityBatch{
			ProjectKey:    projectKey,
			EntityType:    entityType,
			BatchNumber:   n,
			TotalBatches:  totalBatches,
			TotalItems:    items,
			Status:        controlplane.StatusNotStarted,
			IsIncremental: incremental,
		}
		if err := t.store.CreateOrUpdateEntityBatch(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// UpdateBatchStatus upserts a batch's progress idempotently; callers may
// invoke it repeatedly for the same batch as processing advances.
func (t *Tracker) UpdateBatchStatus(ctx context.Context, projectKey string, entityType controlplane.EntityType, batchNumber, processedCount int, status controlplane.PhaseStatus, errMsg string) error {
	return t.store.CreateOrUpdateEntityBatch(ctx, controlplane.EntityBatch{
		ProjectKey:     projectKey,
		EntityType:     entityType,
		BatchNumber:    batchNumber,
		ProcessedItems: processedCount,
		Status:         status,
		ErrorMessage:   errMsg,
	})
}

// GetPendingBatches returns rows whose status is not_started, in_progress,
// or failed for the given (project, entity type) — the set resume must
// reprocess.
func (t *Tracker) GetPendingBatches(ctx context.Context, projectKey string, entityType controlplane.EntityType) ([]controlplane.EntityBatch, error) {
	return t.store.GetPendingEntityBatches(ctx, projectKey, entityType)
}

// PhaseStatus aggregates a set of batches into a single phase status per
// spec §4.8: completed iff every batch is completed, partial if any batch
// processed at least one item anywhere, failed if none did.
func PhaseStatus(batches []controlplane.EntityBatch) controlplane.PhaseStatus {
	if len(batches) == 0 {
		return controlplane.StatusCompleted
	}
	allCompleted := true
	anyProcessed := false
	for _, b := range batches {
		if b.Status != controlplane.StatusCompleted {
			allCompleted = false
		}
		if b.ProcessedItems > 0 {
			anyProcessed = true
		}
	}
	if allCompleted {
		return controlplane.StatusCompleted
	}
	if anyProcessed {
		return controlplane.StatusPartial
	}
	return controlplane.StatusFailed
}
