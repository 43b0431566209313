package etl

import (
	"context"
	"errors"
	"fmt"

	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/retry"
)

// DeleteTargetArtifact removes the target-side object an EntityMapping
// points to, under the same retry policy every other Target call uses. A
// 404 (surfaced via retry.StatusError, where the concrete Target client
// reports one) is treated as already-gone rather than an error, matching
// every other rollback delete's tolerance for a missing remote object.
// folder_to_module mappings have no corresponding delete call - Target
// exposes no DeleteModule - so they are a no-op here; the orchestrator
// still marks them rolled back.
func (e *Executor) DeleteTargetArtifact(ctx context.Context, mt controlplane.MappingType, targetID string) error {
	var del func(context.Context, string) error
	switch mt {
	case controlplane.MappingExecutionToRun:
		del = e.Target.DeleteTestRun
	case controlplane.MappingCycleToCycle:
		del = e.Target.DeleteTestCycle
	case controlplane.MappingTestCaseToTestCase:
		del = e.Target.DeleteTestCase
	default:
		return nil
	}

	err := e.retryAPI(ctx, func(ctx context.Context) error { return del(ctx, targetID) })
	if err == nil {
		return nil
	}
	var se retry.StatusError
	if errors.As(err, &se) && se.StatusCode() == 404 {
		return nil
	}
	return fmt.Errorf("delete target artifact %s (%s): %w", targetID, mt, err)
}
