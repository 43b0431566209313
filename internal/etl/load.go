package etl

import (
	"context"
	"fmt"

	"github.com/heymumford/ztoq-migrate/internal/client"
	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/domain"
	"github.com/heymumford/ztoq-migrate/internal/store"
)

// LoadModules creates one target module per transformed folder, level by
// level, so a child's parent mapping always exists by the time the child
// is loaded (spec §9's BFS-ordered loading). Each level runs as its own
// set of batches; levels themselves run strictly in sequence, a level never
// starts until the previous one has finished, and loading stops after a
// level in which every module failed. A partial level does not stop the
// next one; children of its failed modules then fail for lack of a parent
// mapping.
func (e *Executor) LoadModules(ctx context.Context, projectKey string) (BatchResult, error) {
	levels, err := e.Store.GetTransformedModulesByLevel(ctx, projectKey)
	if err != nil {
		return BatchResult{}, fmt.Errorf("load transformed modules for %s: %w", projectKey, err)
	}

	total := BatchResult{Status: controlplane.StatusCompleted}
	for _, level := range levels {
		result, err := processBatches(ctx, e, projectKey, controlplane.EntityFolder, level, false, func(ctx context.Context, m store.TransformedModule) error {
			parentTargetID := ""
			if m.ParentID != "" {
				id, ok, err := e.Store.GetMappedEntityID(ctx, projectKey, controlplane.MappingFolderToModule, m.ParentID)
				if err != nil {
					return fmt.Errorf("resolve parent module for folder %s: %w", m.SourceFolderID, err)
				}
				if !ok {
					return fmt.Errorf("load module %s: parent folder %s has no target mapping yet", m.SourceFolderID, m.ParentID)
				}
				parentTargetID = id
			}

			var ref client.CreatedRef
			if err := e.retryAPI(ctx, func(ctx context.Context) error {
				r, err := e.Target.CreateModule(ctx, m.Name, parentTargetID)
				if err != nil {
					return err
				}
				ref = r
				return nil
			}); err != nil {
				return fmt.Errorf("create module for folder %s: %w", m.SourceFolderID, err)
			}

			return e.Store.SaveEntityMapping(ctx, controlplane.EntityMapping{
				ProjectKey:  projectKey,
				MappingType: controlplane.MappingFolderToModule,
				SourceID:    m.SourceFolderID,
				TargetID:    ref.ID,
			})
		})
		if err != nil {
			return total, err
		}
		total = mergeBatchResults(total, result)
		if result.Status == controlplane.StatusFailed {
			break
		}
	}
	return total, nil
}

// LoadTestCases creates one target test case per transformed case,
// resolving its module mapping (created by LoadModules, which always runs
// first) and uploading any attachments extracted for it.
func (e *Executor) LoadTestCases(ctx context.Context, projectKey string) (BatchResult, error) {
	cases, err := e.Store.GetTransformedTestCases(ctx, projectKey)
	if err != nil {
		return BatchResult{}, fmt.Errorf("load transformed test cases for %s: %w", projectKey, err)
	}

	return processBatches(ctx, e, projectKey, controlplane.EntityTestCase, cases, false, func(ctx context.Context, tc store.TransformedTestCase) error {
		moduleID := ""
		if tc.ModuleID != "" {
			id, ok, err := e.Store.GetMappedEntityID(ctx, projectKey, controlplane.MappingFolderToModule, tc.ModuleID)
			if err != nil {
				return fmt.Errorf("resolve module for test case %s: %w", tc.SourceCaseID, err)
			}
			if !ok {
				return fmt.Errorf("load test case %s: folder %s has no target module mapping", tc.SourceCaseID, tc.ModuleID)
			}
			moduleID = id
		}

		steps := make([]client.TargetTestStep, 0, len(tc.Steps))
		for _, s := range tc.Steps {
			steps = append(steps, client.TargetTestStep{Order: s.Order, Description: s.Description, ExpectedResult: s.ExpectedResult})
		}

		var ref client.CreatedRef
		if err := e.retryAPI(ctx, func(ctx context.Context) error {
			r, err := e.Target.CreateTestCase(ctx, client.TargetTestCase{
				Name:         tc.Name,
				Objective:    tc.Objective,
				Precondition: tc.Precondition,
				Priority:     tc.Priority,
				ModuleID:     moduleID,
				Steps:        steps,
				Properties:   tc.Properties,
			})
			if err != nil {
				return err
			}
			ref = r
			return nil
		}); err != nil {
			return fmt.Errorf("create test case %s: %w", tc.SourceCaseID, err)
		}

		if err := e.Store.SaveEntityMapping(ctx, controlplane.EntityMapping{
			ProjectKey:  projectKey,
			MappingType: controlplane.MappingTestCaseToTestCase,
			SourceID:    tc.SourceCaseID,
			TargetID:    ref.ID,
		}); err != nil {
			return fmt.Errorf("save mapping for test case %s: %w", tc.SourceCaseID, err)
		}

		return e.uploadAttachments(ctx, projectKey, domain.AttachmentOwnerTestCase, tc.SourceCaseID, "testcase", ref.ID)
	})
}

// LoadTestCycles creates one target test cycle per transformed cycle,
// resolving its module mapping the same way LoadTestCases does.
func (e *Executor) LoadTestCycles(ctx context.Context, projectKey string) (BatchResult, error) {
	cycles, err := e.Store.GetTransformedTestCycles(ctx, projectKey)
	if err != nil {
		return BatchResult{}, fmt.Errorf("load transformed test cycles for %s: %w", projectKey, err)
	}

	return processBatches(ctx, e, projectKey, controlplane.EntityTestCycle, cycles, false, func(ctx context.Context, tc store.TransformedTestCycle) error {
		moduleID := ""
		if tc.ModuleID != "" {
			id, ok, err := e.Store.GetMappedEntityID(ctx, projectKey, controlplane.MappingFolderToModule, tc.ModuleID)
			if err != nil {
				return fmt.Errorf("resolve module for test cycle %s: %w", tc.SourceCycleID, err)
			}
			if !ok {
				return fmt.Errorf("load test cycle %s: folder %s has no target module mapping", tc.SourceCycleID, tc.ModuleID)
			}
			moduleID = id
		}

		var ref client.CreatedRef
		if err := e.retryAPI(ctx, func(ctx context.Context) error {
			r, err := e.Target.CreateTestCycle(ctx, client.TargetTestCycle{
				Name:        tc.Name,
				Description: tc.Description,
				ModuleID:    moduleID,
				Properties:  tc.Properties,
			})
			if err != nil {
				return err
			}
			ref = r
			return nil
		}); err != nil {
			return fmt.Errorf("create test cycle %s: %w", tc.SourceCycleID, err)
		}

		return e.Store.SaveEntityMapping(ctx, controlplane.EntityMapping{
			ProjectKey:  projectKey,
			MappingType: controlplane.MappingCycleToCycle,
			SourceID:    tc.SourceCycleID,
			TargetID:    ref.ID,
		})
	})
}

// LoadTestExecutions creates one target test run + log per transformed
// execution. Unlike every other Load step, a missing case or cycle mapping
// is logged as a skip at warning level rather than as an error (spec §4.8);
// the skipped execution still counts as a failed item in the batch tally.
func (e *Executor) LoadTestExecutions(ctx context.Context, projectKey string) (BatchResult, error) {
	execs, err := e.Store.GetTransformedExecutions(ctx, projectKey)
	if err != nil {
		return BatchResult{}, fmt.Errorf("load transformed test executions for %s: %w", projectKey, err)
	}

	return processBatches(ctx, e, projectKey, controlplane.EntityTestExecution, execs, false, func(ctx context.Context, ex store.TransformedExecution) error {
		caseID, ok, err := e.Store.GetMappedEntityID(ctx, projectKey, controlplane.MappingTestCaseToTestCase, ex.TestCaseID)
		if err != nil {
			return fmt.Errorf("resolve test case for execution %s: %w", ex.SourceExecutionID, err)
		}
		if !ok {
			return skip("execution %s: test case %s not yet mapped, skipping", ex.SourceExecutionID, ex.TestCaseID)
		}
		cycleID, ok, err := e.Store.GetMappedEntityID(ctx, projectKey, controlplane.MappingCycleToCycle, ex.CycleID)
		if err != nil {
			return fmt.Errorf("resolve test cycle for execution %s: %w", ex.SourceExecutionID, err)
		}
		if !ok {
			return skip("execution %s: test cycle %s not yet mapped, skipping", ex.SourceExecutionID, ex.CycleID)
		}

		var runRef client.CreatedRef
		if err := e.retryAPI(ctx, func(ctx context.Context) error {
			r, err := e.Target.CreateTestRun(ctx, client.TargetTestRun{TestCaseID: caseID, CycleID: cycleID})
			if err != nil {
				return err
			}
			runRef = r
			return nil
		}); err != nil {
			return fmt.Errorf("create test run for execution %s: %w", ex.SourceExecutionID, err)
		}

		stepLogs := make([]client.TargetStepLog, 0, len(ex.StepLogs))
		for _, sl := range ex.StepLogs {
			stepLogs = append(stepLogs, client.TargetStepLog{Order: sl.Order, Status: sl.Status})
		}
		if err := e.retryAPI(ctx, func(ctx context.Context) error {
			return e.Target.SubmitTestLog(ctx, runRef.ID, client.TargetTestLog{
				OverallStatus: ex.OverallStatus,
				StepLogs:      stepLogs,
				Properties:    ex.Properties,
			})
		}); err != nil {
			return fmt.Errorf("submit test log for execution %s: %w", ex.SourceExecutionID, err)
		}

		if err := e.Store.SaveEntityMapping(ctx, controlplane.EntityMapping{
			ProjectKey:  projectKey,
			MappingType: controlplane.MappingExecutionToRun,
			SourceID:    ex.SourceExecutionID,
			TargetID:    runRef.ID,
		}); err != nil {
			return fmt.Errorf("save mapping for execution %s: %w", ex.SourceExecutionID, err)
		}

		return e.uploadAttachments(ctx, projectKey, domain.AttachmentOwnerTestExecution, ex.SourceExecutionID, "testrun", runRef.ID)
	})
}

// uploadAttachments pushes every attachment the store holds for
// (ownerType, ownerSourceID) to Target, reading spilled content
// transparently.
func (e *Executor) uploadAttachments(ctx context.Context, projectKey string, ownerType domain.AttachmentOwnerKind, ownerSourceID, targetObjectType, targetObjectID string) error {
	attachments, err := e.Store.GetAttachments(ctx, projectKey, ownerType, ownerSourceID)
	if err != nil {
		return fmt.Errorf("load attachments for %s: %w", ownerSourceID, err)
	}
	for _, a := range attachments {
		content, err := readAttachment(a)
		if err != nil {
			return fmt.Errorf("read attachment %s: %w", a.ID, err)
		}
		path := attachmentPath(e.AttachmentsDir, ownerType, ownerSourceID, a.ID)
		if err := e.retryAPI(ctx, func(ctx context.Context) error {
			return e.Target.UploadAttachment(ctx, targetObjectType, targetObjectID, path, content)
		}); err != nil {
			return fmt.Errorf("upload attachment %s: %w", a.ID, err)
		}
	}
	return nil
}
