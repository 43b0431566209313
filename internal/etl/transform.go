package etl

import (
	"context"
	"fmt"

	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/domain"
	"github.com/heymumford/ztoq-migrate/internal/store"
)

// TransformProject copies the project record into the transformed set
// unchanged; projects have no shape difference between Source and Target.
func (e *Executor) TransformProject(ctx context.Context, projectKey string) error {
	p, ok, err := e.Store.GetProject(ctx, projectKey)
	if err != nil {
		return fmt.Errorf("load project %s: %w", projectKey, err)
	}
	if !ok {
		return fmt.Errorf("transform project %s: %w", projectKey, store.ErrNotFound)
	}
	if err := e.Store.SaveTransformedProject(ctx, projectKey, p); err != nil {
		return fmt.Errorf("save transformed project %s: %w", projectKey, err)
	}
	return nil
}

// TransformFoldersToModules walks the extracted folder forest breadth-first
// from its roots (ParentFolderID == "") using an explicit worklist rather
// than recursion, per spec §9's design note for deep trees, assigning each
// folder a Level so Load can process parents strictly before children.
// EntityMappings are not created here: per store.go's TransformedModule
// doc, folder_to_module mappings are created only during Load, so ParentID
// stays source-space until then.
func (e *Executor) TransformFoldersToModules(ctx context.Context, projectKey string) (BatchResult, error) {
	folders, err := e.Store.GetFolders(ctx, projectKey)
	if err != nil {
		return BatchResult{}, fmt.Errorf("load folders for %s: %w", projectKey, err)
	}

	childrenOf := map[string][]domain.Folder{}
	var roots []domain.Folder
	for _, f := range folders {
		if f.ParentFolderID == "" {
			roots = append(roots, f)
			continue
		}
		childrenOf[f.ParentFolderID] = append(childrenOf[f.ParentFolderID], f)
	}

	type leveled struct {
		folder domain.Folder
		level  int
	}
	var modules []store.TransformedModule
	worklist := make([]leveled, 0, len(roots))
	for _, r := range roots {
		worklist = append(worklist, leveled{folder: r, level: 0})
	}
	for len(worklist) > 0 {
		cur := worklist[0]
		worklist = worklist[1:]
		modules = append(modules, store.TransformedModule{
			SourceFolderID: cur.folder.ID,
			Name:           cur.folder.Name,
			ParentID:       cur.folder.ParentFolderID,
			Level:          cur.level,
		})
		for _, child := range childrenOf[cur.folder.ID] {
			worklist = append(worklist, leveled{folder: child, level: cur.level + 1})
		}
	}

	return processBatches(ctx, e, projectKey, controlplane.EntityFolder, modules, false, func(ctx context.Context, m store.TransformedModule) error {
		return e.Store.SaveTransformedModule(ctx, projectKey, m)
	})
}

// TransformTestCases maps each extracted test case to its target shape:
// priority normalized via domain.PriorityOf, steps flattened with TestData
// folded into Description (spec §4.8). ModuleID stays as the source folder
// id; Load resolves it via the folder_to_module mapping.
func (e *Executor) TransformTestCases(ctx context.Context, projectKey string) (BatchResult, error) {
	cases, err := e.Store.GetTestCases(ctx, projectKey)
	if err != nil {
		return BatchResult{}, fmt.Errorf("load test cases for %s: %w", projectKey, err)
	}

	return processBatches(ctx, e, projectKey, controlplane.EntityTestCase, cases, false, func(ctx context.Context, tc domain.TestCase) error {
		steps := make([]store.TransformedStep, 0, len(tc.Steps))
		for _, s := range tc.Steps {
			desc := s.Description
			if s.TestData != "" {
				desc = fmt.Sprintf("%s\n\nTest Data: %s", desc, s.TestData)
			}
			steps = append(steps, store.TransformedStep{
				Order:          s.Order,
				Description:    desc,
				ExpectedResult: s.ExpectedResult,
			})
		}

		transformed := store.TransformedTestCase{
			SourceCaseID: tc.ID,
			Name:         tc.Name,
			Objective:    tc.Objective,
			Precondition: tc.Precondition,
			Priority:     domain.PriorityOf(tc.Priority),
			ModuleID:     tc.FolderID,
			Steps:        steps,
			Properties:   mapCustomFields(tc.CustomFields),
		}
		return e.Store.SaveTransformedTestCase(ctx, projectKey, transformed)
	})
}

// TransformTestCycles maps each extracted test cycle to its target shape.
// ModuleID stays as the source folder id, resolved the same way
// TransformTestCases' is.
func (e *Executor) TransformTestCycles(ctx context.Context, projectKey string) (BatchResult, error) {
	cycles, err := e.Store.GetTestCycles(ctx, projectKey)
	if err != nil {
		return BatchResult{}, fmt.Errorf("load test cycles for %s: %w", projectKey, err)
	}

	return processBatches(ctx, e, projectKey, controlplane.EntityTestCycle, cycles, false, func(ctx context.Context, tc domain.TestCycle) error {
		transformed := store.TransformedTestCycle{
			SourceCycleID: tc.ID,
			Name:          tc.Name,
			Description:   tc.Description,
			ModuleID:      tc.FolderID,
			Properties:    mapCustomFields(tc.CustomFields),
		}
		return e.Store.SaveTransformedTestCycle(ctx, projectKey, transformed)
	})
}

// TransformTestExecutions maps each extracted execution to its target run
// shape, mapping the overall and per-step statuses via domain.StatusOf
// (spec §4.8). A step with no recorded status inherits the execution's own
// overall status rather than mapping an empty string to StatusNotRun.
// TestCaseID/CycleID stay source-space; Load resolves both.
func (e *Executor) TransformTestExecutions(ctx context.Context, projectKey string) (BatchResult, error) {
	execs, err := e.Store.GetTestExecutions(ctx, projectKey)
	if err != nil {
		return BatchResult{}, fmt.Errorf("load test executions for %s: %w", projectKey, err)
	}

	return processBatches(ctx, e, projectKey, controlplane.EntityTestExecution, execs, false, func(ctx context.Context, ex domain.TestExecution) error {
		overall := domain.StatusOf(ex.Status)

		logs := make([]store.TransformedStepLog, 0, len(ex.StepResults))
		for _, sr := range ex.StepResults {
			status := sr.Status
			if status == "" {
				status = ex.Status
			}
			logs = append(logs, store.TransformedStepLog{
				Order:  sr.StepOrder,
				Status: domain.StatusOf(status),
			})
		}

		transformed := store.TransformedExecution{
			SourceExecutionID: ex.ID,
			TestCaseID:        ex.TestCaseID,
			CycleID:           ex.TestCycleID,
			OverallStatus:     overall,
			StepLogs:          logs,
			Properties:        mapCustomFields(ex.CustomFields),
		}
		return e.Store.SaveTransformedExecution(ctx, projectKey, transformed)
	})
}

// mapCustomFields flattens the typed CustomFields map into plain values
// suitable for the target's generic Properties bag.
func mapCustomFields(fields domain.CustomFields) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		switch v.Kind {
		case domain.FieldKindString:
			out[name] = v.Str
		case domain.FieldKindNumber:
			out[name] = v.Num
		case domain.FieldKindBool:
			out[name] = v.Bool
		case domain.FieldKindDate:
			out[name] = v.Date
		case domain.FieldKindList:
			out[name] = v.Values
		}
	}
	return out
}
