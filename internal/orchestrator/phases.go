package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/domain"
	"github.com/heymumford/ztoq-migrate/internal/etl"
	"github.com/heymumford/ztoq-migrate/internal/store"
	"github.com/heymumford/ztoq-migrate/internal/validation"
)

// runExtract pulls the project record, folders, test cases, test cycles,
// and test executions. In incremental mode, every entity type except
// folders is filtered to what Source reports changed since the last
// recorded run (spec §9's per-entity-type change resolution; folder
// membership itself isn't versioned, so the tree is always pulled whole),
// and a changed execution's own test case and test cycle are folded into
// changedCases/changedCycles via ResolveExecutionDependencies before the
// case/cycle extracts run, so a changed execution is never left pointing
// at a case or cycle this run never touched.
func (o *Orchestrator) runExtract(ctx context.Context) (etl.BatchResult, error) {
	if _, err := o.executor.ExtractProject(ctx, o.cfg.ProjectKey); err != nil {
		return etl.BatchResult{}, err
	}

	incremental := o.state.Current().IsIncremental
	var changedCases, changedCycles, changedExecs []string
	if incremental {
		since := o.lastRunUnix()
		var err error
		if changedCases, err = o.executor.ChangedSince(ctx, o.cfg.ProjectKey, since, "test_case"); err != nil {
			return etl.BatchResult{}, err
		}
		if changedCycles, err = o.executor.ChangedSince(ctx, o.cfg.ProjectKey, since, "test_cycle"); err != nil {
			return etl.BatchResult{}, err
		}
		if changedExecs, err = o.executor.ChangedSince(ctx, o.cfg.ProjectKey, since, "test_execution"); err != nil {
			return etl.BatchResult{}, err
		}

		depCases, depCycles, err := o.executor.ResolveExecutionDependencies(ctx, o.cfg.ProjectKey, changedExecs)
		if err != nil {
			return etl.BatchResult{}, err
		}
		changedCases = unionIDs(changedCases, depCases)
		changedCycles = unionIDs(changedCycles, depCycles)
	}

	folders, err := o.executor.ExtractFolders(ctx, o.cfg.ProjectKey)
	if err != nil {
		return etl.BatchResult{}, err
	}
	cases, err := o.executor.ExtractTestCases(ctx, o.cfg.ProjectKey, incremental, changedCases)
	if err != nil {
		return etl.BatchResult{}, err
	}
	cycles, err := o.executor.ExtractTestCycles(ctx, o.cfg.ProjectKey, incremental, changedCycles)
	if err != nil {
		return etl.BatchResult{}, err
	}
	execs, err := o.executor.ExtractTestExecutions(ctx, o.cfg.ProjectKey, incremental, changedExecs)
	if err != nil {
		return etl.BatchResult{}, err
	}

	return etl.MergeResults(folders, cases, cycles, execs), nil
}

// unionIDs merges b into a, skipping ids already present in a.
func unionIDs(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			a = append(a, id)
		}
	}
	return a
}

func (o *Orchestrator) lastRunUnix() int64 {
	ts := o.state.Current().LastRunTimestamp
	if ts == nil {
		return 0
	}
	return ts.Unix()
}

// runTransform maps every extracted entity to its target shape. Order
// matters only in that the project and folder tree transform first, since
// TransformTestCases/Cycles/Executions don't depend on each other but the
// BFS module leveling LoadModules later relies on is computed here.
func (o *Orchestrator) runTransform(ctx context.Context) (etl.BatchResult, error) {
	if err := o.executor.TransformProject(ctx, o.cfg.ProjectKey); err != nil {
		return etl.BatchResult{}, err
	}

	modules, err := o.executor.TransformFoldersToModules(ctx, o.cfg.ProjectKey)
	if err != nil {
		return etl.BatchResult{}, err
	}
	cases, err := o.executor.TransformTestCases(ctx, o.cfg.ProjectKey)
	if err != nil {
		return etl.BatchResult{}, err
	}
	cycles, err := o.executor.TransformTestCycles(ctx, o.cfg.ProjectKey)
	if err != nil {
		return etl.BatchResult{}, err
	}
	execs, err := o.executor.TransformTestExecutions(ctx, o.cfg.ProjectKey)
	if err != nil {
		return etl.BatchResult{}, err
	}

	return etl.MergeResults(modules, cases, cycles, execs), nil
}

// runLoad creates target-side objects in dependency order: modules first
// (so folder mappings exist), then cases and cycles (either order, both
// only need module mappings), then executions last (need both case and
// cycle mappings).
func (o *Orchestrator) runLoad(ctx context.Context) (etl.BatchResult, error) {
	modules, err := o.executor.LoadModules(ctx, o.cfg.ProjectKey)
	if err != nil {
		return etl.BatchResult{}, err
	}
	cases, err := o.executor.LoadTestCases(ctx, o.cfg.ProjectKey)
	if err != nil {
		return etl.BatchResult{}, err
	}
	cycles, err := o.executor.LoadTestCycles(ctx, o.cfg.ProjectKey)
	if err != nil {
		return etl.BatchResult{}, err
	}
	execs, err := o.executor.LoadTestExecutions(ctx, o.cfg.ProjectKey)
	if err != nil {
		return etl.BatchResult{}, err
	}

	return etl.MergeResults(modules, cases, cycles, execs), nil
}

// runValidate runs every registered rule against the extracted test cases
// and cycles (phase extract's required-field/length/relationship/
// uniqueness/step/attachment checks) and the extracted executions (phase
// load's referential-integrity checks against the mappings Load just
// created), then persists a report. A critical issue fails the phase;
// anything less (error/warning/info) is recorded but does not.
func (o *Orchestrator) runValidate(ctx context.Context) error {
	cases, err := o.store.GetTestCases(ctx, o.cfg.ProjectKey)
	if err != nil {
		return fmt.Errorf("load test cases for validation: %w", err)
	}
	for _, tc := range cases {
		o.validator.ExecuteValidation(ctx, o.cfg.ProjectKey, tc, controlplane.ScopeTestCase, controlplane.PhaseExtract,
			validation.Context{Store: o.store})
		atts, err := o.store.GetAttachments(ctx, o.cfg.ProjectKey, domain.AttachmentOwnerTestCase, tc.ID)
		if err != nil {
			return fmt.Errorf("load attachments of test case %s for validation: %w", tc.ID, err)
		}
		for _, a := range atts {
			o.validator.ExecuteValidation(ctx, o.cfg.ProjectKey, a, controlplane.ScopeAttachment, controlplane.PhaseExtract,
				validation.Context{Store: o.store})
		}
	}

	cycles, err := o.store.GetTestCycles(ctx, o.cfg.ProjectKey)
	if err != nil {
		return fmt.Errorf("load test cycles for validation: %w", err)
	}
	for _, tcy := range cycles {
		o.validator.ExecuteValidation(ctx, o.cfg.ProjectKey, tcy, controlplane.ScopeTestCycle, controlplane.PhaseExtract,
			validation.Context{Store: o.store})
	}

	execs, err := o.store.GetTestExecutions(ctx, o.cfg.ProjectKey)
	if err != nil {
		return fmt.Errorf("load test executions for validation: %w", err)
	}
	for _, ex := range execs {
		o.validator.ExecuteValidation(ctx, o.cfg.ProjectKey, ex, controlplane.ScopeTestExecution, controlplane.PhaseLoad,
			validation.Context{Store: o.store})
	}

	if err := o.runTransformIntegrityChecks(ctx, cases, execs); err != nil {
		return err
	}

	report := o.validator.Report(o.cfg.ProjectKey, true)
	if err := o.store.SaveValidationReport(ctx, report); err != nil {
		return fmt.Errorf("save validation report: %w", err)
	}

	if o.validator.HasCriticalIssues() {
		return fmt.Errorf("validation found critical issues for %s", o.cfg.ProjectKey)
	}
	return nil
}

// runTransformIntegrityChecks runs the two rules scoped to PhaseValidate
// (DataIntegrityRule, TestStatusMappingRule) by pairing each extracted
// entity with the transformed row Transform produced for it. There is no
// Target-side fetch to compare against - TargetClient exposes only
// create/delete calls, not reads - so "target" here is the transformed,
// pre-load record: these rules catch a transform step silently dropping or
// renaming a field between Extract and Load, not a Target-side corruption.
func (o *Orchestrator) runTransformIntegrityChecks(ctx context.Context, cases []domain.TestCase, execs []domain.TestExecution) error {
	transformedCases, err := o.store.GetTransformedTestCases(ctx, o.cfg.ProjectKey)
	if err != nil {
		return fmt.Errorf("load transformed test cases for validation: %w", err)
	}
	casesByID := make(map[string]store.TransformedTestCase, len(transformedCases))
	for _, tc := range transformedCases {
		casesByID[tc.SourceCaseID] = tc
	}
	for _, tc := range cases {
		transformed, ok := casesByID[tc.ID]
		if !ok {
			continue
		}
		o.validator.ExecuteValidation(ctx, o.cfg.ProjectKey, nil, controlplane.ScopeRelationship, controlplane.PhaseValidate,
			validation.Context{Store: o.store, SourceEntity: tc, TargetEntity: transformed})
	}

	transformedExecs, err := o.store.GetTransformedExecutions(ctx, o.cfg.ProjectKey)
	if err != nil {
		return fmt.Errorf("load transformed test executions for validation: %w", err)
	}
	execsByID := make(map[string]store.TransformedExecution, len(transformedExecs))
	for _, ex := range transformedExecs {
		execsByID[ex.SourceExecutionID] = ex
	}
	for _, ex := range execs {
		transformed, ok := execsByID[ex.ID]
		if !ok {
			continue
		}
		o.validator.ExecuteValidation(ctx, o.cfg.ProjectKey, nil, controlplane.ScopeTestExecution, controlplane.PhaseValidate,
			validation.Context{
				Store:          o.store,
				SourceEntity:   ex,
				TargetEntity:   transformed,
				StatusMappings: map[string]string{strings.ToLower(ex.Status): string(domain.StatusOf(ex.Status))},
			})
	}
	return nil
}

// runRollback unwinds completed/partial phases in reverse order: Load,
// then Transform, then Extract (spec §4.9). Load's rollback walks
// EntityMappings in the store's fixed order (executions, cycles, cases,
// then folders) deleting each target-side object through the executor,
// which ignores 404s the same way every other Target call tolerates a
// missing remote object; Transform/Extract rollback just drops their rows.
func (o *Orchestrator) runRollback(ctx context.Context) error {
	cur := o.state.Current()

	if isRollbackable(cur.LoadingStatus) {
		if err := o.rollbackLoad(ctx); err != nil {
			return fmt.Errorf("rollback load: %w", err)
		}
		if err := o.state.UpdateLoading(ctx, controlplane.StatusRolledBack, ""); err != nil {
			return err
		}
	}
	if isRollbackable(cur.TransformationStatus) {
		if err := o.store.DeleteTransformedEntities(ctx, o.cfg.ProjectKey); err != nil {
			return fmt.Errorf("rollback transform: %w", err)
		}
		if err := o.state.UpdateTransformation(ctx, controlplane.StatusRolledBack, ""); err != nil {
			return err
		}
	}
	if isRollbackable(cur.ExtractionStatus) {
		if err := o.store.DeleteExtractedEntities(ctx, o.cfg.ProjectKey); err != nil {
			return fmt.Errorf("rollback extract: %w", err)
		}
		if err := o.state.UpdateExtraction(ctx, controlplane.StatusRolledBack, ""); err != nil {
			return err
		}
	}
	return nil
}

func isRollbackable(status controlplane.PhaseStatus) bool {
	return status == controlplane.StatusCompleted || status == controlplane.StatusPartial
}

// rollbackLoad deletes every target-side object an EntityMapping points
// to, grouped by mapping type so each type's rows are marked rolled back
// (with any delete failures recorded as residue) exactly once.
func (o *Orchestrator) rollbackLoad(ctx context.Context) error {
	mappings, err := o.store.GetEntityMappingsForRollback(ctx, o.cfg.ProjectKey)
	if err != nil {
		return err
	}

	done := map[controlplane.MappingType]bool{}
	for _, m := range mappings {
		if m.RolledBack || done[m.MappingType] {
			continue
		}
		done[m.MappingType] = true

		var residue []string
		for _, row := range mappings {
			if row.MappingType != m.MappingType || row.RolledBack {
				continue
			}
			if err := o.executor.DeleteTargetArtifact(ctx, row.MappingType, row.TargetID); err != nil {
				residue = append(residue, err.Error())
			}
		}
		if err := o.store.MarkMappingsRolledBack(ctx, o.cfg.ProjectKey, m.MappingType, strings.Join(residue, "; ")); err != nil {
			return fmt.Errorf("mark %s mappings rolled back: %w", m.MappingType, err)
		}
	}
	return nil
}
