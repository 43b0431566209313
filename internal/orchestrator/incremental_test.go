package orchestrator

import (
	"context"
	"testing"

	"github.com/heymumford/ztoq-migrate/internal/client"
	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIncrementalMigration_OnlyExtractsChangedEntities(t *testing.T) {
	src := smallFixture()
	src.TestCases = append(src.TestCases, domain.TestCase{
		ID: "tc2", Key: "TC-2", ProjectKey: projectKey, FolderID: "f1", Name: "Logout works", Priority: "Low",
	})
	tgt := client.NewFakeTarget()
	o, s := newTestOrchestrator(t, src, tgt)
	ctx := context.Background()

	require.NoError(t, o.RunWorkflow(ctx, []controlplane.Phase{
		controlplane.PhaseExtract, controlplane.PhaseTransform, controlplane.PhaseLoad,
	}))
	counts, err := s.GetSourceEntityCounts(ctx, projectKey)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[controlplane.EntityTestCase])

	require.NoError(t, o.state.UpdateExtraction(ctx, controlplane.StatusFailed, ""))
	require.NoError(t, o.state.UpdateTransformation(ctx, controlplane.StatusFailed, ""))
	require.NoError(t, o.state.UpdateLoading(ctx, controlplane.StatusFailed, ""))
	require.NoError(t, s.DeleteExtractedEntities(ctx, projectKey))

	src.ChangedSince["test_case"] = []string{"tc2"}
	require.NoError(t, o.RunIncrementalMigration(ctx, controlplane.PhaseExtract))

	counts, err = s.GetSourceEntityCounts(ctx, projectKey)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[controlplane.EntityTestCase])
}

func TestRunIncrementalMigration_ResolvesCaseAndCycleForChangedExecution(t *testing.T) {
	src := smallFixture()
	src.TestCases = append(src.TestCases, domain.TestCase{
		ID: "tc2", Key: "TC-2", ProjectKey: projectKey, FolderID: "f1", Name: "Logout works", Priority: "Low",
	})
	src.TestCycles = append(src.TestCycles, domain.TestCycle{
		ID: "cy2", Key: "CY-2", ProjectKey: projectKey, FolderID: "f1", Name: "Sprint 2",
	})
	src.TestExecutions = append(src.TestExecutions, domain.TestExecution{
		ID: "ex2", TestCaseID: "tc2", TestCycleID: "cy2", Status: "Pass",
	})
	tgt := client.NewFakeTarget()
	o, s := newTestOrchestrator(t, src, tgt)
	ctx := context.Background()

	require.NoError(t, o.state.SetIncremental(ctx, true))

	// Only the execution is reported changed - neither tc2 nor cy2 is
	// independently flagged - so extracting them depends entirely on
	// resolving the execution's own TestCaseID/TestCycleID.
	src.ChangedSince["test_execution"] = []string{"ex2"}

	require.NoError(t, o.RunWorkflow(ctx, []controlplane.Phase{controlplane.PhaseExtract}))

	cases, err := s.GetTestCases(ctx, projectKey)
	require.NoError(t, err)
	var gotCase bool
	for _, c := range cases {
		if c.ID == "tc2" {
			gotCase = true
		}
	}
	assert.True(t, gotCase, "expected tc2 to be extracted as a dependency of changed execution ex2")

	cycles, err := s.GetTestCycles(ctx, projectKey)
	require.NoError(t, err)
	var gotCycle bool
	for _, c := range cycles {
		if c.ID == "cy2" {
			gotCycle = true
		}
	}
	assert.True(t, gotCycle, "expected cy2 to be extracted as a dependency of changed execution ex2")

	execs, err := s.GetTestExecutions(ctx, projectKey)
	require.NoError(t, err)
	assert.Len(t, execs, 1)
	assert.Equal(t, "ex2", execs[0].ID)
}

func TestRunValidate_PersistsReportAndRunsIntegrityChecks(t *testing.T) {
	tgt := client.NewFakeTarget()
	o, s := newTestOrchestrator(t, smallFixture(), tgt)
	ctx := context.Background()

	require.NoError(t, o.RunWorkflow(ctx, []controlplane.Phase{
		controlplane.PhaseExtract, controlplane.PhaseTransform, controlplane.PhaseLoad, controlplane.PhaseValidate,
	}))

	reports, err := s.GetValidationReports(ctx, projectKey)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.False(t, o.validator.HasCriticalIssues())
}
