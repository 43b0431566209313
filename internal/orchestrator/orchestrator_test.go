package orchestrator

import (
	"context"
	"testing"

	"github.com/heymumford/ztoq-migrate/internal/client"
	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/domain"
	"github.com/heymumford/ztoq-migrate/internal/retry"
	"github.com/heymumford/ztoq-migrate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const projectKey = "PROJ"

func newTestOrchestrator(t *testing.T, src *client.FakeSource, tgt *client.FakeTarget) (*Orchestrator, store.Store) {
	t.Helper()
	s := store.New()
	cfg := Config{
		ProjectKey:        projectKey,
		Source:            src,
		Target:            tgt,
		Store:             s,
		BatchSize:         2,
		MaxWorkers:        2,
		AttachmentsDir:    t.TempDir(),
		ValidationEnabled: true,
		RollbackEnabled:   true,
		Retry:             retry.Default(),
	}
	o, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return o, s
}

func smallFixture() *client.FakeSource {
	src := client.NewFakeSource()
	src.Project = domain.Project{Key: projectKey, Name: "Demo"}
	src.Folders = []domain.Folder{
		{ID: "f1", ProjectKey: projectKey, Name: "Root"},
	}
	src.TestCases = []domain.TestCase{
		{
			ID: "tc1", Key: "TC-1", ProjectKey: projectKey, FolderID: "f1", Name: "Login works",
			Priority: "Critical",
			Steps:    []domain.TestStep{{Order: 1, Description: "enter creds", ExpectedResult: "logged in"}},
		},
	}
	src.TestCycles = []domain.TestCycle{
		{ID: "cy1", Key: "CY-1", ProjectKey: projectKey, FolderID: "f1", Name: "Sprint 1"},
	}
	src.TestExecutions = []domain.TestExecution{
		{ID: "ex1", TestCaseID: "tc1", TestCycleID: "cy1", Status: "Pass"},
	}
	return src
}

func TestRunWorkflow_FullPhaseSequenceSucceeds(t *testing.T) {
	tgt := client.NewFakeTarget()
	o, s := newTestOrchestrator(t, smallFixture(), tgt)
	ctx := context.Background()

	err := o.RunWorkflow(ctx, []controlplane.Phase{
		controlplane.PhaseExtract, controlplane.PhaseTransform, controlplane.PhaseLoad, controlplane.PhaseValidate,
	})
	require.NoError(t, err)

	cur := o.state.Current()
	assert.Equal(t, controlplane.StatusCompleted, cur.ExtractionStatus)
	assert.Equal(t, controlplane.StatusCompleted, cur.TransformationStatus)
	assert.Equal(t, controlplane.StatusCompleted, cur.LoadingStatus)

	assert.Len(t, tgt.TestCases, 1)
	assert.Len(t, tgt.Cycles, 1)
	assert.Len(t, tgt.Runs, 1)

	events, err := s.GetWorkflowEvents(ctx, projectKey)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestRunWorkflow_AlreadyCompletedPhaseIsSkipped(t *testing.T) {
	tgt := client.NewFakeTarget()
	o, _ := newTestOrchestrator(t, smallFixture(), tgt)
	ctx := context.Background()

	require.NoError(t, o.RunWorkflow(ctx, []controlplane.Phase{controlplane.PhaseExtract}))
	require.NoError(t, o.RunWorkflow(ctx, []controlplane.Phase{controlplane.PhaseExtract}))

	counted, err := o.store.GetSourceEntityCounts(ctx, projectKey)
	require.NoError(t, err)
	assert.Equal(t, 1, counted[controlplane.EntityFolder])
}

func TestRunWorkflow_LoadBeforeTransformFails(t *testing.T) {
	tgt := client.NewFakeTarget()
	o, _ := newTestOrchestrator(t, smallFixture(), tgt)
	ctx := context.Background()

	err := o.RunWorkflow(ctx, []controlplane.Phase{controlplane.PhaseLoad})
	assert.Error(t, err)
}

func TestResumeWorkflow_SkipsCompletedButAlwaysValidates(t *testing.T) {
	tgt := client.NewFakeTarget()
	o, _ := newTestOrchestrator(t, smallFixture(), tgt)
	ctx := context.Background()

	require.NoError(t, o.RunWorkflow(ctx, []controlplane.Phase{controlplane.PhaseExtract, controlplane.PhaseTransform}))

	err := o.ResumeWorkflow(ctx, controlplane.PhaseExtract, controlplane.PhaseTransform, controlplane.PhaseLoad, controlplane.PhaseValidate)
	require.NoError(t, err)

	cur := o.state.Current()
	assert.Equal(t, controlplane.StatusCompleted, cur.LoadingStatus)
}

func TestRunIncrementalMigration_RecordsRunTimestamp(t *testing.T) {
	tgt := client.NewFakeTarget()
	o, _ := newTestOrchestrator(t, smallFixture(), tgt)
	ctx := context.Background()

	err := o.RunIncrementalMigration(ctx)
	require.NoError(t, err)

	cur := o.state.Current()
	assert.True(t, cur.IsIncremental)
	assert.NotNil(t, cur.LastRunTimestamp)
}

func TestRollback_DeletesTargetArtifactsAndResetsStatus(t *testing.T) {
	tgt := client.NewFakeTarget()
	o, _ := newTestOrchestrator(t, smallFixture(), tgt)
	ctx := context.Background()

	require.NoError(t, o.RunWorkflow(ctx, []controlplane.Phase{
		controlplane.PhaseExtract, controlplane.PhaseTransform, controlplane.PhaseLoad,
	}))
	require.Len(t, tgt.TestCases, 1)

	require.NoError(t, o.Rollback(ctx))

	cur := o.state.Current()
	assert.Equal(t, controlplane.StatusRolledBack, cur.LoadingStatus)
	assert.Equal(t, controlplane.StatusRolledBack, cur.TransformationStatus)
	assert.Equal(t, controlplane.StatusRolledBack, cur.ExtractionStatus)
	assert.Empty(t, tgt.TestCases)
	assert.Empty(t, tgt.Runs)
}

func TestRollback_DisabledByConfigFails(t *testing.T) {
	s := store.New()
	cfg := Config{
		ProjectKey: projectKey,
		Source:     smallFixture(),
		Target:     client.NewFakeTarget(),
		Store:      s,
		BatchSize:  2,
		MaxWorkers: 2,
		Retry:      retry.Default(),
		// RollbackEnabled left false
	}
	o, err := New(context.Background(), cfg)
	require.NoError(t, err)

	require.NoError(t, o.RunWorkflow(context.Background(), []controlplane.Phase{controlplane.PhaseExtract}))
	assert.Error(t, o.Rollback(context.Background()))
}
