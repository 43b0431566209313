package etl

import (
	"context"
	"testing"

	"github.com/heymumford/ztoq-migrate/internal/client"
	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/domain"
	"github.com/heymumford/ztoq-migrate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadModules_CreatesParentsBeforeChildren(t *testing.T) {
	tgt := client.NewFakeTarget()
	e, s := newTestExecutor(t, client.NewFakeSource(), tgt)
	ctx := context.Background()

	require.NoError(t, s.SaveTransformedModule(ctx, "PROJ", store.TransformedModule{SourceFolderID: "root", Name: "Root", Level: 0}))
	require.NoError(t, s.SaveTransformedModule(ctx, "PROJ", store.TransformedModule{SourceFolderID: "child", Name: "Child", ParentID: "root", Level: 1}))

	result, err := e.LoadModules(ctx, "PROJ")
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusCompleted, result.Status)

	rootTargetID, ok, err := s.GetMappedEntityID(ctx, "PROJ", controlplane.MappingFolderToModule, "root")
	require.NoError(t, err)
	require.True(t, ok)

	childTargetID, ok, err := s.GetMappedEntityID(ctx, "PROJ", controlplane.MappingFolderToModule, "child")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, rootTargetID, tgt.Modules[childTargetID].ParentID)
}

func TestLoadTestCases_ResolvesModuleMappingAndUploadsAttachments(t *testing.T) {
	tgt := client.NewFakeTarget()
	e, s := newTestExecutor(t, client.NewFakeSource(), tgt)
	ctx := context.Background()

	require.NoError(t, s.SaveTransformedModule(ctx, "PROJ", store.TransformedModule{SourceFolderID: "f1", Name: "Folder"}))
	_, err := e.LoadModules(ctx, "PROJ")
	require.NoError(t, err)

	require.NoError(t, s.SaveAttachment(ctx, "PROJ", domain.Attachment{
		ID: "att1", RelatedType: domain.AttachmentOwnerTestCase, RelatedID: "tc1",
		Filename: "shot.png", Content: []byte("bytes"),
	}))
	require.NoError(t, s.SaveTransformedTestCase(ctx, "PROJ", store.TransformedTestCase{
		SourceCaseID: "tc1", Name: "Login", ModuleID: "f1",
	}))

	result, err := e.LoadTestCases(ctx, "PROJ")
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusCompleted, result.Status)

	targetID, ok, err := s.GetMappedEntityID(ctx, "PROJ", controlplane.MappingTestCaseToTestCase, "tc1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Login", tgt.TestCases[targetID].Name)
	assert.Len(t, tgt.Attachments[targetID], 1)
}

func TestLoadTestCases_MissingModuleMappingFails(t *testing.T) {
	e, s := newTestExecutor(t, client.NewFakeSource(), client.NewFakeTarget())
	ctx := context.Background()
	require.NoError(t, s.SaveTransformedTestCase(ctx, "PROJ", store.TransformedTestCase{
		SourceCaseID: "tc1", Name: "Login", ModuleID: "missing-folder",
	}))

	result, err := e.LoadTestCases(ctx, "PROJ")
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusFailed, result.Status)
}

func TestLoadTestExecutions_SkipsWithWarningWhenMappingMissing(t *testing.T) {
	e, s := newTestExecutor(t, client.NewFakeSource(), client.NewFakeTarget())
	ctx := context.Background()
	require.NoError(t, s.SaveTransformedExecution(ctx, "PROJ", store.TransformedExecution{
		SourceExecutionID: "ex1", TestCaseID: "tc-not-mapped", CycleID: "cy-not-mapped",
	}))

	result, err := e.LoadTestExecutions(ctx, "PROJ")
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusFailed, result.Status)
	assert.Equal(t, 1, result.FailedItems)
}

func TestLoadTestExecutions_CreatesRunAndLogWhenMappingsResolved(t *testing.T) {
	tgt := client.NewFakeTarget()
	e, s := newTestExecutor(t, client.NewFakeSource(), tgt)
	ctx := context.Background()

	require.NoError(t, s.SaveEntityMapping(ctx, controlplane.EntityMapping{
		ProjectKey: "PROJ", MappingType: controlplane.MappingTestCaseToTestCase, SourceID: "tc1", TargetID: "tgt-tc1",
	}))
	require.NoError(t, s.SaveEntityMapping(ctx, controlplane.EntityMapping{
		ProjectKey: "PROJ", MappingType: controlplane.MappingCycleToCycle, SourceID: "cy1", TargetID: "tgt-cy1",
	}))
	require.NoError(t, s.SaveTransformedExecution(ctx, "PROJ", store.TransformedExecution{
		SourceExecutionID: "ex1", TestCaseID: "tc1", CycleID: "cy1", OverallStatus: domain.StatusPassed,
	}))

	result, err := e.LoadTestExecutions(ctx, "PROJ")
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusCompleted, result.Status)

	mappings, err := s.GetEntityMappings(ctx, "PROJ", controlplane.MappingExecutionToRun)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "tgt-tc1", tgt.Runs[mappings[0].TargetID].TestCaseID)
	assert.Equal(t, domain.StatusPassed, tgt.Logs[mappings[0].TargetID].OverallStatus)
}
