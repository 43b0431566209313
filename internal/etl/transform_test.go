package etl

import (
	"context"
	"testing"

	"github.com/heymumford/ztoq-migrate/internal/client"
	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformFoldersToModules_AssignsBFSLevels(t *testing.T) {
	e, s := newTestExecutor(t, client.NewFakeSource(), client.NewFakeTarget())
	ctx := context.Background()
	require.NoError(t, s.SaveFolders(ctx, "PROJ", []domain.Folder{
		{ID: "root", Name: "Root"},
		{ID: "child", Name: "Child", ParentFolderID: "root"},
		{ID: "grandchild", Name: "Grandchild", ParentFolderID: "child"},
	}))

	result, err := e.TransformFoldersToModules(ctx, "PROJ")
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusCompleted, result.Status)

	levels, err := s.GetTransformedModulesByLevel(ctx, "PROJ")
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, "root", levels[0][0].SourceFolderID)
	assert.Equal(t, "child", levels[1][0].SourceFolderID)
	assert.Equal(t, "grandchild", levels[2][0].SourceFolderID)
	assert.Equal(t, "root", levels[1][0].ParentID)
}

func TestTransformTestCases_MapsPriorityAndFoldsStepTestData(t *testing.T) {
	e, s := newTestExecutor(t, client.NewFakeSource(), client.NewFakeTarget())
	ctx := context.Background()
	require.NoError(t, s.SaveTestCases(ctx, "PROJ", []domain.TestCase{
		{
			ID: "tc1", FolderID: "f1", Name: "Login", Priority: "Critical",
			Steps: []domain.TestStep{{Order: 1, Description: "enter creds", TestData: "user=bob"}},
		},
	}))

	result, err := e.TransformTestCases(ctx, "PROJ")
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusCompleted, result.Status)

	saved, err := s.GetTransformedTestCases(ctx, "PROJ")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, domain.PriorityHighest, saved[0].Priority)
	assert.Contains(t, saved[0].Steps[0].Description, "user=bob")
}

func TestTransformTestExecutions_MapsStatusLabels(t *testing.T) {
	e, s := newTestExecutor(t, client.NewFakeSource(), client.NewFakeTarget())
	ctx := context.Background()
	require.NoError(t, s.SaveTestExecutions(ctx, "PROJ", []domain.TestExecution{
		{ID: "ex1", TestCaseID: "tc1", TestCycleID: "cy1", Status: "Pass",
			StepResults: []domain.StepResult{{StepOrder: 1, Status: "fail"}}},
	}))

	result, err := e.TransformTestExecutions(ctx, "PROJ")
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusCompleted, result.Status)

	saved, err := s.GetTransformedExecutions(ctx, "PROJ")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, domain.StatusPassed, saved[0].OverallStatus)
	assert.Equal(t, domain.StatusFailed, saved[0].StepLogs[0].Status)
}

func TestTransformTestExecutions_StepWithNoStatusInheritsExecutionStatus(t *testing.T) {
	e, s := newTestExecutor(t, client.NewFakeSource(), client.NewFakeTarget())
	ctx := context.Background()
	require.NoError(t, s.SaveTestExecutions(ctx, "PROJ", []domain.TestExecution{
		{ID: "ex1", TestCaseID: "tc1", TestCycleID: "cy1", Status: "Pass",
			StepResults: []domain.StepResult{{StepOrder: 1, Status: ""}}},
	}))

	_, err := e.TransformTestExecutions(ctx, "PROJ")
	require.NoError(t, err)

	saved, err := s.GetTransformedExecutions(ctx, "PROJ")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, domain.StatusPassed, saved[0].OverallStatus)
	assert.Equal(t, domain.StatusPassed, saved[0].StepLogs[0].Status)
}

func TestMapCustomFields_FlattensEachKind(t *testing.T) {
	out := mapCustomFields(domain.CustomFields{
		"owner":   domain.StringField("alice"),
		"retries": domain.NumberField(3),
		"flaky":   domain.BoolField(true),
	})
	assert.Equal(t, "alice", out["owner"])
	assert.Equal(t, 3.0, out["retries"])
	assert.Equal(t, true, out["flaky"])
}
