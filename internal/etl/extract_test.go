package etl

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

func newTestExecutor(t *testing.T, src *client.FakeSource, tgt *client.FakeTarget) (*Executor, store.Store) {
	t.Helper()
	s := store.New()
	e := New(Options{
		Source:         src,
		Target:         tgt,
		Store:          s,
		Retry:          retry.Default(),
		BatchSize:      2,
		MaxWorkers:     2,
		AttachmentsDir: t.TempDir(),
	})
	return e, s
}

func TestExtractProject_SavesProject(t *testing.T) {
	src := client.NewFakeSource()
	src.Project = domain.Project{Key: "PROJ", Name: "Project"}
	e, s := newTestExecutor(t, src, client.NewFakeTarget())

	p, err := e.ExtractProject(context.Background(), "PROJ")
	require.NoError(t, err)
	assert.Equal(t, "Project", p.Name)

	got, ok, err := s.GetProject(context.Background(), "PROJ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Project", got.Name)
}

func TestExtractFolders_SavesEveryFolder(t *testing.T) {
	src := client.NewFakeSource()
	src.Folders = []domain.Folder{
		{ID: "f1", ProjectKey: "PROJ", Name: "Root"},
		{ID: "f2", ProjectKey: "PROJ", Name: "Child", ParentFolderID: "f1"},
		{ID: "f3", ProjectKey: "PROJ", Name: "Other"},
	}
	e, s := newTestExecutor(t, src, client.NewFakeTarget())

	result, err := e.ExtractFolders(context.Background(), "PROJ")
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusCompleted, result.Status)
	assert.Equal(t, 3, result.ProcessedItems)

	saved, err := s.GetFolders(context.Background(), "PROJ")
	require.NoError(t, err)
	assert.Len(t, saved, 3)
}

func TestExtractTestCases_FetchesStepsAndAttachments(t *testing.T) {
	src := client.NewFakeSource()
	src.TestCases = []domain.TestCase{
		{ID: "tc1", ProjectKey: "PROJ", Name: "Login works", AttachmentIDs: []string{"att1"},
			Steps: []domain.TestStep{{Order: 1, Description: "open page"}}},
	}
	src.Attachments["att1"] = []byte("screenshot bytes")
	e, s := newTestExecutor(t, src, client.NewFakeTarget())

	result, err := e.ExtractTestCases(context.Background(), "PROJ", false, nil)
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusCompleted, result.Status)

	saved, err := s.GetTestCases(context.Background(), "PROJ")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.Len(t, saved[0].Steps, 1)

	attachments, err := s.GetAttachments(context.Background(), "PROJ", domain.AttachmentOwnerTestCase, "tc1")
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, "screenshot bytes", string(attachments[0].Content))
}

func TestExtractTestCases_IncrementalFiltersToChangedIDs(t *testing.T) {
	src := client.NewFakeSource()
	src.TestCases = []domain.TestCase{
		{ID: "tc1", ProjectKey: "PROJ", Name: "Changed"},
		{ID: "tc2", ProjectKey: "PROJ", Name: "Unchanged"},
	}
	e, _ := newTestExecutor(t, src, client.NewFakeTarget())

	result, err := e.ExtractTestCases(context.Background(), "PROJ", true, []string{"tc1"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalItems)
	assert.Equal(t, 1, result.ProcessedItems)
}

func TestExtractTestCycles_AndExecutions_ToleratePerItemFailure(t *testing.T) {
	src := client.NewFakeSource()
	src.TestCycles = []domain.TestCycle{{ID: "cy1", ProjectKey: "PROJ", Name: "Sprint 1"}}
	src.TestExecutions = []domain.TestExecution{
		{ID: "ex1", TestCaseID: "tc1", TestCycleID: "cy1", AttachmentIDs: []string{"missing"}},
	}
	e, _ := newTestExecutor(t, src, client.NewFakeTarget())

	cyResult, err := e.ExtractTestCycles(context.Background(), "PROJ", false, nil)
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusCompleted, cyResult.Status)

	exResult, err := e.ExtractTestExecutions(context.Background(), "PROJ", false, nil)
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusFailed, exResult.Status)
	assert.Equal(t, 1, exResult.FailedItems)
}

func TestChangedSince_ReturnsSourceReportedIDs(t *testing.T) {
	src := client.NewFakeSource()
	src.ChangedSince["test_case"] = []string{"tc1", "tc2"}
	e, _ := newTestExecutor(t, src, client.NewFakeTarget())

	ids, err := e.ChangedSince(context.Background(), "PROJ", 0, "test_case")
	require.NoError(t, err)
	assert.Equal(t, []string{"tc1", "tc2"}, ids)
}
