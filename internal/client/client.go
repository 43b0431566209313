// Package client defines the Source and Target HTTP client contracts the
// ETL executor consumes (spec §6.1/§6.2), plus in-memory fakes used for
// end-to-end tests of the fully implemented phases (per spec §9's explicit
// instruction not to stub the phases themselves).
package client

import (
	"context"

	"github.com/heymumford/ztoq-migrate/internal/domain"
)

// Page is one page of a paginated Source listing.
type Page[T any] struct {
	Items   []T
	HasMore bool
}

// SourceClient is the read-only API the Extract phase consumes.
type SourceClient interface {
	GetProject(ctx context.Context, key string) (domain.Project, error)
	GetFolders(ctx context.Context, projectKey string) ([]domain.Folder, error)
	GetTestCases(ctx context.Context, projectKey string) ([]domain.TestCase, error)
	GetTestSteps(ctx context.Context, caseID string) ([]domain.TestStep, error)
	GetTestCycles(ctx context.Context, projectKey string) ([]domain.TestCycle, error)
	GetTestExecutions(ctx context.Context, projectKey string) ([]domain.TestExecution, error)
	DownloadAttachment(ctx context.Context, id string) ([]byte, error)
	GetChangedEntitiesSince(ctx context.Context, projectKey string, since int64, t string) ([]string, error)
	CheckConnection(ctx context.Context) error
}

// CreatedRef is the id handed back by a Target create call.
type CreatedRef struct {
	ID string
}

// TargetClient is the write API the Load phase consumes.
type TargetClient interface {
	GetProject(ctx context.Context, id string) (domain.Project, error)
	CreateModule(ctx context.Context, name, parentID string) (CreatedRef, error)
	CreateTestCase(ctx context.Context, tc TargetTestCase) (CreatedRef, error)
	CreateTestCycle(ctx context.Context, tc TargetTestCycle) (CreatedRef, error)
	CreateTestRun(ctx context.Context, run TargetTestRun) (CreatedRef, error)
	SubmitTestLog(ctx context.Context, runID string, log TargetTestLog) error
	UploadAttachment(ctx context.Context, objectType, objectID, filePath string, content []byte) error
	DeleteTestRun(ctx context.Context, id string) error
	DeleteTestCycle(ctx context.Context, id string) error
	DeleteTestCase(ctx context.Context, id string) error
	CheckConnection(ctx context.Context) error
}

// TargetTestCase is the wire shape Load sends to CreateTestCase.
type TargetTestCase struct {
	Name         string
	Objective    string
	Precondition string
	Priority     domain.Priority
	ModuleID     string
	Steps        []TargetTestStep
	Properties   map[string]any
}

type TargetTestStep struct {
	Order          int
	Description    string
	ExpectedResult string
}

// TargetTestCycle is the wire shape Load sends to CreateTestCycle.
type TargetTestCycle struct {
	Name        string
	Description string
	ModuleID    string
	Properties  map[string]any
}

// TargetTestRun is the wire shape Load sends to CreateTestRun.
type TargetTestRun struct {
	TestCaseID string
	CycleID    string
}

// TargetTestLog is the wire shape Load sends to SubmitTestLog.
type TargetTestLog struct {
	OverallStatus domain.ExecutionStatus
	StepLogs      []TargetStepLog
	Properties    map[string]any
}

type TargetStepLog struct {
	Order  int
	Status domain.ExecutionStatus
}
