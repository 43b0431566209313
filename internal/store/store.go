// Package store defines the persistence contract the migration engine
// consumes (spec §6.3) and a transactional in-memory implementation used
// by tests and small deployments. A real relational store is an external
// collaborator; this package only owns the interface and the fake.
package store

import (
	"context"
	"fmt"

	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/domain"
)

// Store is the full data-access surface the engine requires. Every write
// that touches a domain row together with an EntityBatch or EntityMapping
// row is applied atomically from the caller's point of view.
type Store interface {
	// Projects / extracted entities.
	SaveProject(ctx context.Context, p domain.Project) error
	GetProject(ctx context.Context, projectKey string) (domain.Project, bool, error)
	SaveFolders(ctx context.Context, projectKey string, folders []domain.Folder) error
	GetFolders(ctx context.Context, projectKey string) ([]domain.Folder, error)
	SaveTestCases(ctx context.Context, projectKey string, cases []domain.TestCase) error
	GetTestCases(ctx context.Context, projectKey string) ([]domain.TestCase, error)
	SaveTestCycles(ctx context.Context, projectKey string, cycles []domain.TestCycle) error
	GetTestCycles(ctx context.Context, projectKey string) ([]domain.TestCycle, error)
	SaveTestExecutions(ctx context.Context, projectKey string, execs []domain.TestExecution) error
	GetTestExecutions(ctx context.Context, projectKey string) ([]domain.TestExecution, error)
	SaveAttachment(ctx context.Context, projectKey string, a domain.Attachment) error
	GetAttachments(ctx context.Context, projectKey string, ownerType domain.AttachmentOwnerKind, ownerID string) ([]domain.Attachment, error)
	CountEntities(ctx context.Context, projectKey string, t controlplane.EntityType) (int, error)

	// Transformed entities (target-shaped, pre-load).
	SaveTransformedProject(ctx context.Context, projectKey string, p domain.Project) error
	SaveTransformedModule(ctx context.Context, projectKey string, m TransformedModule) error
	GetTransformedModulesByLevel(ctx context.Context, projectKey string) ([][]TransformedModule, error)
	SaveTransformedTestCase(ctx context.Context, projectKey string, c TransformedTestCase) error
	GetTransformedTestCases(ctx context.Context, projectKey string) ([]TransformedTestCase, error)
	SaveTransformedTestCycle(ctx context.Context, projectKey string, c TransformedTestCycle) error
	GetTransformedTestCycles(ctx context.Context, projectKey string) ([]TransformedTestCycle, error)
	SaveTransformedExecution(ctx context.Context, projectKey string, e TransformedExecution) error
	GetTransformedExecutions(ctx context.Context, projectKey string) ([]TransformedExecution, error)
	DeleteTransformedEntities(ctx context.Context, projectKey string) error
	DeleteExtractedEntities(ctx context.Context, projectKey string) error

	// Mappings.
	SaveEntityMapping(ctx context.Context, m controlplane.EntityMapping) error
	GetEntityMapping(ctx context.Context, projectKey string, mt controlplane.MappingType, sourceID string) (controlplane.EntityMapping, bool, error)
	GetEntityMappings(ctx context.Context, projectKey string, mt controlplane.MappingType) ([]controlplane.EntityMapping, error)
	GetEntityMappingsForRollback(ctx context.Context, projectKey string) ([]controlplane.EntityMapping, error)
	GetMappedEntityID(ctx context.Context, projectKey string, mt controlplane.MappingType, sourceID string) (string, bool, error)
	CountEntityMappings(ctx context.Context, projectKey string, mt controlplane.MappingType) (int, error)
	DeleteEntityMappings(ctx context.Context, projectKey string) error
	MarkMappingsRolledBack(ctx context.Context, projectKey string, mt controlplane.MappingType, residue string) error

	// Control plane.
	GetMigrationState(ctx context.Context, projectKey string) (controlplane.MigrationState, error)
	UpdateMigrationState(ctx context.Context, s controlplane.MigrationState) error
	DeleteMigrationState(ctx context.Context, projectKey string) error
	CreateOrUpdateEntityBatch(ctx context.Context, b controlplane.EntityBatch) error
	GetPendingEntityBatches(ctx context.Context, projectKey string, t controlplane.EntityType) ([]controlplane.EntityBatch, error)
	GetEntityBatchesByStatus(ctx context.Context, projectKey string, t controlplane.EntityType, status controlplane.PhaseStatus, incrementalOnly bool) ([]controlplane.EntityBatch, error)
	GetIncompleteBatches(ctx context.Context, projectKey string) ([]controlplane.EntityBatch, error)
	DeleteEntityBatches(ctx context.Context, projectKey string) error

	// Events / validation.
	SaveWorkflowEvent(ctx context.Context, e controlplane.WorkflowEvent) error
	GetWorkflowEvents(ctx context.Context, projectKey string) ([]controlplane.WorkflowEvent, error)
	DeleteWorkflowEvents(ctx context.Context, projectKey string) error
	SaveValidationIssue(ctx context.Context, i controlplane.ValidationIssue) error
	GetValidationIssues(ctx context.Context, projectKey string, resolvedFilter *bool, level *controlplane.IssueLevel) ([]controlplane.ValidationIssue, error)
	SaveValidationReport(ctx context.Context, r controlplane.ValidationReport) error
	GetValidationReports(ctx context.Context, projectKey string) ([]controlplane.ValidationReport, error)
	DeleteValidationIssues(ctx context.Context, projectKey string) error
	DeleteValidationReports(ctx context.Context, projectKey string) error
	SaveValidationRule(ctx context.Context, r controlplane.ValidationRule) error

	// Introspection.
	EntityExists(ctx context.Context, projectKey string, t controlplane.EntityType, id string) (bool, error)
	FindDuplicates(ctx context.Context, projectKey string, t controlplane.EntityType, field, value, excludeID string) ([]string, error)
	GetSourceEntityCounts(ctx context.Context, projectKey string) (map[controlplane.EntityType]int, error)
	GetTargetEntityCounts(ctx context.Context, projectKey string) (map[controlplane.MappingType]int, error)
	GetEntityMappingCounts(ctx context.Context, projectKey string) (map[controlplane.MappingType]int, error)
}

// TransformedModule is the target-shaped folder, carrying its parent
// chain for BFS-ordered loading. ParentID is the *source* parent folder
// id (empty for roots); Load resolves it to a target module id via the
// folder_to_module mapping, which is guaranteed to exist by the time a
// child level loads because parent levels load first.
type TransformedModule struct {
	SourceFolderID string
	Name           string
	ParentID       string
	Level          int
}

// TransformedTestCase is the target-shaped test case ready to load.
// ModuleID is the source folder id (empty when the case has no folder);
// Load resolves it to a target module id via the folder_to_module
// mapping created during module loading, which precedes test case loading.
type TransformedTestCase struct {
	SourceCaseID string
	Name         string
	Objective    string
	Precondition string
	Priority     domain.Priority
	ModuleID     string
	Steps        []TransformedStep
	Properties   map[string]any
}

// TransformedStep is the target-shaped step.
type TransformedStep struct {
	Order          int
	Description    string
	ExpectedResult string
}

// TransformedTestCycle is the target-shaped cycle ready to load. ModuleID
// is the source folder id, resolved to a target module id by Load the
// same way TransformedTestCase.ModuleID is.
type TransformedTestCycle struct {
	SourceCycleID string
	Name          string
	Description   string
	ModuleID      string
	Properties    map[string]any
}

// TransformedExecution is the target-shaped run/log pair ready to load.
// TestCaseID/CycleID are source-space ids; Load resolves both via their
// respective mappings, which already exist because test cases and cycles
// load before executions (skipping with a warning if either is missing).
type TransformedExecution struct {
	SourceExecutionID string
	TestCaseID        string
	CycleID           string
	OverallStatus     domain.ExecutionStatus
	StepLogs          []TransformedStepLog
	Properties        map[string]any
}

// TransformedStepLog is one step-level log entry within a TransformedExecution.
type TransformedStepLog struct {
	Order  int
	Status domain.ExecutionStatus
}

// ErrNotFound is returned by lookups that find nothing and have no
// softer zero-value contract.
var ErrNotFound = fmt.Errorf("store: not found")
