// Package controlplane holds the persisted bookkeeping entities that drive
// the migration engine's state machine: phase status, batch progress,
// entity mappings, workflow events, and validation issues/reports.
package controlplane

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PhaseStatus is the closed set of statuses a migration phase may hold.
type PhaseStatus string

const (
	StatusNotStarted PhaseStatus = "not_started"
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	StatusPartial    PhaseStatus = "partial"
	StatusFailed     PhaseStatus = "failed"
	StatusRolledBack PhaseStatus = "rolled_back"
)

// Phase identifies one of the orchestrator's top-level state-machine
// transitions.
type Phase string

const (
	PhaseExtract   Phase = "extract"
	PhaseTransform Phase = "transform"
	PhaseLoad      Phase = "load"
	PhaseValidate  Phase = "validate"
	PhaseRollback  Phase = "rollback"
)

// MigrationState is the per-project persisted phase status row.
type MigrationState struct {
	ProjectKey          string
	ExtractionStatus    PhaseStatus
	TransformationStatus PhaseStatus
	LoadingStatus       PhaseStatus
	RollbackStatus      PhaseStatus
	ErrorMessage        string
	IsIncremental       bool
	MetaData            json.RawMessage
	LastRunTimestamp    *time.Time
}

// MetadataDict parses the opaque MetaData field, returning an empty map on
// parse error rather than raising.
func (m *MigrationState) MetadataDict() map[string]any {
	out := map[string]any{}
	if len(m.MetaData) == 0 {
		return out
	}
	if err := json.Unmarshal(m.MetaData, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// EntityType is the closed set of domain entity kinds the tracker and
// mapping tables key on.
type EntityType string

const (
	EntityFolder        EntityType = "folder"
	EntityTestCase       EntityType = "test_case"
	EntityTestCycle      EntityType = "test_cycle"
	EntityTestExecution  EntityType = "test_execution"
)

// EntityBatch is a per-batch progress row; (ProjectKey, EntityType,
// BatchNumber) is unique.
type EntityBatch struct {
	ProjectKey     string
	EntityType     EntityType
	BatchNumber    int
	TotalBatches   int
	TotalItems     int
	ProcessedItems int
	Status         PhaseStatus
	ErrorMessage   string
	IsIncremental  bool
}

// MappingType is the closed set of entity-mapping kinds.
type MappingType string

const (
	MappingFolderToModule     MappingType = "folder_to_module"
	MappingTestCaseToTestCase MappingType = "testcase_to_testcase"
	MappingCycleToCycle       MappingType = "cycle_to_cycle"
	MappingExecutionToRun     MappingType = "execution_to_run"
)

// EntityMapping is the sole authority for idempotency and rollback: a
// persisted (source_id -> target_id) association per entity kind.
// (ProjectKey, MappingType, SourceID) is unique.
type EntityMapping struct {
	ProjectKey  string
	MappingType MappingType
	SourceID    string
	TargetID    string
	CreatedAt   time.Time
	RolledBack  bool
	Residue     string // non-empty when rollback left this mapping in a "rolled_back-with-residue" state
}

// WorkflowEvent is an append-only progress record; the sole stream used to
// render live progress.
type WorkflowEvent struct {
	ID           string
	ProjectKey   string
	Phase        Phase
	Status       string
	Message      string
	EntityType   EntityType
	EntityCount  int
	BatchNumber  int
	TotalBatches int
	Timestamp    time.Time
	Metadata     map[string]any
}

// NewWorkflowEvent stamps a new event with a generated id and timestamp.
func NewWorkflowEvent(projectKey string, phase Phase, status, message string) WorkflowEvent {
	return WorkflowEvent{
		ID:         uuid.NewString(),
		ProjectKey: projectKey,
		Phase:      phase,
		Status:     status,
		Message:    message,
		Timestamp:  time.Now(),
	}
}

// IssueLevel is the ordered severity scale for validation issues.
type IssueLevel int

const (
	LevelInfo IssueLevel = iota
	LevelWarning
	LevelError
	LevelCritical
)

func (l IssueLevel) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Scope is the closed set of validation rule scopes.
type Scope string

const (
	ScopeProject      Scope = "project"
	ScopeFolder       Scope = "folder"
	ScopeTestCase     Scope = "test_case"
	ScopeTestStep     Scope = "test_case_step"
	ScopeTestCycle    Scope = "test_cycle"
	ScopeTestExecution Scope = "test_execution"
	ScopeAttachment   Scope = "attachment"
	ScopeCustomField  Scope = "custom_field"
	ScopeRelationship Scope = "relationship"
	ScopeSystem       Scope = "system"
	ScopeDatabase     Scope = "database"
)

// ValidationIssue is one finding raised by a rule during validation.
type ValidationIssue struct {
	ID         string
	ProjectKey string
	Level      IssueLevel
	Scope      Scope
	Phase      Phase
	Message    string
	EntityID   string
	EntityType EntityType
	FieldName  string
	Details    map[string]any
	Timestamp  time.Time
	Resolved   bool
}

// ValidationReport is a point-in-time summary of accumulated issues.
type ValidationReport struct {
	ProjectKey       string
	CreatedAt        time.Time
	Summary          map[string]any
	IssueCountsByLevel map[string]int
}

// ValidationRule is the persisted definition of a registered rule.
type ValidationRule struct {
	ID          string
	Name        string
	Description string
	Scope       Scope
	Phase       Phase
	Level       IssueLevel
	Enabled     bool
}
