// Package domain holds the hierarchical test-management entities that move
// through the migration engine: projects, folders, test cases and their
// steps, test cycles, test executions, and attachments.
package domain

import "time"

// FolderKind classifies what a Folder groups.
type FolderKind string

const (
	FolderKindTestCase  FolderKind = "TEST_CASE"
	FolderKindTestPlan  FolderKind = "TEST_PLAN"
	FolderKindTestCycle FolderKind = "TEST_CYCLE"
)

// Project is the root anchor for all control-plane state; one active
// migration run exists per Key at a time.
type Project struct {
	Key         string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Folder is a node in a per-project forest. Folders are stored in a flat
// slice indexed by id rather than as a pointer tree, per the arena-style
// layout chosen for deep trees: parent references are ids, and BFS walks
// use a worklist instead of recursion.
type Folder struct {
	ID             string
	ProjectKey     string
	ParentFolderID string // empty means root
	Name           string
	Kind           FolderKind
}

// FieldKind is the closed set of scalar kinds a custom field value may hold.
type FieldKind string

const (
	FieldKindString FieldKind = "string"
	FieldKindNumber FieldKind = "number"
	FieldKindBool   FieldKind = "bool"
	FieldKindDate   FieldKind = "date"
	FieldKindList   FieldKind = "list"
)

// FieldValue is a tagged variant over the scalar kinds a custom field may
// carry. Exactly one of the typed accessors is meaningful, selected by Kind.
type FieldValue struct {
	Kind   FieldKind
	Str    string
	Num    float64
	Bool   bool
	Date   time.Time
	Values []string
}

func StringField(v string) FieldValue { return FieldValue{Kind: FieldKindString, Str: v} }
func NumberField(v float64) FieldValue { return FieldValue{Kind: FieldKindNumber, Num: v} }
func BoolField(v bool) FieldValue     { return FieldValue{Kind: FieldKindBool, Bool: v} }
func DateField(v time.Time) FieldValue { return FieldValue{Kind: FieldKindDate, Date: v} }
func ListField(v []string) FieldValue { return FieldValue{Kind: FieldKindList, Values: v} }

// IsEmpty reports whether the field carries no meaningful value: an empty
// string or an empty list.
func (f FieldValue) IsEmpty() bool {
	switch f.Kind {
	case FieldKindString:
		return f.Str == ""
	case FieldKindList:
		return len(f.Values) == 0
	default:
		return false
	}
}

// CustomFields is the per-entity extension map for heterogeneous,
// field-sparse source data, keyed by field name.
type CustomFields map[string]FieldValue

// Priority is the normalized 1(highest)-5(lowest) priority scale used on
// the target side.
type Priority int

const (
	PriorityHighest Priority = 1
	PriorityHigh    Priority = 2
	PriorityMedium  Priority = 3
	PriorityLow     Priority = 4
	PriorityLowest  Priority = 5
)

// TestStep is one ordered step of a TestCase.
type TestStep struct {
	ID             string
	TestCaseID     string
	Order          int // 1-based
	Description    string
	ExpectedResult string
	TestData       string // Source-side "testData" field, folded into Description on transform
}

// TestCase is a reusable test definition.
type TestCase struct {
	ID            string
	Key           string
	ProjectKey    string
	FolderID      string
	Name          string
	Objective     string
	Precondition  string
	Priority      string // raw source priority label, mapped via PriorityOf
	Status        string
	Steps         []TestStep
	CustomFields  CustomFields
	AttachmentIDs []string
}

// TestCycle groups executions for a planned testing pass.
type TestCycle struct {
	ID           string
	Key          string
	ProjectKey   string
	FolderID     string
	Name         string
	Description  string
	PlannedStart *time.Time
	PlannedEnd   *time.Time
	Status       string
	CustomFields CustomFields
}

// StepResult is the per-step outcome recorded during an execution.
type StepResult struct {
	StepOrder int
	Status    string // raw source status, mapped via StatusOf
	Comment   string
}

// TestExecution records the outcome of running a TestCase within a
// TestCycle.
type TestExecution struct {
	ID            string
	TestCycleID   string
	TestCaseID    string
	Status        string // raw source status
	ExecutedBy    string
	Environment   string
	Comment       string
	StepResults   []StepResult
	CustomFields  CustomFields
	AttachmentIDs []string
}

// AttachmentOwnerKind is the closed set of entity kinds an Attachment may
// be related to.
type AttachmentOwnerKind string

const (
	AttachmentOwnerTestCase      AttachmentOwnerKind = "TestCase"
	AttachmentOwnerTestExecution AttachmentOwnerKind = "TestExecution"
	AttachmentOwnerTestStep      AttachmentOwnerKind = "TestStep"
)

// Attachment is a binary blob related to a test-management entity. Content
// holds engine-held bytes; content spilled to disk is referenced by
// SpillPath instead (see IsSpilled), with Content left empty; URL is for a
// Source/Target-hosted reference.
type Attachment struct {
	ID          string
	RelatedType AttachmentOwnerKind
	RelatedID   string
	Filename    string
	Size        int64
	Content     []byte
	SpillPath   string
	URL         string
}

func (a Attachment) IsSpilled() bool { return a.SpillPath != "" }
