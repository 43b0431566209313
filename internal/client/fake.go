package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/heymumford/ztoq-migrate/internal/domain"
)

// FakeSource is an in-memory SourceClient fixture for tests.
type FakeSource struct {
	Project        domain.Project
	Folders        []domain.Folder
	TestCases      []domain.TestCase
	TestCycles     []domain.TestCycle
	TestExecutions []domain.TestExecution
	Attachments    map[string][]byte // attachment id -> bytes
	ChangedSince   map[string][]string // type -> changed ids, for incremental-mode tests

	FailConnection bool
}

// NewFakeSource builds an empty fixture ready to have Project/Folders/...
// populated by a test.
func NewFakeSource() *FakeSource {
	return &FakeSource{Attachments: map[string][]byte{}, ChangedSince: map[string][]string{}}
}

func (f *FakeSource) GetProject(_ context.Context, key string) (domain.Project, error) {
	if f.Project.Key != key {
		return domain.Project{}, fmt.Errorf("source: project %q not found", key)
	}
	return f.Project, nil
}

func (f *FakeSource) GetFolders(_ context.Context, projectKey string) ([]domain.Folder, error) {
	return f.Folders, nil
}

func (f *FakeSource) GetTestCases(_ context.Context, projectKey string) ([]domain.TestCase, error) {
	return f.TestCases, nil
}

func (f *FakeSource) GetTestSteps(_ context.Context, caseID string) ([]domain.TestStep, error) {
	for _, c := range f.TestCases {
		if c.ID == caseID {
			return c.Steps, nil
		}
	}
	return nil, nil
}

func (f *FakeSource) GetTestCycles(_ context.Context, projectKey string) ([]domain.TestCycle, error) {
	return f.TestCycles, nil
}

func (f *FakeSource) GetTestExecutions(_ context.Context, projectKey string) ([]domain.TestExecution, error) {
	return f.TestExecutions, nil
}

func (f *FakeSource) DownloadAttachment(_ context.Context, id string) ([]byte, error) {
	b, ok := f.Attachments[id]
	if !ok {
		return nil, fmt.Errorf("source: attachment %q not found", id)
	}
	return b, nil
}

func (f *FakeSource) GetChangedEntitiesSince(_ context.Context, projectKey string, since int64, t string) ([]string, error) {
	return f.ChangedSince[t], nil
}

func (f *FakeSource) CheckConnection(_ context.Context) error {
	if f.FailConnection {
		return fmt.Errorf("source: connection refused")
	}
	return nil
}

// FakeTarget is an in-memory TargetClient fixture for tests; it records
// every created artifact and every deletion, which end-to-end rollback
// tests assert against.
type FakeTarget struct {
	mu sync.Mutex

	Modules   map[string]struct{ Name, ParentID string }
	TestCases map[string]TargetTestCase
	Cycles    map[string]TargetTestCycle
	Runs      map[string]TargetTestRun
	Logs      map[string]TargetTestLog
	Attachments map[string][]string // objectID -> filenames

	Deleted []string // ids deleted, in call order

	FailConnection bool
}

func NewFakeTarget() *FakeTarget {
	return &FakeTarget{
		Modules:     map[string]struct{ Name, ParentID string }{},
		TestCases:   map[string]TargetTestCase{},
		Cycles:      map[string]TargetTestCycle{},
		Runs:        map[string]TargetTestRun{},
		Logs:        map[string]TargetTestLog{},
		Attachments: map[string][]string{},
	}
}

func (f *FakeTarget) GetProject(_ context.Context, id string) (domain.Project, error) {
	return domain.Project{Key: id}, nil
}

func (f *FakeTarget) CreateModule(_ context.Context, name, parentID string) (CreatedRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.Modules[id] = struct{ Name, ParentID string }{name, parentID}
	return CreatedRef{ID: id}, nil
}

func (f *FakeTarget) CreateTestCase(_ context.Context, tc TargetTestCase) (CreatedRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.TestCases[id] = tc
	return CreatedRef{ID: id}, nil
}

func (f *FakeTarget) CreateTestCycle(_ context.Context, tc TargetTestCycle) (CreatedRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.Cycles[id] = tc
	return CreatedRef{ID: id}, nil
}

func (f *FakeTarget) CreateTestRun(_ context.Context, run TargetTestRun) (CreatedRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.Runs[id] = run
	return CreatedRef{ID: id}, nil
}

func (f *FakeTarget) SubmitTestLog(_ context.Context, runID string, log TargetTestLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Runs[runID]; !ok {
		return fmt.Errorf("target: run %q not found", runID)
	}
	f.Logs[runID] = log
	return nil
}

func (f *FakeTarget) UploadAttachment(_ context.Context, objectType, objectID, filePath string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Attachments[objectID] = append(f.Attachments[objectID], filePath)
	return nil
}

func (f *FakeTarget) DeleteTestRun(_ context.Context, id string) error {
	return f.delete(f.Runs, id)
}

func (f *FakeTarget) DeleteTestCycle(_ context.Context, id string) error {
	return f.delete(f.Cycles, id)
}

func (f *FakeTarget) DeleteTestCase(_ context.Context, id string) error {
	return f.delete(f.TestCases, id)
}

func (f *FakeTarget) delete(m any, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := m.(type) {
	case map[string]TargetTestRun:
		if _, ok := v[id]; !ok {
			return nil // ignore 404s
		}
		delete(v, id)
	case map[string]TargetTestCycle:
		if _, ok := v[id]; !ok {
			return nil
		}
		delete(v, id)
	case map[string]TargetTestCase:
		if _, ok := v[id]; !ok {
			return nil
		}
		delete(v, id)
	}
	f.Deleted = append(f.Deleted, id)
	return nil
}

func (f *FakeTarget) CheckConnection(_ context.Context) error {
	if f.FailConnection {
		return fmt.Errorf("target: connection refused")
	}
	return nil
}
