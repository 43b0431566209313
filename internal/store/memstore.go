package store

import (
	"context"
	"strings"
	"sync"

	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/domain"
)

// MemStore is an in-process Store backed by maps guarded by a single
// mutex. Compound writes (a domain row plus its batch or mapping row) hold
// the mutex for the duration of the call, giving callers the same
// read-committed, single-transaction guarantee the spec requires without
// standing up a real database for the core engine's own tests.
type MemStore struct {
	mu sync.Mutex

	projects   map[string]domain.Project
	folders    map[string][]domain.Folder
	cases      map[string][]domain.TestCase
	cycles     map[string][]domain.TestCycle
	execs      map[string][]domain.TestExecution
	attachments map[string][]domain.Attachment

	transformedProjects map[string]domain.Project
	transformedModules  map[string][]TransformedModule
	transformedCases    map[string][]TransformedTestCase
	transformedCycles   map[string][]TransformedTestCycle
	transformedExecs    map[string][]TransformedExecution

	mappings map[string][]controlplane.EntityMapping // key: projectKey

	migrationStates map[string]controlplane.MigrationState
	batches         map[string]map[string]controlplane.EntityBatch // projectKey -> "type/number" -> batch

	events map[string][]controlplane.WorkflowEvent
	issues map[string][]controlplane.ValidationIssue
	reports map[string][]controlplane.ValidationReport
	rules   map[string][]controlplane.ValidationRule
}

// New constructs an empty MemStore.
func New() *MemStore {
	return &MemStore{
		projects:            map[string]domain.Project{},
		folders:             map[string][]domain.Folder{},
		cases:               map[string][]domain.TestCase{},
		cycles:              map[string][]domain.TestCycle{},
		execs:               map[string][]domain.TestExecution{},
		attachments:         map[string][]domain.Attachment{},
		transformedProjects: map[string]domain.Project{},
		transformedModules:  map[string][]TransformedModule{},
		transformedCases:    map[string][]TransformedTestCase{},
		transformedCycles:   map[string][]TransformedTestCycle{},
		transformedExecs:    map[string][]TransformedExecution{},
		mappings:            map[string][]controlplane.EntityMapping{},
		migrationStates:     map[string]controlplane.MigrationState{},
		batches:             map[string]map[string]controlplane.EntityBatch{},
		events:              map[string][]controlplane.WorkflowEvent{},
		issues:              map[string][]controlplane.ValidationIssue{},
		reports:             map[string][]controlplane.ValidationReport{},
		rules:               map[string][]controlplane.ValidationRule{},
	}
}

func (s *MemStore) SaveProject(_ context.Context, p domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.Key] = p
	return nil
}

func (s *MemStore) GetProject(_ context.Context, projectKey string) (domain.Project, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectKey]
	return p, ok, nil
}

func (s *MemStore) SaveFolders(_ context.Context, projectKey string, folders []domain.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[projectKey] = append(s.folders[projectKey], folders...)
	return nil
}

func (s *MemStore) GetFolders(_ context.Context, projectKey string) ([]domain.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Folder(nil), s.folders[projectKey]...), nil
}

func (s *MemStore) SaveTestCases(_ context.Context, projectKey string, cases []domain.TestCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[projectKey] = append(s.cases[projectKey], cases...)
	return nil
}

func (s *MemStore) GetTestCases(_ context.Context, projectKey string) ([]domain.TestCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TestCase(nil), s.cases[projectKey]...), nil
}

func (s *MemStore) SaveTestCycles(_ context.Context, projectKey string, cycles []domain.TestCycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles[projectKey] = append(s.cycles[projectKey], cycles...)
	return nil
}

func (s *MemStore) GetTestCycles(_ context.Context, projectKey string) ([]domain.TestCycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TestCycle(nil), s.cycles[projectKey]...), nil
}

func (s *MemStore) SaveTestExecutions(_ context.Context, projectKey string, execs []domain.TestExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[projectKey] = append(s.execs[projectKey], execs...)
	return nil
}

func (s *MemStore) GetTestExecutions(_ context.Context, projectKey string) ([]domain.TestExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TestExecution(nil), s.execs[projectKey]...), nil
}

func (s *MemStore) SaveAttachment(_ context.Context, projectKey string, a domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[projectKey] = append(s.attachments[projectKey], a)
	return nil
}

func (s *MemStore) GetAttachments(_ context.Context, projectKey string, ownerType domain.AttachmentOwnerKind, ownerID string) ([]domain.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Attachment
	for _, a := range s.attachments[projectKey] {
		if a.RelatedType == ownerType && a.RelatedID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemStore) CountEntities(_ context.Context, projectKey string, t controlplane.EntityType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t {
	case controlplane.EntityFolder:
		return len(s.folders[projectKey]), nil
	case controlplane.EntityTestCase:
		return len(s.cases[projectKey]), nil
	case controlplane.EntityTestCycle:
		return len(s.cycles[projectKey]), nil
	case controlplane.EntityTestExecution:
		return len(s.execs[projectKey]), nil
	default:
		return 0, nil
	}
}

func (s *MemStore) SaveTransformedProject(_ context.Context, projectKey string, p domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transformedProjects[projectKey] = p
	return nil
}

func (s *MemStore) SaveTransformedModule(_ context.Context, projectKey string, m TransformedModule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transformedModules[projectKey] = append(s.transformedModules[projectKey], m)
	return nil
}

func (s *MemStore) GetTransformedModulesByLevel(_ context.Context, projectKey string) ([][]TransformedModule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byLevel := map[int][]TransformedModule{}
	max := 0
	for _, m := range s.transformedModules[projectKey] {
		byLevel[m.Level] = append(byLevel[m.Level], m)
		if m.Level > max {
			max = m.Level
		}
	}
	out := make([][]TransformedModule, max+1)
	for lvl := 0; lvl <= max; lvl++ {
		out[lvl] = byLevel[lvl]
	}
	return out, nil
}

func (s *MemStore) SaveTransformedTestCase(_ context.Context, projectKey string, c TransformedTestCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transformedCases[projectKey] = append(s.transformedCases[projectKey], c)
	return nil
}

func (s *MemStore) GetTransformedTestCases(_ context.Context, projectKey string) ([]TransformedTestCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TransformedTestCase(nil), s.transformedCases[projectKey]...), nil
}

func (s *MemStore) SaveTransformedTestCycle(_ context.Context, projectKey string, c TransformedTestCycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transformedCycles[projectKey] = append(s.transformedCycles[projectKey], c)
	return nil
}

func (s *MemStore) GetTransformedTestCycles(_ context.Context, projectKey string) ([]TransformedTestCycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TransformedTestCycle(nil), s.transformedCycles[projectKey]...), nil
}

func (s *MemStore) SaveTransformedExecution(_ context.Context, projectKey string, e TransformedExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transformedExecs[projectKey] = append(s.transformedExecs[projectKey], e)
	return nil
}

func (s *MemStore) GetTransformedExecutions(_ context.Context, projectKey string) ([]TransformedExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TransformedExecution(nil), s.transformedExecs[projectKey]...), nil
}

func (s *MemStore) DeleteTransformedEntities(_ context.Context, projectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transformedProjects, projectKey)
	delete(s.transformedModules, projectKey)
	delete(s.transformedCases, projectKey)
	delete(s.transformedCycles, projectKey)
	delete(s.transformedExecs, projectKey)
	return nil
}

func (s *MemStore) DeleteExtractedEntities(_ context.Context, projectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.folders, projectKey)
	delete(s.cases, projectKey)
	delete(s.cycles, projectKey)
	delete(s.execs, projectKey)
	delete(s.attachments, projectKey)
	return nil
}

func (s *MemStore) SaveEntityMapping(_ context.Context, m controlplane.EntityMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.mappings[m.ProjectKey]
	for i, e := range existing {
		if e.MappingType == m.MappingType && e.SourceID == m.SourceID {
			existing[i] = m
			return nil
		}
	}
	s.mappings[m.ProjectKey] = append(existing, m)
	return nil
}

func (s *MemStore) GetEntityMapping(_ context.Context, projectKey string, mt controlplane.MappingType, sourceID string) (controlplane.EntityMapping, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings[projectKey] {
		if m.MappingType == mt && m.SourceID == sourceID {
			return m, true, nil
		}
	}
	return controlplane.EntityMapping{}, false, nil
}

func (s *MemStore) GetEntityMappings(_ context.Context, projectKey string, mt controlplane.MappingType) ([]controlplane.EntityMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []controlplane.EntityMapping
	for _, m := range s.mappings[projectKey] {
		if m.MappingType == mt {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemStore) GetEntityMappingsForRollback(_ context.Context, projectKey string) ([]controlplane.EntityMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order := map[controlplane.MappingType]int{
		controlplane.MappingExecutionToRun:     0,
		controlplane.MappingCycleToCycle:       1,
		controlplane.MappingTestCaseToTestCase: 2,
		controlplane.MappingFolderToModule:     3,
	}
	out := append([]controlplane.EntityMapping(nil), s.mappings[projectKey]...)
	sortByOrder(out, order)
	return out, nil
}

func sortByOrder(ms []controlplane.EntityMapping, order map[controlplane.MappingType]int) {
	for i := 1; i < len(ms); i++ {
		j := i
		for j > 0 && order[ms[j-1].MappingType] > order[ms[j].MappingType] {
			ms[j-1], ms[j] = ms[j], ms[j-1]
			j--
		}
	}
}

func (s *MemStore) GetMappedEntityID(_ context.Context, projectKey string, mt controlplane.MappingType, sourceID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings[projectKey] {
		if m.MappingType == mt && m.SourceID == sourceID {
			return m.TargetID, true, nil
		}
	}
	return "", false, nil
}

func (s *MemStore) CountEntityMappings(_ context.Context, projectKey string, mt controlplane.MappingType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.mappings[projectKey] {
		if m.MappingType == mt {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) DeleteEntityMappings(_ context.Context, projectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, projectKey)
	return nil
}

func (s *MemStore) MarkMappingsRolledBack(_ context.Context, projectKey string, mt controlplane.MappingType, residue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.mappings[projectKey]
	for i, m := range existing {
		if m.MappingType == mt {
			existing[i].RolledBack = true
			existing[i].Residue = residue
		}
	}
	return nil
}

func (s *MemStore) GetMigrationState(_ context.Context, projectKey string) (controlplane.MigrationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.migrationStates[projectKey]
	if !ok {
		return controlplane.MigrationState{
			ProjectKey:           projectKey,
			ExtractionStatus:     controlplane.StatusNotStarted,
			TransformationStatus: controlplane.StatusNotStarted,
			LoadingStatus:        controlplane.StatusNotStarted,
			RollbackStatus:       controlplane.StatusNotStarted,
		}, nil
	}
	return st, nil
}

func (s *MemStore) UpdateMigrationState(_ context.Context, st controlplane.MigrationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrationStates[st.ProjectKey] = st
	return nil
}

func (s *MemStore) DeleteMigrationState(_ context.Context, projectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.migrationStates, projectKey)
	return nil
}

func batchKey(t controlplane.EntityType, n int) string {
	return string(t) + "/" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (s *MemStore) CreateOrUpdateEntityBatch(_ context.Context, b controlplane.EntityBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.batches[b.ProjectKey]
	if !ok {
		m = map[string]controlplane.EntityBatch{}
		s.batches[b.ProjectKey] = m
	}
	k := batchKey(b.EntityType, b.BatchNumber)
	if existing, ok := m[k]; ok {
		// total_batches and items_count are fixed at initialization.
		b.TotalBatches = existing.TotalBatches
		b.TotalItems = existing.TotalItems
	}
	m[k] = b
	return nil
}

func (s *MemStore) GetPendingEntityBatches(_ context.Context, projectKey string, t controlplane.EntityType) ([]controlplane.EntityBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []controlplane.EntityBatch
	for _, b := range s.batches[projectKey] {
		if b.EntityType != t {
			continue
		}
		switch b.Status {
		case controlplane.StatusNotStarted, controlplane.StatusInProgress, controlplane.StatusFailed:
			out = append(out, b)
		}
	}
	sortBatches(out)
	return out, nil
}

func sortBatches(bs []controlplane.EntityBatch) {
	for i := 1; i < len(bs); i++ {
		j := i
		for j > 0 && bs[j-1].BatchNumber > bs[j].BatchNumber {
			bs[j-1], bs[j] = bs[j], bs[j-1]
			j--
		}
	}
}

func (s *MemStore) GetEntityBatchesByStatus(_ context.Context, projectKey string, t controlplane.EntityType, status controlplane.PhaseStatus, incrementalOnly bool) ([]controlplane.EntityBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []controlplane.EntityBatch
	for _, b := range s.batches[projectKey] {
		if b.EntityType == t && b.Status == status && (!incrementalOnly || b.IsIncremental) {
			out = append(out, b)
		}
	}
	sortBatches(out)
	return out, nil
}

func (s *MemStore) GetIncompleteBatches(_ context.Context, projectKey string) ([]controlplane.EntityBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []controlplane.EntityBatch
	for _, b := range s.batches[projectKey] {
		if b.Status != controlplane.StatusCompleted {
			out = append(out, b)
		}
	}
	sortBatches(out)
	return out, nil
}

func (s *MemStore) DeleteEntityBatches(_ context.Context, projectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, projectKey)
	return nil
}

func (s *MemStore) SaveWorkflowEvent(_ context.Context, e controlplane.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ProjectKey] = append(s.events[e.ProjectKey], e)
	return nil
}

func (s *MemStore) GetWorkflowEvents(_ context.Context, projectKey string) ([]controlplane.WorkflowEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]controlplane.WorkflowEvent(nil), s.events[projectKey]...), nil
}

func (s *MemStore) DeleteWorkflowEvents(_ context.Context, projectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, projectKey)
	return nil
}

func (s *MemStore) SaveValidationIssue(_ context.Context, i controlplane.ValidationIssue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues[i.ProjectKey] = append(s.issues[i.ProjectKey], i)
	return nil
}

func (s *MemStore) GetValidationIssues(_ context.Context, projectKey string, resolvedFilter *bool, level *controlplane.IssueLevel) ([]controlplane.ValidationIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []controlplane.ValidationIssue
	for _, i := range s.issues[projectKey] {
		if resolvedFilter != nil && i.Resolved != *resolvedFilter {
			continue
		}
		if level != nil && i.Level != *level {
			continue
		}
		out = append(out, i)
	}
	return out, nil
}

func (s *MemStore) SaveValidationReport(_ context.Context, r controlplane.ValidationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ProjectKey] = append(s.reports[r.ProjectKey], r)
	return nil
}

func (s *MemStore) GetValidationReports(_ context.Context, projectKey string) ([]controlplane.ValidationReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]controlplane.ValidationReport(nil), s.reports[projectKey]...), nil
}

func (s *MemStore) DeleteValidationIssues(_ context.Context, projectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.issues, projectKey)
	return nil
}

func (s *MemStore) DeleteValidationReports(_ context.Context, projectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reports, projectKey)
	return nil
}

func (s *MemStore) SaveValidationRule(_ context.Context, r controlplane.ValidationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = append(s.rules[r.ID][:0], r)
	return nil
}

func (s *MemStore) EntityExists(_ context.Context, projectKey string, t controlplane.EntityType, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t {
	case controlplane.EntityFolder:
		for _, f := range s.folders[projectKey] {
			if f.ID == id {
				return true, nil
			}
		}
	case controlplane.EntityTestCase:
		for _, c := range s.cases[projectKey] {
			if c.ID == id {
				return true, nil
			}
		}
	case controlplane.EntityTestCycle:
		for _, c := range s.cycles[projectKey] {
			if c.ID == id {
				return true, nil
			}
		}
	case controlplane.EntityTestExecution:
		for _, e := range s.execs[projectKey] {
			if e.ID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *MemStore) FindDuplicates(_ context.Context, projectKey string, t controlplane.EntityType, field, value, excludeID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	if t == controlplane.EntityTestCase && strings.EqualFold(field, "key") {
		for _, c := range s.cases[projectKey] {
			if c.ID != excludeID && c.Key == value {
				out = append(out, c.ID)
			}
		}
	}
	return out, nil
}

func (s *MemStore) GetSourceEntityCounts(_ context.Context, projectKey string) (map[controlplane.EntityType]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[controlplane.EntityType]int{
		controlplane.EntityFolder:       len(s.folders[projectKey]),
		controlplane.EntityTestCase:     len(s.cases[projectKey]),
		controlplane.EntityTestCycle:    len(s.cycles[projectKey]),
		controlplane.EntityTestExecution: len(s.execs[projectKey]),
	}, nil
}

func (s *MemStore) GetTargetEntityCounts(_ context.Context, projectKey string) (map[controlplane.MappingType]int, error) {
	return s.GetEntityMappingCounts(context.Background(), projectKey)
}

func (s *MemStore) GetEntityMappingCounts(_ context.Context, projectKey string) (map[controlplane.MappingType]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[controlplane.MappingType]int{}
	for _, m := range s.mappings[projectKey] {
		out[m.MappingType]++
	}
	return out, nil
}
