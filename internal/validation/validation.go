// Package validation implements the rule registry, execution, and issue
// aggregation framework (spec C5), grounded on the teacher's audit.go
// (named check list, streamed results, warning/blocker accumulation,
// CanProceed gate) and ztoq's validation.py (registry keyed by scope and
// phase, synthetic SYSTEM/ERROR issues for rule failures).
package validation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/observability"
)

// Rule is the sealed interface every concrete validation rule in
// internal/validation/rules.go implements; dispatch is static (each
// concrete struct's own Validate method), never a reflective lookup.
type Rule interface {
	ID() string
	Scope() controlplane.Scope
	Phase() controlplane.Phase
	Enabled() bool
	Validate(ctx context.Context, entity any, vctx Context) ([]controlplane.ValidationIssue, error)
}

// Context is the per-call environment a rule may need beyond the entity
// itself: a store handle for relationship/uniqueness lookups, a second
// entity for comparison rules, and the status/field mapping tables the
// transform-time rules check against.
type Context struct {
	ProjectKey     string
	Phase          controlplane.Phase
	Store          RelationshipStore
	SourceEntity   any
	TargetEntity   any
	StatusMappings map[string]string
	FieldMapper    func(field string, raw any) (any, error)
}

// RelationshipStore is the narrow slice of store.Store the Relationship,
// UniqueValue, and ReferentialIntegrity rules need; kept as its own
// interface so validation doesn't import the full store surface.
type RelationshipStore interface {
	EntityExists(ctx context.Context, projectKey string, t controlplane.EntityType, id string) (bool, error)
	FindDuplicates(ctx context.Context, projectKey string, t controlplane.EntityType, field, value, excludeID string) ([]string, error)
	GetEntityMapping(ctx context.Context, projectKey string, mt controlplane.MappingType, sourceID string) (controlplane.EntityMapping, bool, error)
}

// Registry indexes rules by id and by (scope, phase).
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]Rule
	byScope map[controlplane.Scope]map[controlplane.Phase][]Rule
	onDuplicate func(id string)
}

func NewRegistry() *Registry {
	return &Registry{
		byID:    map[string]Rule{},
		byScope: map[controlplane.Scope]map[controlplane.Phase][]Rule{},
	}
}

// Register adds a rule, overwriting any existing rule with the same id. A
// duplicate id invokes onDuplicate (if set) as a warning hook rather than
// failing.
func (r *Registry) Register(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, exists := r.byID[rule.ID()]; exists {
		if r.onDuplicate != nil {
			r.onDuplicate(rule.ID())
		}
		list := r.byScope[old.Scope()][old.Phase()]
		for i, x := range list {
			if x.ID() == rule.ID() {
				r.byScope[old.Scope()][old.Phase()] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	r.byID[rule.ID()] = rule
	if r.byScope[rule.Scope()] == nil {
		r.byScope[rule.Scope()] = map[controlplane.Phase][]Rule{}
	}
	r.byScope[rule.Scope()][rule.Phase()] = append(r.byScope[rule.Scope()][rule.Phase()], rule)
}

// OnDuplicate installs a hook invoked whenever Register overwrites an
// existing rule id.
func (r *Registry) OnDuplicate(fn func(id string)) { r.onDuplicate = fn }

// RulesFor returns every enabled rule matching (scope, phase).
func (r *Registry) RulesFor(scope controlplane.Scope, phase controlplane.Phase) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Rule
	for _, rule := range r.byScope[scope][phase] {
		if rule.Enabled() {
			out = append(out, rule)
		}
	}
	return out
}

// Counters is the O(1) aggregation state the manager maintains.
type Counters struct {
	ByLevel map[controlplane.IssueLevel]int
	byScopePhase map[controlplane.Scope]map[controlplane.Phase]int
}

func newCounters() *Counters {
	return &Counters{
		ByLevel:      map[controlplane.IssueLevel]int{},
		byScopePhase: map[controlplane.Scope]map[controlplane.Phase]int{},
	}
}

func (c *Counters) record(i controlplane.ValidationIssue) {
	c.ByLevel[i.Level]++
	if c.byScopePhase[i.Scope] == nil {
		c.byScopePhase[i.Scope] = map[controlplane.Phase]int{}
	}
	c.byScopePhase[i.Scope][i.Phase]++
}

func (c *Counters) CountFor(scope controlplane.Scope, phase controlplane.Phase) int {
	return c.byScopePhase[scope][phase]
}

// IssueSink persists validation issues; store.Store satisfies it.
type IssueSink interface {
	SaveValidationIssue(ctx context.Context, i controlplane.ValidationIssue) error
}

// Manager ties a Registry to a persisted issue stream and maintains
// aggregation counters for O(1) has_critical_issues/has_error_issues
// queries.
type Manager struct {
	mu        sync.Mutex
	registry  *Registry
	sink      IssueSink
	counters  *Counters
	issues    []controlplane.ValidationIssue
}

func NewManager(registry *Registry, sink IssueSink) *Manager {
	return &Manager{registry: registry, sink: sink, counters: newCounters()}
}

// ExecuteValidation runs every enabled rule matching (scope, phase)
// against entity. A rule that returns an error (the Go analogue of an
// exception escaping) yields a synthetic SYSTEM/ERROR issue instead of
// propagating, and execution continues with the remaining rules.
func (m *Manager) ExecuteValidation(ctx context.Context, projectKey string, entity any, scope controlplane.Scope, phase controlplane.Phase, vctx Context) []controlplane.ValidationIssue {
	vctx.ProjectKey = projectKey
	vctx.Phase = phase
	var collected []controlplane.ValidationIssue
	for _, rule := range m.registry.RulesFor(scope, phase) {
		issues, err := m.runRule(ctx, rule, entity, vctx)
		if err != nil {
			issues = append(issues, m.systemErrorIssue(projectKey, phase, rule.ID(), err))
		}
		for _, i := range issues {
			i.ProjectKey = projectKey
			i.Phase = phase
			if i.ID == "" {
				i.ID = uuid.NewString()
			}
			if i.Timestamp.IsZero() {
				i.Timestamp = time.Now()
			}
			m.record(i)
			collected = append(collected, i)
		}
	}
	return collected
}

// runRule invokes a rule's Validate, converting a panic into an error so a
// misbehaving rule can never crash the caller.
func (m *Manager) runRule(ctx context.Context, rule Rule, entity any, vctx Context) (issues []controlplane.ValidationIssue, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s panicked: %v", rule.ID(), r)
		}
	}()
	return rule.Validate(ctx, entity, vctx)
}

func (m *Manager) systemErrorIssue(projectKey string, phase controlplane.Phase, ruleID string, err error) controlplane.ValidationIssue {
	return controlplane.ValidationIssue{
		ID:         fmt.Sprintf("rule_execution_error_%d", time.Now().UnixNano()),
		ProjectKey: projectKey,
		Level:      controlplane.LevelError,
		Scope:      controlplane.ScopeSystem,
		Phase:      phase,
		Message:    fmt.Sprintf("rule %q failed to execute: %v", ruleID, err),
		Timestamp:  time.Now(),
	}
}

func (m *Manager) record(i controlplane.ValidationIssue) {
	m.mu.Lock()
	m.issues = append(m.issues, i)
	m.counters.record(i)
	m.mu.Unlock()
	observability.ValidationIssues.WithLabelValues(string(i.Scope), string(i.Level)).Inc()
	if m.sink != nil {
		_ = m.sink.SaveValidationIssue(context.Background(), i)
	}
}

// HasCriticalIssues is O(1).
func (m *Manager) HasCriticalIssues() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters.ByLevel[controlplane.LevelCritical] > 0
}

// HasErrorIssues is O(1).
func (m *Manager) HasErrorIssues() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters.ByLevel[controlplane.LevelError] > 0
}

// Issues returns every issue recorded so far, in recording order.
func (m *Manager) Issues() []controlplane.ValidationIssue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]controlplane.ValidationIssue(nil), m.issues...)
}

const defaultMaxIssuesPerCategory = 100

// Report builds the aggregated report described in spec §4.5: counts by
// level/scope/phase, the four convenience counters and has_* flags, and
// (when withDetails) a truncated issues-by-level breakdown.
func (m *Manager) Report(projectKey string, withDetails bool) controlplane.ValidationReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := map[string]int{}
	for lvl, n := range m.counters.ByLevel {
		counts[lvl.String()] = n
	}
	byScope := map[string]int{}
	byPhase := map[string]int{}
	for scope, phases := range m.counters.byScopePhase {
		for phase, n := range phases {
			byScope[string(scope)] += n
			byPhase[string(phase)] += n
		}
	}

	summary := map[string]any{
		"total_issues":          len(m.issues),
		"counts_by_scope":       byScope,
		"counts_by_phase":       byPhase,
		"critical_issue_count":  m.counters.ByLevel[controlplane.LevelCritical],
		"error_issue_count":     m.counters.ByLevel[controlplane.LevelError],
		"warning_issue_count":   m.counters.ByLevel[controlplane.LevelWarning],
		"info_issue_count":      m.counters.ByLevel[controlplane.LevelInfo],
		"has_critical_issues":   m.counters.ByLevel[controlplane.LevelCritical] > 0,
		"has_error_issues":      m.counters.ByLevel[controlplane.LevelError] > 0,
	}

	if withDetails {
		byLevel := map[string]any{}
		for _, lvl := range []controlplane.IssueLevel{controlplane.LevelCritical, controlplane.LevelError, controlplane.LevelWarning, controlplane.LevelInfo} {
			var matching []controlplane.ValidationIssue
			for _, i := range m.issues {
				if i.Level == lvl {
					matching = append(matching, i)
				}
			}
			truncated := len(matching) > defaultMaxIssuesPerCategory
			if truncated {
				matching = matching[:defaultMaxIssuesPerCategory]
			}
			byLevel[lvl.String()] = map[string]any{
				"count":     len(matching),
				"truncated": truncated,
				"issues":    matching,
			}
		}
		summary["issues_by_level"] = byLevel
	}

	return controlplane.ValidationReport{
		ProjectKey:         projectKey,
		CreatedAt:          time.Now(),
		Summary:            summary,
		IssueCountsByLevel: counts,
	}
}
