// Package migrationstate implements the per-project phase status machine
// (spec C4): it loads state on construction, persists updates atomically,
// exposes the can_* phase-ordering guards, and owns the opaque metadata
// blob incremental mode stores its last-run timestamp in.
package migrationstate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/store"
)

// State wraps a project's persisted MigrationState with the transition
// guards spec §3.3 requires.
type State struct {
	store      store.Store
	projectKey string
	current    controlplane.MigrationState
}

// Load reads state on construction; an absent row is treated as all
// not_started rather than an error.
func Load(ctx context.Context, s store.Store, projectKey string) (*State, error) {
	cur, err := s.GetMigrationState(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	return &State{store: s, projectKey: projectKey, current: cur}, nil
}

func (s *State) Current() controlplane.MigrationState { return s.current }

// MetadataDict parses the opaque metadata field, returning an empty map on
// parse error rather than raising.
func (s *State) MetadataDict() map[string]any {
	return s.current.MetadataDict()
}

// SetMetadata merges the given keys into the metadata blob and persists it
// immediately.
func (s *State) SetMetadata(ctx context.Context, updates map[string]any) error {
	merged := s.current.MetadataDict()
	for k, v := range updates {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	s.current.MetaData = raw
	return s.store.UpdateMigrationState(ctx, s.current)
}

func (s *State) CanExtract() bool {
	return transitionAllowed(s.current.ExtractionStatus)
}

func (s *State) CanTransform() bool {
	return s.current.ExtractionStatus == controlplane.StatusCompleted && transitionAllowed(s.current.TransformationStatus)
}

func (s *State) CanLoad() bool {
	return s.current.TransformationStatus == controlplane.StatusCompleted && transitionAllowed(s.current.LoadingStatus)
}

// CanValidate holds after any phase has completed; validation itself never
// gates on a single predecessor the way Transform/Load do.
func (s *State) CanValidate() bool {
	return s.current.ExtractionStatus == controlplane.StatusCompleted ||
		s.current.TransformationStatus == controlplane.StatusCompleted ||
		s.current.LoadingStatus == controlplane.StatusCompleted
}

func (s *State) CanRollback() bool {
	return s.current.ExtractionStatus == controlplane.StatusCompleted ||
		s.current.ExtractionStatus == controlplane.StatusPartial ||
		s.current.TransformationStatus == controlplane.StatusCompleted ||
		s.current.TransformationStatus == controlplane.StatusPartial ||
		s.current.LoadingStatus == controlplane.StatusCompleted ||
		s.current.LoadingStatus == controlplane.StatusPartial
}

// transitionAllowed implements invariant 1: a phase may move to
// in_progress only from {not_started, failed, partial}.
func transitionAllowed(cur controlplane.PhaseStatus) bool {
	switch cur {
	case controlplane.StatusNotStarted, controlplane.StatusFailed, controlplane.StatusPartial:
		return true
	default:
		return false
	}
}

// UpdateExtraction, UpdateTransformation, UpdateLoading, and
// UpdateRollback persist a new status with its error message atomically.
// Setting a status to completed clears any prior error; passing a
// non-empty errMsg alongside StatusCompleted is rejected by clearing the
// message rather than raising, matching the "clears when error is none
// and status is terminal-success" contract (spec §4.4).
func (s *State) UpdateExtraction(ctx context.Context, status controlplane.PhaseStatus, errMsg string) error {
	s.current.ExtractionStatus = status
	return s.persist(ctx, status, errMsg)
}

func (s *State) UpdateTransformation(ctx context.Context, status controlplane.PhaseStatus, errMsg string) error {
	s.current.TransformationStatus = status
	return s.persist(ctx, status, errMsg)
}

func (s *State) UpdateLoading(ctx context.Context, status controlplane.PhaseStatus, errMsg string) error {
	s.current.LoadingStatus = status
	return s.persist(ctx, status, errMsg)
}

func (s *State) UpdateRollback(ctx context.Context, status controlplane.PhaseStatus, errMsg string) error {
	s.current.RollbackStatus = status
	return s.persist(ctx, status, errMsg)
}

func (s *State) persist(ctx context.Context, status controlplane.PhaseStatus, errMsg string) error {
	if status == controlplane.StatusCompleted {
		errMsg = ""
	}
	s.current.ErrorMessage = errMsg
	s.current.ProjectKey = s.projectKey
	return s.store.UpdateMigrationState(ctx, s.current)
}

// SetIncremental persists the is_incremental flag.
func (s *State) SetIncremental(ctx context.Context, incremental bool) error {
	s.current.IsIncremental = incremental
	return s.store.UpdateMigrationState(ctx, s.current)
}

// RecordRunTimestamp stamps LastRunTimestamp with now and persists it; used
// by incremental runs on success (spec §4.9).
func (s *State) RecordRunTimestamp(ctx context.Context, now time.Time) error {
	s.current.LastRunTimestamp = &now
	return s.store.UpdateMigrationState(ctx, s.current)
}
