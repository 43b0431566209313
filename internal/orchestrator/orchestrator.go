// Package orchestrator implements the top-level workflow state machine
// (spec C9): run_workflow/resume_workflow/run_incremental_migration/
// rollback over the canonical Extract -> Transform -> Load -> Validate
// sequence, driving one internal/etl.Executor per project. Grounded on
// _examples/original_source/ztoq/workflow_orchestrator.py's phase-sequence
// runner and the teacher's internal/migration/engine.go, whose
// executeMigration wraps a phase sequence in a single deferred
// finalization block (final status + event emission on every exit path) -
// generalized here from one strategy call into a loop over
// controlplane.Phase, each phase getting its own finalization rather than
// the whole migration sharing one.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/heymumford/ztoq-migrate/internal/client"
	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/etl"
	"github.com/heymumford/ztoq-migrate/internal/migrationstate"
	"github.com/heymumford/ztoq-migrate/internal/observability"
	"github.com/heymumford/ztoq-migrate/internal/retry"
	"github.com/heymumford/ztoq-migrate/internal/store"
	"github.com/heymumford/ztoq-migrate/internal/validation"
	"go.uber.org/zap"
)

// Config configures one project's Orchestrator (spec §4.9's
// WorkflowConfig).
type Config struct {
	ProjectKey string
	Source     client.SourceClient
	Target     client.TargetClient
	Store      store.Store

	BatchSize      int
	MaxWorkers     int
	AttachmentsDir string
	OutputDir      string
	Timeout        time.Duration

	ValidationEnabled bool
	RollbackEnabled   bool

	Retry    retry.Policy
	Logger   *observability.Logger
	Registry *validation.Registry
}

// Orchestrator drives one project's migration workflow: it owns the phase
// state machine and delegates the actual entity work to an etl.Executor.
type Orchestrator struct {
	cfg       Config
	store     store.Store
	state     *migrationstate.State
	executor  *etl.Executor
	validator *validation.Manager
	logger    *observability.Logger
}

// canonicalOrder is the fixed phase sequence spec §4.9 runs requested
// phases in, regardless of the order they were requested.
var canonicalOrder = []controlplane.Phase{
	controlplane.PhaseExtract,
	controlplane.PhaseTransform,
	controlplane.PhaseLoad,
	controlplane.PhaseValidate,
	controlplane.PhaseRollback,
}

// New loads persisted state for cfg.ProjectKey and builds an Orchestrator
// ready to run phases against it.
func New(ctx context.Context, cfg Config) (*Orchestrator, error) {
	state, err := migrationstate.Load(ctx, cfg.Store, cfg.ProjectKey)
	if err != nil {
		return nil, fmt.Errorf("load migration state for %s: %w", cfg.ProjectKey, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = &observability.Logger{Logger: zap.NewNop()}
	}

	registry := cfg.Registry
	if registry == nil {
		registry = validation.DefaultRegistry()
	}

	exec := etl.New(etl.Options{
		Source:         cfg.Source,
		Target:         cfg.Target,
		Store:          cfg.Store,
		Retry:          cfg.Retry,
		Logger:         logger,
		BatchSize:      cfg.BatchSize,
		MaxWorkers:     cfg.MaxWorkers,
		AttachmentsDir: cfg.AttachmentsDir,
	})

	return &Orchestrator{
		cfg:       cfg,
		store:     cfg.Store,
		state:     state,
		executor:  exec,
		validator: validation.NewManager(registry, cfg.Store),
		logger:    logger,
	}, nil
}

// RunWorkflow executes the requested phases in canonical order. A phase
// already completed is skipped (rollback never is, since re-running it is
// always meaningful when requested). The first phase to fail stops the
// run; earlier phases' results stand.
func (o *Orchestrator) RunWorkflow(ctx context.Context, phases []controlplane.Phase) error {
	observability.ActiveMigrations.Inc()
	defer observability.ActiveMigrations.Dec()

	requested := toSet(phases)
	for _, phase := range canonicalOrder {
		if !requested[phase] {
			continue
		}
		if err := o.runPhase(ctx, phase); err != nil {
			return err
		}
	}
	return nil
}

// ResumeWorkflow re-runs every phase not already completed, always
// including validate (spec §4.9: a resume always re-checks data quality
// even when every data phase is already done).
func (o *Orchestrator) ResumeWorkflow(ctx context.Context, phases ...controlplane.Phase) error {
	if len(phases) == 0 {
		phases = canonicalOrder[:4] // extract, transform, load, validate; rollback is never auto-selected
	}
	var toRun []controlplane.Phase
	cur := o.state.Current()
	for _, phase := range phases {
		if phase == controlplane.PhaseValidate || o.statusOf(cur, phase) != controlplane.StatusCompleted {
			toRun = append(toRun, phase)
		}
	}
	return o.RunWorkflow(ctx, toRun)
}

// RunIncrementalMigration marks the run incremental, executes the
// requested phases (defaulting to extract/transform/load/validate), and
// records the run timestamp on success so the next incremental run only
// considers entities changed after this point.
func (o *Orchestrator) RunIncrementalMigration(ctx context.Context, phases ...controlplane.Phase) error {
	if len(phases) == 0 {
		phases = canonicalOrder[:4]
	}
	if err := o.state.SetIncremental(ctx, true); err != nil {
		return fmt.Errorf("set incremental flag for %s: %w", o.cfg.ProjectKey, err)
	}
	if err := o.RunWorkflow(ctx, phases); err != nil {
		return err
	}
	return o.state.RecordRunTimestamp(ctx, time.Now())
}

// Rollback runs the rollback phase alone; it is only meaningful when
// RollbackEnabled, and runPhase's canRun check enforces that.
func (o *Orchestrator) Rollback(ctx context.Context) error {
	return o.runPhase(ctx, controlplane.PhaseRollback)
}

// CurrentState returns the project's current per-phase status snapshot.
func (o *Orchestrator) CurrentState() controlplane.MigrationState {
	return o.state.Current()
}

func toSet(phases []controlplane.Phase) map[controlplane.Phase]bool {
	out := make(map[controlplane.Phase]bool, len(phases))
	for _, p := range phases {
		out[p] = true
	}
	return out
}

func (o *Orchestrator) statusOf(cur controlplane.MigrationState, phase controlplane.Phase) controlplane.PhaseStatus {
	switch phase {
	case controlplane.PhaseExtract:
		return cur.ExtractionStatus
	case controlplane.PhaseTransform:
		return cur.TransformationStatus
	case controlplane.PhaseLoad:
		return cur.LoadingStatus
	case controlplane.PhaseRollback:
		return cur.RollbackStatus
	default:
		return controlplane.StatusNotStarted
	}
}

func (o *Orchestrator) canRun(phase controlplane.Phase) bool {
	switch phase {
	case controlplane.PhaseExtract:
		return o.state.CanExtract()
	case controlplane.PhaseTransform:
		return o.state.CanTransform()
	case controlplane.PhaseLoad:
		return o.state.CanLoad()
	case controlplane.PhaseValidate:
		return o.state.CanValidate()
	case controlplane.PhaseRollback:
		return o.cfg.RollbackEnabled && o.state.CanRollback()
	default:
		return false
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, phase controlplane.Phase, status controlplane.PhaseStatus, errMsg string) error {
	switch phase {
	case controlplane.PhaseExtract:
		return o.state.UpdateExtraction(ctx, status, errMsg)
	case controlplane.PhaseTransform:
		return o.state.UpdateTransformation(ctx, status, errMsg)
	case controlplane.PhaseLoad:
		return o.state.UpdateLoading(ctx, status, errMsg)
	case controlplane.PhaseRollback:
		return o.state.UpdateRollback(ctx, status, errMsg)
	default:
		return nil // validate has no persisted phase-status column; its outcome lives in ValidationReport
	}
}

// runPhase is the single finalization point every phase goes through: gate
// check, in_progress transition + start event, dispatch, completion
// transition + end event, on every exit path (success, per-entity partial
// failure, or hard error) - the teacher's executeMigration deferred block,
// run once per phase instead of once per whole migration.
func (o *Orchestrator) runPhase(ctx context.Context, phase controlplane.Phase) error {
	if phase != controlplane.PhaseRollback && o.statusOf(o.state.Current(), phase) == controlplane.StatusCompleted {
		o.logger.Info("phase already completed, skipping", zap.String("phase", string(phase)))
		return nil
	}
	if !o.canRun(phase) {
		return fmt.Errorf("orchestrator: phase %s is not ready to run for %s", phase, o.cfg.ProjectKey)
	}

	phaseCtx := ctx
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	o.emit(ctx, phase, "started", fmt.Sprintf("phase %s started", phase))
	if err := o.setStatus(ctx, phase, controlplane.StatusInProgress, ""); err != nil {
		return fmt.Errorf("mark phase %s in progress: %w", phase, err)
	}

	started := time.Now()
	result, runErr := o.dispatch(phaseCtx, phase)

	status := result.Status
	msg := ""
	if runErr != nil {
		status = controlplane.StatusFailed
		msg = runErr.Error()
	}
	observability.PhaseDuration.WithLabelValues(string(phase), string(status)).Observe(time.Since(started).Seconds())
	observability.MigrationStatus.WithLabelValues(string(phase), string(status)).Inc()
	if result.ProcessedItems > 0 {
		observability.EntitiesProcessed.WithLabelValues("all", string(phase), "succeeded").Add(float64(result.ProcessedItems))
	}
	if result.FailedItems > 0 {
		observability.EntitiesProcessed.WithLabelValues("all", string(phase), "failed").Add(float64(result.FailedItems))
	}
	if err := o.setStatus(ctx, phase, status, msg); err != nil {
		return fmt.Errorf("finalize phase %s: %w", phase, err)
	}
	o.emit(ctx, phase, string(status), fmt.Sprintf("phase %s finished: %s", phase, status))

	if runErr != nil {
		return fmt.Errorf("phase %s: %w", phase, runErr)
	}
	if status == controlplane.StatusFailed {
		return fmt.Errorf("phase %s: %s", phase, firstReason(result))
	}
	return nil
}

// dispatch runs one phase's actual work and reports a merged BatchResult;
// validate and rollback have no per-batch shape, so they report a
// synthetic completed/failed BatchResult reflecting their own outcome.
func (o *Orchestrator) dispatch(ctx context.Context, phase controlplane.Phase) (etl.BatchResult, error) {
	switch phase {
	case controlplane.PhaseExtract:
		return o.runExtract(ctx)
	case controlplane.PhaseTransform:
		return o.runTransform(ctx)
	case controlplane.PhaseLoad:
		return o.runLoad(ctx)
	case controlplane.PhaseValidate:
		if err := o.runValidate(ctx); err != nil {
			return etl.BatchResult{Status: controlplane.StatusFailed, FailedReasons: []string{err.Error()}}, nil
		}
		return etl.BatchResult{Status: controlplane.StatusCompleted}, nil
	case controlplane.PhaseRollback:
		if err := o.runRollback(ctx); err != nil {
			return etl.BatchResult{}, err
		}
		return etl.BatchResult{Status: controlplane.StatusRolledBack}, nil
	default:
		return etl.BatchResult{}, fmt.Errorf("unknown phase %q", phase)
	}
}

func firstReason(r etl.BatchResult) string {
	if len(r.FailedReasons) > 0 {
		return r.FailedReasons[0]
	}
	return "no items processed successfully"
}

func (o *Orchestrator) emit(ctx context.Context, phase controlplane.Phase, status, message string) {
	event := controlplane.NewWorkflowEvent(o.cfg.ProjectKey, phase, status, message)
	if err := o.store.SaveWorkflowEvent(ctx, event); err != nil {
		o.logger.Warn("failed to persist workflow event", zap.String("phase", string(phase)), zap.Error(err))
	}
}
