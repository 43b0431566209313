package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/heymumford/ztoq-migrate/internal/controlplane"
)

// GetStatus returns the project's current per-phase status snapshot.
func (s *Server) GetStatus(c *gin.Context) {
	key := c.Param("key")
	o, err := s.build(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, o.CurrentState())
}

// GetEvents returns the project's recorded workflow events.
func (s *Server) GetEvents(c *gin.Context) {
	key := c.Param("key")
	events, err := s.store.GetWorkflowEvents(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

// GetValidationReport returns the project's most recent validation report,
// or 404 if none has been recorded yet.
func (s *Server) GetValidationReport(c *gin.Context) {
	key := c.Param("key")
	reports, err := s.store.GetValidationReports(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(reports) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no validation report recorded for project"})
		return
	}
	c.JSON(http.StatusOK, reports[len(reports)-1])
}

// StartMigrate runs the Extract/Transform/Load workflow (plus Validate when
// validation is enabled) in the background; runAsync broadcasts the run's
// outcome over the WebSocket hub when it ends. Individual phase transitions
// are recorded as workflow events and are not broadcast.
func (s *Server) StartMigrate(c *gin.Context) {
	s.runAsync(c, func(ctx context.Context, key string) error {
		o, err := s.build(ctx, key)
		if err != nil {
			return err
		}
		phases := []controlplane.Phase{
			controlplane.PhaseExtract, controlplane.PhaseTransform, controlplane.PhaseLoad,
		}
		if s.config.ValidationEnabled {
			phases = append(phases, controlplane.PhaseValidate)
		}
		return o.RunWorkflow(ctx, phases)
	})
}

// StartResume resumes the workflow from wherever it last stopped.
func (s *Server) StartResume(c *gin.Context) {
	s.runAsync(c, func(ctx context.Context, key string) error {
		o, err := s.build(ctx, key)
		if err != nil {
			return err
		}
		return o.ResumeWorkflow(ctx)
	})
}

// StartIncremental runs an incremental migration of entities changed since
// the project's last run.
func (s *Server) StartIncremental(c *gin.Context) {
	s.runAsync(c, func(ctx context.Context, key string) error {
		o, err := s.build(ctx, key)
		if err != nil {
			return err
		}
		return o.RunIncrementalMigration(ctx)
	})
}

// StartRollback rolls back completed or partial phases in reverse order.
func (s *Server) StartRollback(c *gin.Context) {
	s.runAsync(c, func(ctx context.Context, key string) error {
		o, err := s.build(ctx, key)
		if err != nil {
			return err
		}
		return o.Rollback(ctx)
	})
}

// runAsync accepts the request, launches run in the background, and
// broadcasts its outcome over the WebSocket hub when it finishes - the
// caller polls GetStatus/GetEvents or listens on /ws for progress.
func (s *Server) runAsync(c *gin.Context, run func(ctx context.Context, key string) error) {
	key := c.Param("key")
	c.JSON(http.StatusAccepted, gin.H{"project_key": key, "status": "accepted"})

	go func() {
		ctx := context.Background()
		err := run(ctx, key)
		if err != nil {
			s.logger.Error("async workflow run failed", zap.String("project_key", key), zap.Error(err))
			s.hub.BroadcastEvent("workflow.failed", gin.H{"project_key": key, "error": err.Error()})
			return
		}
		s.hub.BroadcastEvent("workflow.completed", gin.H{"project_key": key})
	}()
}
