// Command ztoq-migrate drives the ETL migration engine from the command
// line: run, resume, or roll back a project's Extract/Transform/Load/
// Validate workflow, grounded on the teacher's cmd/docker-migrate/main.go
// (cobra root with a PersistentPreRun that loads config and a logger, one
// subcommand per operator action, signal-driven graceful shutdown).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/heymumford/ztoq-migrate/internal/client"
	"github.com/heymumford/ztoq-migrate/internal/config"
	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/observability"
	"github.com/heymumford/ztoq-migrate/internal/orchestrator"
	"github.com/heymumford/ztoq-migrate/internal/server"
	"github.com/heymumford/ztoq-migrate/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	logger  *observability.Logger
	cfg     *config.WorkflowConfig
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ztoq-migrate",
	Short: "Test-management data migration engine",
	Long: `ztoq-migrate extracts, transforms, and loads test-management data
(folders, test cases, test cycles, and test executions) from a Source
service into a Target service, with resumable phases and rollback.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		logger, err = observability.NewLogger("info")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
			os.Exit(1)
		}

		cfg, err = config.LoadConfig(cfgFile)
		if err != nil {
			logger.Error("failed to load config", zap.Error(err))
			os.Exit(1)
		}

		if cfg.LogLevel != "" {
			if l, err := observability.NewLogger(cfg.LogLevel); err != nil {
				logger.Warn("failed to set log level, using default", zap.Error(err))
			} else {
				logger = l
			}
		}
	},
}

// buildOrchestrator wires a project's orchestrator.Orchestrator from the
// loaded config. The Source/Target HTTP clients are external collaborators
// spec.md explicitly scopes out of the engine (spec §1's non-goals); until a
// real client is supplied, the in-memory fakes stand in so every subcommand
// below exercises the real, fully-implemented phase machinery end to end.
func buildOrchestrator(ctx context.Context, projectKey string) (*orchestrator.Orchestrator, store.Store, error) {
	if projectKey == "" {
		projectKey = cfg.ProjectKey
	}
	if projectKey == "" {
		return nil, nil, fmt.Errorf("project key is required (set project_key in config or pass --project)")
	}

	s := store.New()
	oCfg := orchestrator.Config{
		ProjectKey:        projectKey,
		Source:            client.NewFakeSource(),
		Target:            client.NewFakeTarget(),
		Store:             s,
		BatchSize:         cfg.BatchSize,
		MaxWorkers:        cfg.MaxWorkers,
		AttachmentsDir:    cfg.AttachmentsDir,
		OutputDir:         cfg.OutputDir,
		Timeout:           cfg.Timeout,
		ValidationEnabled: cfg.ValidationEnabled,
		RollbackEnabled:   cfg.RollbackEnabled,
		Retry:             cfg.RetryPolicy(),
		Logger:            logger,
	}

	o, err := orchestrator.New(ctx, oCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build orchestrator: %w", err)
	}
	return o, s, nil
}

func withShutdown(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()
	return ctx, cancel
}

var projectFlag string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run the full Extract/Transform/Load/Validate workflow",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := withShutdown(context.Background())
		defer cancel()

		o, _, err := buildOrchestrator(ctx, projectFlag)
		if err != nil {
			logger.Error("failed to build orchestrator", zap.Error(err))
			os.Exit(1)
		}

		phases := []controlplane.Phase{
			controlplane.PhaseExtract, controlplane.PhaseTransform, controlplane.PhaseLoad,
		}
		if cfg.ValidationEnabled {
			phases = append(phases, controlplane.PhaseValidate)
		}

		if err := o.RunWorkflow(ctx, phases); err != nil {
			logger.Error("migration failed", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("migration completed")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the workflow from wherever it last stopped",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := withShutdown(context.Background())
		defer cancel()

		o, _, err := buildOrchestrator(ctx, projectFlag)
		if err != nil {
			logger.Error("failed to build orchestrator", zap.Error(err))
			os.Exit(1)
		}

		if err := o.ResumeWorkflow(ctx); err != nil {
			logger.Error("resume failed", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("resume completed")
	},
}

var incrementalCmd = &cobra.Command{
	Use:   "incremental",
	Short: "Run an incremental migration of entities changed since the last run",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := withShutdown(context.Background())
		defer cancel()

		o, _, err := buildOrchestrator(ctx, projectFlag)
		if err != nil {
			logger.Error("failed to build orchestrator", zap.Error(err))
			os.Exit(1)
		}

		if err := o.RunIncrementalMigration(ctx); err != nil {
			logger.Error("incremental migration failed", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("incremental migration completed")
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back completed or partial phases in reverse order",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := withShutdown(context.Background())
		defer cancel()

		o, _, err := buildOrchestrator(ctx, projectFlag)
		if err != nil {
			logger.Error("failed to build orchestrator", zap.Error(err))
			os.Exit(1)
		}

		if err := o.Rollback(ctx); err != nil {
			logger.Error("rollback failed", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("rollback completed")
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the project's current phase statuses",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		o, s, err := buildOrchestrator(ctx, projectFlag)
		if err != nil {
			logger.Error("failed to build orchestrator", zap.Error(err))
			os.Exit(1)
		}

		cur := o.CurrentState()
		fmt.Printf("project %s:\n", cur.ProjectKey)
		fmt.Printf("  extract:   %s\n", cur.ExtractionStatus)
		fmt.Printf("  transform: %s\n", cur.TransformationStatus)
		fmt.Printf("  load:      %s\n", cur.LoadingStatus)
		fmt.Printf("  rollback:  %s\n", cur.RollbackStatus)
		fmt.Printf("  incremental: %v\n", cur.IsIncremental)

		projectKey := projectFlag
		if projectKey == "" {
			projectKey = cfg.ProjectKey
		}
		events, err := s.GetWorkflowEvents(ctx, projectKey)
		if err != nil {
			logger.Error("failed to read workflow events", zap.Error(err))
			os.Exit(1)
		}
		fmt.Printf("  %d workflow events recorded\n", len(events))
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP status/control API and WebSocket progress feed",
	Run: func(cmd *cobra.Command, args []string) {
		s := store.New()
		health := observability.NewHealthChecker()
		health.RegisterCheck("source", observability.SourceConnectionHealthCheck(client.NewFakeSource().CheckConnection))
		health.RegisterCheck("target", observability.TargetConnectionHealthCheck(client.NewFakeTarget().CheckConnection))

		build := func(ctx context.Context, projectKey string) (*orchestrator.Orchestrator, error) {
			oCfg := orchestrator.Config{
				ProjectKey:        projectKey,
				Source:            client.NewFakeSource(),
				Target:            client.NewFakeTarget(),
				Store:             s,
				BatchSize:         cfg.BatchSize,
				MaxWorkers:        cfg.MaxWorkers,
				AttachmentsDir:    cfg.AttachmentsDir,
				OutputDir:         cfg.OutputDir,
				Timeout:           cfg.Timeout,
				ValidationEnabled: cfg.ValidationEnabled,
				RollbackEnabled:   cfg.RollbackEnabled,
				Retry:             cfg.RetryPolicy(),
				Logger:            logger,
			}
			return orchestrator.New(ctx, oCfg)
		}

		srv := server.New(cfg, s, build, health, logger)
		ctx, cancel := withShutdown(context.Background())
		defer cancel()
		go func() {
			<-ctx.Done()
			srv.Stop()
		}()

		if err := srv.Start(); err != nil {
			logger.Error("server stopped", zap.Error(err))
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.ztoq-migrate/config.json)")
	rootCmd.PersistentFlags().StringVar(&projectFlag, "project", "", "project key (overrides config)")

	rootCmd.AddCommand(migrateCmd, resumeCmd, incrementalCmd, rollbackCmd, statusCmd, serveCmd)
}
