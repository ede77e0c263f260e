package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/actor"
	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/forge"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
	"github.com/fyrsmithlabs/remedyd/internal/orchestrator"
	"github.com/fyrsmithlabs/remedyd/internal/progress"
	"github.com/fyrsmithlabs/remedyd/internal/retry"
	"github.com/fyrsmithlabs/remedyd/internal/runstore"
	"github.com/fyrsmithlabs/remedyd/internal/telemetry"
	"github.com/fyrsmithlabs/remedyd/internal/transcript"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	tel      *telemetry.Telemetry
	store    *runstore.MemoryStore
	engine   *orchestrator.Engine
	natsConn *nats.Conn
}

// newApp loads configuration and builds the engine with all of its
// collaborators: GitHub client, LLM agents, run store and progress sinks.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		logger.Sync() //nolint:errcheck
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, tel: tel, store: runstore.NewMemoryStore()}

	gh, err := forge.NewGitHub(ctx, cfg.GitHub.Token)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("creating GitHub client: %w", err)
	}

	actors, err := buildActors(cfg.LLM)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	sinks := []progress.Sink{progress.NewLoggerSink(logger)}
	if cfg.NATS.Enabled {
		conn, err := nats.Connect(cfg.NATS.URL,
			nats.Name("remedyd"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.NATS.URL, err)
		}
		a.natsConn = conn
		sinks = append(sinks, progress.NewNATSSink(conn, cfg.NATS.Subject, logger))
		logger.Info("progress events publishing to NATS", zap.String("url", cfg.NATS.URL), zap.String("subject", cfg.NATS.Subject))
	}

	engine, err := orchestrator.New(
		engineConfig(cfg.Workflow),
		actors,
		gh,
		gh, // the same client reads CI check status
		a.store,
		progress.Multi(sinks),
		logger,
	)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("assembling engine: %w", err)
	}
	a.engine = engine
	return a, nil
}

// Close releases infrastructure connections in reverse dependency order.
func (a *app) Close(ctx context.Context) {
	if a.natsConn != nil {
		a.natsConn.Close()
	}
	if a.tel != nil {
		if err := a.tel.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}
	if a.logger != nil {
		a.logger.Sync() //nolint:errcheck
	}
}

// buildActors creates the three agents over one shared model client.
func buildActors(cfg config.LLMConfig) ([]actor.Actor, error) {
	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey.IsSet() {
		opts = append(opts, openai.WithToken(cfg.APIKey.Value()))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}

	return []actor.Actor{
		actor.NewLLM(actor.KindAnalyst, model, cfg.Temperature),
		actor.NewLLM(actor.KindImplementer, model, cfg.Temperature),
		actor.NewLLM(actor.KindCritic, model, cfg.Temperature),
	}, nil
}

// engineConfig maps the workflow configuration onto the engine's.
func engineConfig(w config.WorkflowConfig) orchestrator.Config {
	return orchestrator.Config{
		MaxIterations: w.MaxIterations,
		AddTests:      w.AddTests,
		CallBudget:    w.CallBudget,
		PollInterval:  w.PollInterval.Duration(),
		Retry: &retry.Config{
			MaxRetries:   w.Retry.MaxRetries,
			InitialDelay: w.Retry.InitialDelay.Duration(),
			MaxDelay:     w.Retry.MaxDelay.Duration(),
			Multiplier:   w.Retry.Multiplier,
		},
		Compaction: transcript.CompactorConfig{
			ResultBudget:      w.Compaction.ResultBudget,
			InstructionBudget: w.Compaction.InstructionBudget,
			SizeThreshold:     w.Compaction.SizeThreshold,
			ReasoningBudget:   w.Compaction.ReasoningBudget,
			PreserveRecent:    w.Compaction.PreserveRecent,
		},
	}
}
