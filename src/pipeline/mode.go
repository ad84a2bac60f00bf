package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"relayci/src/broker"
	"relayci/src/config"
	"relayci/src/contracts"
	"relayci/src/credentials"
	"relayci/src/logger"
	"relayci/src/relay"
	"relayci/src/runner"
	"relayci/src/store"
	"relayci/src/workflow"
)

// Mode selects where run state lives.
type Mode int

const (
	// LocalMode keeps runs in memory and artifacts on the local disk.
	LocalMode Mode = iota
	// DistributedMode uses Redpanda for requests and events and Postgres for runs and artifacts.
	DistributedMode
)

func (m Mode) String() string {
	switch m {
	case LocalMode:
		return "local"
	case DistributedMode:
		return "distributed"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// DetectMode picks distributed mode when Redpanda brokers are configured.
func DetectMode(cfg *config.Config) Mode {
	if len(cfg.RedpandaBrokers) > 0 {
		return DistributedMode
	}
	return LocalMode
}

// Backends are the broker, store and relay shared by the pipeline and its
// front ends (CLI, webhook receiver, MCP server).
type Backends struct {
	Mode   Mode
	Broker broker.Broker
	Store  store.Store
	Relay  relay.Relay
}

// OpenBackends connects the backends for the detected mode.
func OpenBackends(ctx context.Context, cfg *config.Config, log logger.Logger) (*Backends, error) {
	if log == nil {
		log = logger.NewSilentLogger()
	}

	mode := DetectMode(cfg)
	switch mode {
	case DistributedMode:
		return openDistributed(ctx, cfg, log)
	default:
		fileRelay, err := relay.NewFileRelay(cfg.ArtifactDir)
		if err != nil {
			return nil, err
		}
		log.Debug("[Pipeline] Local mode: artifacts in %s", fileRelay.Dir())
		return &Backends{
			Mode:   LocalMode,
			Broker: broker.NewInMemoryBroker(),
			Store:  store.NewMemoryStore(),
			Relay:  fileRelay,
		}, nil
	}
}

func openDistributed(ctx context.Context, cfg *config.Config, log logger.Logger) (*Backends, error) {
	rp, err := broker.NewRedpandaBroker(cfg.RedpandaBrokers, log,
		broker.WithLiveTopics(contracts.TopicRunEvents))
	if err != nil {
		return nil, fmt.Errorf("failed to create Redpanda broker: %w", err)
	}

	pg, err := store.NewPostgresStore(cfg.PostgresDSN)
	if err != nil {
		rp.Close()
		return nil, fmt.Errorf("failed to create Postgres store: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		rp.Close()
		pg.Close()
		return nil, err
	}

	// The relay shares the store's connection pool.
	pgRelay := relay.NewPostgresRelay(pg.DB())
	if err := pgRelay.EnsureSchema(ctx); err != nil {
		rp.Close()
		pg.Close()
		return nil, err
	}

	log.Debug("[Pipeline] Distributed mode: brokers %v", cfg.RedpandaBrokers)
	return &Backends{
		Mode:   DistributedMode,
		Broker: rp,
		Store:  pg,
		Relay:  pgRelay,
	}, nil
}

// Close shuts down all backends and reports every failure.
func (b *Backends) Close() error {
	var errs []error
	if b.Relay != nil {
		errs = append(errs, b.Relay.Close())
	}
	if b.Store != nil {
		errs = append(errs, b.Store.Close())
	}
	if b.Broker != nil {
		errs = append(errs, b.Broker.Close())
	}
	return errors.Join(errs...)
}

// NewFromConfig builds a pipeline for wf on top of b.
func NewFromConfig(cfg *config.Config, wf *workflow.Workflow, b *Backends, log logger.Logger) (*Pipeline, error) {
	return New(Options{
		Workflow: wf,
		Relay:    b.Relay,
		Store:    b.Store,
		Broker:   b.Broker,
		Executor: runner.NewExecutor(cfg.EnvPassthrough),
		Credentials: func(name string) (credentials.Provider, error) {
			return credentials.Resolve(name, cfg, os.Getenv, log)
		},
		Logger:      log,
		SourceDir:   cfg.WorkDir,
		StepTimeout: cfg.StepTimeout,
	})
}
