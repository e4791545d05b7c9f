package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nidhogg/limbic-flow/internal/affect"
	"github.com/nidhogg/limbic-flow/internal/affectlog"
	"github.com/nidhogg/limbic-flow/internal/articulation"
	"github.com/nidhogg/limbic-flow/internal/brain"
	"github.com/nidhogg/limbic-flow/internal/bus"
	"github.com/nidhogg/limbic-flow/internal/config"
	"github.com/nidhogg/limbic-flow/internal/embedding"
	"github.com/nidhogg/limbic-flow/internal/location"
	"github.com/nidhogg/limbic-flow/internal/memory"
	"github.com/nidhogg/limbic-flow/internal/neocortex"
	"github.com/nidhogg/limbic-flow/internal/pathology"
	"github.com/nidhogg/limbic-flow/internal/perception"
	"github.com/nidhogg/limbic-flow/internal/persona"
	"github.com/nidhogg/limbic-flow/internal/pipeline"
	"github.com/nidhogg/limbic-flow/internal/provider"
	"github.com/nidhogg/limbic-flow/internal/vectorstore"
	"go.uber.org/zap"
)

// app holds every long-lived component built from one configuration.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	history  affectlog.Log
	engine   *affect.Engine
	memories *memory.Store
	mirror   *vectorstore.Client
	embedder embedding.Provider
	router   *provider.Router
	personas *persona.Manager
	cortex   neocortex.Store
	actions  *bus.ActionBus
	pipeline *pipeline.Pipeline
}

// newApp wires the pipeline. Required stores failing to open is an error;
// optional backends (Qdrant, Neo4j, Redis) degrade to running without them.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if cfg.AffectLog.Backend == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.AffectLog.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create affect log dir: %w", err)
		}
	}

	a.history, err = affectlog.Open(ctx, cfg.AffectLogConfig(), logger)
	if err != nil {
		return nil, err
	}
	a.engine = affect.NewEngine(affect.DefaultConfig(), a.history, logger)
	if snap, ok, err := a.history.Latest(ctx); err != nil {
		logger.Warn("Could not restore affect state, starting at baseline", zap.Error(err))
	} else if ok {
		a.engine.Restore(snap)
		logger.Info("Affect state restored", zap.Time("from", snap.Timestamp))
	}

	a.memories = memory.NewStore(cfg.Memory.Path, logger)
	if err := a.memories.Load(ctx); err != nil {
		return nil, err
	}
	if cfg.Memory.Mirror {
		q := cfg.Database.Qdrant
		client, err := vectorstore.NewClient(vectorstore.QdrantConfig{Host: q.Host, Port: q.Port, Collection: q.Collection}, logger)
		if err != nil {
			logger.Warn("Qdrant unavailable, memories stay local only", zap.Error(err))
		} else if err := client.EnsureCollection(ctx, uint64(cfg.Embedding.Dimension)); err != nil {
			logger.Warn("Qdrant collection unavailable, memories stay local only", zap.Error(err))
			client.Close()
		} else {
			a.mirror = client
			a.memories.SetMirror(client)
		}
	}

	a.embedder, err = embedding.New(cfg.EmbeddingConfig(), logger)
	if err != nil {
		return nil, err
	}
	a.router, err = buildRouter(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.personas, err = persona.NewManager(cfg.Persona.Path, logger)
	if err != nil {
		return nil, err
	}

	if uri := cfg.Database.Neo4j.URI; uri != "" {
		n := cfg.Database.Neo4j
		store, err := neocortex.NewNeo4jStore(ctx, uri, n.User, n.Password, logger)
		if err != nil {
			logger.Warn("Neo4j unavailable, knowledge kept in memory", zap.Error(err))
			a.cortex = neocortex.NewMemoryStore()
		} else {
			a.cortex = store
		}
	} else {
		a.cortex = neocortex.NewMemoryStore()
	}

	if url := cfg.Database.Redis.URL; url != "" {
		b, err := bus.NewActionBus(ctx, url, logger)
		if err != nil {
			logger.Warn("Redis unavailable, turns will not be published", zap.Error(err))
		} else {
			a.actions = b
		}
	}

	policies := pathology.NewManager(logger)
	built, err := pathology.NewRegistry().Build(cfg.Pathologies, pathology.NewSource(nil))
	if err != nil {
		return nil, err
	}
	for _, p := range built {
		policies.Register(p)
	}

	lexicon, err := perception.LoadLexicon(cfg.Perception.Lexicon)
	if err != nil {
		return nil, err
	}

	var locator brain.Locator
	if cfg.Location.Enabled {
		locator = location.NewService(cfg.LocationConfig(), logger)
	}

	deps := pipeline.Deps{
		Affect:      a.engine,
		Memory:      a.memories,
		Pathology:   policies,
		Embedder:    a.embedder,
		Brain:       brain.New(a.router, a.personas, locator, cfg.BrainConfig(), logger),
		Articulator: articulation.NewEngine(cfg.ArticulationConfig(), nil),
		Perceiver:   perception.New(lexicon),
		Neocortex:   a.cortex,
	}
	if a.actions != nil {
		deps.Publisher = a.actions
	}
	a.pipeline, err = pipeline.New(deps, cfg.PipelineConfig(), logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// buildRouter registers every configured provider and applies the routing
// policy.
func buildRouter(cfg *config.Config, logger *zap.Logger) (*provider.Router, error) {
	registry := provider.NewRegistry()
	router := provider.NewRouter(logger)
	for _, pc := range cfg.ProviderConfigs() {
		p, err := registry.Build(pc, logger)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		router.Register(p)
		if pc.RatePerMinute > 0 {
			router.SetRateLimit(p.ID(), pc.RatePerMinute, max(1, pc.RatePerMinute/10))
		}
	}
	if id := cfg.Router.Default; id != "" {
		router.SetDefault(id)
	}
	router.SetFallbacks(cfg.Router.Fallbacks)
	return router, nil
}

// Close releases every backend in reverse order of construction.
func (a *app) Close() error {
	ctx := context.Background()
	var errs []error
	if a.actions != nil {
		errs = append(errs, a.actions.Close())
	}
	if a.cortex != nil {
		errs = append(errs, a.cortex.Close(ctx))
	}
	if a.personas != nil {
		errs = append(errs, a.personas.Close())
	}
	if a.mirror != nil {
		errs = append(errs, a.mirror.Close())
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	return errors.Join(errs...)
}
