package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"maestro/internal/behavior"
	"maestro/internal/budget"
	"maestro/internal/champion"
	"maestro/internal/config"
	"maestro/internal/coordinator"
	"maestro/internal/engine"
	"maestro/internal/events"
	"maestro/internal/executor"
	"maestro/internal/ledger"
	"maestro/internal/planner"
	"maestro/internal/provider"
	"maestro/internal/session"
	"maestro/internal/tools"
)

// app holds the wired application: storage, provider, engine and the
// supporting sources every command operates through.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	db       *session.DB
	store    *session.Store
	bus      *events.Bus
	pricing  *ledger.Pricing
	engine   *engine.Engine
	behavior *behavior.Source
}

// buildApp opens storage and assembles the engine from the configuration.
// The returned app must be closed by the caller.
func buildApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	dbPath, err := config.ExpandPath(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	db, err := session.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		db:    db,
		store: session.NewStore(db),
		bus:   events.NewBus(256),
	}

	a.pricing, err = loadPricing(cfg, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Transient provider failures (rate limits, timeouts, 5xx) are retried
	// with backoff before they can fail a plan or a phase.
	prov := provider.WithRetry(provider.NewOpenAICompat(provider.OpenAICompatConfig{
		Name:     cfg.Provider.Name,
		Endpoint: cfg.Provider.Endpoint,
		APIKey:   cfg.Provider.APIKey,
		Timeout:  cfg.Provider.GetTimeout(),
	}), provider.DefaultRetryConfig(), log)

	registry, err := buildRegistry(cfg, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	retriever := buildRetriever(ctx, db, log)
	allocator := budget.NewAllocator(cfg.Budget.ContextTokens, log)

	behaviorDir, err := config.ExpandPath(cfg.Behavior.Dir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("resolve behavior dir: %w", err)
	}
	loader, err := behavior.NewLoader(cfg.Version, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("behavior loader: %w", err)
	}
	a.behavior = behavior.NewSource(behaviorDir, loader, log)
	if err := a.behavior.Reload(); err != nil {
		log.Warn().Err(err).Str("dir", behaviorDir).Msg("behavior packs unavailable")
	}

	a.engine = engine.New(engine.Options{
		Provider:  prov,
		Registry:  registry,
		Retriever: retriever,
		Allocator: allocator,
		Pricing:   a.pricing,
		Store:     a.store,
		Bus:       a.bus,
		Behavior:  a.behavior,
		PlannerConfig: planner.Config{
			Temperature:   cfg.Planner.Temperature,
			MaxTokens:     cfg.Planner.MaxTokens,
			CaseTopK:      cfg.Planner.CaseTopK,
			CaseMinScore:  cfg.Planner.CaseMinScore,
			HistoryWindow: cfg.Planner.HistoryWindow,
		},
		ExecutorConfig: executor.Config{
			ValidationRetries: cfg.Executor.ValidationRetries,
			ExecutionRetries:  cfg.Executor.ExecutionRetries,
			ToolTimeout:       cfg.Executor.GetToolTimeout(),
			AllowFallbackTool: cfg.Executor.AllowFallbackTool,
		},
		CoordinatorConfig: coordinator.Config{
			MaxDepth:       cfg.Coordinator.MaxDepth,
			MaxParallelism: cfg.Coordinator.MaxParallelism,
			Merge:          mergeStrategy(cfg.Coordinator.MergeStrategy),
		},
		Config: engine.Config{
			Model:             cfg.Provider.Model,
			MaxParallelPhases: cfg.Engine.MaxParallelPhases,
			FanoutMinPhases:   cfg.Engine.FanoutMinPhases,
			FanoutProfile:     cfg.Engine.FanoutProfile,
			AutoTitle:         cfg.Engine.AutoTitle,
		},
	}, log)

	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// loadPricing reads the pricing table. Running without one is allowed, but
// every turn is then recorded unpriced at zero cost, so it warns loudly.
func loadPricing(cfg *config.Config, log zerolog.Logger) (*ledger.Pricing, error) {
	path, err := config.ExpandPath(cfg.Pricing.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve pricing path: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Warn().Str("path", path).Msg("no pricing table; turn costs will be recorded unpriced")
		return ledger.NewPricing(nil), nil
	}
	pricing, err := ledger.LoadPricing(path)
	if err != nil {
		return nil, fmt.Errorf("load pricing: %w", err)
	}
	return pricing, nil
}

// buildRegistry registers the built-in tools plus any user script tools.
func buildRegistry(cfg *config.Config, log zerolog.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry()

	scriptDir, err := config.ExpandPath(cfg.Tools.ScriptDir)
	if err != nil {
		return nil, fmt.Errorf("resolve script tool dir: %w", err)
	}
	scripted, err := tools.LoadScriptDir(scriptDir)
	if err != nil {
		return nil, err
	}
	for _, tool := range scripted {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register script tool: %w", err)
		}
	}
	if len(scripted) > 0 {
		log.Info().Int("count", len(scripted)).Str("dir", scriptDir).Msg("loaded script tools")
	}
	return registry, nil
}

// buildRetriever wires champion-case retrieval. An empty or unreadable case
// store degrades to planning without exemplars rather than failing startup.
func buildRetriever(ctx context.Context, db *session.DB, log zerolog.Logger) planner.Retriever {
	if err := champion.EnsureSchema(db.DB); err != nil {
		log.Warn().Err(err).Msg("champion case schema unavailable; planning without exemplars")
		return nil
	}
	retriever, err := champion.NewRetriever(ctx, champion.NewStore(db.DB))
	if err != nil {
		log.Warn().Err(err).Msg("champion case index unavailable; planning without exemplars")
		return nil
	}
	return retriever
}

func mergeStrategy(name string) coordinator.MergeStrategy {
	switch name {
	case "vote":
		return coordinator.VoteMerge{}
	case "structured":
		return coordinator.StructuredMerge{}
	default:
		return coordinator.ConcatMerge{}
	}
}
