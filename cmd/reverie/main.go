// Command reverie is the console entry point for the Reverie
// context-assembly engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/verdandi-labs/reverie/internal/bot"
	"github.com/verdandi-labs/reverie/internal/config"
	"github.com/verdandi-labs/reverie/internal/enrich"
	"github.com/verdandi-labs/reverie/internal/observe"
	"github.com/verdandi-labs/reverie/internal/perception"
	"github.com/verdandi-labs/reverie/internal/pipeline"
	"github.com/verdandi-labs/reverie/internal/querytransform"
	"github.com/verdandi-labs/reverie/internal/request"
	"github.com/verdandi-labs/reverie/internal/resilience"
	"github.com/verdandi-labs/reverie/internal/semantic"
	"github.com/verdandi-labs/reverie/internal/strip"
	"github.com/verdandi-labs/reverie/internal/tagging"
	"github.com/verdandi-labs/reverie/internal/trigger"
	"github.com/verdandi-labs/reverie/pkg/model"
	oaembed "github.com/verdandi-labs/reverie/pkg/provider/embeddings/openai"
	"github.com/verdandi-labs/reverie/pkg/provider/llm"
	"github.com/verdandi-labs/reverie/pkg/provider/llm/claude"
	"github.com/verdandi-labs/reverie/pkg/provider/llm/gemini"
	"github.com/verdandi-labs/reverie/pkg/store/postgres"
	"github.com/verdandi-labs/reverie/pkg/tokens"
	"github.com/verdandi-labs/reverie/pkg/vector/qdrant"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "reverie: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "reverie: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := &slog.LevelVar{}
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("reverie starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"provider", cfg.Providers.LLM,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "reverie"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}
	if addr := cfg.Server.MetricsAddr; addr != "" {
		go serveMetrics(addr)
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	pg, err := postgres.New(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		slog.Error("failed to open catalog", "err", err)
		return 1
	}
	defer pg.Close()

	profile, err := pg.ActiveProfile(ctx)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			fmt.Fprintln(os.Stderr, "reverie: no active profile — insert one into the profiles table first")
		} else {
			slog.Error("failed to load active profile", "err", err)
		}
		return 1
	}
	scoped := pg.Scope(profile.ID)
	slog.Info("profile loaded", "name", profile.Name, "persona", profile.PersonaName)

	// ── Vector index ──────────────────────────────────────────────────────────
	index, err := qdrant.New(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.APIKey, cfg.Vector.TLS,
		qdrant.WithCollection(cfg.Vector.Collection),
		qdrant.WithDimensions(uint64(cfg.Vector.Dimensions)),
	)
	if err != nil {
		slog.Error("failed to connect to vector index", "err", err)
		return 1
	}
	if err := index.EnsureCollection(ctx); err != nil {
		slog.Error("failed to ensure vector collection", "err", err)
		return 1
	}

	// ── Embeddings ────────────────────────────────────────────────────────────
	var embedOpts []oaembed.Option
	if cfg.Providers.Embeddings.BaseURL != "" {
		embedOpts = append(embedOpts, oaembed.WithBaseURL(cfg.Providers.Embeddings.BaseURL))
	}
	if cfg.Providers.Embeddings.Timeout > 0 {
		embedOpts = append(embedOpts, oaembed.WithTimeout(cfg.Providers.Embeddings.Timeout))
	}
	embedder, err := oaembed.New(cfg.Providers.Embeddings.APIKey, cfg.Providers.Embeddings.Model, embedOpts...)
	if err != nil {
		slog.Error("failed to create embeddings provider", "err", err)
		return 1
	}

	// ── Completion strategies ─────────────────────────────────────────────────
	registry := llm.NewRegistry(logger)
	providerName, err := registerStrategies(ctx, cfg, registry, logger)
	if err != nil {
		slog.Error("failed to build llm strategies", "err", err)
		return 1
	}
	strategy, err := registry.Resolve(providerName)
	if err != nil {
		slog.Error("failed to resolve llm strategy", "err", err)
		return 1
	}

	// ── Semantic retrieval ────────────────────────────────────────────────────
	counter := tokens.NewCounter(activeProviderEntry(cfg).Model)
	semOpts := []semantic.Option{
		semantic.WithBatchSize(cfg.Context.Semantic.EmbedBatchSize),
		semantic.WithLogger(logger),
		semantic.WithMetrics(metrics),
	}
	if cfg.Context.Semantic.UseLLMQueryTransformation {
		semOpts = append(semOpts,
			semantic.WithQueryTransformer(querytransform.New(strategy, scoped, logger)))
	}
	searcher := semantic.New(scoped, embedder, index, counter, semOpts...)

	// Startup maintenance: tag and embed records not yet in the index.
	go syncPending(ctx, scoped, strategy, searcher, logger)

	// ── Pipeline ──────────────────────────────────────────────────────────────
	orchestrator := buildOrchestrator(cfg, scoped, strategy, searcher, logger, metrics)
	builder := request.NewBuilder(scoped, logger)

	pipe := pipeline.New(scoped, scoped, scoped, pg,
		orchestrator, builder, registry, providerName,
		pipeline.WithDefaults(pipeline.Defaults{
			Model:     activeProviderEntry(cfg).Model,
			MaxTokens: 0,
		}),
		pipeline.WithCompletionTimeout(activeProviderEntry(cfg).Timeout),
		pipeline.WithStripper(strip.New(strategy, scoped, strip.WithLogger(logger))),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
	)

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(config.Compare(old, new), new, logLevel, pipe,
			scoped, strategy, searcher, logger, metrics)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Console bot ───────────────────────────────────────────────────────────
	console := bot.New(pipe, scoped, pg, pipeline.NewRuns(), os.Stdin, os.Stdout,
		bot.WithLogger(logger))

	slog.Info("ready — type /help for directives, Ctrl+C to quit")
	if err := console.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("console error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerStrategies builds the configured completion backends, wraps the
// primary in a circuit-breaking failover when a second backend exists, and
// returns the name the pipeline should resolve.
func registerStrategies(ctx context.Context, cfg *config.Config, registry *llm.Registry, logger *slog.Logger) (string, error) {
	built := make(map[config.ProviderName]llm.Strategy)

	if key := cfg.Providers.Gemini.APIKey; key != "" {
		var opts []gemini.Option
		if cfg.Providers.Gemini.Model != "" {
			opts = append(opts, gemini.WithModel(cfg.Providers.Gemini.Model))
		}
		s, err := gemini.New(ctx, key, opts...)
		if err != nil {
			return "", fmt.Errorf("create gemini strategy: %w", err)
		}
		built[config.ProviderGemini] = s
	}

	if key := cfg.Providers.Claude.APIKey; key != "" {
		opts := []claude.Option{claude.WithCacheThreshold(cacheThreshold(cfg))}
		if cfg.Providers.Claude.Model != "" {
			opts = append(opts, claude.WithModel(cfg.Providers.Claude.Model))
		}
		s, err := claude.New(key, opts...)
		if err != nil {
			return "", fmt.Errorf("create claude strategy: %w", err)
		}
		built[config.ProviderClaude] = s
	}

	if len(built) == 0 {
		return "", fmt.Errorf("no llm provider configured: set an api_key for gemini or claude")
	}

	primaryName := cfg.Providers.LLM
	primary, ok := built[primaryName]
	if !ok {
		for name, s := range built {
			logger.Warn("configured llm provider has no api key, using the other backend",
				"configured", primaryName, "using", name)
			primaryName, primary = name, s
			break
		}
	}

	// The secondary backend, when present, becomes the failover target.
	for name, s := range built {
		if name == primaryName {
			continue
		}
		failover := resilience.NewFailover(primary, resilience.BreakerConfig{
			Name:   string(primaryName),
			Logger: logger,
		})
		failover.AddFallback(s)
		primary = failover
		registry.Register(s)
		logger.Info("llm failover enabled", "primary", primaryName, "fallback", name)
	}

	registry.Register(primary)
	if err := registry.SetDefault(string(primaryName)); err != nil {
		return "", err
	}
	return string(primaryName), nil
}

// buildOrchestrator assembles the enrichment stack from the context tuning
// section. Called again on config hot-reload.
func buildOrchestrator(
	cfg *config.Config,
	scoped *postgres.Scoped,
	strategy llm.Strategy,
	searcher *semantic.Service,
	logger *slog.Logger,
	metrics *observe.Metrics,
) *enrich.Orchestrator {
	evaluator := trigger.NewEvaluator(scoped, scoped,
		trigger.WithAdditionalWords(strings.Fields(cfg.Context.Trigger.AdditionalScanWords)),
		trigger.WithLogger(logger),
		trigger.WithMetrics(metrics),
	)

	analyzer := perception.New(strategy, scoped,
		perception.WithParallelism(cfg.Context.Perception.Parallelism),
		perception.WithLogger(logger),
		perception.WithMetrics(metrics),
	)

	semanticEnricher := enrich.NewSemanticDataEnricher(searcher, scoped, enrich.SemanticConfig{
		TokenQuotas: map[model.DataType]int{
			model.TypeQuote:              cfg.Context.Semantic.TokenQuotas.Quote,
			model.TypeMemory:             cfg.Context.Semantic.TokenQuotas.Memory,
			model.TypeInsight:            cfg.Context.Semantic.TokenQuotas.Insight,
			model.TypePersonaVoiceSample: cfg.Context.Semantic.TokenQuotas.PersonaVoiceSample,
		},
		UseQueryTransformation: cfg.Context.Semantic.UseLLMQueryTransformation,
	}, logger, metrics)

	rest := []enrich.Enricher{
		enrich.NewGenericDataEnricher(scoped),
		enrich.NewMemoryDataEnricher(scoped),
		enrich.NewInsightEnricher(scoped),
		enrich.NewPersonaVoiceSampleEnricher(scoped),
		enrich.NewQuoteEnricher(scoped),
		enrich.NewFlagEnricher(scoped),
		enrich.NewTriggerEnricher(evaluator),
		enrich.NewDialogueLogEnricher(cfg.Context.History.MaxDialogueLogTurns),
		semanticEnricher,
		enrich.NewPerceptionEnricher(analyzer, cfg.Context.Perception.Enabled),
	}

	return enrich.NewOrchestrator(
		enrich.NewTurnHistoryEnricher(scoped, cfg.Context.History.RecentTurnsCount),
		enrich.NewCharacterProfileEnricher(scoped),
		rest,
		enrich.WithOrchestratorLogger(logger),
		enrich.WithOrchestratorMetrics(metrics),
	)
}

// applyConfigChange folds a hot-reloadable diff into the running process.
func applyConfigChange(
	diff config.Diff,
	cfg *config.Config,
	logLevel *slog.LevelVar,
	pipe *pipeline.Pipeline,
	scoped *postgres.Scoped,
	strategy llm.Strategy,
	searcher *semantic.Service,
	logger *slog.Logger,
	metrics *observe.Metrics,
) {
	if !diff.Changed() {
		return
	}
	if diff.LogLevelChanged {
		logLevel.Set(slogLevel(diff.NewLogLevel))
		logger.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.ProviderChanged {
		pipe.SetProvider(string(diff.NewProvider))
		logger.Info("llm provider changed", "provider", diff.NewProvider)
	}
	if diff.ContextChanged {
		pipe.SwapOrchestrator(buildOrchestrator(cfg, scoped, strategy, searcher, logger, metrics))
		logger.Info("context tuning reloaded")
	}
}

// syncPending runs the startup maintenance pass: tag records that have not
// been embedded yet, then push them into the vector index.
func syncPending(
	ctx context.Context,
	scoped *postgres.Scoped,
	strategy llm.Strategy,
	searcher *semantic.Service,
	logger *slog.Logger,
) {
	pending, err := scoped.GetSemanticPending(ctx)
	if err != nil {
		logger.Warn("startup sync: load pending records", "err", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	tagger := tagging.New(strategy, scoped, scoped, tagging.WithLogger(logger))
	if result, err := tagger.TagAll(ctx, pending); err != nil {
		logger.Warn("startup tagging aborted", "err", err)
	} else if result.FailedCount > 0 {
		logger.Warn("startup tagging finished with failures",
			"ok", result.SuccessCount, "failed", result.FailedCount)
	}

	result, err := searcher.SyncAll(ctx)
	if err != nil {
		logger.Warn("startup embedding sync aborted", "err", err)
		return
	}
	logger.Info("embedding sync finished",
		"ok", result.SuccessCount, "failed", result.FailedCount)
}

// serveMetrics exposes the Prometheus scrape endpoint.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics endpoint error", "err", err)
	}
}

// activeProviderEntry returns the provider entry the configured backend
// name points at.
func activeProviderEntry(cfg *config.Config) config.ProviderEntry {
	if cfg.Providers.LLM == config.ProviderClaude {
		return cfg.Providers.Claude
	}
	return cfg.Providers.Gemini
}

func cacheThreshold(cfg *config.Config) int {
	if !cfg.Context.Caching.Enabled {
		return 0
	}
	return cfg.Context.Caching.MinContentLength
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
