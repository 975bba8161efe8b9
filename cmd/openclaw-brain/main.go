package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/openclaw-brain/internal/config"
	"github.com/ajitpratap0/openclaw-brain/internal/embedder"
	"github.com/ajitpratap0/openclaw-brain/internal/entity"
	"github.com/ajitpratap0/openclaw-brain/internal/maintenance"
	"github.com/ajitpratap0/openclaw-brain/internal/memory"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/recall"
	"github.com/ajitpratap0/openclaw-brain/internal/remote"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
	"github.com/ajitpratap0/openclaw-brain/internal/syncer"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:          "openclaw-brain",
		Short:        "OpenClaw Brain: personal long-term memory synced with the team knowledge base",
		Long:         "Brain keeps durable, searchable notes in a local SQLite store, links them, extracts entities, and keeps the important ones in sync with the team knowledge base.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		rememberCmd(),
		getCmd(),
		updateCmd(),
		searchCmd(),
		linkCmd(),
		forgetCmd(),
		statsCmd(),
		contextCmd(),
		syncCmd(),
		resolveCmd(),
		conflictsCmd(),
		maintenanceCmd(),
		reindexCmd(),
		entitiesCmd(),
		exportCmd(),
		backupCmd(),
		graphCmd(),
		serveCmd(),
		mcpCmd(),
		daemonCmd(),
		healthCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil {
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newEmbedder(logger *slog.Logger) (embedder.Embedder, error) {
	return embedder.New(embedder.Options{
		Provider:      cfg.Embedding.Provider,
		Dimension:     cfg.Embedding.Dimension,
		CacheSize:     cfg.Embedding.CacheSize,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OllamaModel:   cfg.Ollama.Model,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OpenAIModel:   cfg.OpenAI.Model,
	}, logger)
}

func newStore(ctx context.Context, logger *slog.Logger) (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(ctx, cfg.Store.Path, store.Options{
		BusyTimeout: cfg.Store.BusyTimeout,
		LockTTL:     cfg.Store.LockTTL,
	}, logger)
}

// app holds the services a command needs. Remote and Sync are nil when no remote
// knowledge base is configured.
type app struct {
	logger   *slog.Logger
	store    *store.SQLiteStore
	embedder embedder.Embedder
	memories *memory.Service
	remote   *remote.Client
	sync     *syncer.Engine
}

// openApp opens the store and builds the services on top of it.
func openApp(ctx context.Context, op string) (*app, error) {
	logger := newLogger()
	emb, err := newEmbedder(logger)
	if err != nil {
		return nil, fmt.Errorf("%s: creating embedder: %w", op, err)
	}
	return newApp(ctx, op, logger, emb)
}

// newApp wires the services around emb. emb is closed when the store cannot be opened.
func newApp(ctx context.Context, op string, logger *slog.Logger, emb embedder.Embedder) (*app, error) {
	st, err := newStore(ctx, logger)
	if err != nil {
		closeEmbedder(emb)
		return nil, fmt.Errorf("%s: opening store: %w", op, err)
	}
	a := &app{
		logger:   logger,
		store:    st,
		embedder: emb,
		memories: memory.NewService(st, emb, memoryOptions(), logger),
	}
	if cfg.Remote.Enabled() {
		a.remote = remote.New(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.Timeout, logger)
		a.sync = syncer.NewEngine(st, a.remote, emb, syncOptions(), logger)
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
	closeEmbedder(a.embedder)
}

// closeEmbedder stops the background workers of embedders that have them, such as the cache.
func closeEmbedder(emb embedder.Embedder) {
	if c, ok := emb.(interface{ Close() }); ok {
		c.Close()
	}
}

// requireSync fails when no remote is configured.
func (a *app) requireSync(op string) error {
	if a.sync == nil {
		return fmt.Errorf("%s: remote knowledge base is not configured (set remote.base_url and remote.api_key)", op)
	}
	return nil
}

// recaller builds the context façade. The remote searcher is left nil, not a typed nil
// pointer, when no remote is configured.
func (a *app) recaller() *recall.Recaller {
	var rs recall.RemoteSearcher
	if a.remote != nil {
		rs = a.remote
	}
	return recall.NewRecaller(a.memories, rs, recall.Options{
		MaxItems:      cfg.Context.MaxItems,
		RemoteLimit:   cfg.Context.RemoteLimit,
		MinScore:      cfg.Context.MinScore,
		Keywords:      cfg.Context.Keywords,
		LocalSnippet:  cfg.Context.LocalSnippet,
		RemoteSnippet: cfg.Context.RemoteSnippet,
		TokenBudget:   cfg.Context.TokenBudget,
	}, a.logger)
}

// linker builds the entity linker: known-name patterns always, plus Claude when an
// API key is configured.
func (a *app) linker() *entity.Linker {
	var ex entity.Extractor = entity.NewPatternExtractor(cfg.Entities.Products, cfg.Entities.Companies)
	if cfg.Claude.APIKey != "" {
		claude := entity.NewClaudeExtractor(cfg.Claude.APIKey, cfg.Claude.Model, a.logger)
		ex = entity.NewMultiExtractor(func(err error) {
			a.logger.Warn("claude entity extraction failed, using patterns only", "error", err)
		}, ex, claude)
	}
	return entity.NewLinker(a.store, ex, a.logger)
}

func (a *app) maintenance() *maintenance.Engine {
	return maintenance.NewEngine(a.store, a.embedder, maintenance.Options{
		DecayAfter:           cfg.Maintenance.DecayAfter,
		DecayRate:            cfg.Maintenance.DecayRate,
		DecayFloor:           cfg.Maintenance.DecayFloor,
		DuplicateThreshold:   cfg.Maintenance.DuplicateThreshold,
		ConsolidateThreshold: cfg.Maintenance.ConsolidateThreshold,
		PromotionThreshold:   cfg.Sync.PromotionThreshold,
		ReindexBatch:         cfg.Maintenance.ReindexBatch,
		ReindexWorkers:       cfg.Maintenance.ReindexWorkers,
		RetryAttempts:        cfg.Sync.RetryAttempts,
		RetryBase:            cfg.Sync.RetryBase,
	}, a.logger)
}

func memoryOptions() memory.Options {
	return memory.Options{
		PromotionThreshold: cfg.Sync.PromotionThreshold,
		DefaultVisibility:  models.Visibility(cfg.Sync.DefaultVisibility),
		LexicalWeight:      cfg.Search.LexicalWeight,
		SemanticWeight:     cfg.Search.SemanticWeight,
		MinScore:           cfg.Search.MinScore,
	}
}

func syncOptions() syncer.Options {
	opts := syncer.Options{
		PushTag:           cfg.Sync.PushTag,
		DefaultVisibility: models.Visibility(cfg.Sync.DefaultVisibility),
		MaxAttempts:       cfg.Sync.MaxAttempts,
		RetryAttempts:     cfg.Sync.RetryAttempts,
		RetryBase:         cfg.Sync.RetryBase,
		RetryMax:          cfg.Sync.RetryMax,
		PullLimit:         cfg.Sync.PullLimit,
	}
	for _, v := range cfg.Sync.PushVisibilities {
		opts.PushVisibilities = append(opts.PushVisibilities, models.Visibility(v))
	}
	return opts
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// splitTags parses a comma-separated flag value.
func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
