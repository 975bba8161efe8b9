package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultPromotionThreshold is the importance at which a memory is offered to the remote.
	DefaultPromotionThreshold = 70

	// DefaultDuplicateThreshold is the cosine similarity for near-exact re-entries.
	DefaultDuplicateThreshold = 0.95

	// DefaultConsolidateThreshold is the cosine similarity for topically related notes.
	DefaultConsolidateThreshold = 0.85
)

// Config holds all configuration for the brain.
type Config struct {
	Store       StoreConfig       `mapstructure:"store"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Ollama      OllamaConfig      `mapstructure:"ollama"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
	Claude      ClaudeConfig      `mapstructure:"claude"`
	Search      SearchConfig      `mapstructure:"search"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Remote      RemoteConfig      `mapstructure:"remote"`
	Context     ContextConfig     `mapstructure:"context"`
	Entities    EntitiesConfig    `mapstructure:"entities"`
	Graph       GraphConfig       `mapstructure:"graph"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	API         APIConfig         `mapstructure:"api"`
}

// StoreConfig holds SQLite store settings.
type StoreConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	BackupDir   string        `mapstructure:"backup_dir"`
	BackupKeep  int           `mapstructure:"backup_keep"`
	// BackupInterval is how often the daemon snapshots the store; 0 disables it.
	BackupInterval time.Duration `mapstructure:"backup_interval"`
}

// EmbeddingConfig selects and sizes the embedding provider.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"` // ollama, openai or hash
	Dimension int    `mapstructure:"dimension"`
	CacheSize int64  `mapstructure:"cache_size"` // cached vectors; 0 disables the cache
}

// OllamaConfig holds Ollama embedding service settings.
type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// OpenAIConfig holds OpenAI-compatible embedding API settings.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// String returns a safe representation of OpenAIConfig with the API key masked.
func (c OpenAIConfig) String() string {
	return fmt.Sprintf("OpenAIConfig{APIKey:%s, BaseURL:%s, Model:%s}", maskAPIKey(c.APIKey), c.BaseURL, c.Model)
}

// ClaudeConfig holds Anthropic Claude API settings used for entity extraction.
type ClaudeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// String returns a safe representation of ClaudeConfig with the API key masked.
func (c ClaudeConfig) String() string {
	return fmt.Sprintf("ClaudeConfig{APIKey:%s, Model:%s}", maskAPIKey(c.APIKey), c.Model)
}

// maskAPIKey shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskAPIKey(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// SearchConfig holds hybrid ranking weights.
type SearchConfig struct {
	LexicalWeight  float64 `mapstructure:"lexical_weight"`
	SemanticWeight float64 `mapstructure:"semantic_weight"`
	MinScore       float64 `mapstructure:"min_score"`
}

// MaintenanceConfig holds decay and merge policy.
type MaintenanceConfig struct {
	DecayAfter           time.Duration `mapstructure:"decay_after"`
	DecayRate            int           `mapstructure:"decay_rate"`
	DecayFloor           int           `mapstructure:"decay_floor"`
	DuplicateThreshold   float64       `mapstructure:"duplicate_threshold"`
	ConsolidateThreshold float64       `mapstructure:"consolidate_threshold"`
	Interval             time.Duration `mapstructure:"interval"`
	// ReindexBatch is how many memories one embedding request carries during reindex.
	ReindexBatch   int `mapstructure:"reindex_batch"`
	ReindexWorkers int `mapstructure:"reindex_workers"`
}

// SyncConfig holds promotion and retry policy for the remote knowledge base.
type SyncConfig struct {
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
	DefaultVisibility  string        `mapstructure:"default_visibility"`
	PushVisibilities   []string      `mapstructure:"push_visibilities"`
	PushTag            string        `mapstructure:"push_tag"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	RetryAttempts      uint64        `mapstructure:"retry_attempts"`
	RetryBase          time.Duration `mapstructure:"retry_base"`
	RetryMax           time.Duration `mapstructure:"retry_max"`
	PullLimit          int           `mapstructure:"pull_limit"`
	Interval           time.Duration `mapstructure:"interval"`
}

// RemoteConfig holds the remote knowledge-base endpoint.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a remote knowledge base is configured.
func (c RemoteConfig) Enabled() bool { return c.BaseURL != "" && c.APIKey != "" }

// String returns a safe representation of RemoteConfig with the API key masked.
func (c RemoteConfig) String() string {
	return fmt.Sprintf("RemoteConfig{BaseURL:%s, APIKey:%s, Timeout:%s}", c.BaseURL, maskAPIKey(c.APIKey), c.Timeout)
}

// ContextConfig tunes context_for bundles.
type ContextConfig struct {
	MaxItems      int      `mapstructure:"max_items"`
	RemoteLimit   int      `mapstructure:"remote_limit"`
	MinScore      float64  `mapstructure:"min_score"`
	Keywords      []string `mapstructure:"keywords"`
	LocalSnippet  int      `mapstructure:"local_snippet"`
	RemoteSnippet int      `mapstructure:"remote_snippet"`
	TokenBudget   int      `mapstructure:"token_budget"`
}

// EntitiesConfig lists known entity names recognized verbatim.
type EntitiesConfig struct {
	Products  []string `mapstructure:"products"`
	Companies []string `mapstructure:"companies"`
}

// GraphConfig holds the optional Neo4j mirror connection.
type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// NotifyConfig holds Telegram notification settings.
type NotifyConfig struct {
	TelegramToken string `mapstructure:"telegram_token"`
	ChatID        int64  `mapstructure:"chat_id"`
	APIURL        string `mapstructure:"api_url"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// Load reads configuration from .env, config file and environment variables.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(Dir())
	v.AddConfigPath(".")

	v.SetEnvPrefix("OPENCLAW_BRAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("claude.api_key", "OPENCLAW_BRAIN_CLAUDE_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("openai.api_key", "OPENCLAW_BRAIN_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("remote.api_key", "OPENCLAW_BRAIN_REMOTE_API_KEY", "BRAIN_REMOTE_API_KEY")
	_ = v.BindEnv("remote.base_url", "OPENCLAW_BRAIN_REMOTE_BASE_URL", "BRAIN_REMOTE_URL")
	_ = v.BindEnv("notify.telegram_token", "OPENCLAW_BRAIN_NOTIFY_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", filepath.Join(Dir(), "brain.db"))
	v.SetDefault("store.busy_timeout", 5*time.Second)
	v.SetDefault("store.lock_ttl", 2*time.Minute)
	v.SetDefault("store.backup_dir", filepath.Join(Dir(), "backups"))
	v.SetDefault("store.backup_keep", 7)
	v.SetDefault("store.backup_interval", 24*time.Hour)

	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.dimension", 768)
	v.SetDefault("embedding.cache_size", 4096)

	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.model", "nomic-embed-text")

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "text-embedding-3-small")

	v.SetDefault("claude.model", "claude-haiku-4-5-20251001")

	v.SetDefault("search.lexical_weight", 0.4)
	v.SetDefault("search.semantic_weight", 0.6)
	v.SetDefault("search.min_score", 0.25)

	v.SetDefault("maintenance.decay_after", 30*24*time.Hour)
	v.SetDefault("maintenance.decay_rate", 5)
	v.SetDefault("maintenance.decay_floor", 0)
	v.SetDefault("maintenance.duplicate_threshold", DefaultDuplicateThreshold)
	v.SetDefault("maintenance.consolidate_threshold", DefaultConsolidateThreshold)
	v.SetDefault("maintenance.interval", 24*time.Hour)
	v.SetDefault("maintenance.reindex_batch", 32)
	v.SetDefault("maintenance.reindex_workers", 4)

	v.SetDefault("sync.promotion_threshold", DefaultPromotionThreshold)
	v.SetDefault("sync.default_visibility", "restricted")
	v.SetDefault("sync.push_visibilities", []string{"public", "restricted", "admin"})
	v.SetDefault("sync.push_tag", "michel-brain")
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.retry_attempts", 2)
	v.SetDefault("sync.retry_base", 500*time.Millisecond)
	v.SetDefault("sync.retry_max", 5*time.Second)
	v.SetDefault("sync.pull_limit", 100)
	v.SetDefault("sync.interval", time.Hour)

	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("context.max_items", 5)
	v.SetDefault("context.remote_limit", 3)
	v.SetDefault("context.min_score", 0.25)
	v.SetDefault("context.keywords", []string{"avs", "logic", "sellsy", "intranet", "client", "ticket", "sujet"})
	v.SetDefault("context.local_snippet", 300)
	v.SetDefault("context.remote_snippet", 200)
	v.SetDefault("context.token_budget", 2000)

	v.SetDefault("entities.products", []string{
		"Logic'S", "Logic'S Cloud", "Logic'S Mobile", "Logic'S Gestion",
		"Logic'S Encaissements", "Logic'S Fidelite", "Logic Display",
		"Totem", "Borne", "TPE", "Terminal", "Monetique",
		"Paxton", "Net2", "Controle d'acces",
	})
	v.SetDefault("entities.companies", []string{
		"AVS", "AVS Technologies", "AVS Normandie",
		"Grenke", "Sellsy", "OVH", "Cloudflare",
	})

	v.SetDefault("graph.database", "neo4j")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")
}

// loadDotEnv loads .env files without overriding variables already set.
func loadDotEnv() error {
	for _, p := range []string{filepath.Join(Dir(), ".env"), ".env"} {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Store.BackupKeep < 1 {
		return fmt.Errorf("store.backup_keep must be at least 1")
	}
	if c.Store.LockTTL <= 0 {
		return fmt.Errorf("store.lock_ttl must be greater than 0")
	}
	switch c.Embedding.Provider {
	case "ollama":
		if c.Ollama.BaseURL == "" {
			return fmt.Errorf("ollama.base_url must not be empty")
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai.api_key must be set when embedding.provider is openai")
		}
	case "hash":
	default:
		return fmt.Errorf("embedding.provider must be one of ollama|openai|hash, got %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be greater than 0")
	}
	if c.Search.LexicalWeight < 0 || c.Search.SemanticWeight < 0 {
		return fmt.Errorf("search weights must be >= 0")
	}
	if sum := c.Search.LexicalWeight + c.Search.SemanticWeight; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("search.lexical_weight + search.semantic_weight must equal 1, got %.3f", sum)
	}
	if !unit(c.Search.MinScore) {
		return fmt.Errorf("search.min_score must be between 0 and 1")
	}
	if !unit(c.Maintenance.DuplicateThreshold) {
		return fmt.Errorf("maintenance.duplicate_threshold must be between 0 and 1")
	}
	if !unit(c.Maintenance.ConsolidateThreshold) {
		return fmt.Errorf("maintenance.consolidate_threshold must be between 0 and 1")
	}
	if c.Maintenance.DecayRate < 0 {
		return fmt.Errorf("maintenance.decay_rate must be >= 0")
	}
	if c.Maintenance.DecayFloor < 0 || c.Maintenance.DecayFloor > 100 {
		return fmt.Errorf("maintenance.decay_floor must be between 0 and 100")
	}
	if c.Maintenance.DecayAfter <= 0 {
		return fmt.Errorf("maintenance.decay_after must be greater than 0")
	}
	if c.Maintenance.ReindexBatch < 1 || c.Maintenance.ReindexWorkers < 1 {
		return fmt.Errorf("maintenance.reindex_batch and maintenance.reindex_workers must be at least 1")
	}
	if c.Sync.PromotionThreshold < 0 || c.Sync.PromotionThreshold > 100 {
		return fmt.Errorf("sync.promotion_threshold must be between 0 and 100")
	}
	if !validVisibility(c.Sync.DefaultVisibility) {
		return fmt.Errorf("sync.default_visibility must be public|restricted|admin, got %q", c.Sync.DefaultVisibility)
	}
	for _, vis := range c.Sync.PushVisibilities {
		if !validVisibility(vis) {
			return fmt.Errorf("sync.push_visibilities: unknown visibility %q", vis)
		}
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1")
	}
	if c.Context.MaxItems <= 0 {
		return fmt.Errorf("context.max_items must be greater than 0")
	}
	return nil
}

func unit(f float64) bool { return f >= 0 && f <= 1 }

func validVisibility(s string) bool {
	return s == "public" || s == "restricted" || s == "admin"
}

// Dir is the per-user configuration and data directory.
func Dir() string {
	if d := os.Getenv("OPENCLAW_BRAIN_HOME"); d != "" {
		return d
	}
	return filepath.Join(homeDir(), ".openclaw-brain")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
