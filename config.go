package lyricghost

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	defaults "github.com/drunkenbot/lyricghost/default"
)

// Config represents the lyricghost configuration.
type Config struct {
	Version    int              `toml:"version"`
	Generation GenerationConfig `toml:"generation"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Server     ServerConfig     `toml:"server"`
	Session    SessionConfig    `toml:"session"`
}

// GenerationConfig holds settings for the completion oracle.
type GenerationConfig struct {
	BaseURL          string  `toml:"base_url"`
	APIKey           string  `toml:"api_key"`
	APIType          string  `toml:"api_type"` // "chat_completions" or "completions"
	Model            string  `toml:"model"`
	MaxTokens        int     `toml:"max_tokens"`
	MaxAllowedTokens int     `toml:"max_allowed_tokens"`
	Temperature      float64 `toml:"temperature"`
	TopP             float64 `toml:"top_p"`
	TimeoutSeconds   int     `toml:"timeout_seconds"`
	MaxRetries       *int    `toml:"max_retries"`
	CacheTTLSeconds  int     `toml:"cache_ttl_seconds"`
	// Punctuation is the character class removed from words before overlap comparison.
	Punctuation string `toml:"punctuation"`
}

// EmbeddingConfig holds settings for the lyric corpus index.
type EmbeddingConfig struct {
	BaseURL       string  `toml:"base_url"`
	APIKey        string  `toml:"api_key"`
	Model         string  `toml:"model"`
	Dimensions    int     `toml:"dimensions"`
	CorpusDB      string  `toml:"corpus_db"`
	TopK          int     `toml:"top_k"`
	MinSimilarity float64 `toml:"min_similarity"`
	ChunkWords    int     `toml:"chunk_words"`
	ChunkOverlap  int     `toml:"chunk_overlap"`
}

// ServerConfig holds HTTP daemon settings.
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// SessionConfig holds suggestion session timings, in milliseconds.
type SessionConfig struct {
	MinChars         int `toml:"min_chars"`
	DebounceMS       int `toml:"debounce_ms"`
	AcceptedStatusMS int `toml:"accepted_status_ms"`
	NoticeStatusMS   int `toml:"notice_status_ms"`
	ErrorStatusMS    int `toml:"error_status_ms"`
}

// API types understood by the generator.
const (
	APITypeChatCompletions = "chat_completions"
	APITypeCompletions     = "completions"
)

// ConfigDir returns the config directory path.
// Resolution order: $LYRICGHOST_CONFIG_DIR > $XDG_CONFIG_HOME/lyricghost > ~/.config/lyricghost
func ConfigDir() string {
	if dir := os.Getenv("LYRICGHOST_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "lyricghost")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "lyricghost-config")
	}
	return filepath.Join(home, ".config", "lyricghost")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// PromptPath returns the custom prompt template path.
func PromptPath() string {
	return filepath.Join(ConfigDir(), "prompt.md")
}

// LoadDotEnv loads a .env file from the working directory into the process
// environment. Variables that are already set are left alone. A missing file is not an error.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if err := toml.Unmarshal(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("lyricghost: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk or returns defaults if not found.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile loads config from path, filling missing fields with defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg, DefaultConfig())
	return &cfg, nil
}

func applyDefaults(cfg, d *Config) {
	if cfg.Version == 0 {
		cfg.Version = d.Version
	}

	g, dg := &cfg.Generation, d.Generation
	if g.BaseURL == "" {
		g.BaseURL = dg.BaseURL
	}
	if g.APIType == "" {
		g.APIType = dg.APIType
	}
	if g.Model == "" {
		g.Model = dg.Model
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = dg.MaxTokens
	}
	if g.MaxAllowedTokens == 0 {
		g.MaxAllowedTokens = dg.MaxAllowedTokens
	}
	if g.Temperature == 0 {
		g.Temperature = dg.Temperature
	}
	if g.TopP == 0 {
		g.TopP = dg.TopP
	}
	if g.TimeoutSeconds == 0 {
		g.TimeoutSeconds = dg.TimeoutSeconds
	}
	if g.MaxRetries == nil {
		g.MaxRetries = dg.MaxRetries
	}
	if g.CacheTTLSeconds == 0 {
		g.CacheTTLSeconds = dg.CacheTTLSeconds
	}
	if g.Punctuation == "" {
		g.Punctuation = dg.Punctuation
	}

	e, de := &cfg.Embedding, d.Embedding
	if e.Model == "" {
		e.Model = de.Model
	}
	if e.TopK == 0 {
		e.TopK = de.TopK
	}
	if e.MinSimilarity == 0 {
		e.MinSimilarity = de.MinSimilarity
	}
	if e.ChunkWords == 0 {
		e.ChunkWords = de.ChunkWords
	}
	if e.ChunkOverlap == 0 {
		e.ChunkOverlap = de.ChunkOverlap
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = d.Server.AllowedOrigins
	}

	s, ds := &cfg.Session, d.Session
	if s.MinChars == 0 {
		s.MinChars = ds.MinChars
	}
	if s.DebounceMS == 0 {
		s.DebounceMS = ds.DebounceMS
	}
	if s.AcceptedStatusMS == 0 {
		s.AcceptedStatusMS = ds.AcceptedStatusMS
	}
	if s.NoticeStatusMS == 0 {
		s.NoticeStatusMS = ds.NoticeStatusMS
	}
	if s.ErrorStatusMS == 0 {
		s.ErrorStatusMS = ds.ErrorStatusMS
	}
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	switch cfg.Generation.APIType {
	case APITypeChatCompletions, APITypeCompletions:
	default:
		warnings = append(warnings, "unknown generation api_type "+cfg.Generation.APIType+"; falling back to chat_completions")
	}
	if cfg.Generation.MaxTokens > cfg.Generation.MaxAllowedTokens {
		warnings = append(warnings, "max_tokens exceeds max_allowed_tokens; requests will be clamped")
	}
	if _, err := regexp.Compile(cfg.Generation.Punctuation); err != nil {
		warnings = append(warnings, "punctuation pattern does not compile; using the default: "+err.Error())
	}
	if ResolveCorpusDB(cfg) != "" && !EmbeddingEnabled(cfg) {
		warnings = append(warnings, "corpus_db is set but the embedding endpoint is not configured; lyric references are disabled")
	}
	if cfg.Embedding.ChunkOverlap >= cfg.Embedding.ChunkWords {
		warnings = append(warnings, "chunk_overlap must be smaller than chunk_words; it will be clamped")
	}
	return warnings
}

// ResolveGenerationBaseURL returns the generation API base URL.
// Priority: $LYRICGHOST_GENERATION_API_BASE_URL env > config value.
func ResolveGenerationBaseURL(cfg *Config) string {
	return resolve("LYRICGHOST_GENERATION_API_BASE_URL", cfg, func(c *Config) string { return c.Generation.BaseURL })
}

// ResolveGenerationAPIKey returns the generation API key.
// Priority: $LYRICGHOST_GENERATION_API_KEY env > config value.
func ResolveGenerationAPIKey(cfg *Config) string {
	return resolve("LYRICGHOST_GENERATION_API_KEY", cfg, func(c *Config) string { return c.Generation.APIKey })
}

// ResolveGenerationModel returns the generation model name.
// Priority: $LYRICGHOST_GENERATION_MODEL env > config value.
func ResolveGenerationModel(cfg *Config) string {
	return resolve("LYRICGHOST_GENERATION_MODEL", cfg, func(c *Config) string { return c.Generation.Model })
}

// ResolveEmbeddingBaseURL returns the embedding API base URL.
// Priority: $LYRICGHOST_EMBEDDING_API_BASE_URL env > config value.
func ResolveEmbeddingBaseURL(cfg *Config) string {
	return resolve("LYRICGHOST_EMBEDDING_API_BASE_URL", cfg, func(c *Config) string { return c.Embedding.BaseURL })
}

// ResolveEmbeddingAPIKey returns the embedding API key.
// Priority: $LYRICGHOST_EMBEDDING_API_KEY env > config value.
func ResolveEmbeddingAPIKey(cfg *Config) string {
	return resolve("LYRICGHOST_EMBEDDING_API_KEY", cfg, func(c *Config) string { return c.Embedding.APIKey })
}

// ResolveEmbeddingModel returns the embedding model name.
// Priority: $LYRICGHOST_EMBEDDING_MODEL env > config value.
func ResolveEmbeddingModel(cfg *Config) string {
	return resolve("LYRICGHOST_EMBEDDING_MODEL", cfg, func(c *Config) string { return c.Embedding.Model })
}

// ResolveCorpusDB returns the lyric corpus database path.
// Priority: $LYRICGHOST_CORPUS_DB env > config value.
func ResolveCorpusDB(cfg *Config) string {
	return resolve("LYRICGHOST_CORPUS_DB", cfg, func(c *Config) string { return c.Embedding.CorpusDB })
}

// ResolveServerAddr returns the HTTP listen address.
// Priority: $LYRICGHOST_SERVER_ADDR env > config value.
func ResolveServerAddr(cfg *Config) string {
	return resolve("LYRICGHOST_SERVER_ADDR", cfg, func(c *Config) string { return c.Server.Addr })
}

func resolve(env string, cfg *Config, field func(*Config) string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	if cfg != nil {
		return field(cfg)
	}
	return ""
}

// EmbeddingEnabled returns true when an embedding endpoint is configured.
func EmbeddingEnabled(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	return ResolveEmbeddingBaseURL(cfg) != ""
}

// GenerationTimeout returns the per-call oracle timeout.
func GenerationTimeout(cfg *Config) time.Duration {
	if cfg == nil || cfg.Generation.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(cfg.Generation.TimeoutSeconds) * time.Second
}

// CacheTTL returns how long cleaned completions are reused. Zero disables the cache.
func CacheTTL(cfg *Config) time.Duration {
	if cfg == nil || cfg.Generation.CacheTTLSeconds < 0 {
		return 0
	}
	return time.Duration(cfg.Generation.CacheTTLSeconds) * time.Second
}
