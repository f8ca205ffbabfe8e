// Package generate turns a partial lyric into a clean continuation: it
// builds the prompt, calls the completion oracle and strips the echoed tail.
package generate

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"text/template"

	lyricghost "github.com/drunkenbot/lyricghost"
	defaults "github.com/drunkenbot/lyricghost/default"
	"github.com/drunkenbot/lyricghost/index"
)

// maxTemperature bounds per-request temperature overrides.
const maxTemperature = 2.0

// Engine orchestrates reference gathering, oracle calls and cleanup.
// It is safe for concurrent use.
type Engine struct {
	gatherer     *Gatherer
	generator    *Generator
	cache        *CompletionCache
	normalizer   *Normalizer
	config       *lyricghost.Config
	customPrompt string // loaded custom prompt template (empty = use default)
}

// NewEngine creates a new completion engine. A nil cfg loads the config from disk.
func NewEngine(cfg *lyricghost.Config) *Engine {
	if cfg == nil {
		var err error
		cfg, err = lyricghost.LoadConfig()
		if err != nil {
			slog.Warn("failed to load config, using defaults", "error", err)
			cfg = lyricghost.DefaultConfig()
		}
	}
	for _, w := range lyricghost.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}

	customPrompt := loadCustomPrompt()
	if customPrompt == "" {
		slog.Debug("no custom prompt, using built-in default")
	}

	var gen *Generator
	if baseURL := lyricghost.ResolveGenerationBaseURL(cfg); baseURL != "" {
		retries := 1
		if cfg.Generation.MaxRetries != nil {
			retries = *cfg.Generation.MaxRetries
		}
		gen = NewGenerator(
			baseURL,
			lyricghost.ResolveGenerationAPIKey(cfg),
			lyricghost.ResolveGenerationModel(cfg),
			cfg.Generation.APIType,
			lyricghost.GenerationTimeout(cfg),
			retries,
		)
	} else {
		slog.Warn("generation endpoint not configured")
	}

	return &Engine{
		gatherer:     NewGatherer(openIndexer(cfg), cfg),
		generator:    gen,
		cache:        NewCompletionCache(lyricghost.CacheTTL(cfg)),
		normalizer:   NewNormalizer(cfg.Generation.Punctuation),
		config:       cfg,
		customPrompt: customPrompt,
	}
}

// openIndexer opens the corpus index when both an embedding endpoint and
// a corpus database are configured. Failures disable references.
func openIndexer(cfg *lyricghost.Config) *index.Indexer {
	dbPath := lyricghost.ResolveCorpusDB(cfg)
	if !lyricghost.EmbeddingEnabled(cfg) || dbPath == "" {
		return nil
	}
	store, err := index.OpenStore(dbPath)
	if err != nil {
		slog.Warn("corpus database unavailable, references disabled", "path", dbPath, "error", err)
		return nil
	}
	embedder := index.NewEmbedder(
		lyricghost.ResolveEmbeddingBaseURL(cfg),
		lyricghost.ResolveEmbeddingAPIKey(cfg),
		lyricghost.ResolveEmbeddingModel(cfg),
		cfg.Embedding.Dimensions,
	)
	return index.NewIndexer(embedder, store)
}

// loadCustomPrompt loads a custom prompt template.
// Returns empty string if no custom prompt exists.
func loadCustomPrompt() string {
	promptPath := lyricghost.PromptPath()
	data, err := os.ReadFile(promptPath)
	if err != nil {
		return ""
	}
	slog.Info("loaded custom prompt", "path", promptPath)
	return string(data)
}

// Configured reports whether an oracle endpoint is available.
func (e *Engine) Configured() bool { return e.generator != nil }

// Model returns the configured generation model name.
func (e *Engine) Model() string {
	if e.generator == nil {
		return ""
	}
	return e.generator.Model()
}

// Ready returns a channel closed once the lyric corpus has been loaded.
func (e *Engine) Ready() <-chan struct{} { return e.gatherer.Ready() }

// CorpusSize returns the number of lyric chunks loaded for references.
func (e *Engine) CorpusSize() int { return e.gatherer.Len() }

// Close releases resources held by the engine.
func (e *Engine) Close() {
	if e.gatherer != nil {
		e.gatherer.Close()
	}
	e.cache.Close()
}

// RequestContinuation returns the cleaned continuation of text.
func (e *Engine) RequestContinuation(ctx context.Context, text string) (string, error) {
	c, err := e.Complete(ctx, &lyricghost.Request{PartialLyric: text})
	if err != nil {
		return "", err
	}
	return c.Text, nil
}

// Complete asks the oracle to continue req.PartialLyric.
//
// When cleanup leaves nothing, Complete returns the partially filled
// Completion together with an error wrapping lyricghost.ErrOracleEmpty.
func (e *Engine) Complete(ctx context.Context, req *lyricghost.Request) (*lyricghost.Completion, error) {
	if e.generator == nil {
		return nil, lyricghost.ErrNotConfigured
	}
	if req == nil || strings.TrimSpace(req.PartialLyric) == "" {
		return nil, lyricghost.ErrInvalidInput
	}

	input := req.PartialLyric
	s := e.sampling(req)

	if !req.Refresh {
		if text, ok := e.cache.Get(input, s); ok {
			slog.Debug("completion cache hit", "input", input)
			return &lyricghost.Completion{Text: text, Cached: true}, nil
		}
	}

	// Legacy completions continue the raw text; chat gets the engineered prompt.
	out := &lyricghost.Completion{Prompt: input}
	if e.generator.APIType() == lyricghost.APITypeChatCompletions {
		out.References = e.gatherer.Gather(ctx, input)
		out.Prompt = e.buildPrompt(input, out.References)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	slog.Debug("prompt", "prompt", out.Prompt, "max_tokens", s.MaxTokens, "temperature", s.Temperature)

	raw, err := e.generator.Generate(ctx, out.Prompt, s)
	if err != nil {
		slog.Error("generation error", "error", err)
		return nil, err
	}
	out.Raw = raw
	out.Text = e.normalizer.Clean(input, raw)

	slog.Debug("completion", "raw", raw, "clean", out.Text)

	if out.Text == "" {
		return out, lyricghost.ErrOracleEmpty
	}
	e.cache.Set(input, s, out.Text)
	return out, nil
}

// sampling resolves generation parameters for req, applying clamped overrides.
func (e *Engine) sampling(req *lyricghost.Request) Sampling {
	g := e.config.Generation
	s := Sampling{MaxTokens: g.MaxTokens, Temperature: g.Temperature, TopP: g.TopP}
	if req.MaxTokens > 0 {
		s.MaxTokens = req.MaxTokens
	}
	if g.MaxAllowedTokens > 0 && s.MaxTokens > g.MaxAllowedTokens {
		s.MaxTokens = g.MaxAllowedTokens
	}
	if req.Temperature != nil {
		s.Temperature = min(max(*req.Temperature, 0), maxTemperature)
	}
	return s
}

// PromptData holds the data passed to the prompt template.
type PromptData struct {
	PartialLyric string
	References   []string
}

var promptFuncs = template.FuncMap{
	"bullet": func(items []string) string {
		if len(items) == 0 {
			return ""
		}
		var sb strings.Builder
		for _, item := range items {
			sb.WriteString("- ")
			sb.WriteString(item)
			sb.WriteString("\n")
		}
		return strings.TrimSuffix(sb.String(), "\n")
	},
}

// buildPrompt renders the user message from the template.
func (e *Engine) buildPrompt(partialLyric string, references []string) string {
	tmplSrc := e.customPrompt
	if tmplSrc == "" {
		tmplSrc = defaults.DefaultPrompt
	}

	data := PromptData{
		PartialLyric: partialLyric,
		References:   references,
	}

	t, err := template.New("prompt").Funcs(promptFuncs).Parse(tmplSrc)
	if err != nil {
		slog.Warn("failed to parse prompt template, falling back to default", "error", err)
		t = template.Must(template.New("prompt").Funcs(promptFuncs).Parse(defaults.DefaultPrompt))
	}

	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		slog.Warn("failed to execute prompt template, falling back to default", "error", err)
		t = template.Must(template.New("prompt").Funcs(promptFuncs).Parse(defaults.DefaultPrompt))
		buf.Reset()
		t.Execute(&buf, data)
	}

	return strings.TrimRight(buf.String(), " \t\n")
}
