package generate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	lyricghost "github.com/drunkenbot/lyricghost"
)

// fakeChat records chat requests and replies with canned answers in order.
type fakeChat struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []openai.ChatCompletionNewParams
}

func (f *fakeChat) New(_ context.Context, params openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, params)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return &openai.ChatCompletion{}, nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: reply}},
		},
	}, nil
}

func (f *fakeChat) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// testEngine creates a minimal engine backed by a fake chat client.
func testEngine(chat *fakeChat) *Engine {
	cfg := lyricghost.DefaultConfig()
	return &Engine{
		gatherer: NewGatherer(nil, cfg),
		generator: NewGenerator("http://127.0.0.1:1/v1", "", cfg.Generation.Model,
			lyricghost.APITypeChatCompletions, time.Second, 0, WithChatClient(chat)),
		cache:      NewCompletionCache(time.Minute),
		normalizer: NewNormalizer(cfg.Generation.Punctuation),
		config:     cfg,
	}
}

func TestCompleteRemovesEchoedTail(t *testing.T) {
	chat := &fakeChat{replies: []string{"the street at night"}}
	e := testEngine(chat)
	defer e.Close()

	c, err := e.Complete(context.Background(), &lyricghost.Request{PartialLyric: "walking down the street"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Text != "at night" {
		t.Errorf("expected %q, got %q", "at night", c.Text)
	}
	if c.Raw != "the street at night" {
		t.Errorf("expected raw to be kept, got %q", c.Raw)
	}
	if c.Cached {
		t.Error("first call should not be cached")
	}
}

func TestCompleteUsesDefaultSampling(t *testing.T) {
	chat := &fakeChat{replies: []string{"alive tonight"}}
	e := testEngine(chat)
	defer e.Close()

	if _, err := e.Complete(context.Background(), &lyricghost.Request{PartialLyric: "I feel so"}); err != nil {
		t.Fatal(err)
	}
	if chat.calls() != 1 {
		t.Fatalf("expected 1 call, got %d", chat.calls())
	}
	req := chat.requests[0]
	if req.MaxTokens.Value != 30 {
		t.Errorf("expected max_tokens 30, got %d", req.MaxTokens.Value)
	}
	if req.Temperature.Value != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", req.Temperature.Value)
	}
	if string(req.Model) != "Qwen/Qwen3-0.6B" {
		t.Errorf("unexpected model %q", req.Model)
	}
	if len(req.Messages) != 1 {
		t.Errorf("expected a single user message, got %d", len(req.Messages))
	}
}

func TestCompleteOverridesClamped(t *testing.T) {
	chat := &fakeChat{replies: []string{"one", "two"}}
	e := testEngine(chat)
	defer e.Close()

	hot := 5.0
	if _, err := e.Complete(context.Background(), &lyricghost.Request{PartialLyric: "la la la la la", MaxTokens: 500, Temperature: &hot}); err != nil {
		t.Fatal(err)
	}
	cold := 0.0
	if _, err := e.Complete(context.Background(), &lyricghost.Request{PartialLyric: "la la la la la", MaxTokens: 10, Temperature: &cold}); err != nil {
		t.Fatal(err)
	}

	if got := chat.requests[0].MaxTokens.Value; got != 100 {
		t.Errorf("expected max_tokens clamped to 100, got %d", got)
	}
	if got := chat.requests[0].Temperature.Value; got != 2 {
		t.Errorf("expected temperature clamped to 2, got %v", got)
	}
	if got := chat.requests[1].MaxTokens.Value; got != 10 {
		t.Errorf("expected max_tokens 10, got %d", got)
	}
	if got := chat.requests[1].Temperature.Value; got != 0 {
		t.Errorf("expected explicit zero temperature, got %v", got)
	}
}

func TestCompleteCacheAndRefresh(t *testing.T) {
	chat := &fakeChat{replies: []string{"at night", "in the rain"}}
	e := testEngine(chat)
	defer e.Close()
	ctx := context.Background()

	first, err := e.Complete(ctx, &lyricghost.Request{PartialLyric: "walking down the street"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Complete(ctx, &lyricghost.Request{PartialLyric: "walking down the street"})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached || second.Text != first.Text {
		t.Errorf("expected cached %q, got %+v", first.Text, second)
	}
	if chat.calls() != 1 {
		t.Errorf("expected cache to avoid a second call, got %d calls", chat.calls())
	}

	third, err := e.Complete(ctx, &lyricghost.Request{PartialLyric: "walking down the street", Refresh: true})
	if err != nil {
		t.Fatal(err)
	}
	if third.Cached || third.Text != "in the rain" {
		t.Errorf("expected fresh completion, got %+v", third)
	}
	if chat.calls() != 2 {
		t.Errorf("expected refresh to call the oracle, got %d calls", chat.calls())
	}
}

func TestCompleteEmptyAfterCleanup(t *testing.T) {
	chat := &fakeChat{replies: []string{`"were young"`}}
	e := testEngine(chat)
	defer e.Close()

	c, err := e.Complete(context.Background(), &lyricghost.Request{PartialLyric: "we were young"})
	if !errors.Is(err, lyricghost.ErrOracleEmpty) {
		t.Fatalf("expected ErrOracleEmpty, got %v", err)
	}
	if c == nil || c.Raw != `"were young"` {
		t.Errorf("expected raw completion alongside the error, got %+v", c)
	}
	if e.cache.Len() != 0 {
		t.Error("empty result must not be cached")
	}
}

func TestCompleteNoChoices(t *testing.T) {
	e := testEngine(&fakeChat{})
	defer e.Close()

	_, err := e.Complete(context.Background(), &lyricghost.Request{PartialLyric: "nothing comes back"})
	if !errors.Is(err, lyricghost.ErrOracleEmpty) {
		t.Errorf("expected ErrOracleEmpty, got %v", err)
	}
}

func TestCompleteOracleError(t *testing.T) {
	e := testEngine(&fakeChat{err: errors.New("connection refused")})
	defer e.Close()

	_, err := e.Complete(context.Background(), &lyricghost.Request{PartialLyric: "walking down the street"})
	if !errors.Is(err, lyricghost.ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
}

func TestCompleteInvalidInput(t *testing.T) {
	e := testEngine(&fakeChat{})
	defer e.Close()

	for _, req := range []*lyricghost.Request{nil, {PartialLyric: ""}, {PartialLyric: "  \n\t"}} {
		if _, err := e.Complete(context.Background(), req); !errors.Is(err, lyricghost.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for %+v, got %v", req, err)
		}
	}
}

func TestCompleteNotConfigured(t *testing.T) {
	e := &Engine{config: lyricghost.DefaultConfig(), normalizer: NewNormalizer("")}
	_, err := e.Complete(context.Background(), &lyricghost.Request{PartialLyric: "walking down the street"})
	if !errors.Is(err, lyricghost.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if e.Configured() {
		t.Error("engine without generator should not report configured")
	}
}

func TestCompleteCancelledContext(t *testing.T) {
	chat := &fakeChat{replies: []string{"never used"}}
	e := testEngine(chat)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Complete(ctx, &lyricghost.Request{PartialLyric: "walking down the street"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if chat.calls() != 0 {
		t.Errorf("expected no oracle call, got %d", chat.calls())
	}
}

func TestRequestContinuation(t *testing.T) {
	e := testEngine(&fakeChat{replies: []string{`"forever and ever"`}})
	defer e.Close()

	got, err := e.RequestContinuation(context.Background(), "we could stay like this")
	if err != nil {
		t.Fatal(err)
	}
	if got != "forever and ever" {
		t.Errorf("expected quotes stripped, got %q", got)
	}
}

// --- Prompt tests ---

func TestBuildPromptDefault(t *testing.T) {
	e := testEngine(&fakeChat{})
	defer e.Close()

	got := e.buildPrompt("walking down the street", nil)
	want := "<｜no_think｜>Continue this lyric naturally. Only give the next few words.\n\n\"walking down the street\"\n\nContinue:"
	if got != want {
		t.Errorf("unexpected prompt:\n%q\nwant:\n%q", got, want)
	}
}

func TestBuildPromptWithReferences(t *testing.T) {
	e := testEngine(&fakeChat{})
	defer e.Close()

	got := e.buildPrompt("I feel so", []string{"so alive (Band, \"Song\")", "feel the night"})
	if !strings.Contains(got, "- so alive (Band, \"Song\")\n- feel the night") {
		t.Errorf("expected bulleted references, got %q", got)
	}
	if !strings.HasSuffix(got, "\"I feel so\"\n\nContinue:") {
		t.Errorf("expected prompt to end with the quoted lyric, got %q", got)
	}
}

func TestBuildPromptCustomTemplate(t *testing.T) {
	e := testEngine(&fakeChat{})
	defer e.Close()

	e.customPrompt = "Finish this: {{.PartialLyric}}\n"
	if got := e.buildPrompt("la la", nil); got != "Finish this: la la" {
		t.Errorf("unexpected custom prompt %q", got)
	}
}

func TestBuildPromptBrokenTemplateFallsBack(t *testing.T) {
	e := testEngine(&fakeChat{})
	defer e.Close()

	e.customPrompt = "{{.Nope"
	got := e.buildPrompt("la la", nil)
	if !strings.HasPrefix(got, "<｜no_think｜>") {
		t.Errorf("expected default prompt on parse error, got %q", got)
	}
}

func TestCompletePromptReturned(t *testing.T) {
	e := testEngine(&fakeChat{replies: []string{"at night"}})
	defer e.Close()

	c, err := e.Complete(context.Background(), &lyricghost.Request{PartialLyric: "walking down the street"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(c.Prompt, `"walking down the street"`) {
		t.Errorf("expected prompt to quote the lyric, got %q", c.Prompt)
	}
	if len(c.References) != 0 {
		t.Errorf("expected no references without an index, got %v", c.References)
	}
}
