package generate

import (
	"testing"
	"time"
)

func TestCompletionCacheMissAndHit(t *testing.T) {
	cc := NewCompletionCache(time.Minute)
	defer cc.Close()

	s := Sampling{MaxTokens: 30, Temperature: 0.7}
	if _, ok := cc.Get("walking down the street", s); ok {
		t.Fatal("expected miss on empty cache")
	}

	cc.Set("walking down the street", s, "at night")
	got, ok := cc.Get("  walking down the street ", s)
	if !ok || got != "at night" {
		t.Errorf("expected hit with trimmed key, got %q %v", got, ok)
	}
}

func TestCompletionCacheKeyIncludesSampling(t *testing.T) {
	cc := NewCompletionCache(time.Minute)
	defer cc.Close()

	cc.Set("hello darkness my old", Sampling{MaxTokens: 30, Temperature: 0.7}, "friend")
	if _, ok := cc.Get("hello darkness my old", Sampling{MaxTokens: 10, Temperature: 0.7}); ok {
		t.Error("expected miss for different max tokens")
	}
	if _, ok := cc.Get("hello darkness my old", Sampling{MaxTokens: 30, Temperature: 1.2}); ok {
		t.Error("expected miss for different temperature")
	}
}

func TestCompletionCacheSkipsEmpty(t *testing.T) {
	cc := NewCompletionCache(time.Minute)
	defer cc.Close()

	cc.Set("anything at all", Sampling{}, "")
	if cc.Len() != 0 {
		t.Errorf("expected empty completion not to be cached, len=%d", cc.Len())
	}
}

func TestCompletionCacheExpires(t *testing.T) {
	cc := NewCompletionCache(time.Millisecond)
	defer cc.Close()

	cc.Set("short lived line", Sampling{}, "gone soon")
	time.Sleep(10 * time.Millisecond)
	if _, ok := cc.Get("short lived line", Sampling{}); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestCompletionCacheDisabled(t *testing.T) {
	cc := NewCompletionCache(0)
	if cc != nil {
		t.Fatal("expected nil cache for zero TTL")
	}
	cc.Set("x", Sampling{}, "y")
	if _, ok := cc.Get("x", Sampling{}); ok {
		t.Error("expected nil cache to never hit")
	}
	cc.Close()
}
