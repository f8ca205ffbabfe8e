package generate

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"
)

// DefaultPunctuation is the character class removed from words before
// they are compared for overlap. It keeps letters, digits and underscores
// of every script. ASCIIPunctuation treats every non-ASCII letter as
// punctuation and suits English-only corpora.
const (
	DefaultPunctuation = `[^\p{L}\p{N}_\s]`
	ASCIIPunctuation   = `[^\w\s]`
)

var (
	reThinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)
	reThinkTag   = regexp.MustCompile(`(?i)</?think>`)
)

// StripThinking removes closed <think>...</think> blocks, then any stray
// opening or closing tag, and trims surrounding whitespace.
func StripThinking(s string) string {
	s = reThinkBlock.ReplaceAllString(s, "")
	return strings.TrimSpace(reThinkTag.ReplaceAllString(s, ""))
}

// Normalizer compares words case- and punctuation-insensitively.
type Normalizer struct {
	punct *regexp.Regexp
}

// NewNormalizer compiles the punctuation class. An empty or invalid
// pattern falls back to DefaultPunctuation.
func NewNormalizer(pattern string) *Normalizer {
	if pattern == "" {
		pattern = DefaultPunctuation
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		slog.Warn("invalid punctuation pattern, using default", "pattern", pattern, "error", err)
		re = regexp.MustCompile(DefaultPunctuation)
	}
	return &Normalizer{punct: re}
}

// Normalize lower-cases words, strips punctuation and collapses whitespace.
func (n *Normalizer) Normalize(words []string) string {
	s := n.punct.ReplaceAllString(strings.ToLower(strings.Join(words, " ")), "")
	return strings.Join(strings.Fields(s), " ")
}

// OverlapLength returns the largest i such that the last i input words
// equal the first i completion words after normalization, or 0.
func (n *Normalizer) OverlapLength(inputWords, completionWords []string) int {
	limit := min(len(inputWords), len(completionWords))
	overlap := 0
	// Keep scanning after a match: a longer overlap wins.
	for i := 1; i <= limit; i++ {
		tail := n.Normalize(inputWords[len(inputWords)-i:])
		head := n.Normalize(completionWords[:i])
		if tail == head {
			overlap = i
		}
	}
	return overlap
}

// RemoveOverlap drops the leading completion words that restate the tail
// of input. The spacing of the remaining text, line breaks included, is
// kept as the oracle wrote it.
func (n *Normalizer) RemoveOverlap(input, completion string) string {
	k := n.OverlapLength(strings.Fields(input), strings.Fields(completion))
	if k == 0 {
		return completion
	}
	return dropWords(completion, k)
}

// dropWords removes the first k whitespace-separated words of s and the
// whitespace after them.
func dropWords(s string, k int) string {
	for n := 0; n < k; n++ {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		i := strings.IndexFunc(s, unicode.IsSpace)
		if i < 0 {
			return ""
		}
		s = s[i:]
	}
	return strings.TrimLeftFunc(s, unicode.IsSpace)
}

// StripQuotes removes one leading and one trailing straight quote.
func StripQuotes(s string) string {
	if strings.HasPrefix(s, `"`) || strings.HasPrefix(s, `'`) {
		s = s[1:]
	}
	if strings.HasSuffix(s, `"`) || strings.HasSuffix(s, `'`) {
		s = s[:len(s)-1]
	}
	return s
}

// Clean turns a raw oracle answer into the continuation of input.
// The result may be empty.
func (n *Normalizer) Clean(input, raw string) string {
	completion := StripThinking(raw)
	completion = n.RemoveOverlap(input, completion)
	return StripQuotes(completion)
}
