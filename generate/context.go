package generate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lyricghost "github.com/drunkenbot/lyricghost"
	"github.com/drunkenbot/lyricghost/index"
)

const searchTimeout = 3 * time.Second

// Gatherer collects corpus references for completion requests.
type Gatherer struct {
	indexer       *index.Indexer
	topK          int
	minSimilarity float64

	loadOnce sync.Once
	loadDone chan struct{}
	loadErr  error
}

// NewGatherer creates a new context gatherer.
// indexer may be nil to disable references.
func NewGatherer(indexer *index.Indexer, cfg *lyricghost.Config) *Gatherer {
	topK := 3
	var minSimilarity float64
	if cfg != nil {
		if cfg.Embedding.TopK > 0 {
			topK = cfg.Embedding.TopK
		}
		minSimilarity = cfg.Embedding.MinSimilarity
	}

	g := &Gatherer{
		indexer:       indexer,
		topK:          topK,
		minSimilarity: minSimilarity,
		loadDone:      make(chan struct{}),
	}
	if indexer != nil {
		g.startLoading()
	}
	return g
}

// startLoading reads the persisted corpus into memory exactly once.
func (g *Gatherer) startLoading() {
	g.loadOnce.Do(func() {
		go func() {
			defer close(g.loadDone)
			if err := g.indexer.Load(context.Background()); err != nil {
				g.loadErr = err
				slog.Error("corpus load error", "error", err)
				return
			}
			slog.Info("lyric corpus loaded", "chunks", g.indexer.Len())
		}()
	})
}

// Ready returns a channel closed once the corpus has been loaded (or failed to).
func (g *Gatherer) Ready() <-chan struct{} {
	if g == nil || g.indexer == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return g.loadDone
}

// Gather returns formatted references similar to text. It never blocks on
// loading and never fails: problems are logged and yield no references.
func (g *Gatherer) Gather(ctx context.Context, text string) []string {
	if g == nil || g.indexer == nil {
		return nil
	}

	select {
	case <-g.loadDone:
		if g.loadErr != nil {
			return nil
		}
	default:
		slog.Debug("corpus still loading, skipping references")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	refs, err := g.indexer.Search(ctx, text, g.topK, g.minSimilarity)
	if err != nil {
		slog.Warn("reference search failed", "error", err)
		return nil
	}

	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, formatReference(r))
	}
	return out
}

func formatReference(r index.Reference) string {
	if r.Chunk.Artist == "" && r.Chunk.Title == "" {
		return r.Chunk.Text
	}
	return fmt.Sprintf("%s (%s, %q)", r.Chunk.Text, r.Chunk.Artist, r.Chunk.Title)
}

// Len returns the number of corpus chunks available for references.
func (g *Gatherer) Len() int {
	if g == nil || g.indexer == nil {
		return 0
	}
	return g.indexer.Len()
}

// Close releases resources held by the gatherer.
func (g *Gatherer) Close() {
	if g == nil || g.indexer == nil {
		return
	}
	if err := g.indexer.Close(); err != nil {
		slog.Warn("closing corpus index", "error", err)
	}
}
