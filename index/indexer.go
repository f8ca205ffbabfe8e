// Package index builds and searches a lyric corpus: Genius JSON files are
// cleaned, cut into overlapping word windows, embedded, persisted in SQLite
// and searched through an in-memory HNSW graph.
package index

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

const indexBatchSize = 32

// Reference is a corpus chunk with its similarity to a query, in [0, 1].
type Reference struct {
	Chunk      Chunk
	Similarity float64
}

// Stats summarizes one indexing run.
type Stats struct {
	Files   int
	Songs   int
	Chunks  int // newly embedded
	Skipped int // already stored with the same text
	Failed  int // files or batches that could not be processed
}

// Indexer embeds corpus chunks and answers similarity queries.
type Indexer struct {
	embedder *Embedder
	store    *Store

	mu     sync.RWMutex
	graph  *hnsw.Graph[string] // keyed by chunk ID
	chunks map[string]Chunk

	closeOnce sync.Once
}

// NewIndexer creates an indexer. store may be nil for a purely in-memory index.
func NewIndexer(embedder *Embedder, store *Store) *Indexer {
	return &Indexer{
		embedder: embedder,
		store:    store,
		graph:    hnsw.NewGraph[string](),
		chunks:   make(map[string]Chunk),
	}
}

// EmbeddingModel returns the model name used by the embedder, or empty if disabled.
func (idx *Indexer) EmbeddingModel() string {
	if idx.embedder == nil {
		return ""
	}
	return idx.embedder.Model()
}

// Len returns the number of chunks held in memory.
func (idx *Indexer) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

// Load reads the persisted chunks for the current embedding model into memory.
func (idx *Indexer) Load(ctx context.Context) error {
	if idx.store == nil {
		return nil
	}
	entries, err := idx.store.All(ctx, idx.EmbeddingModel())
	if err != nil {
		return err
	}
	idx.add(entries)
	return nil
}

func (idx *Indexer) add(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	nodes := make([]hnsw.Node[string], 0, len(entries))
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		nodes = append(nodes, hnsw.MakeNode(e.ID, e.Embedding))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, n := range nodes {
		// Replace stale vectors for re-embedded chunks.
		if _, ok := idx.chunks[n.Key]; ok {
			idx.graph.Delete(n.Key)
		}
	}
	idx.graph.Add(nodes...)
	for _, e := range entries {
		if len(e.Embedding) > 0 {
			idx.chunks[e.ID] = e.Chunk
		}
	}
}

// IndexSongs chunks and embeds songs, skipping chunks already stored with
// identical text. New entries are persisted and added to the graph.
func (idx *Indexer) IndexSongs(ctx context.Context, songs []Song, size, overlap int) (Stats, error) {
	var stats Stats
	if idx.embedder == nil {
		return stats, errors.New("embedding endpoint not configured")
	}

	known := map[string]string{}
	if idx.store != nil {
		var err error
		if known, err = idx.store.Texts(ctx, idx.EmbeddingModel()); err != nil {
			return stats, err
		}
	}

	var toEmbed []Chunk
	for _, s := range songs {
		stats.Songs++
		for _, c := range ChunkSong(s, size, overlap) {
			if text, ok := known[c.ID]; ok && text == c.Text {
				stats.Skipped++
				continue
			}
			toEmbed = append(toEmbed, c)
		}
	}

	for i := 0; i < len(toEmbed); i += indexBatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		batch := toEmbed[i:min(i+indexBatchSize, len(toEmbed))]

		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}
		vectors, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			slog.Error("batch embed error", "error", err)
			stats.Failed++
			continue
		}

		entries := make([]Entry, len(batch))
		for j, c := range batch {
			entries[j] = Entry{Chunk: c, Embedding: vectors[j]}
		}
		if idx.store != nil {
			if err := idx.store.Put(ctx, idx.EmbeddingModel(), entries); err != nil {
				return stats, err
			}
		}
		idx.add(entries)
		stats.Chunks += len(entries)
	}
	return stats, nil
}

// IndexDir indexes every Genius JSON file under dir. Unreadable files are
// logged and counted as failed.
func (idx *Indexer) IndexDir(ctx context.Context, dir string, recursive bool, size, overlap int) (Stats, error) {
	var total Stats
	files, err := CorpusFiles(dir, recursive)
	if err != nil {
		return total, err
	}
	for _, path := range files {
		slog.Info("indexing corpus file", "path", path)
		songs, err := LoadCorpusFile(path)
		if err != nil {
			slog.Error("failed to parse corpus file", "path", path, "error", err)
			total.Failed++
			continue
		}
		stats, err := idx.IndexSongs(ctx, songs, size, overlap)
		total.Files++
		total.Songs += stats.Songs
		total.Chunks += stats.Chunks
		total.Skipped += stats.Skipped
		total.Failed += stats.Failed
		if err != nil {
			return total, err
		}
	}
	slog.Info("indexing complete", "files", total.Files, "chunks", idx.Len())
	return total, nil
}

// Search embeds query and returns up to topK chunks, most similar first.
// Similarity is 1 - cosine distance / 2; results below minSimilarity are dropped.
func (idx *Indexer) Search(ctx context.Context, query string, topK int, minSimilarity float64) ([]Reference, error) {
	if idx.embedder == nil || topK <= 0 || idx.Len() == 0 {
		return nil, nil
	}

	queryVec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return idx.searchVector(queryVec, topK, minSimilarity), nil
}

func (idx *Indexer) searchVector(queryVec []float32, topK int, minSimilarity float64) []Reference {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph.Len() == 0 {
		return nil
	}
	neighbors := idx.graph.Search(queryVec, topK)

	refs := make([]Reference, 0, len(neighbors))
	for _, n := range neighbors {
		sim := 1 - float64(hnsw.CosineDistance(queryVec, n.Value))/2
		if sim < minSimilarity {
			continue
		}
		refs = append(refs, Reference{Chunk: idx.chunks[n.Key], Similarity: sim})
	}
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].Similarity > refs[j].Similarity
	})
	return refs
}

// Reset drops every chunk from memory and from the store.
func (idx *Indexer) Reset(ctx context.Context) error {
	idx.mu.Lock()
	idx.graph = hnsw.NewGraph[string]()
	idx.chunks = make(map[string]Chunk)
	idx.mu.Unlock()
	if idx.store == nil {
		return nil
	}
	return idx.store.Reset(ctx)
}

// Close releases the store.
func (idx *Indexer) Close() error {
	var err error
	idx.closeOnce.Do(func() {
		if idx.store != nil {
			err = idx.store.Close()
		}
	})
	return err
}
