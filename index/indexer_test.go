package index

import (
	"context"
	"math"
	"testing"
)

func songsFixture() []Song {
	return []Song{
		{Artist: "A", Title: "Night", Lyrics: "walking down the street at night"},
		{Artist: "B", Title: "Sea", Lyrics: "zebra quiz jukebox"},
		{Artist: "C", Title: "Rain", Lyrics: "dancing in the pouring rain"},
	}
}

func TestIndexSongsAndSearch(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	idx := NewIndexer(testEmbedder(&letterEmbeddings{}), store)
	defer idx.Close()

	stats, err := idx.IndexSongs(ctx, songsFixture(), 25, 7)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Songs != 3 || stats.Chunks != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if idx.Len() != 3 {
		t.Fatalf("expected 3 chunks in memory, got %d", idx.Len())
	}

	refs, err := idx.Search(ctx, "walking down the street at night", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) == 0 {
		t.Fatal("expected references")
	}
	if refs[0].Chunk.Title != "Night" {
		t.Errorf("expected closest chunk from Night, got %+v", refs[0].Chunk)
	}
	if math.Abs(refs[0].Similarity-1) > 1e-4 {
		t.Errorf("expected similarity ~1 for identical text, got %v", refs[0].Similarity)
	}
	for i := 1; i < len(refs); i++ {
		if refs[i].Similarity > refs[i-1].Similarity {
			t.Errorf("references not sorted: %v", refs)
		}
		if refs[i].Similarity < 0 || refs[i].Similarity > 1 {
			t.Errorf("similarity out of range: %v", refs[i].Similarity)
		}
	}
}

func TestSearchThreshold(t *testing.T) {
	ctx := context.Background()
	idx := NewIndexer(testEmbedder(&letterEmbeddings{}), nil)
	if _, err := idx.IndexSongs(ctx, songsFixture(), 25, 7); err != nil {
		t.Fatal(err)
	}

	refs, err := idx.Search(ctx, "walking down the street at night", 3, 0.9999)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].Chunk.Title != "Night" {
		t.Errorf("expected only the identical chunk above threshold, got %+v", refs)
	}
}

func TestIndexSongsSkipsStoredChunks(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	f := &letterEmbeddings{}
	idx := NewIndexer(testEmbedder(f), store)
	defer idx.Close()

	if _, err := idx.IndexSongs(ctx, songsFixture(), 25, 7); err != nil {
		t.Fatal(err)
	}
	embedded := len(f.inputs)

	stats, err := idx.IndexSongs(ctx, songsFixture(), 25, 7)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Skipped != 3 || stats.Chunks != 0 {
		t.Errorf("expected all chunks skipped, got %+v", stats)
	}
	if len(f.inputs) != embedded {
		t.Errorf("expected no new embeddings, got %d more", len(f.inputs)-embedded)
	}
}

func TestLoadFromStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	writer := NewIndexer(testEmbedder(&letterEmbeddings{}), store)
	if _, err := writer.IndexSongs(ctx, songsFixture(), 25, 7); err != nil {
		t.Fatal(err)
	}

	reader := NewIndexer(testEmbedder(&letterEmbeddings{}), store)
	defer reader.Close()
	if err := reader.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if reader.Len() != 3 {
		t.Errorf("expected 3 chunks loaded, got %d", reader.Len())
	}

	other := NewIndexer(NewEmbedder("http://127.0.0.1:1/v1", "", "other-model", 0, WithEmbeddingClient(&letterEmbeddings{})), store)
	if err := other.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if other.Len() != 0 {
		t.Errorf("expected no chunks for a different model, got %d", other.Len())
	}
}

func TestIndexSongsBatchFailure(t *testing.T) {
	ctx := context.Background()
	idx := NewIndexer(testEmbedder(&letterEmbeddings{failOn: "zebra"}), nil)

	stats, err := idx.IndexSongs(ctx, songsFixture(), 25, 7)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 || stats.Chunks != 0 {
		t.Errorf("expected the single batch to fail, got %+v", stats)
	}
}

func TestIndexDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeCorpus(t, dir, "owls.json", geniusSample)
	writeCorpus(t, dir, "broken.json", "{")

	idx := NewIndexer(testEmbedder(&letterEmbeddings{}), nil)
	stats, err := idx.IndexDir(ctx, dir, true, 25, 7)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Files != 1 || stats.Failed != 1 || stats.Songs != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if idx.Len() != 2 {
		t.Errorf("expected 2 chunks, got %d", idx.Len())
	}
}

func TestIndexerWithoutEmbedder(t *testing.T) {
	idx := NewIndexer(nil, nil)
	if idx.EmbeddingModel() != "" {
		t.Error("expected empty model")
	}
	refs, err := idx.Search(context.Background(), "anything", 5, 0)
	if err != nil || refs != nil {
		t.Errorf("expected nil, nil; got %v, %v", refs, err)
	}
	if _, err := idx.IndexSongs(context.Background(), songsFixture(), 25, 7); err == nil {
		t.Error("expected error when indexing without an embedder")
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	idx := NewIndexer(testEmbedder(&letterEmbeddings{}), store)
	defer idx.Close()
	if _, err := idx.IndexSongs(ctx, songsFixture(), 25, 7); err != nil {
		t.Fatal(err)
	}
	if err := idx.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 0 {
		t.Errorf("expected empty index, got %d", idx.Len())
	}
	if n, _ := store.Count(ctx, "test-model"); n != 0 {
		t.Errorf("expected empty store, got %d", n)
	}
}
