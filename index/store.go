package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
	// Registers the pure-Go driver under the name "sqlite".
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id        TEXT NOT NULL,
	model     TEXT NOT NULL,
	artist    TEXT NOT NULL,
	title     TEXT NOT NULL,
	album     TEXT NOT NULL DEFAULT '',
	text      TEXT NOT NULL,
	embedding BLOB NOT NULL,
	PRIMARY KEY (id, model)
);`

// Entry is a chunk with its embedding.
type Entry struct {
	Chunk
	Embedding []float32
}

// Store persists embedded chunks in SQLite. Embeddings are stored as
// msgpack-encoded float32 arrays, one row per (chunk, model).
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the corpus database at path.
// Use ":memory:" for a throwaway store.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Put inserts or replaces entries for model in one transaction.
func (s *Store) Put(ctx context.Context, model string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (id, model, artist, title, album, text, embedding) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		blob, err := msgpack.Marshal(e.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, model, e.Artist, e.Title, e.Album, e.Text, blob); err != nil {
			return fmt.Errorf("insert %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Texts returns id -> text for every chunk stored under model.
func (s *Store) Texts(ctx context.Context, model string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, text FROM chunks WHERE model = ?`, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, err
		}
		out[id] = text
	}
	return out, rows.Err()
}

// All returns every entry stored under model.
func (s *Store) All(ctx context.Context, model string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, artist, title, album, text, embedding FROM chunks WHERE model = ? ORDER BY id`, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			blob []byte
		)
		if err := rows.Scan(&e.ID, &e.Artist, &e.Title, &e.Album, &e.Text, &blob); err != nil {
			return nil, err
		}
		if err := msgpack.Unmarshal(blob, &e.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of chunks stored under model.
func (s *Store) Count(ctx context.Context, model string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE model = ?`, model).Scan(&n)
	return n, err
}

// Reset deletes every stored chunk.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
