package index

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Defaults for corpus chunking.
const (
	DefaultChunkWords   = 25
	DefaultChunkOverlap = 7
)

// Song is one cleaned song from a corpus file.
type Song struct {
	Artist string
	Title  string
	Album  string
	Lyrics string
}

// Chunk is one window of a song's lyrics.
type Chunk struct {
	ID     string
	Artist string
	Title  string
	Album  string
	Text   string
}

// geniusFile is the JSON layout written by lyricsgenius artist downloads.
type geniusFile struct {
	ArtistName *string      `json:"artist_name"`
	Songs      []geniusSong `json:"songs"`
}

type geniusSong struct {
	Title  *string `json:"title"`
	Lyrics *string `json:"lyrics"`
	Album  *struct {
		Name string `json:"name"`
	} `json:"album"`
}

var (
	reSectionMarker = regexp.MustCompile(`\[[^\]\n]*\]`)
	reBlankLines    = regexp.MustCompile(`\n\s*\n`)
	reWhitespace    = regexp.MustCompile(`\s`)
)

// CleanLyrics strips section markers such as [Verse 1] and collapses blank lines.
func CleanLyrics(lyrics string) string {
	text := reSectionMarker.ReplaceAllString(lyrics, "")
	text = reBlankLines.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

// LoadCorpusFile parses one Genius JSON file. Songs with missing fields or
// no lyrics left after cleaning are skipped with a warning.
func LoadCorpusFile(path string) ([]Song, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var gf geniusFile
	if err := json.Unmarshal(data, &gf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if gf.ArtistName == nil || gf.Songs == nil {
		return nil, fmt.Errorf("parse %s: missing artist_name or songs", path)
	}

	songs := make([]Song, 0, len(gf.Songs))
	for _, s := range gf.Songs {
		if s.Title == nil || s.Lyrics == nil {
			slog.Warn("skipping song with missing fields", "file", path)
			continue
		}
		lyrics := CleanLyrics(*s.Lyrics)
		if lyrics == "" {
			slog.Warn("skipping song with empty lyrics after cleaning", "file", path, "title", *s.Title)
			continue
		}
		song := Song{Artist: *gf.ArtistName, Title: *s.Title, Lyrics: lyrics}
		if s.Album != nil {
			song.Album = s.Album.Name
		}
		songs = append(songs, song)
	}
	return songs, nil
}

// CorpusFiles lists the .json files under dir, descending into
// subdirectories when recursive is set.
func CorpusFiles(dir string, recursive bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// ChunkSong splits a song into chunks with stable IDs.
func ChunkSong(s Song, size, overlap int) []Chunk {
	texts := Windows(s.Lyrics, size, overlap)
	chunks := make([]Chunk, len(texts))
	prefix := slug(s.Artist) + "_" + slug(s.Title) + "_"
	for i, text := range texts {
		chunks[i] = Chunk{
			ID:     fmt.Sprintf("%s%d", prefix, i),
			Artist: s.Artist,
			Title:  s.Title,
			Album:  s.Album,
			Text:   text,
		}
	}
	return chunks
}

func slug(s string) string {
	return reWhitespace.ReplaceAllString(s, "-")
}
