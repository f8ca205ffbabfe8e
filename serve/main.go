// Command lyricghostd is the lyricghost daemon.
// It serves lyric continuations over HTTP to editing surfaces and can
// embed a Genius JSON corpus used as prompt references.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	lyricghost "github.com/drunkenbot/lyricghost"
	"github.com/drunkenbot/lyricghost/generate"
	"github.com/drunkenbot/lyricghost/index"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const shutdownTimeout = 5 * time.Second

type rootOptions struct {
	verbose    bool
	configPath string
	addr       string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "lyricghostd",
		Short:         "Serve lyric ghost-text completions over HTTP",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			lyricghost.SetupLogging(os.Stderr, serviceName, opts.verbose)
			if err := lyricghost.LoadDotEnv(); err != nil {
				slog.Warn("failed to load .env", "error", err)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runServe(cmd.Context(), opts)
			if err != nil {
				slog.Error("server error", "error", err)
			}
			return err
		},
	}
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every request and response")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default "+lyricghost.ConfigPath()+")")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides [server] addr)")

	cmd.AddCommand(newIndexCmd(opts))
	return cmd
}

func loadConfig(path string) (*lyricghost.Config, error) {
	if path != "" {
		return lyricghost.LoadConfigFile(path)
	}
	return lyricghost.LoadConfig()
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	addr := opts.addr
	if addr == "" {
		addr = lyricghost.ResolveServerAddr(cfg)
	}

	engine := generate.NewEngine(cfg)
	srv := NewServer(cfg, engine, Version)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(addr) }()
	slog.Info("ready", "addr", addr, "model", engine.Model(), "configured", engine.Configured())

	select {
	case err := <-errCh:
		engine.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newIndexCmd(root *rootOptions) *cobra.Command {
	var (
		reset       bool
		noRecursive bool
		dbPath      string
	)
	cmd := &cobra.Command{
		Use:   "index <dir>",
		Short: "Embed a directory of Genius JSON lyric files into the corpus database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = corpusDBPath(cfg)
			}
			stats, err := runIndex(cmd.Context(), cfg, dbPath, args[0], !noRecursive, reset)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d files, %d songs, %d new chunks, %d unchanged, %d failed\n",
				dbPath, stats.Files, stats.Songs, stats.Chunks, stats.Skipped, stats.Failed)
			return err
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "drop every stored chunk before indexing")
	cmd.Flags().BoolVar(&noRecursive, "no-recursive", false, "only read files directly inside <dir>")
	cmd.Flags().StringVar(&dbPath, "db", "", "corpus database (default [embedding] corpus_db)")
	return cmd
}

// corpusDBPath returns the configured corpus database, or corpus.db in the config dir.
func corpusDBPath(cfg *lyricghost.Config) string {
	if p := lyricghost.ResolveCorpusDB(cfg); p != "" {
		return p
	}
	return filepath.Join(lyricghost.ConfigDir(), "corpus.db")
}

func runIndex(ctx context.Context, cfg *lyricghost.Config, dbPath, dir string, recursive, reset bool) (index.Stats, error) {
	if !lyricghost.EmbeddingEnabled(cfg) {
		return index.Stats{}, errors.New("embedding endpoint not configured: set [embedding] base_url or LYRICGHOST_EMBEDDING_API_BASE_URL")
	}
	store, err := index.OpenStore(dbPath)
	if err != nil {
		return index.Stats{}, err
	}
	embedder := index.NewEmbedder(
		lyricghost.ResolveEmbeddingBaseURL(cfg),
		lyricghost.ResolveEmbeddingAPIKey(cfg),
		lyricghost.ResolveEmbeddingModel(cfg),
		cfg.Embedding.Dimensions,
	)
	idx := index.NewIndexer(embedder, store)
	defer idx.Close()

	if reset {
		if err := idx.Reset(ctx); err != nil {
			return index.Stats{}, err
		}
		slog.Info("corpus reset", "path", dbPath)
	}
	return idx.IndexDir(ctx, dir, recursive, cfg.Embedding.ChunkWords, cfg.Embedding.ChunkOverlap)
}
