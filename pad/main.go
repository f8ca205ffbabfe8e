// Command lyricghost-pad is a terminal text box with ghost-text lyric
// suggestions. It talks to a running lyricghostd, or with --local runs the
// completion engine in-process.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	lyricghost "github.com/drunkenbot/lyricghost"
	"github.com/drunkenbot/lyricghost/client"
	"github.com/drunkenbot/lyricghost/generate"
	"github.com/drunkenbot/lyricghost/session"
)

// Version is set at build time via -ldflags.
var Version = "dev"

type options struct {
	server  string
	local   bool
	logFile string
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "lyricghost-pad",
		Short:         "Write lyrics with inline AI suggestions",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	defaultServer := os.Getenv("LYRICGHOST_SERVER")
	if defaultServer == "" {
		defaultServer = client.DefaultServer
	}
	cmd.Flags().StringVar(&opts.server, "server", defaultServer, "lyricghostd base URL")
	cmd.Flags().BoolVar(&opts.local, "local", false, "run the completion engine in-process instead of calling a daemon")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "write logs to this file (default: discard)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func run(ctx context.Context, opts *options) error {
	var logOut io.Writer = io.Discard
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	lyricghost.SetupLogging(logOut, "pad", opts.verbose)
	if err := lyricghost.LoadDotEnv(); err != nil {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := lyricghost.LoadConfig()
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		cfg = lyricghost.DefaultConfig()
	}

	var (
		completer session.Completer
		title     string
	)
	if opts.local {
		engine := generate.NewEngine(cfg)
		defer engine.Close()
		completer = engine
		title = "lyricghost · local " + engine.Model()
	} else {
		c := client.New(opts.server)
		hctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		version, err := c.Health(hctx)
		cancel()
		if err != nil {
			slog.Warn("daemon not reachable", "server", opts.server, "error", err)
		} else {
			slog.Info("connected", "server", opts.server, "version", version)
		}
		completer = c
		title = "lyricghost · " + opts.server
	}

	var p *tea.Program
	fwd := newForwarder(func(msg tea.Msg) { p.Send(msg) })
	s := session.New(completer, surface{f: fwd}, session.WithConfig(cfg.Session))
	slog.Info("session started", "session", s.ID())

	p = tea.NewProgram(newModel(s.Dispatch, title), tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = p.Run()

	s.Close()
	fwd.close()
	return err
}
