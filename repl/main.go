// Command lyricghost-repl probes the completion engine one line at a time.
// Each line is completed in-process and the result, with the prompt and
// references used, is written as a TOML record to stdout.
//
// Usage:
//
//	./lyricghost-repl                   # interactive, TOML on screen
//	./lyricghost-repl > log.toml        # prompt on screen, TOML to file
//	./lyricghost-repl < lines.txt       # batch: one probe per input line
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	lyricghost "github.com/drunkenbot/lyricghost"
	"github.com/drunkenbot/lyricghost/generate"
)

const prompt = "> "

// completer is the part of the engine the repl needs.
type completer interface {
	Complete(ctx context.Context, req *lyricghost.Request) (*lyricghost.Completion, error)
}

func main() {
	var verbose bool
	cmd := &cobra.Command{
		Use:          "lyricghost-repl",
		Short:        "Probe lyric completions line by line",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			lyricghost.SetupLogging(os.Stderr, "repl", verbose)
			if err := lyricghost.LoadDotEnv(); err != nil {
				slog.Warn("failed to load .env", "error", err)
			}
			engine := generate.NewEngine(nil)
			defer engine.Close()

			if term.IsTerminal(int(os.Stdin.Fd())) {
				return interactive(cmd.Context(), engine)
			}
			return batch(cmd.Context(), engine, os.Stdin, os.Stdout, os.Stderr)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// interactive reads lines from the controlling terminal so stdout can be redirected.
func interactive(ctx context.Context, engine completer) error {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open /dev/tty: %w", err)
	}
	defer tty.Close()

	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer term.Restore(int(tty.Fd()), old)

	t := term.NewTerminal(tty, prompt)
	fmt.Fprintf(t, "lyricghost repl\n\ncommands:\n  :refresh  repeat the last line, bypassing the cache\n  :quit      exit\n\n")

	out := termWriter(os.Stdout)
	var last string
	for {
		line, err := t.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		refresh := false
		switch strings.TrimSpace(line) {
		case "":
			continue
		case ":quit", ":q":
			return nil
		case ":refresh", ":r":
			if last == "" {
				fmt.Fprintln(t, "nothing to refresh")
				continue
			}
			line, refresh = last, true
		}
		last = line

		rec, text := probe(ctx, engine, &lyricghost.Request{PartialLyric: line, Refresh: refresh})
		fmt.Fprintf(t, "  %s\n\n", text)
		if err := writeRecord(out, rec); err != nil {
			return err
		}
	}
}

// batch probes every non-empty line of in.
func batch(ctx context.Context, engine completer, in io.Reader, out, status io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, text := probe(ctx, engine, &lyricghost.Request{PartialLyric: line})
		fmt.Fprintf(status, "%s %s\n", prompt+line, text)
		if err := writeRecord(out, rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func probe(ctx context.Context, engine completer, req *lyricghost.Request) (record, string) {
	start := time.Now()
	c, err := engine.Complete(ctx, req)
	return newRecord(req, c, err, start, time.Since(start)), summary(c, err)
}
