package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"

	lyricghost "github.com/drunkenbot/lyricghost"
)

// termWriter converts \n to \r\n when f is a terminal, since raw mode on
// the tty disables the kernel's translation. Redirected output is untouched.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	_, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n")))
	return len(p), err
}

// record is one probe, written as a TOML document.
type record struct {
	Request  requestRecord   `toml:"request"`
	Context  *contextRecord  `toml:"context,omitempty"`
	Response *responseRecord `toml:"response,omitempty"`
	Error    *errorRecord    `toml:"error,omitempty"`
}

type requestRecord struct {
	Timestamp time.Time `toml:"timestamp"`
	Input     string    `toml:"input"`
	Refresh   bool      `toml:"refresh,omitempty"`
}

type contextRecord struct {
	References []string `toml:"references,omitempty"`
	Prompt     string   `toml:"prompt"`
}

type responseRecord struct {
	Completion string `toml:"completion"`
	Raw        string `toml:"raw,omitempty"`
	Cached     bool   `toml:"cached"`
	ElapsedMS  int64  `toml:"elapsed_ms"`
}

type errorRecord struct {
	Code    string `toml:"code"`
	Message string `toml:"message"`
}

func newRecord(req *lyricghost.Request, c *lyricghost.Completion, err error, at time.Time, elapsed time.Duration) record {
	r := record{Request: requestRecord{Timestamp: at.Truncate(time.Second), Input: req.PartialLyric, Refresh: req.Refresh}}
	if c != nil {
		if c.Prompt != "" {
			r.Context = &contextRecord{References: c.References, Prompt: c.Prompt}
		}
		r.Response = &responseRecord{
			Completion: c.Text,
			Raw:        c.Raw,
			Cached:     c.Cached,
			ElapsedMS:  elapsed.Milliseconds(),
		}
	}
	if err != nil {
		r.Error = &errorRecord{Code: lyricghost.ErrorCode(err), Message: err.Error()}
	}
	return r
}

// writeRecord writes r to w preceded by a separator comment.
func writeRecord(w io.Writer, r record) error {
	if _, err := fmt.Fprintf(w, "# %s\n", strings.Repeat("═", 60)); err != nil {
		return err
	}
	if err := toml.NewEncoder(w).Encode(r); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}

// summary is the one-line result shown on the terminal.
func summary(c *lyricghost.Completion, err error) string {
	switch {
	case errors.Is(err, lyricghost.ErrOracleEmpty):
		return "(no suggestion)"
	case err != nil:
		return fmt.Sprintf("error [%s]: %v", lyricghost.ErrorCode(err), err)
	case c.Cached:
		return "→ " + c.Text + "  (cached)"
	default:
		return "→ " + c.Text
	}
}
