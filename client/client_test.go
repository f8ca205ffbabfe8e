package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	lyricghost "github.com/drunkenbot/lyricghost"
)

func TestComplete(t *testing.T) {
	var (
		gotBody   lyricghost.Request
		gotHeader string
		gotPath   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get(lyricghost.SessionHeader)
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(lyricghost.Response{Completion: "at night"})
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	ctx := lyricghost.WithSessionID(context.Background(), "abc")
	got, err := c.Complete(ctx, &lyricghost.Request{PartialLyric: "walking down the street", Refresh: true})
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "at night" {
		t.Errorf("Text = %q", got.Text)
	}
	if gotPath != "/api/complete" {
		t.Errorf("path = %q", gotPath)
	}
	if gotHeader != "abc" {
		t.Errorf("session header = %q", gotHeader)
	}
	if gotBody.PartialLyric != "walking down the street" || !gotBody.Refresh {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestCompleteErrorCodes(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{400, `{"error":"partialLyric is required","code":"invalid_input"}`, lyricghost.ErrInvalidInput},
		{500, `{"error":"model down","code":"oracle_unavailable"}`, lyricghost.ErrOracleUnavailable},
		{500, `{"error":"nothing left","code":"oracle_empty"}`, lyricghost.ErrOracleEmpty},
		{503, `{"error":"not configured","code":"not_configured"}`, lyricghost.ErrNotConfigured},
		{502, `<html>bad gateway</html>`, lyricghost.ErrOracleUnavailable},
		{500, `{}`, lyricghost.ErrOracleUnavailable},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(tt.body))
		}))
		_, err := New(srv.URL).Complete(context.Background(), &lyricghost.Request{PartialLyric: "walking down the street"})
		srv.Close()
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d body %s: err = %v, want %v", tt.status, tt.body, err, tt.want)
		}
	}
}

func TestCompleteErrorMessageKept(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"connection refused","code":"oracle_unavailable"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Complete(context.Background(), &lyricghost.Request{PartialLyric: "x"})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("err = %v, want server message", err)
	}
}

func TestCompleteNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Complete(context.Background(), &lyricghost.Request{PartialLyric: "x"})
	if !errors.Is(err, lyricghost.ErrOracleUnavailable) {
		t.Errorf("err = %v, want ErrOracleUnavailable", err)
	}
}

func TestCompleteCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.URL).Complete(ctx, &lyricghost.Request{PartialLyric: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCompleteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(srv.URL, WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	_, err := c.Complete(context.Background(), &lyricghost.Request{PartialLyric: "x"})
	if !errors.Is(err, lyricghost.ErrOracleUnavailable) {
		t.Errorf("err = %v, want ErrOracleUnavailable", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestCompleteNilRequest(t *testing.T) {
	if _, err := New("").Complete(context.Background(), nil); !errors.Is(err, lyricghost.ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(lyricghost.Health{Status: "healthy", Service: "lyricghostd", Version: "1.2.3"})
	}))
	defer srv.Close()

	v, err := New(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != "1.2.3" {
		t.Errorf("version = %q", v)
	}
}

func TestNewDefaults(t *testing.T) {
	c := New("")
	if c.baseURL != DefaultServer {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	h := &http.Client{}
	if New("", WithHTTPClient(h)).http != h {
		t.Error("WithHTTPClient not applied")
	}
}
