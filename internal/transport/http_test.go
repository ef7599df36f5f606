package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestFetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "crbs-test" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	var last int64
	h := &HTTP{UserAgent: "crbs-test", Progress: func(done, _ int64) { last = done }}
	data, err := h.Fetch(context.Background(), srv.URL+"/archive.zip")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "payload" || last != int64(len("payload")) {
		t.Fatalf("got %q, progress %d", data, last)
	}

	_, err = h.Fetch(context.Background(), srv.URL+"/missing")
	var status *StatusError
	if !errors.As(err, &status) || status.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
}

func TestFetchSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()
	h := &HTTP{MaxBytes: 16}
	if _, err := h.Fetch(context.Background(), srv.URL); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestFetchLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolchains.toml")
	if err := os.WriteFile(path, []byte("manifest_version = \"1\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := &HTTP{}
	for _, u := range []string{path, "file://" + path} {
		data, err := h.Fetch(context.Background(), u)
		if err != nil || len(data) == 0 {
			t.Fatalf("%s: %v", u, err)
		}
	}
}

func TestFetchHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &HTTP{}
	if _, err := h.Fetch(ctx, "https://example.invalid/x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
