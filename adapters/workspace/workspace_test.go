package workspace

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/azscribe/domain"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := New(t.TempDir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create workspace: %v", err)
	}
	return ws
}

func TestPutAndGet(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()

	uri, err := ws.Put(ctx, "mp-1", "captions-1", "captions.vtt", strings.NewReader("WEBVTT\n\n"))
	if err != nil {
		t.Fatalf("Failed to put file: %v", err)
	}
	if !strings.HasPrefix(uri, "file://") || !strings.HasSuffix(uri, "/mediapackage/mp-1/captions-1/captions.vtt") {
		t.Errorf("Unexpected URI %s", uri)
	}

	p, err := ws.Get(ctx, uri)
	if err != nil {
		t.Fatalf("Failed to get file: %v", err)
	}
	content, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != "WEBVTT\n\n" {
		t.Errorf("Unexpected content %q", content)
	}
}

func TestPutRejectsTraversal(t *testing.T) {
	ws := newTestWorkspace(t)
	for _, mp := range []string{"", "..", "a/b"} {
		if _, err := ws.Put(context.Background(), mp, "e", "f.vtt", strings.NewReader("")); err == nil {
			t.Errorf("Expected error for media package id %q", mp)
		}
	}
}

func TestGetLocalMissing(t *testing.T) {
	ws := newTestWorkspace(t)
	_, err := ws.Get(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestGetDownloadsOnce(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/media/track.mp4" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "media-bytes")
	}))
	defer server.Close()

	ws := newTestWorkspace(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		p, err := ws.Get(ctx, server.URL+"/media/track.mp4")
		if err != nil {
			t.Fatalf("Failed to get track: %v", err)
		}
		if filepath.Base(p) != "track.mp4" {
			t.Errorf("Expected file name to be kept, got %s", p)
		}
		content, _ := os.ReadFile(p)
		if string(content) != "media-bytes" {
			t.Errorf("Unexpected content %q", content)
		}
	}
	if requests != 1 {
		t.Errorf("Expected one download, got %d", requests)
	}

	if _, err := ws.Get(ctx, server.URL+"/media/missing.mp4"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing remote track, got %v", err)
	}
}

func TestGetUnsupportedScheme(t *testing.T) {
	ws := newTestWorkspace(t)
	u := url.URL{Scheme: "ftp", Host: "example.com", Path: "/a.mp4"}
	if _, err := ws.Get(context.Background(), u.String()); err == nil {
		t.Error("Expected error for unsupported scheme")
	}
}
