package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/domain/repositories"
)

const defaultDownloadTimeout = 30 * time.Minute

// Workspace is a local file cache for media tracks and generated caption files.
// Track URIs may be local paths, file:// URIs or http(s) URLs; remote files
// are downloaded once and then served from the cache.
type Workspace struct {
	baseDir string
	client  *http.Client
	logger  *zap.Logger
}

// Ensure Workspace implements the Workspace interface
var _ repositories.Workspace = (*Workspace)(nil)

// New creates a workspace rooted at baseDir
func New(baseDir string, logger *zap.Logger) (*Workspace, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root %s: %w", baseDir, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root %s: %w", abs, err)
	}
	return &Workspace{
		baseDir: abs,
		client:  &http.Client{Timeout: defaultDownloadTimeout},
		logger:  logger,
	}, nil
}

// Get returns a local path for the file at uri
func (w *Workspace) Get(ctx context.Context, uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid track URI %q: %w", uri, err)
	}

	switch u.Scheme {
	case "http", "https":
		return w.download(ctx, uri, u)
	case "file":
		return statLocal(u.Path)
	case "":
		return statLocal(uri)
	default:
		return "", fmt.Errorf("unsupported track URI scheme %q", u.Scheme)
	}
}

// Put stores content under the media package and returns its file:// URI
func (w *Workspace) Put(ctx context.Context, mediaPackageID, elementID, filename string, content io.Reader) (string, error) {
	dir, err := w.elementDir(mediaPackageID, elementID)
	if err != nil {
		return "", err
	}
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid file name %q", filename)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	target := filepath.Join(dir, name)
	if err := writeAtomic(target, content); err != nil {
		return "", err
	}

	w.logger.Debug("Stored file in workspace", zap.String("path", target))
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(target)}).String(), nil
}

// elementDir returns the directory of one media package element
func (w *Workspace) elementDir(mediaPackageID, elementID string) (string, error) {
	for _, segment := range []string{mediaPackageID, elementID} {
		if segment == "" || segment == "." || segment == ".." || strings.ContainsAny(segment, `/\`) {
			return "", fmt.Errorf("invalid path segment %q", segment)
		}
	}
	return filepath.Join(w.baseDir, "mediapackage", mediaPackageID, elementID), nil
}

func (w *Workspace) download(ctx context.Context, uri string, u *url.URL) (string, error) {
	sum := sha256.Sum256([]byte(uri))
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = "track"
	}
	target := filepath.Join(w.baseDir, "downloads", hex.EncodeToString(sum[:8]), name)

	if _, err := os.Stat(target); err == nil {
		return target, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", uri, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: track %s", domain.ErrNotFound, uri)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("unexpected status code %d downloading %s", resp.StatusCode, uri)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	if err := writeAtomic(target, resp.Body); err != nil {
		return "", err
	}

	w.logger.Info("Downloaded track into workspace", zap.String("uri", uri), zap.String("path", target))
	return target, nil
}

func statLocal(p string) (string, error) {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: track %s", domain.ErrNotFound, p)
		}
		return "", fmt.Errorf("failed to stat %s: %w", p, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("track %s is a directory", p)
	}
	return p, nil
}

// writeAtomic writes content next to target and renames it into place
func writeAtomic(target string, content io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file in %s: %w", filepath.Dir(target), err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to move file into %s: %w", target, err)
	}
	return nil
}
