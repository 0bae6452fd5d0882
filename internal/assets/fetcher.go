// Package assets materializes remote layer sources into local files the
// encoder can read.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/reelkit/reelkit/internal/apperr"
)

const (
	DefaultTimeout  = 60 * time.Second
	DefaultMaxBytes = 512 << 20
)

// Fetcher downloads one source into dir. Every failure is reported as
// apperr.ErrAssetUnavailable.
type Fetcher interface {
	Materialize(ctx context.Context, source, dir, name string) (string, error)
}

// HTTPFetcher handles http(s) URLs. file:// URLs and absolute local paths are
// served only from the roots passed to AllowLocal.
type HTTPFetcher struct {
	client     *http.Client
	maxBytes   int64
	localRoots []string
	logger     *slog.Logger
}

func NewHTTPFetcher(timeout time.Duration, maxBytes int64, logger *slog.Logger) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// AllowLocal permits local sources that resolve, after following symlinks,
// inside one of roots. Empty roots are ignored.
func (f *HTTPFetcher) AllowLocal(roots ...string) *HTTPFetcher {
	for _, root := range roots {
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			f.logger.Warn("ignoring local asset root", "root", root, "error", err)
			continue
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		f.localRoots = append(f.localRoots, abs)
	}
	return f
}

func (f *HTTPFetcher) Materialize(ctx context.Context, source, dir, name string) (string, error) {
	p, err := f.materialize(ctx, source, dir, name)
	if err != nil {
		f.logger.Warn("asset unavailable", "layer", name, "source", redact(source), "error", err)
		return "", apperr.New(apperr.KindAsset, "materialize asset", fmt.Errorf("%w: %v", apperr.ErrAssetUnavailable, err)).
			WithDetail("layer", name)
	}
	return p, nil
}

func (f *HTTPFetcher) materialize(ctx context.Context, source, dir, name string) (string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", errors.New("empty source")
	}

	if filepath.IsAbs(source) {
		return f.localFile(source)
	}

	u, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("parse source: %w", err)
	}
	switch u.Scheme {
	case "file":
		return f.localFile(u.Path)
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return "", fmt.Errorf("asset is %d bytes, limit %d", resp.ContentLength, f.maxBytes)
	}

	ext := Extension(u.Path, resp.Header.Get("Content-Type"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create asset dir: %w", err)
	}
	dst := filepath.Join(dir, safeName(name)+ext)

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create asset file: %w", err)
	}
	n, copyErr := io.Copy(out, io.LimitReader(resp.Body, f.maxBytes+1))
	closeErr := out.Close()
	switch {
	case copyErr != nil:
		os.Remove(dst)
		return "", fmt.Errorf("download: %w", copyErr)
	case closeErr != nil:
		os.Remove(dst)
		return "", fmt.Errorf("close asset file: %w", closeErr)
	case n > f.maxBytes:
		os.Remove(dst)
		return "", fmt.Errorf("asset exceeds %d bytes", f.maxBytes)
	}

	f.logger.Debug("asset materialized", "layer", name, "bytes", n)
	return dst, nil
}

// Extension picks a file extension from the URL path, falling back to the
// response content type.
func Extension(urlPath, contentType string) string {
	if ext := strings.ToLower(path.Ext(urlPath)); ext != "" && len(ext) <= 6 {
		return ext
	}
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "audio/mpeg":
		return ".mp3"
	}
	if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func (f *HTTPFetcher) localFile(p string) (string, error) {
	if len(f.localRoots) == 0 {
		return "", errors.New("local sources are not allowed")
	}
	resolved, err := filepath.EvalSymlinks(filepath.Clean(p))
	if err != nil {
		return "", err
	}
	if !f.underRoot(resolved) {
		return "", fmt.Errorf("%s is outside the allowed asset directories", p)
	}
	st, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if st.IsDir() {
		return "", fmt.Errorf("%s is a directory", p)
	}
	return p, nil
}

func (f *HTTPFetcher) underRoot(p string) bool {
	for _, root := range f.localRoots {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func safeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r < 0x20 {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "asset"
	}
	return name
}

// redact drops the query string, which often carries signatures.
func redact(source string) string {
	if i := strings.IndexByte(source, '?'); i >= 0 {
		return source[:i] + "?…"
	}
	return source
}
