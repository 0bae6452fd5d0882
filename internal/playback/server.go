// Package playback serves stored render outputs and caption exports over
// signed, expiring links with byte-range support so players can seek.
package playback

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/reelkit/reelkit/internal/encoder"
	"github.com/reelkit/reelkit/internal/subtitle"
)

// Objects resolves signed object keys to files on disk.
type Objects interface {
	Verify(key, token string) error
	Open(key string) (string, error)
}

type Server struct {
	objects Objects
	logger  *slog.Logger
}

func NewServer(objects Objects, logger *slog.Logger) *Server {
	return &Server{objects: objects, logger: logger}
}

// ServeObject handles GET and HEAD for key, authorised by the link token
// in the "token" query parameter. "download=1" asks the browser to save
// the file instead of playing it.
func (s *Server) ServeObject(w http.ResponseWriter, r *http.Request, key string) {
	if err := s.objects.Verify(key, r.URL.Query().Get("token")); err != nil {
		s.logger.Debug("rejected object link", "key", key, "error", err)
		http.Error(w, "invalid or expired link", http.StatusForbidden)
		return
	}

	p, err := s.objects.Open(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to resolve object", "key", key, "error", err)
		http.Error(w, "invalid object key", http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("download") == "1" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	}
	if err := s.ServeFile(w, r, p); err != nil {
		s.logger.Error("playback error", "key", key, "error", err)
	}
}

// ServeFile writes filePath honouring a single-span Range header.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	size := stat.Size()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType(filePath))
	h.Set("Cache-Control", "private, max-age=300")

	rng, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, ErrInvalidRange):
		// Malformed ranges are ignored and the whole file is sent.
		rng = nil
	case err != nil:
		return err
	}

	start, length, status := int64(0), size, http.StatusOK
	if rng != nil {
		start, length, status = rng.Start, rng.ContentLength(), http.StatusPartialContent
		h.Set("Content-Range", rng.ContentRange(size))
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return nil
	}
	if start > 0 {
		if _, err := file.Seek(start, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek: %w", err)
		}
	}
	if _, err := io.CopyN(w, file, length); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug("client stopped reading", "path", filePath, "error", err)
	}
	return nil
}

// contentType prefers the types objects were uploaded with over the host's
// mime table, which often lacks video types.
func contentType(p string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(p)), ".")
	if ext == "" {
		return "application/octet-stream"
	}
	if f, err := encoder.ParseFormat(ext); err == nil {
		return f.ContentType()
	}
	if f, err := subtitle.ParseFormat(ext); err == nil {
		return f.ContentType()
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
