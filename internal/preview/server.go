// Package preview serves processed artifacts over HTTP with byte-range
// support so images and movies can be previewed from the local API.
package preview

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
)

var ErrNotProcessed = errors.New("file has no processed artifact")

// mediaTypes covers formats mime.TypeByExtension does not know on every
// platform.
var mediaTypes = map[string]string{
	".exr":  "image/x-exr",
	".dpx":  "image/x-dpx",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
	".mov":  "video/quicktime",
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
}

// ContentType returns the media type for a file name.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeRecord streams the processed artifact of rec. The content hash, when
// known, is used as a strong ETag.
func (s *Server) ServeRecord(w http.ResponseWriter, r *http.Request, rec *catalog.FileRecord) error {
	if rec.ProcessedPath == "" || !rec.Success {
		return ErrNotProcessed
	}
	etag := ""
	if rec.ContentHash != "" {
		etag = strconv.Quote(rec.ContentHash)
	}
	return s.serve(w, r, rec.ProcessedPath, etag)
}

// ServeFile streams path without an ETag.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, path string) error {
	return s.serve(w, r, path, "")
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, path, etag string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	size := info.Size()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", ContentType(path))
	h.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	if etag != "" {
		h.Set("ETag", etag)
		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return nil
		}
	}

	span, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, ErrInvalidRange):
		s.logger.Debug("ignoring malformed range", "path", path, "range", r.Header.Get("Range"))
		span = nil
	}

	if span == nil {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			io.Copy(w, f)
		}
		return nil
	}

	h.Set("Content-Length", strconv.FormatInt(span.Length(), 10))
	h.Set("Content-Range", span.Header(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := f.Seek(span.Start, io.SeekStart); err != nil {
		return fmt.Errorf("seek artifact: %w", err)
	}
	io.CopyN(w, f, span.Length())
	return nil
}
