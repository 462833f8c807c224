// Package metadata extracts technical metadata from media files and writes
// the JSON sidecar that accompanies every processed artifact.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
)

// Extractor produces a flat metadata map per file.
type Extractor struct {
	classifier *catalog.Classifier
	prober     *Prober
	logger     *slog.Logger
}

// NewExtractor creates an extractor. prober may be nil, in which case
// videos only get basic fields.
func NewExtractor(classifier *catalog.Classifier, prober *Prober, logger *slog.Logger) *Extractor {
	return &Extractor{classifier: classifier, prober: prober, logger: logger}
}

// Extract returns the metadata of path. Only failure to read the file
// itself is an error; missing decoders or probe failures leave the
// corresponding fields out.
func (e *Extractor) Extract(ctx context.Context, path string) (map[string]any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	hash, err := catalog.ContentHash(path)
	if err != nil {
		return nil, err
	}

	fileType := e.classifier.Classify(path)
	md := map[string]any{
		"file_path":     path,
		"file_name":     filepath.Base(path),
		"extension":     strings.ToLower(filepath.Ext(path)),
		"size":          info.Size(),
		"modified_time": info.ModTime().UTC().Format(time.RFC3339),
		"created_time":  createdTime(info).UTC().Format(time.RFC3339),
		"file_type":     string(fileType),
		"content_hash":  hash,
	}

	switch fileType {
	case catalog.FileTypeImage:
		e.imageFields(path, md)
	case catalog.FileTypeVideo:
		e.videoFields(ctx, path, md)
	}
	return md, nil
}

func (e *Extractor) imageFields(path string, md map[string]any) {
	f, err := os.Open(path)
	if err != nil {
		e.logger.Warn("cannot open image", "path", path, "error", err)
		return
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		e.logger.Debug("no decoder for image", "path", path, "error", err)
	} else {
		md["width"] = cfg.Width
		md["height"] = cfg.Height
		md["format"] = format
	}

	if _, err := f.Seek(0, 0); err != nil {
		return
	}
	x, err := exif.Decode(f)
	if err != nil {
		return
	}
	for field, key := range map[exif.FieldName]string{
		exif.Make:     "camera_make",
		exif.Model:    "camera_model",
		exif.Software: "software",
	} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		if v, err := tag.StringVal(); err == nil {
			if v = strings.TrimSpace(strings.TrimRight(v, "\x00")); v != "" {
				md[key] = v
			}
		}
	}
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			md["orientation"] = v
		}
	}
	if dt, err := x.DateTime(); err == nil {
		md["datetime_original"] = dt.Format(time.RFC3339)
	}
}

func (e *Extractor) videoFields(ctx context.Context, path string, md map[string]any) {
	if !e.prober.Available() {
		return
	}
	res, err := e.prober.Probe(ctx, path)
	if err != nil {
		if !errors.Is(err, ErrProbeUnavailable) {
			e.logger.Warn("video probe failed", "path", path, "error", err)
		}
		return
	}
	if v := res.VideoStream(); v != nil {
		md["width"] = v.Width
		md["height"] = v.Height
		md["codec"] = v.CodecName
		rate := parseFrameRate(v.AvgFrameRate)
		if rate == 0 {
			rate = parseFrameRate(v.RFrameRate)
		}
		if rate > 0 {
			md["frame_rate"] = math.Round(rate*1000) / 1000
		}
	}
	if d := res.DurationSeconds(); d > 0 {
		md["duration"] = d
	}
	if res.Format.FormatName != "" {
		md["format"] = res.Format.FormatName
	}
}
