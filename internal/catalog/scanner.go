package catalog

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// SidecarSuffix is appended to a processed file's stem for its metadata.
const SidecarSuffix = ".metadata.json"

var processedNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[sS]\d+_c\d+_.*\.\w+$`),
	regexp.MustCompile(`^.*_s\d+_c\d+_.*_v\d+\.\w+$`),
	regexp.MustCompile(`^.*_sq\d+_sh\d+_v\d+\.\w+$`),
	regexp.MustCompile(`^LIG_c\d+_.*_v\d+\.\w+$`),
	regexp.MustCompile(`^KIAP_c\d+_.*_v\d+\.\w+$`),
}

// LooksProcessed reports whether name has the shape of a pipeline output.
func LooksProcessed(name string) bool {
	for _, re := range processedNamePatterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// SidecarPath returns the metadata sidecar path for a media file.
func SidecarPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + SidecarSuffix
}

type ScanOptions struct {
	Root             string
	Recursive        bool
	ExcludeProcessed bool
}

type ScanResult struct {
	Root     string
	Files    []*FileRecord
	Skipped  []SkippedFile
	Sequence SequenceDict
	Elapsed  time.Duration
}

// Scanner walks a directory tree for supported media.
type Scanner struct {
	classifier   *Classifier
	history      *History
	projectCodes []string
	logger       *slog.Logger
}

// NewScanner creates a scanner. history may be nil, in which case only the
// name and sidecar checks identify processed files.
func NewScanner(classifier *Classifier, history *History, projectCodes []string, logger *slog.Logger) *Scanner {
	return &Scanner{classifier: classifier, history: history, projectCodes: projectCodes, logger: logger}
}

// Scan returns supported files under opts.Root in walk order. Unreadable
// directories are logged and skipped; only context cancellation is
// returned as an error.
func (s *Scanner) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	start := time.Now()
	root := opts.Root
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	result := &ScanResult{Root: root}

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		s.logger.Error("scan root not readable", "path", root, "error", err)
		result.Sequence = SequenceDict{}
		return result, nil
	}

	s.logger.Info("scanning directory", "path", root, "recursive", opts.Recursive, "exclude_processed", opts.ExcludeProcessed)

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			s.logger.Error("cannot read path", "path", p, "error", err)
			return nil
		}
		if p == root {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") || !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, SidecarSuffix) || !d.Type().IsRegular() {
			return nil
		}

		fileType := s.classifier.Classify(name)
		if fileType == FileTypeUnknown {
			result.Skipped = append(result.Skipped, SkippedFile{Path: p, Reason: SkipUnsupportedExtension})
			return nil
		}

		rec := NewFileRecord(p, fileType)
		if fi, err := d.Info(); err == nil {
			rec.Size = fi.Size()
			rec.ModTime = fi.ModTime()
		}

		if opts.ExcludeProcessed && s.isProcessed(ctx, rec) {
			result.Skipped = append(result.Skipped, SkippedFile{Path: p, Reason: SkipAlreadyProcessed})
			return nil
		}

		result.Files = append(result.Files, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(result.Files))
	for i, f := range result.Files {
		paths[i] = f.SourcePath
	}
	result.Sequence = BuildSequenceDict(paths, s.projectCodes)
	result.Elapsed = time.Since(start)

	s.logger.Info("scan completed",
		"path", root,
		"files", len(result.Files),
		"skipped", len(result.Skipped),
		"elapsed", result.Elapsed)
	return result, nil
}

func (s *Scanner) isProcessed(ctx context.Context, rec *FileRecord) bool {
	if LooksProcessed(rec.FileName) {
		return true
	}
	if _, err := os.Stat(SidecarPath(rec.SourcePath)); err == nil {
		return true
	}
	if s.history == nil {
		return false
	}
	processed, err := s.history.IsProcessed(ctx, rec)
	if err != nil {
		s.logger.Warn("history lookup failed", "path", rec.SourcePath, "error", err)
		return false
	}
	return processed
}
