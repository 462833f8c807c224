package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"
)

// History is the processed-file ledger. It only ever appends.
type History struct {
	repo   Repository
	logger *slog.Logger
}

func NewHistory(repo Repository, logger *slog.Logger) *History {
	return &History{repo: repo, logger: logger}
}

// Record appends the terminal state of rec. The record must carry a
// content hash and a processed path.
func (h *History) Record(ctx context.Context, rec *FileRecord, batchID string) error {
	if rec.ContentHash == "" {
		return fmt.Errorf("record %s: missing content hash", rec.FileName)
	}
	entry := &HistoryEntry{
		Hash:          rec.ContentHash,
		OriginalPath:  rec.SourcePath,
		OriginalName:  rec.FileName,
		ProcessedPath: rec.ProcessedPath,
		ProcessedName: rec.ProcessedFilename,
		Sequence:      rec.Sequence,
		Shot:          rec.Shot,
		Task:          rec.Task,
		Version:       rec.Version,
		Size:          rec.Size,
		ModTime:       rec.ModTime,
		BatchID:       batchID,
		ProcessedAt:   time.Now(),
	}
	if err := h.repo.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("append history for %s: %w", rec.FileName, err)
	}
	return nil
}

// IsProcessed reports whether rec was processed before. A matching path
// with identical size and mtime short-circuits hashing. Otherwise the
// content hash is computed (and stored on rec) and looked up.
func (h *History) IsProcessed(ctx context.Context, rec *FileRecord) (bool, error) {
	prev, err := h.repo.FindHistoryByPath(ctx, rec.SourcePath)
	if err != nil {
		return false, err
	}
	if prev != nil && prev.Size == rec.Size && !rec.ModTime.IsZero() && prev.ModTime.Equal(rec.ModTime) {
		rec.ContentHash = prev.Hash
		return true, nil
	}

	if rec.ContentHash == "" {
		hash, err := ContentHash(rec.SourcePath)
		if err != nil {
			return false, err
		}
		rec.ContentHash = hash
	}
	byHash, err := h.repo.FindHistoryByHash(ctx, rec.ContentHash)
	if err != nil {
		return false, err
	}
	return byHash != nil, nil
}

func (h *History) List(ctx context.Context, limit, offset int) ([]*HistoryEntry, error) {
	return h.repo.ListHistory(ctx, limit, offset)
}

func (h *History) Stats(ctx context.Context) (*HistoryStats, error) {
	return h.repo.HistoryStats(ctx)
}

var historyCSVHeader = []string{
	"hash", "original_path", "original_name", "processed_path", "processed_name",
	"sequence", "shot", "task", "version", "size", "mtime", "batch_id", "processed_at",
}

// ExportCSV writes the whole ledger, newest first, as CSV.
func (h *History) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(historyCSVHeader); err != nil {
		return 0, err
	}

	const page = 500
	written := 0
	for offset := 0; ; offset += page {
		entries, err := h.repo.ListHistory(ctx, page, offset)
		if err != nil {
			return written, err
		}
		for _, e := range entries {
			mtime := ""
			if !e.ModTime.IsZero() {
				mtime = e.ModTime.Format(time.RFC3339)
			}
			row := []string{
				e.Hash, e.OriginalPath, e.OriginalName, e.ProcessedPath, e.ProcessedName,
				e.Sequence, e.Shot, e.Task, strconv.Itoa(e.Version), strconv.FormatInt(e.Size, 10),
				mtime, e.BatchID, e.ProcessedAt.Format(time.RFC3339),
			}
			if err := cw.Write(row); err != nil {
				return written, err
			}
			written++
		}
		if len(entries) < page {
			break
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return written, err
	}
	if h.logger != nil {
		h.logger.Info("history exported", "rows", written)
	}
	return written, nil
}
