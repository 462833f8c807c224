package shotgrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
)

// MediaFields are the Version fields tried, in order, for the media file.
var MediaFields = []string{"sg_uploaded_movie", "sg_uploaded_file", "image"}

const (
	defaultAttempts    = 3
	defaultRetryDelay  = 2 * time.Second
	metadataExcerptLen = 500
)

// Ledger is the upload history the uploader consults and appends to.
type Ledger interface {
	HasUpload(ctx context.Context, key, hash string) (bool, error)
	RecordUpload(ctx context.Context, u *catalog.UploadRecord) error
}

// UploadOptions are per-batch upload settings.
type UploadOptions struct {
	Project              string
	BatchID              string
	Force                bool
	UserEmail            string
	TaskStatus           string
	CreatePublishedFiles bool
}

// UploadResult is the outcome for one record.
type UploadResult struct {
	FileName        string `json:"file_name"`
	Success         bool   `json:"success"`
	Skipped         bool   `json:"skipped,omitempty"`
	VersionID       int    `json:"version_id,omitempty"`
	VersionURL      string `json:"version_url,omitempty"`
	PublishedFileID int    `json:"published_file_id,omitempty"`
	Field           string `json:"field,omitempty"`
	Error           string `json:"error,omitempty"`
}

// BatchSummary aggregates UploadBatch.
type BatchSummary struct {
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped"`
	Results   []*UploadResult `json:"results"`
}

// Uploader publishes processed files as Versions.
type Uploader struct {
	client   Client
	entities *EntityManager
	links    *LinkManager
	ledger   Ledger
	logger   *slog.Logger

	attempts   int
	retryDelay time.Duration
}

// NewUploader creates an uploader. ledger may be nil to disable duplicate
// detection.
func NewUploader(client Client, entities *EntityManager, links *LinkManager, ledger Ledger, logger *slog.Logger) *Uploader {
	return &Uploader{
		client:     client,
		entities:   entities,
		links:      links,
		ledger:     ledger,
		logger:     logger,
		attempts:   defaultAttempts,
		retryDelay: defaultRetryDelay,
	}
}

// UploadRecord publishes one processed file.
func (u *Uploader) UploadRecord(ctx context.Context, rec *catalog.FileRecord, opts UploadOptions) (*UploadResult, error) {
	res := &UploadResult{FileName: rec.ProcessedFilename}
	log := u.logger.With("file", rec.ProcessedFilename, "batch_id", opts.BatchID)

	if rec.ProcessedPath == "" || !rec.Success {
		res.Skipped = true
		res.Error = "file was not processed successfully"
		return res, nil
	}

	key := catalog.UploadKey(opts.Project, rec)
	if u.ledger != nil && !opts.Force {
		done, err := u.ledger.HasUpload(ctx, key, rec.ContentHash)
		if err != nil {
			log.Warn("upload ledger lookup failed", "error", err)
		} else if done {
			log.Info("already uploaded, skipping", "key", key)
			res.Skipped = true
			res.Success = true
			return res, nil
		}
	}

	err := u.publish(ctx, rec, opts, res)
	u.record(ctx, key, rec, opts, res, err)
	if err != nil {
		res.Error = err.Error()
		log.Error("upload failed", "error", err)
		return res, err
	}
	res.Success = true
	log.Info("upload completed", "version_id", res.VersionID, "field", res.Field)
	return res, nil
}

func (u *Uploader) publish(ctx context.Context, rec *catalog.FileRecord, opts UploadOptions, res *UploadResult) error {
	if _, err := os.Stat(rec.ProcessedPath); err != nil {
		return &RemoteMutationError{Op: "upload", EntityType: TypeVersion, Path: rec.ProcessedPath, Err: err}
	}

	ents, err := u.entities.EnsureEntities(ctx, EnsureRequest{
		Project:   opts.Project,
		Sequence:  rec.Sequence,
		Shot:      rec.Shot,
		Task:      rec.Task,
		UserEmail: opts.UserEmail,
		Status:    opts.TaskStatus,
	})
	if err != nil {
		return withPath(err, rec.ProcessedPath)
	}

	attrs := map[string]any{
		"project":          ents.Project.Ref(),
		"code":             rec.ProcessedFilename,
		"description":      versionDescription(rec),
		"sg_status_list":   "wip",
		"entity":           ents.Shot.Ref(),
		"sg_task":          ents.Task.Ref(),
		"sg_path_to_movie": rec.ProcessedPath,
	}
	if ents.User != nil {
		attrs["user"] = ents.User.Ref()
	}
	version, err := u.client.Create(ctx, TypeVersion, attrs)
	if err != nil {
		return withPath(err, rec.ProcessedPath)
	}
	res.VersionID = version.ID
	res.VersionURL = u.links.EntityURL(TypeVersion, version.ID)

	field, err := u.uploadMedia(ctx, version.ID, rec.ProcessedPath)
	if err != nil {
		return err
	}
	res.Field = field

	if opts.CreatePublishedFiles {
		pf, err := u.client.Create(ctx, TypePublishedFile, map[string]any{
			"project":        ents.Project.Ref(),
			"code":           rec.ProcessedFilename,
			"entity":         ents.Shot.Ref(),
			"task":           ents.Task.Ref(),
			"version":        version.Ref(),
			"version_number": rec.Version,
			"path":           map[string]any{"local_path": rec.ProcessedPath},
			"description":    fmt.Sprintf("Published by ShotPipe - v%04d", rec.Version),
		})
		if err != nil {
			return withPath(err, rec.ProcessedPath)
		}
		res.PublishedFileID = pf.ID
	}
	return nil
}

// uploadMedia tries each media field with retries and returns the field
// that accepted the file.
func (u *Uploader) uploadMedia(ctx context.Context, versionID int, path string) (string, error) {
	var lastErr error
	for _, field := range MediaFields {
		for attempt := 1; attempt <= u.attempts; attempt++ {
			err := u.client.Upload(ctx, TypeVersion, versionID, field, path)
			if err == nil {
				return field, nil
			}
			lastErr = err
			var me *RemoteMutationError
			if errors.As(err, &me) && !me.IsRetryable() {
				u.logger.Warn("upload field rejected", "field", field, "error", err)
				break
			}
			if attempt < u.attempts {
				u.logger.Warn("upload attempt failed, retrying", "field", field, "attempt", attempt, "error", err)
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(u.retryDelay):
				}
			}
		}
	}
	return "", withPath(lastErr, path)
}

func (u *Uploader) record(ctx context.Context, key string, rec *catalog.FileRecord, opts UploadOptions, res *UploadResult, err error) {
	if u.ledger == nil {
		return
	}
	entry := &catalog.UploadRecord{
		Key:             key,
		Hash:            rec.ContentHash,
		BatchID:         opts.BatchID,
		FileName:        rec.ProcessedFilename,
		Project:         opts.Project,
		VersionID:       res.VersionID,
		VersionURL:      res.VersionURL,
		PublishedFileID: res.PublishedFileID,
		Status:          catalog.UploadStatusSuccess,
	}
	if err != nil {
		entry.Status = catalog.UploadStatusFailed
		entry.Error = err.Error()
	}
	if lerr := u.ledger.RecordUpload(ctx, entry); lerr != nil {
		u.logger.Warn("upload ledger write failed", "key", key, "error", lerr)
	}
}

// UploadBatch uploads records one after another. A failed file does not
// stop the batch. progress, when set, is called after every file.
func (u *Uploader) UploadBatch(ctx context.Context, records []*catalog.FileRecord, opts UploadOptions, progress func(done, total int, res *UploadResult)) (*BatchSummary, error) {
	summary := &BatchSummary{Total: len(records)}
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := u.UploadRecord(ctx, rec, opts)
		switch {
		case err != nil:
			summary.Failed++
		case res.Skipped:
			summary.Skipped++
		default:
			summary.Succeeded++
		}
		summary.Results = append(summary.Results, res)
		if progress != nil {
			progress(i+1, len(records), res)
		}
	}
	u.logger.Info("upload batch finished",
		"batch_id", opts.BatchID,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
	return summary, nil
}

func versionDescription(rec *catalog.FileRecord) string {
	desc := fmt.Sprintf("Uploaded by ShotPipe - v%04d", rec.Version)
	if len(rec.Metadata) == 0 {
		return desc
	}
	data, err := json.Marshal(rec.Metadata)
	if err != nil {
		return desc
	}
	excerpt := []rune(string(data))
	if len(excerpt) > metadataExcerptLen {
		excerpt = excerpt[:metadataExcerptLen]
	}
	return desc + "\n\nMetadata: " + string(excerpt)
}

// withPath attaches the file path to a mutation error.
func withPath(err error, path string) error {
	var me *RemoteMutationError
	if errors.As(err, &me) {
		if me.Path == "" {
			me.Path = path
		}
		return err
	}
	return &RemoteMutationError{Op: "upload", EntityType: TypeVersion, Path: path, Err: err}
}
