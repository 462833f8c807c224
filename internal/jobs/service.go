// Package jobs runs batches and Shotgrid uploads, either directly from the
// CLI or as queued jobs polled by the agent's Runner.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
	"github.com/shotpipe/shotpipe-agent/internal/config"
	"github.com/shotpipe/shotpipe-agent/internal/export"
	"github.com/shotpipe/shotpipe-agent/internal/naming"
	"github.com/shotpipe/shotpipe-agent/internal/processor"
	"github.com/shotpipe/shotpipe-agent/internal/shotgrid"
)

var (
	ErrBatchNotFound     = errors.New("batch not found")
	ErrNotCancellable    = errors.New("batch is not pending or running")
	ErrUploadUnavailable = errors.New("shotgrid uploader not configured")
	ErrNoProject         = errors.New("no shotgrid project given and no default project configured")
)

// Settings are the config values a Service needs.
type Settings struct {
	BatchFolders         bool
	MaxFilesPerBatch     int
	DefaultProject       string
	UserEmail            string
	TaskStatus           string
	CreatePublishedFiles bool
	AppVersion           string
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		BatchFolders:         cfg.FileProcessing.BatchFolders,
		MaxFilesPerBatch:     cfg.FileProcessing.MaxFilesPerBatch,
		DefaultProject:       cfg.Shotgrid.DefaultProject,
		UserEmail:            cfg.Shotgrid.UserEmail,
		TaskStatus:           cfg.Shotgrid.DefaultTaskStatus,
		CreatePublishedFiles: cfg.Shotgrid.CreatePublishedFiles,
		AppVersion:           config.Version,
	}
}

// BatchRequest describes a batch to create.
type BatchRequest struct {
	Root             string `json:"root"`
	OutputDir        string `json:"output_dir,omitempty"`
	Recursive        bool   `json:"recursive"`
	ExcludeProcessed bool   `json:"exclude_processed"`
	Sequence         string `json:"sequence,omitempty"`
}

// Hooks observe a running batch. Both fields are optional.
type Hooks struct {
	// OnWorker is called once the worker for the batch exists, before any
	// file is processed.
	OnWorker func(*processor.Worker)
	OnEvent  func(processor.Event)
}

// Outcome is the result of RunBatch.
type Outcome struct {
	Batch    *catalog.Batch
	Scan     *catalog.ScanResult
	Records  []*catalog.FileRecord
	Summary  processor.Summary
	Manifest *export.Paths
}

// Service ties scanning, processing, manifest export and uploads to the
// batch tables.
type Service struct {
	repo     catalog.Repository
	scanner  *catalog.Scanner
	proc     *processor.Processor
	names    *naming.Manager
	uploader *shotgrid.Uploader
	settings Settings
	logger   *slog.Logger
}

// NewService creates a service. uploader may be nil, in which case uploads
// fail with ErrUploadUnavailable.
func NewService(repo catalog.Repository, scanner *catalog.Scanner, proc *processor.Processor, names *naming.Manager, uploader *shotgrid.Uploader, settings Settings, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		scanner:  scanner,
		proc:     proc,
		names:    names,
		uploader: uploader,
		settings: settings,
		logger:   logger,
	}
}

// CreateBatch validates req and stores a pending batch.
func (s *Service) CreateBatch(ctx context.Context, req BatchRequest) (*catalog.Batch, error) {
	root, err := filepath.Abs(req.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := export.ValidateSourceDir(root); err != nil {
		return nil, err
	}
	output := req.OutputDir
	if output != "" {
		if output, err = filepath.Abs(output); err != nil {
			return nil, fmt.Errorf("resolve output dir: %w", err)
		}
		if err := export.ValidateOutputDir(output); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	b := &catalog.Batch{
		ID:               catalog.NewID(),
		Root:             root,
		OutputDir:        output,
		Recursive:        req.Recursive,
		ExcludeProcessed: req.ExcludeProcessed,
		Sequence:         req.Sequence,
		Status:           catalog.BatchStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreateBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	return b, nil
}

// SubmitBatch creates a batch and queues a process job for it.
func (s *Service) SubmitBatch(ctx context.Context, req BatchRequest) (*catalog.Batch, *catalog.Job, error) {
	b, err := s.CreateBatch(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	job, err := s.queue(ctx, catalog.JobTypeProcess, b.ID, "", false)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("batch queued", "batch_id", b.ID, "job_id", job.ID, "root", b.Root)
	return b, job, nil
}

// SubmitUpload queues an upload job for a finished batch.
func (s *Service) SubmitUpload(ctx context.Context, batchID, project string, force bool) (*catalog.Job, error) {
	b, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	if b == nil {
		return nil, ErrBatchNotFound
	}
	if b.Status != catalog.BatchStatusCompleted && b.Status != catalog.BatchStatusCancelled {
		return nil, fmt.Errorf("batch %s is %s, not finished", b.ID, b.Status)
	}
	if project == "" {
		project = s.settings.DefaultProject
	}
	if project == "" {
		return nil, ErrNoProject
	}
	job, err := s.queue(ctx, catalog.JobTypeUpload, b.ID, project, force)
	if err != nil {
		return nil, err
	}
	s.logger.Info("upload queued", "batch_id", b.ID, "job_id", job.ID, "project", project)
	return job, nil
}

func (s *Service) queue(ctx context.Context, typ, batchID, project string, force bool) (*catalog.Job, error) {
	now := time.Now()
	job := &catalog.Job{
		ID:        catalog.NewID(),
		Type:      typ,
		Status:    catalog.JobStatusPending,
		BatchID:   batchID,
		Project:   project,
		Force:     force,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// RunBatch scans and processes b in the calling goroutine, saves its files
// and writes the manifest. A cancelled batch keeps the files finished so
// far. The returned error covers scan and storage failures only; per-file
// failures are in the records.
func (s *Service) RunBatch(ctx context.Context, b *catalog.Batch, hooks Hooks) (*Outcome, error) {
	log := s.logger.With("batch_id", b.ID)
	defer s.names.Release()

	b.Status = catalog.BatchStatusRunning
	if err := s.saveBatch(ctx, b); err != nil {
		return nil, err
	}

	scan, err := s.scanner.Scan(ctx, catalog.ScanOptions{
		Root:             b.Root,
		Recursive:        b.Recursive,
		ExcludeProcessed: b.ExcludeProcessed,
	})
	if err != nil {
		if ctx.Err() != nil {
			return s.finish(context.WithoutCancel(ctx), b, catalog.BatchStatusCancelled, "", nil)
		}
		return s.finish(ctx, b, catalog.BatchStatusFailed, err.Error(), err)
	}
	b.Total = len(scan.Files)
	b.Skipped = len(scan.Skipped)

	worker := processor.NewWorker(s.proc, processor.Options{
		BatchID:          b.ID,
		OutputDir:        b.OutputDir,
		BatchSequence:    b.Sequence,
		Dict:             scan.Sequence,
		BatchFolders:     s.settings.BatchFolders,
		MaxFilesPerBatch: s.settings.MaxFilesPerBatch,
	}, s.logger)
	if hooks.OnWorker != nil {
		hooks.OnWorker(worker)
	}

	done, err := worker.Run(ctx, scan.Files, hooks.OnEvent)
	if err != nil {
		return s.finish(ctx, b, catalog.BatchStatusFailed, err.Error(), err)
	}

	// Storage below must happen even when ctx was cancelled mid-batch.
	store := context.WithoutCancel(ctx)
	out := &Outcome{Batch: b, Scan: scan, Records: done.Results, Summary: done.Summary}
	b.Processed = done.Summary.Processed
	b.Succeeded = done.Summary.Succeeded
	b.Failed = done.Summary.Failed
	b.Cancelled = done.Cancelled

	if err := s.repo.SaveBatchFiles(store, b.ID, done.Results); err != nil {
		return s.finish(store, b, catalog.BatchStatusFailed, err.Error(), fmt.Errorf("save batch files: %w", err))
	}

	manifestDir := b.OutputDir
	if manifestDir == "" {
		manifestDir = b.Root
	}
	paths, err := export.Save(manifestDir, &export.Manifest{
		BatchID:    b.ID,
		CreatedAt:  time.Now().UTC(),
		AppVersion: s.settings.AppVersion,
		Root:       b.Root,
		OutputDir:  b.OutputDir,
		Files:      done.Results,
	})
	if err != nil {
		log.Warn("manifest export failed", "dir", manifestDir, "error", err)
	} else {
		out.Manifest = paths
		b.ManifestPath = paths.JSON
	}

	status := catalog.BatchStatusCompleted
	if done.Cancelled {
		status = catalog.BatchStatusCancelled
	}
	if _, err := s.finish(store, b, status, "", nil); err != nil {
		return out, err
	}
	return out, nil
}

func (s *Service) finish(ctx context.Context, b *catalog.Batch, status, msg string, cause error) (*Outcome, error) {
	b.Status = status
	b.Error = msg
	if err := s.saveBatch(ctx, b); err != nil {
		if cause == nil {
			cause = err
		}
	}
	if cause != nil {
		return nil, cause
	}
	return &Outcome{Batch: b}, nil
}

func (s *Service) saveBatch(ctx context.Context, b *catalog.Batch) error {
	b.UpdatedAt = time.Now()
	if err := s.repo.UpdateBatch(ctx, b); err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	return nil
}

// UploadBatch uploads the stored files of a batch.
func (s *Service) UploadBatch(ctx context.Context, batchID, project string, force bool, progress func(done, total int, res *shotgrid.UploadResult)) (*shotgrid.BatchSummary, error) {
	b, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	if b == nil {
		return nil, ErrBatchNotFound
	}
	records, err := s.repo.GetBatchFiles(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("get batch files: %w", err)
	}
	return s.UploadRecords(ctx, batchID, records, project, force, progress)
}

// UploadManifest uploads the files listed in a saved manifest.
func (s *Service) UploadManifest(ctx context.Context, m *export.Manifest, project string, force bool, progress func(done, total int, res *shotgrid.UploadResult)) (*shotgrid.BatchSummary, error) {
	return s.UploadRecords(ctx, m.BatchID, m.Files, project, force, progress)
}

func (s *Service) UploadRecords(ctx context.Context, batchID string, records []*catalog.FileRecord, project string, force bool, progress func(done, total int, res *shotgrid.UploadResult)) (*shotgrid.BatchSummary, error) {
	if s.uploader == nil {
		return nil, ErrUploadUnavailable
	}
	if project == "" {
		project = s.settings.DefaultProject
	}
	if project == "" {
		return nil, ErrNoProject
	}
	return s.uploader.UploadBatch(ctx, records, shotgrid.UploadOptions{
		Project:              project,
		BatchID:              batchID,
		Force:                force,
		UserEmail:            s.settings.UserEmail,
		TaskStatus:           s.settings.TaskStatus,
		CreatePublishedFiles: s.settings.CreatePublishedFiles,
	}, progress)
}
