package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
	"github.com/shotpipe/shotpipe-agent/internal/logging"
	"github.com/shotpipe/shotpipe-agent/internal/processor"
	"github.com/shotpipe/shotpipe-agent/internal/shotgrid"
)

// ActiveJob is the job the runner is executing.
type ActiveJob struct {
	JobID    string  `json:"job_id"`
	Type     string  `json:"type"`
	BatchID  string  `json:"batch_id"`
	Done     int     `json:"done"`
	Total    int     `json:"total"`
	Percent  float64 `json:"percent"`
	FileName string  `json:"file_name,omitempty"`

	// Cancelling is set once a cancel reached the batch worker.
	Cancelling bool `json:"cancelling,omitempty"`
}

// State is a snapshot for the tray and the status endpoint.
type State struct {
	Running bool       `json:"running"`
	Paused  bool       `json:"paused"`
	Active  *ActiveJob `json:"active,omitempty"`
}

// Label is the one-word runner state shown to users.
func (s State) Label() string {
	switch {
	case s.Paused:
		return "Paused"
	case s.Active == nil:
		return "Idle"
	case s.Active.Cancelling:
		return "Cancelling"
	case s.Active.Type == catalog.JobTypeUpload:
		return "Uploading"
	default:
		return "Processing"
	}
}

// Progress describes the job, e.g. "3/10 (30%) shot.exr". It is safe to
// call on a nil job.
func (a *ActiveJob) Progress() string {
	if a == nil {
		return "No active batch"
	}
	if a.Total == 0 {
		return "Scanning..."
	}
	s := fmt.Sprintf("%s/%s (%.0f%%)", humanize.Comma(int64(a.Done)), humanize.Comma(int64(a.Total)), a.Percent)
	if a.FileName == "" {
		return s
	}
	name := []rune(a.FileName)
	if len(name) > 40 {
		name = append(name[:39], '…')
	}
	return s + " " + string(name)
}

type activeJob struct {
	ActiveJob
	worker          *processor.Worker
	cancelRequested bool
}

// Runner polls the job table and executes one job at a time.
type Runner struct {
	service      *Service
	repo         catalog.Repository
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
	wake         chan struct{}

	mu     sync.Mutex
	active *activeJob
}

func NewRunner(service *Service, repo catalog.Repository, pollInterval time.Duration, logger *slog.Logger) *Runner {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Runner{
		service:      service,
		repo:         repo,
		logger:       logger,
		pollInterval: pollInterval,
		wake:         make(chan struct{}, 1),
	}
}

// Start blocks until ctx is done.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started", "poll_interval", r.pollInterval)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.wake:
		}
		if !r.paused.Load() {
			r.processNextJob(ctx)
		}
	}
}

// Wake makes the runner poll now instead of at the next tick.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pause stops the runner from picking up new jobs. A running batch
// continues.
func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
	r.Wake()
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) State() State {
	st := State{Running: r.running.Load(), Paused: r.paused.Load()}
	r.mu.Lock()
	if r.active != nil {
		a := r.active.ActiveJob
		a.Cancelling = r.active.worker != nil && r.active.worker.Cancelled()
		st.Active = &a
	}
	r.mu.Unlock()
	return st
}

// CancelBatch cancels a batch. The running batch stops before its next
// file; a queued one is cancelled without running.
func (r *Runner) CancelBatch(ctx context.Context, batchID string) error {
	r.mu.Lock()
	if a := r.active; a != nil && a.BatchID == batchID && a.Type == catalog.JobTypeProcess {
		a.cancelRequested = true
		if a.worker != nil {
			a.worker.Cancel()
		}
		r.mu.Unlock()
		r.logger.Info("cancel requested for running batch", "batch_id", batchID)
		return nil
	}
	r.mu.Unlock()

	b, err := r.repo.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("get batch: %w", err)
	}
	if b == nil {
		return ErrBatchNotFound
	}
	if b.Status != catalog.BatchStatusPending {
		return ErrNotCancellable
	}

	pending, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	for _, j := range pending {
		if j.BatchID == batchID && j.Type == catalog.JobTypeProcess {
			if err := r.repo.UpdateJobStatus(ctx, j.ID, catalog.JobStatusCancelled, ""); err != nil {
				return fmt.Errorf("cancel job: %w", err)
			}
		}
	}
	b.Status = catalog.BatchStatusCancelled
	b.Cancelled = true
	b.UpdatedAt = time.Now()
	if err := r.repo.UpdateBatch(ctx, b); err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	r.logger.Info("queued batch cancelled", "batch_id", batchID)
	return nil
}

// CancelActive cancels whatever batch is running. It reports whether there
// was one.
func (r *Runner) CancelActive(ctx context.Context) bool {
	r.mu.Lock()
	a := r.active
	r.mu.Unlock()
	if a == nil || a.Type != catalog.JobTypeProcess {
		return false
	}
	return r.CancelBatch(ctx, a.BatchID) == nil
}

func (r *Runner) setActive(a *activeJob) {
	r.mu.Lock()
	r.active = a
	r.mu.Unlock()
}

func (r *Runner) update(fn func(a *activeJob)) {
	r.mu.Lock()
	if r.active != nil {
		fn(r.active)
	}
	r.mu.Unlock()
}

// setStatus stores a job status. Failures are logged; the runner moves on.
func (r *Runner) setStatus(ctx context.Context, log *slog.Logger, jobID, status, msg string) {
	if err := r.repo.UpdateJobStatus(ctx, jobID, status, msg); err != nil {
		log.Error("failed to update job status", "status", status, "error", err)
	}
}

func (r *Runner) processNextJob(ctx context.Context) {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return
	}

	if len(jobs) == 0 {
		return
	}

	job := jobs[0]
	log := logging.WithJobID(logging.WithBatchID(r.logger, job.BatchID), job.ID)
	log.Info("processing job", "type", job.Type)

	switch job.Type {
	case catalog.JobTypeProcess:
		r.processBatchJob(ctx, job, log)

	case catalog.JobTypeUpload:
		r.processUploadJob(ctx, job, log)

	default:
		log.Warn("unknown job type", "type", job.Type)
		r.setStatus(ctx, log, job.ID, catalog.JobStatusFailed, "unknown job type")
	}
}

func (r *Runner) processBatchJob(ctx context.Context, job *catalog.Job, log *slog.Logger) {
	b, err := r.repo.GetBatch(ctx, job.BatchID)
	if err != nil || b == nil {
		r.setStatus(ctx, log, job.ID, catalog.JobStatusFailed, "batch not found")
		return
	}

	r.setStatus(ctx, log, job.ID, catalog.JobStatusRunning, "")
	r.setActive(&activeJob{ActiveJob: ActiveJob{JobID: job.ID, Type: job.Type, BatchID: b.ID}})
	defer r.setActive(nil)

	lastPercent := -1
	out, err := r.service.RunBatch(ctx, b, Hooks{
		OnWorker: func(w *processor.Worker) {
			r.update(func(a *activeJob) {
				a.worker = w
				if a.cancelRequested {
					w.Cancel()
				}
			})
		},
		OnEvent: func(ev processor.Event) {
			switch e := ev.(type) {
			case processor.ProgressEvent:
				r.update(func(a *activeJob) {
					a.Total = e.Total
					a.Percent = e.Percent
					a.FileName = e.FileName
				})
				if p := int(e.Percent); p != lastPercent {
					lastPercent = p
					r.repo.UpdateJobProgress(ctx, job.ID, p)
				}
			case processor.FileEvent:
				r.update(func(a *activeJob) { a.Done = e.Index + 1 })
			}
		},
	})

	store := context.WithoutCancel(ctx)
	if err != nil {
		log.Error("batch failed", "error", err)
		r.setStatus(store, log, job.ID, catalog.JobStatusFailed, err.Error())
		return
	}
	if out.Batch.Status == catalog.BatchStatusCancelled {
		r.setStatus(store, log, job.ID, catalog.JobStatusCancelled, "")
		log.Info("batch cancelled", "processed", out.Batch.Processed, "total", out.Batch.Total)
		return
	}
	r.repo.UpdateJobProgress(store, job.ID, 100)
	r.setStatus(store, log, job.ID, catalog.JobStatusCompleted, "")
	log.Info("batch job completed",
		"succeeded", out.Batch.Succeeded,
		"failed", out.Batch.Failed,
		"manifest", out.Batch.ManifestPath)
}

func (r *Runner) processUploadJob(ctx context.Context, job *catalog.Job, log *slog.Logger) {
	r.setStatus(ctx, log, job.ID, catalog.JobStatusRunning, "")
	r.setActive(&activeJob{ActiveJob: ActiveJob{JobID: job.ID, Type: job.Type, BatchID: job.BatchID}})
	defer r.setActive(nil)

	summary, err := r.service.UploadBatch(ctx, job.BatchID, job.Project, job.Force, func(done, total int, res *shotgrid.UploadResult) {
		percent := float64(done) / float64(total) * 100
		r.update(func(a *activeJob) {
			a.Done, a.Total, a.Percent, a.FileName = done, total, percent, res.FileName
		})
		r.repo.UpdateJobProgress(ctx, job.ID, int(percent))
	})
	if err != nil {
		log.Error("upload job failed", "error", err)
		r.setStatus(context.WithoutCancel(ctx), log, job.ID, catalog.JobStatusFailed, err.Error())
		return
	}

	msg := ""
	if summary.Failed > 0 {
		msg = fmt.Sprintf("%d of %d uploads failed", summary.Failed, summary.Total)
	}
	r.repo.UpdateJobProgress(ctx, job.ID, 100)
	r.setStatus(ctx, log, job.ID, catalog.JobStatusCompleted, msg)
	log.Info("upload job completed",
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
}

// ActiveJobCount returns the number of jobs marked running.
func (r *Runner) ActiveJobCount(ctx context.Context) int {
	jobs, err := r.repo.ListJobs(ctx, 100)
	if err != nil {
		return 0
	}
	count := 0
	for _, j := range jobs {
		if j.Status == catalog.JobStatusRunning {
			count++
		}
	}
	return count
}
