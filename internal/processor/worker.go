package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
)

// Event is one message from a Worker.
type Event interface {
	isEvent()
}

// ProgressEvent is sent before a file starts.
type ProgressEvent struct {
	Index    int
	Total    int
	Percent  float64
	FileName string
}

// FileEvent is sent after every completed file, success or not.
type FileEvent struct {
	Index  int
	Record *catalog.FileRecord
}

// ErrorEvent is sent for files that failed, after their FileEvent.
type ErrorEvent struct {
	Index  int
	Record *catalog.FileRecord
	Err    error
}

// CompletedEvent is always the last event on the channel.
type CompletedEvent struct {
	Results   []*catalog.FileRecord
	Cancelled bool
	Summary   Summary
}

func (ProgressEvent) isEvent()  {}
func (FileEvent) isEvent()      {}
func (ErrorEvent) isEvent()     {}
func (CompletedEvent) isEvent() {}

// Summary aggregates one batch run.
type Summary struct {
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Cancelled bool          `json:"cancelled"`
	Elapsed   time.Duration `json:"elapsed"`
}

var ErrAlreadyStarted = errors.New("worker already started")

// Worker processes one batch sequentially on its own goroutine.
type Worker struct {
	proc   *Processor
	opts   Options
	logger *slog.Logger

	started   atomic.Bool
	cancelled atomic.Bool
}

func NewWorker(proc *Processor, opts Options, logger *slog.Logger) *Worker {
	return &Worker{proc: proc, opts: opts, logger: logger}
}

// Start launches the worker goroutine and returns its event channel. The
// channel is closed after the CompletedEvent. Records belong to the
// consumer once the CompletedEvent is received.
func (w *Worker) Start(ctx context.Context, records []*catalog.FileRecord) (<-chan Event, error) {
	if !w.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	events := make(chan Event, 16)
	go w.run(ctx, records, events)
	return events, nil
}

// Cancel stops the batch before the next file. The file in flight
// finishes.
func (w *Worker) Cancel() {
	w.cancelled.Store(true)
}

func (w *Worker) Cancelled() bool {
	return w.cancelled.Load()
}

func (w *Worker) run(ctx context.Context, records []*catalog.FileRecord, events chan<- Event) {
	defer close(events)

	start := time.Now()
	total := len(records)
	results := make([]*catalog.FileRecord, 0, total)
	summary := Summary{Total: total}

	var dirs *BatchDirs
	if w.opts.BatchFolders && w.opts.OutputDir != "" {
		dirs = NewBatchDirs(w.opts.OutputDir, w.opts.MaxFilesPerBatch)
	}

	w.logger.Info("batch started", "batch_id", w.opts.BatchID, "files", total)

	for i, rec := range records {
		if w.cancelled.Load() || ctx.Err() != nil {
			summary.Cancelled = true
			break
		}

		events <- ProgressEvent{
			Index:    i,
			Total:    total,
			Percent:  float64(i) / float64(total) * 100,
			FileName: rec.FileName,
		}

		outputDir := w.opts.OutputDir
		var err error
		if dirs != nil {
			outputDir, err = dirs.Next()
			if err != nil {
				rec.Processed = true
				rec.Success = false
				rec.ErrorKind = KindCopy
				rec.Message = err.Error()
				err = &CopyError{Path: rec.SourcePath, Target: w.opts.OutputDir, Stage: rec.Stage, Err: err}
			}
		}
		if err == nil {
			err = w.proc.ProcessFile(ctx, rec, outputDir, w.opts)
		}

		results = append(results, rec)
		summary.Processed++
		if rec.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}

		events <- FileEvent{Index: i, Record: rec}
		if err != nil {
			events <- ErrorEvent{Index: i, Record: rec, Err: err}
		}
	}

	summary.Elapsed = time.Since(start)
	w.logger.Info("batch finished",
		"batch_id", w.opts.BatchID,
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"cancelled", summary.Cancelled,
		"elapsed", summary.Elapsed)

	events <- CompletedEvent{Results: results, Cancelled: summary.Cancelled, Summary: summary}
}

// Run is the synchronous form of Start: it drains the channel, calling
// onEvent for each event, and returns the CompletedEvent.
func (w *Worker) Run(ctx context.Context, records []*catalog.FileRecord, onEvent func(Event)) (CompletedEvent, error) {
	events, err := w.Start(ctx, records)
	if err != nil {
		return CompletedEvent{}, err
	}
	var done CompletedEvent
	for ev := range events {
		if onEvent != nil {
			onEvent(ev)
		}
		if c, ok := ev.(CompletedEvent); ok {
			done = c
		}
	}
	return done, nil
}
