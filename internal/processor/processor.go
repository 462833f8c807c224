// Package processor drives each FileRecord through extraction, task
// assignment, naming, copy and history, and runs whole batches on a
// single worker goroutine.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
	"github.com/shotpipe/shotpipe-agent/internal/metadata"
	"github.com/shotpipe/shotpipe-agent/internal/naming"
	"github.com/shotpipe/shotpipe-agent/internal/tasks"
)

// Extractor reads metadata for one file.
type Extractor interface {
	Extract(ctx context.Context, path string) (map[string]any, error)
}

// Recorder appends processed files to the history ledger.
type Recorder interface {
	Record(ctx context.Context, rec *catalog.FileRecord, batchID string) error
}

// Options are the per-batch settings.
type Options struct {
	BatchID       string
	OutputDir     string
	BatchSequence string
	Dict          catalog.SequenceDict

	// BatchFolders places output under OutputDir/batch_YYYY-MM-DD_NN,
	// rolling to a new folder every MaxFilesPerBatch files.
	BatchFolders     bool
	MaxFilesPerBatch int
}

// Processor runs the per-file stages. It holds no per-batch state.
type Processor struct {
	extractor Extractor
	assigner  *tasks.Assigner
	names     *naming.Manager
	history   Recorder
	logger    *slog.Logger
}

// New creates a processor. history may be nil to skip the ledger.
func New(extractor Extractor, assigner *tasks.Assigner, names *naming.Manager, history Recorder, logger *slog.Logger) *Processor {
	return &Processor{
		extractor: extractor,
		assigner:  assigner,
		names:     names,
		history:   history,
		logger:    logger,
	}
}

// ProcessFile runs every stage for rec in place. outputDir is the folder
// chosen for this file. Recovered problems end up in rec.Message; the
// returned error is the one that failed the file, or nil. A metadata
// failure does not stop the later stages but still fails the file.
// ProcessFile does not check ctx for cancellation; the worker does that
// between files.
func (p *Processor) ProcessFile(ctx context.Context, rec *catalog.FileRecord, outputDir string, opts Options) error {
	// A started file runs to completion; cancellation is checked between files.
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	log := p.logger.With("file", rec.FileName, "batch_id", opts.BatchID)
	var warnings []string

	defer func() {
		rec.Processed = true
		rec.ElapsedMS = time.Since(start).Milliseconds()
	}()

	fail := func(kind string, err error) error {
		rec.Success = false
		rec.ErrorKind = kind
		rec.Message = strings.Join(append(warnings, err.Error()), "; ")
		log.Error("file failed", "stage", rec.Stage, "error", err)
		return err
	}

	var xerr *ExtractionError
	md, err := p.extractor.Extract(ctx, rec.SourcePath)
	if err != nil {
		xerr = &ExtractionError{Path: rec.SourcePath, Stage: catalog.StagePending, Err: err}
		log.Warn("metadata extraction failed", "error", xerr)
		warnings = append(warnings, xerr.Error())
		rec.ErrorKind = KindExtraction
		md = map[string]any{}
	}
	rec.Metadata = md
	if h, ok := md["content_hash"].(string); ok && rec.ContentHash == "" {
		rec.ContentHash = h
	}
	rec.Stage = catalog.StageMetadataExtracted

	if rec.Task == "" {
		rec.Task = p.assigner.AssignTask(rec.SourcePath)
	}
	rec.Stage = catalog.StageTaskAssigned

	res, err := p.names.Apply(rec, naming.Options{
		OutputDir:     outputDir,
		BatchSequence: opts.BatchSequence,
		Dict:          opts.Dict,
	})
	if err != nil {
		nerr := &NamingError{Path: rec.SourcePath, Stage: catalog.StageTaskAssigned, Err: err}
		var ne *naming.Error
		if errors.As(err, &ne) {
			nerr.DefaultPath = ne.DefaultPath
		}
		log.Warn("naming failed, using default path", "error", nerr, "path", nerr.DefaultPath)
		warnings = append(warnings, nerr.Error())
		rec.ErrorKind = KindNaming
		if nerr.DefaultPath == "" {
			return fail(KindNaming, nerr)
		}
		fillDefaults(rec, p.names.Resolver())
		rec.ProcessedPath = nerr.DefaultPath
		rec.ProcessedFilename = rec.FileName
	} else {
		res.ApplyTo(rec)
	}
	rec.Stage = catalog.StageNamed
	if err := rec.Validate(); err != nil {
		return fail(KindNaming, err)
	}

	if err := copyFile(rec.SourcePath, rec.ProcessedPath); err != nil {
		return fail(KindCopy, &CopyError{Path: rec.SourcePath, Target: rec.ProcessedPath, Stage: rec.Stage, Err: err})
	}
	rec.Stage = catalog.StageCopied

	if sidecar, err := metadata.WriteSidecar(rec.ProcessedPath, sidecarDocument(rec)); err != nil {
		log.Warn("sidecar write failed", "error", err)
		warnings = append(warnings, fmt.Sprintf("write sidecar: %v", err))
	} else {
		rec.MetadataPath = sidecar
	}

	if rec.ContentHash == "" {
		hash, err := catalog.ContentHash(rec.ProcessedPath)
		if err != nil {
			return fail(KindHistory, &HistoryError{Path: rec.SourcePath, Stage: rec.Stage, Err: err})
		}
		rec.ContentHash = hash
	}
	if p.history != nil {
		if err := p.history.Record(ctx, rec, opts.BatchID); err != nil {
			return fail(KindHistory, &HistoryError{Path: rec.SourcePath, Stage: rec.Stage, Err: err})
		}
		rec.Stage = catalog.StageHistoryRecorded
	}

	rec.Stage = catalog.StageDone
	if xerr != nil {
		// The copy and history entry stand, but a file without metadata
		// is reported as failed.
		rec.Success = false
		rec.ErrorKind = KindExtraction
		rec.Message = strings.Join(warnings, "; ")
		log.Error("file processed without metadata", "processed_name", rec.ProcessedFilename)
		return xerr
	}
	rec.Success = true
	if len(warnings) > 0 {
		rec.Message = strings.Join(warnings, "; ")
	} else {
		rec.Message = "processed"
		rec.ErrorKind = ""
	}
	log.Info("file processed",
		"processed_name", rec.ProcessedFilename,
		"sequence", rec.Sequence,
		"shot", rec.Shot,
		"source", rec.SequenceSource)
	return nil
}

func fillDefaults(rec *catalog.FileRecord, r *naming.Resolver) {
	if rec.Sequence == "" {
		rec.Sequence = r.NormalizeSequence("")
	}
	if rec.Shot == "" {
		rec.Shot = r.NormalizeShot("")
	}
	if rec.SequenceSource == "" {
		rec.SequenceSource = naming.SourceDefault
	}
}

// sidecarDocument is the extracted metadata plus the naming decision.
func sidecarDocument(rec *catalog.FileRecord) map[string]any {
	doc := make(map[string]any, len(rec.Metadata)+8)
	for k, v := range rec.Metadata {
		doc[k] = v
	}
	doc["original_path"] = rec.SourcePath
	doc["original_name"] = rec.FileName
	doc["processed_name"] = rec.ProcessedFilename
	doc["sequence"] = rec.Sequence
	doc["shot"] = rec.Shot
	doc["task"] = rec.Task
	doc["version"] = rec.Version
	doc["processed_at"] = time.Now().UTC().Format(time.RFC3339)
	return doc
}
