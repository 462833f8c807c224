package catalog

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type FileType string

const (
	FileTypeImage   FileType = "image"
	FileTypeVideo   FileType = "video"
	FileTypeUnknown FileType = "unknown"
)

// Stage is the last pipeline step a FileRecord reached.
type Stage string

const (
	StagePending           Stage = "pending"
	StageMetadataExtracted Stage = "metadata_extracted"
	StageTaskAssigned      Stage = "task_assigned"
	StageNamed             Stage = "named"
	StageCopied            Stage = "copied"
	StageHistoryRecorded   Stage = "history_recorded"
	StageDone              Stage = "done"
)

// FileRecord is one media file moving through a batch. The scanner creates
// it as a stub and each processing stage fills in more fields.
type FileRecord struct {
	SourcePath        string         `json:"source_path"`
	FileName          string         `json:"file_name"`
	FileType          FileType       `json:"file_type"`
	Metadata          map[string]any `json:"extracted_metadata,omitempty"`
	Sequence          string         `json:"sequence"`
	Shot              string         `json:"shot"`
	SequenceSource    string         `json:"sequence_source,omitempty"`
	Task              string         `json:"task"`
	Version           int            `json:"version"`
	ProcessedPath     string         `json:"processed_path"`
	ProcessedFilename string         `json:"processed_filename"`
	Processed         bool           `json:"processed"`
	Success           bool           `json:"success"`
	Message           string         `json:"message"`
	MetadataPath      string         `json:"metadata_path"`
	ContentHash       string         `json:"content_hash"`
	Size              int64          `json:"size"`
	ModTime           time.Time      `json:"mod_time"`
	Stage             Stage          `json:"stage"`
	ErrorKind         string         `json:"error_kind,omitempty"`
	ElapsedMS         int64          `json:"elapsed_ms"`
}

// NewFileRecord creates a pending stub for path.
func NewFileRecord(path string, fileType FileType) *FileRecord {
	return &FileRecord{
		SourcePath: path,
		FileName:   filepath.Base(path),
		FileType:   fileType,
		Stage:      StagePending,
	}
}

// Extension returns the file's extension with its original case.
func (r *FileRecord) Extension() string {
	return filepath.Ext(r.FileName)
}

// Validate checks the fields every stage up to r.Stage must have filled.
func (r *FileRecord) Validate() error {
	if r.SourcePath == "" || r.FileName == "" {
		return fmt.Errorf("record has no source path")
	}
	switch r.Stage {
	case StageNamed, StageCopied, StageHistoryRecorded:
		if r.Task == "" {
			return fmt.Errorf("%s: task not assigned at stage %s", r.FileName, r.Stage)
		}
		if r.Sequence == "" || r.Shot == "" {
			return fmt.Errorf("%s: sequence/shot not set at stage %s", r.FileName, r.Stage)
		}
		if r.ProcessedPath == "" {
			return fmt.Errorf("%s: processed path not set at stage %s", r.FileName, r.Stage)
		}
	case StageTaskAssigned:
		if r.Task == "" {
			return fmt.Errorf("%s: task not assigned at stage %s", r.FileName, r.Stage)
		}
	}
	if r.Stage == StageHistoryRecorded && r.ContentHash == "" {
		return fmt.Errorf("%s: no content hash at stage %s", r.FileName, r.Stage)
	}
	return nil
}

// SkippedFile is a path the scanner saw but did not return.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

const (
	SkipAlreadyProcessed     = "already_processed"
	SkipUnsupportedExtension = "unsupported_extension"
)

// HistoryEntry is one row of the append-only processed-file ledger.
type HistoryEntry struct {
	ID            int64     `json:"id"`
	Hash          string    `json:"hash"`
	OriginalPath  string    `json:"original_path"`
	OriginalName  string    `json:"original_name"`
	ProcessedPath string    `json:"processed_path"`
	ProcessedName string    `json:"processed_name"`
	Sequence      string    `json:"sequence"`
	Shot          string    `json:"shot"`
	Task          string    `json:"task"`
	Version       int       `json:"version"`
	Size          int64     `json:"size"`
	ModTime       time.Time `json:"mtime"`
	BatchID       string    `json:"batch_id,omitempty"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// HistoryStats summarizes the ledger.
type HistoryStats struct {
	TotalFiles int            `json:"total_files"`
	BySequence map[string]int `json:"by_sequence"`
	ByTask     map[string]int `json:"by_task"`
	ByDay      map[string]int `json:"by_day"`
}

const (
	BatchStatusPending   = "pending"
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	BatchStatusCancelled = "cancelled"
	BatchStatusFailed    = "failed"
)

type Batch struct {
	ID               string    `json:"id"`
	Root             string    `json:"root"`
	OutputDir        string    `json:"output_dir"`
	Recursive        bool      `json:"recursive"`
	ExcludeProcessed bool      `json:"exclude_processed"`
	Sequence         string    `json:"sequence,omitempty"`
	Status           string    `json:"status"`
	Total            int       `json:"total"`
	Processed        int       `json:"processed"`
	Succeeded        int       `json:"succeeded"`
	Failed           int       `json:"failed"`
	Skipped          int       `json:"skipped"`
	Cancelled        bool      `json:"cancelled"`
	ManifestPath     string    `json:"manifest_path,omitempty"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

const (
	JobTypeProcess = "process"
	JobTypeUpload  = "upload"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	BatchID   string    `json:"batch_id,omitempty"`
	Project   string    `json:"project,omitempty"`
	Force     bool      `json:"force,omitempty"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	UploadStatusSuccess = "success"
	UploadStatusFailed  = "failed"
)

// UploadRecord is one row of the upload ledger.
type UploadRecord struct {
	ID              string    `json:"id"`
	Key             string    `json:"upload_key"`
	Hash            string    `json:"hash"`
	BatchID         string    `json:"batch_id,omitempty"`
	FileName        string    `json:"file_name"`
	Project         string    `json:"project"`
	VersionID       int       `json:"version_id,omitempty"`
	VersionURL      string    `json:"version_url,omitempty"`
	PublishedFileID int       `json:"published_file_id,omitempty"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	UploadedAt      time.Time `json:"uploaded_at"`
}

// UploadKey identifies a logical upload: project, sequence, shot, task and
// version joined with underscores.
func UploadKey(project string, r *FileRecord) string {
	return fmt.Sprintf("%s_%s_%s_%s_v%04d", project, r.Sequence, r.Shot, r.Task, r.Version)
}

func NewID() string {
	return uuid.NewString()
}

// Classifier maps extensions to media types using the configured allowlists.
type Classifier struct {
	image map[string]bool
	video map[string]bool
}

func NewClassifier(imageExts, videoExts []string) *Classifier {
	c := &Classifier{image: make(map[string]bool), video: make(map[string]bool)}
	for _, e := range imageExts {
		c.image[normalizeExt(e)] = true
	}
	for _, e := range videoExts {
		c.video[normalizeExt(e)] = true
	}
	return c
}

// Classify returns the media type of filename by its extension.
func (c *Classifier) Classify(filename string) FileType {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case c.image[ext]:
		return FileTypeImage
	case c.video[ext]:
		return FileTypeVideo
	default:
		return FileTypeUnknown
	}
}

// Supported reports whether filename is in either allowlist.
func (c *Classifier) Supported(filename string) bool {
	return c.Classify(filename) != FileTypeUnknown
}

func normalizeExt(e string) string {
	e = strings.ToLower(strings.TrimSpace(e))
	if e != "" && !strings.HasPrefix(e, ".") {
		e = "." + e
	}
	return e
}
