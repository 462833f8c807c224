package api

import (
	"time"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
	"github.com/shotpipe/shotpipe-agent/internal/jobs"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State        string           `json:"state"`
	LastError    string           `json:"last_error,omitempty"`
	Runner       jobs.State       `json:"runner"`
	JobsRunning  int              `json:"jobs_running"`
	HistoryFiles int              `json:"history_files"`
	Shotgrid     ShotgridResponse `json:"shotgrid"`
	RecentBatch  *BatchResponse   `json:"recent_batch,omitempty"`
}

type ShotgridResponse struct {
	Configured     bool   `json:"configured"`
	Connected      bool   `json:"connected"`
	Server         string `json:"server,omitempty"`
	DefaultProject string `json:"default_project,omitempty"`
}

type CreateBatchResponse struct {
	Batch BatchResponse `json:"batch"`
	JobID string        `json:"job_id"`
}

type UploadRequest struct {
	Project string `json:"project,omitempty"`
	Force   bool   `json:"force,omitempty"`
}

type BatchResponse struct {
	ID               string `json:"id"`
	Root             string `json:"root"`
	OutputDir        string `json:"output_dir,omitempty"`
	Recursive        bool   `json:"recursive"`
	ExcludeProcessed bool   `json:"exclude_processed"`
	Sequence         string `json:"sequence,omitempty"`
	Status           string `json:"status"`
	Total            int    `json:"total"`
	Processed        int    `json:"processed"`
	Succeeded        int    `json:"succeeded"`
	Failed           int    `json:"failed"`
	Skipped          int    `json:"skipped"`
	ManifestPath     string `json:"manifest_path,omitempty"`
	Error            string `json:"error,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

type BatchesResponse struct {
	Batches []BatchResponse `json:"batches"`
}

type FilesResponse struct {
	BatchID string                `json:"batch_id"`
	Files   []*catalog.FileRecord `json:"files"`
}

type JobResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	BatchID   string `json:"batch_id,omitempty"`
	Project   string `json:"project,omitempty"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type HistoryResponse struct {
	Entries []*catalog.HistoryEntry `json:"entries"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

type SimilarResponse struct {
	File     string        `json:"file"`
	Project  string        `json:"project"`
	Versions []SimilarItem `json:"versions"`
}

type SimilarItem struct {
	ID    int     `json:"id"`
	Code  string  `json:"code"`
	URL   string  `json:"url"`
	Score float64 `json:"similarity_score"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func BatchToResponse(b *catalog.Batch) BatchResponse {
	return BatchResponse{
		ID:               b.ID,
		Root:             b.Root,
		OutputDir:        b.OutputDir,
		Recursive:        b.Recursive,
		ExcludeProcessed: b.ExcludeProcessed,
		Sequence:         b.Sequence,
		Status:           b.Status,
		Total:            b.Total,
		Processed:        b.Processed,
		Succeeded:        b.Succeeded,
		Failed:           b.Failed,
		Skipped:          b.Skipped,
		ManifestPath:     b.ManifestPath,
		Error:            b.Error,
		CreatedAt:        b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        b.UpdatedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *catalog.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		BatchID:   j.BatchID,
		Project:   j.Project,
		Progress:  j.Progress,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}
