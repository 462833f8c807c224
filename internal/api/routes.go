package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
	"github.com/shotpipe/shotpipe-agent/internal/jobs"
	"github.com/shotpipe/shotpipe-agent/internal/preview"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(LoopbackOnly(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Route("/batches", func(r chi.Router) {
			r.Post("/", createBatchHandler(cfg))
			r.Get("/", listBatchesHandler(cfg))
			r.Get("/{id}", getBatchHandler(cfg))
			r.Get("/{id}/files", listBatchFilesHandler(cfg))
			r.Get("/{id}/files/{index}/media", mediaHandler(cfg))
			r.Post("/{id}/cancel", cancelBatchHandler(cfg))
			r.Post("/{id}/upload", uploadBatchHandler(cfg))
			r.Get("/{id}/manifest", manifestHandler(cfg))
		})

		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))

		r.Get("/history", historyHandler(cfg))
		r.Get("/history/stats", historyStatsHandler(cfg))

		r.Get("/shotgrid/status", shotgridStatusHandler(cfg))
		r.Get("/shotgrid/similar", similarHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func shotgridStatus(cfg ServerConfig) ShotgridResponse {
	resp := ShotgridResponse{Configured: cfg.ShotgridConfigured, DefaultProject: cfg.DefaultProject}
	if cfg.Shotgrid != nil {
		resp.Connected = cfg.Shotgrid.IsConnected()
		resp.Server = cfg.Shotgrid.ServerURL()
	}
	return resp
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		resp := StatusResponse{State: "idle", Shotgrid: shotgridStatus(cfg)}
		if cfg.Runner != nil {
			resp.Runner = cfg.Runner.State()
			resp.JobsRunning = cfg.Runner.ActiveJobCount(ctx)
			switch {
			case resp.Runner.Paused:
				resp.State = "paused"
			case resp.Runner.Active != nil && resp.Runner.Active.Type == catalog.JobTypeUpload:
				resp.State = "uploading"
			case resp.Runner.Active != nil:
				resp.State = "processing"
			}
		}

		if recent, err := cfg.Repository.ListJobs(ctx, 10); err == nil {
			for _, j := range recent {
				if j.Status == catalog.JobStatusFailed {
					resp.LastError = j.Error
					break
				}
			}
		}
		if resp.LastError != "" && resp.State == "idle" {
			resp.State = "error"
		}

		if stats, err := cfg.Repository.HistoryStats(ctx); err == nil {
			resp.HistoryFiles = stats.TotalFiles
		}
		if batches, err := cfg.Repository.ListBatches(ctx, 1); err == nil && len(batches) > 0 {
			b := BatchToResponse(batches[0])
			resp.RecentBatch = &b
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func createBatchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jobs.BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Root == "" {
			WriteError(w, http.StatusBadRequest, "root is required", "BAD_REQUEST")
			return
		}

		b, job, err := cfg.Service.SubmitBatch(r.Context(), req)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if cfg.Runner != nil {
			cfg.Runner.Wake()
		}

		WriteJSON(w, http.StatusAccepted, CreateBatchResponse{Batch: BatchToResponse(b), JobID: job.ID})
	}
}

func listBatchesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		batches, err := cfg.Repository.ListBatches(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list batches", "INTERNAL_ERROR")
			return
		}

		resp := BatchesResponse{Batches: make([]BatchResponse, len(batches))}
		for i, b := range batches {
			resp.Batches[i] = BatchToResponse(b)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// loadBatch writes the error response itself and returns nil when the
// batch cannot be served.
func loadBatch(cfg ServerConfig, w http.ResponseWriter, r *http.Request) *catalog.Batch {
	id := chi.URLParam(r, "id")
	b, err := cfg.Repository.GetBatch(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil
	}
	if b == nil {
		WriteError(w, http.StatusNotFound, "batch not found", "NOT_FOUND")
		return nil
	}
	return b
}

func getBatchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if b := loadBatch(cfg, w, r); b != nil {
			WriteJSON(w, http.StatusOK, BatchToResponse(b))
		}
	}
}

func listBatchFilesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := loadBatch(cfg, w, r)
		if b == nil {
			return
		}
		files, err := cfg.Repository.GetBatchFiles(r.Context(), b.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if files == nil {
			files = []*catalog.FileRecord{}
		}
		WriteJSON(w, http.StatusOK, FilesResponse{BatchID: b.ID, Files: files})
	}
}

func mediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := loadBatch(cfg, w, r)
		if b == nil {
			return
		}
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil || index < 0 {
			WriteError(w, http.StatusBadRequest, "index must be a non-negative integer", "BAD_REQUEST")
			return
		}
		files, err := cfg.Repository.GetBatchFiles(r.Context(), b.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if index >= len(files) {
			WriteError(w, http.StatusNotFound, "file not found", "NOT_FOUND")
			return
		}

		err = cfg.Preview.ServeRecord(w, r, files[index])
		switch {
		case errors.Is(err, preview.ErrNotProcessed):
			WriteError(w, http.StatusConflict, "file was not processed successfully", "NOT_PROCESSED")
		case err != nil:
			cfg.Logger.Error("preview error", "error", err, "batch_id", b.ID, "index", index)
		}
	}
}

func cancelBatchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := cfg.Runner.CancelBatch(r.Context(), id)
		switch {
		case errors.Is(err, jobs.ErrBatchNotFound):
			WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
		case errors.Is(err, jobs.ErrNotCancellable):
			WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
		case err != nil:
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	}
}

func uploadBatchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UploadRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
		}

		job, err := cfg.Service.SubmitUpload(r.Context(), chi.URLParam(r, "id"), req.Project, req.Force)
		switch {
		case errors.Is(err, jobs.ErrBatchNotFound):
			WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
			return
		case errors.Is(err, jobs.ErrNoProject):
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		case err != nil:
			WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
			return
		}
		if cfg.Runner != nil {
			cfg.Runner.Wake()
		}
		WriteJSON(w, http.StatusAccepted, JobToResponse(job))
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := cfg.Repository.ListJobs(r.Context(), queryInt(r, "limit", 50))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(list))}
		for i, j := range list {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Repository.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func historyHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 100)
		offset := queryInt(r, "offset", 0)
		entries, err := cfg.History.List(r.Context(), limit, offset)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list history", "INTERNAL_ERROR")
			return
		}
		if entries == nil {
			entries = []*catalog.HistoryEntry{}
		}
		WriteJSON(w, http.StatusOK, HistoryResponse{Entries: entries, Limit: limit, Offset: offset})
	}
}

func historyStatsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := cfg.History.Stats(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to compute history stats", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

func shotgridStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, shotgridStatus(cfg))
	}
}

func similarHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		file := q.Get("file")
		if file == "" {
			WriteError(w, http.StatusBadRequest, "file is required", "BAD_REQUEST")
			return
		}
		project := q.Get("project")
		if project == "" {
			project = cfg.DefaultProject
		}
		if project == "" {
			WriteError(w, http.StatusBadRequest, "project is required", "BAD_REQUEST")
			return
		}

		resp := SimilarResponse{File: file, Project: project, Versions: []SimilarItem{}}
		if cfg.Links != nil {
			for _, l := range cfg.Links.SearchSimilar(r.Context(), file, project, q.Get("sequence")) {
				resp.Versions = append(resp.Versions, SimilarItem{
					ID:    l.ID,
					Code:  l.Attr("code"),
					URL:   l.URL,
					Score: l.Score,
				})
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
