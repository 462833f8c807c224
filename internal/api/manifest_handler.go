package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/shotpipe/shotpipe-agent/internal/export"
)

func manifestHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := strings.ToLower(r.URL.Query().Get("format"))
		if format == "" {
			format = export.FormatJSON
		}
		if format != export.FormatJSON && format != export.FormatCSV {
			WriteError(w, http.StatusBadRequest, "format must be json or csv", "BAD_REQUEST")
			return
		}

		b := loadBatch(cfg, w, r)
		if b == nil {
			return
		}
		files, err := cfg.Repository.GetBatchFiles(r.Context(), b.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if len(files) == 0 {
			WriteError(w, http.StatusConflict, "batch has no processed files", "EMPTY_BATCH")
			return
		}

		m := &export.Manifest{
			BatchID:    b.ID,
			CreatedAt:  b.UpdatedAt.UTC(),
			AppVersion: cfg.Version,
			Root:       b.Root,
			OutputDir:  b.OutputDir,
			Files:      files,
		}

		name := "manifest_" + export.SanitizeName(b.ID, 80) + "." + format
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		if format == export.FormatCSV {
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			err = export.WriteCSV(w, m)
		} else {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			err = export.WriteJSON(w, m)
		}
		if err != nil {
			cfg.Logger.Error("manifest write failed", "batch_id", b.ID, "format", format, "error", err)
		}
	}
}
