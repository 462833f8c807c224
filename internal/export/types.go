// Package export writes and reads batch manifests.
package export

import (
	"time"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Manifest is the full record of one processed batch.
type Manifest struct {
	BatchID    string                `json:"batch_id"`
	CreatedAt  time.Time             `json:"created_at"`
	AppVersion string                `json:"app_version"`
	Root       string                `json:"root,omitempty"`
	OutputDir  string                `json:"output_dir,omitempty"`
	Files      []*catalog.FileRecord `json:"files"`
}

// Paths are the files written by Save.
type Paths struct {
	JSON string `json:"json"`
	CSV  string `json:"csv"`
}
