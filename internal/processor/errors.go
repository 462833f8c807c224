package processor

import (
	"fmt"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
)

// Error kinds stored on FileRecord.ErrorKind.
const (
	KindExtraction = "extraction"
	KindNaming     = "naming"
	KindCopy       = "copy"
	KindHistory    = "history"
)

// ExtractionError is a metadata read failure. The file continues with
// empty metadata but its record is marked failed.
type ExtractionError struct {
	Path  string
	Stage catalog.Stage
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract metadata %s (stage %s): %v", e.Path, e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// NamingError means no canonical name could be built. The file is copied
// to DefaultPath instead.
type NamingError struct {
	Path        string
	Stage       catalog.Stage
	DefaultPath string
	Err         error
}

func (e *NamingError) Error() string {
	return fmt.Sprintf("name %s (stage %s): %v", e.Path, e.Stage, e.Err)
}

func (e *NamingError) Unwrap() error { return e.Err }

// CopyError is an I/O failure while writing the artifact. The file fails.
type CopyError struct {
	Path   string
	Target string
	Stage  catalog.Stage
	Err    error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copy %s -> %s (stage %s): %v", e.Path, e.Target, e.Stage, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }

// HistoryError is a failure to append the ledger row. The file fails even
// though the artifact exists.
type HistoryError struct {
	Path  string
	Stage catalog.Stage
	Err   error
}

func (e *HistoryError) Error() string {
	return fmt.Sprintf("record history %s (stage %s): %v", e.Path, e.Stage, e.Err)
}

func (e *HistoryError) Unwrap() error { return e.Err }
