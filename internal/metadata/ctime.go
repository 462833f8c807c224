package metadata

import (
	"os"
	"time"
)

// createdTime is best effort: portable file info has no birth time, so the
// modification time stands in.
func createdTime(info os.FileInfo) time.Time {
	return info.ModTime()
}
