package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

var batchDirRe = regexp.MustCompile(`^batch_(\d{4}-\d{2}-\d{2})_(\d+)$`)

// BatchDirs hands out batch_YYYY-MM-DD_NN folders under a root and moves
// to a fresh folder every maxFiles files.
type BatchDirs struct {
	root     string
	maxFiles int
	now      func() time.Time

	current string
	count   int
}

func NewBatchDirs(root string, maxFiles int) *BatchDirs {
	if maxFiles <= 0 {
		maxFiles = 100
	}
	return &BatchDirs{root: root, maxFiles: maxFiles, now: time.Now}
}

// Next returns the folder the next file belongs in, creating it on first
// use.
func (b *BatchDirs) Next() (string, error) {
	if b.current != "" && b.count < b.maxFiles {
		b.count++
		return b.current, nil
	}
	dir, err := nextBatchDir(b.root, b.now())
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create batch folder: %w", err)
	}
	b.current = dir
	b.count = 1
	return dir, nil
}

// Current returns the folder in use, or "" before the first Next.
func (b *BatchDirs) Current() string {
	return b.current
}

func nextBatchDir(root string, now time.Time) (string, error) {
	day := now.Format("2006-01-02")
	entries, err := os.ReadDir(root)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("list %s: %w", root, err)
	}
	highest := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := batchDirRe.FindStringSubmatch(e.Name())
		if m == nil || m[1] != day {
			continue
		}
		if n, err := strconv.Atoi(m[2]); err == nil && n > highest {
			highest = n
		}
	}
	return filepath.Join(root, fmt.Sprintf("batch_%s_%02d", day, highest+1)), nil
}
