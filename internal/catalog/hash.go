package catalog

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const (
	fullHashLimit = 10 * 1024 * 1024
	sampleSize    = 1024 * 1024
)

// ContentHash returns a SHA-256 content fingerprint. Files under 10 MiB are
// hashed whole; larger files hash their first, middle and last MiB plus the
// size.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	size := info.Size()

	h := sha256.New()
	if size < fullHashLimit {
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("hash %s: %w", path, err)
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	offsets := []int64{0, size/2 - sampleSize/2, size - sampleSize}
	buf := make([]byte, sampleSize)
	for _, off := range offsets {
		n, err := f.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("hash %s at %d: %w", path, off, err)
		}
		h.Write(buf[:n])
	}
	var sz [8]byte
	binary.BigEndian.PutUint64(sz[:], uint64(size))
	h.Write(sz[:])

	return hex.EncodeToString(h.Sum(nil)), nil
}
