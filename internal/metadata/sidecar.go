package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
)

// WriteSidecar writes md as <stem>.metadata.json next to artifactPath and
// returns the sidecar path. The write goes through a temp file and rename
// so readers never see a partial document.
func WriteSidecar(artifactPath string, md map[string]any) (string, error) {
	target := catalog.SidecarPath(artifactPath)

	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode sidecar: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".sidecar-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create sidecar temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close sidecar: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename sidecar: %w", err)
	}
	return target, nil
}

// ReadSidecar loads a sidecar written by WriteSidecar.
func ReadSidecar(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var md map[string]any
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decode sidecar %s: %w", path, err)
	}
	return md, nil
}
