package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// SanitizeName keeps letters, digits and a few punctuation marks, replacing
// everything else with '_'. Control characters are removed.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.':
		return true
	default:
		return false
	}
}

func checkPath(field, dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("%s is required", field)
	}
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("%s cannot contain path traversal", field)
		}
	}
	if !filepath.IsAbs(dir) {
		return fmt.Errorf("%s must be an absolute path", field)
	}
	if filepath.Clean(dir) != dir {
		return fmt.Errorf("%s must be clean path", field)
	}
	return nil
}

// ValidateSourceDir checks a scan root supplied by a client.
func ValidateSourceDir(dir string) error {
	if err := checkPath("root", dir); err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("root does not exist")
		}
		return fmt.Errorf("invalid root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root is not a directory")
	}
	return nil
}

// ValidateOutputDir checks an output folder supplied by a client. The
// folder may not exist yet, but anything already at that path must be a
// directory.
func ValidateOutputDir(dir string) error {
	if err := checkPath("output_dir", dir); err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("invalid output_dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output_dir is not a directory")
	}
	return nil
}
