package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{"control chars", " A\nB\rC\tD\x00 ", 100, "ABCD"},
		{"allowed", "Az09 -_.", 100, "Az09 -_."},
		{"disallowed", "bad<>|\"/name", 100, "bad_____name"},
		{"max length", "abcdefghijklmnopqrstuvwxyz", 10, "abcdefghij"},
		{"unicode letters", "시퀀스_01", 100, "시퀀스_01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeName(tt.input, tt.max); got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
	if got := SanitizeName("a\nb", 0); strings.ContainsAny(got, "\n") {
		t.Errorf("SanitizeName kept a control char: %q", got)
	}
}

func TestValidateSourceDir(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateSourceDir(dir); err != nil {
		t.Errorf("ValidateSourceDir(%q) error = %v, want nil", dir, err)
	}
	if err := ValidateSourceDir(filepath.Join(dir, "missing")); err == nil {
		t.Error("ValidateSourceDir(missing) expected error")
	}
	if err := ValidateSourceDir("relative/dir"); err == nil {
		t.Error("ValidateSourceDir(relative) expected error")
	}
}

func TestValidateOutputDir(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateOutputDir(dir); err != nil {
		t.Errorf("ValidateOutputDir(%q) error = %v, want nil", dir, err)
	}
	if err := ValidateOutputDir(filepath.Join(dir, "not-yet")); err != nil {
		t.Errorf("ValidateOutputDir(missing) error = %v, want nil", err)
	}
	if err := ValidateOutputDir("/tmp/../etc"); err == nil {
		t.Error("ValidateOutputDir expected traversal error")
	}
	if err := ValidateOutputDir(""); err == nil {
		t.Error("ValidateOutputDir(\"\") expected error")
	}

	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ValidateOutputDir(file); err == nil {
		t.Errorf("ValidateOutputDir(%q) expected non-directory error", file)
	}
}
