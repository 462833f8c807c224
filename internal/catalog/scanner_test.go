package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var (
	testImageExts = []string{".png", ".jpg", ".exr"}
	testVideoExts = []string{".mp4", ".mov"}
)

func newTestScanner(h *History) *Scanner {
	return NewScanner(NewClassifier(testImageExts, testVideoExts), h, []string{"LIG", "KIAP"}, testLogger())
}

func TestClassifier(t *testing.T) {
	c := NewClassifier([]string{"PNG", ".jpg"}, []string{"mp4"})
	tests := []struct {
		name string
		want FileType
	}{
		{"a.png", FileTypeImage},
		{"a.PNG", FileTypeImage},
		{"a.jpg", FileTypeImage},
		{"a.mp4", FileTypeVideo},
		{"a.xyz", FileTypeUnknown},
		{"noext", FileTypeUnknown},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.name); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestScanner_Scan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.png"), "b")
	writeFile(t, filepath.Join(root, "a.mp4"), "a")
	writeFile(t, filepath.Join(root, "notes.txt"), "n")
	writeFile(t, filepath.Join(root, ".hidden.png"), "h")
	writeFile(t, filepath.Join(root, "c.metadata.json"), "{}")
	writeFile(t, filepath.Join(root, ".cache", "x.png"), "x")
	writeFile(t, filepath.Join(root, "KIAP", "shot_c7.png"), "k")

	s := newTestScanner(nil)
	res, err := s.Scan(context.Background(), ScanOptions{Root: root, Recursive: true})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	var names []string
	for _, f := range res.Files {
		names = append(names, f.FileName)
		if f.Stage != StagePending {
			t.Errorf("%s stage = %v, want pending", f.FileName, f.Stage)
		}
	}
	want := []string{"shot_c7.png", "a.mp4", "b.png"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("files = %v, want %v", names, want)
	}
	if res.Files[1].FileType != FileTypeVideo || res.Files[2].FileType != FileTypeImage {
		t.Errorf("file types = %v %v", res.Files[1].FileType, res.Files[2].FileType)
	}

	if len(res.Skipped) != 1 || res.Skipped[0].Reason != SkipUnsupportedExtension {
		t.Errorf("skipped = %+v, want notes.txt unsupported", res.Skipped)
	}

	ss, ok := res.Sequence.Lookup("shot_c7.png")
	if !ok || ss.Sequence != "KIAP" || ss.Shot != "c007" {
		t.Errorf("sequence dict entry = %+v, %v", ss, ok)
	}
	if _, ok := res.Sequence.Lookup("b.png"); ok {
		t.Error("b.png should not have a dictionary entry")
	}
}

func TestScanner_NonRecursive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "top.png"), "t")
	writeFile(t, filepath.Join(root, "sub", "deep.png"), "d")

	res, err := newTestScanner(nil).Scan(context.Background(), ScanOptions{Root: root})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(res.Files) != 1 || res.Files[0].FileName != "top.png" {
		t.Errorf("files = %+v, want only top.png", res.Files)
	}
}

func TestScanner_UnreadableRoot(t *testing.T) {
	res, err := newTestScanner(nil).Scan(context.Background(), ScanOptions{Root: filepath.Join(t.TempDir(), "missing")})
	if err != nil {
		t.Fatalf("Scan() error = %v, want nil", err)
	}
	if len(res.Files) != 0 {
		t.Errorf("files = %d, want 0", len(res.Files))
	}
}

func TestScanner_CancelledContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"), "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestScanner(nil).Scan(ctx, ScanOptions{Root: root, Recursive: true}); err == nil {
		t.Error("Scan() with cancelled context should fail")
	}
}

func TestScanner_ExcludeProcessed(t *testing.T) {
	repo := setupTestDB(t)
	history := NewHistory(repo, testLogger())
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "KIAP_c010_txtToImage_v0001.png"), "processed name")
	writeFile(t, filepath.Join(root, "withsidecar.png"), "sidecar")
	writeFile(t, filepath.Join(root, "withsidecar.metadata.json"), "{}")
	writeFile(t, filepath.Join(root, "seen.png"), "seen content")
	writeFile(t, filepath.Join(root, "copy_of_seen.png"), "seen content")
	writeFile(t, filepath.Join(root, "fresh.png"), "fresh")

	seenPath := filepath.Join(root, "seen.png")
	hash, err := ContentHash(seenPath)
	if err != nil {
		t.Fatal(err)
	}
	info, _ := os.Stat(seenPath)
	err = history.Record(ctx, &FileRecord{
		SourcePath: seenPath, FileName: "seen.png", ContentHash: hash,
		Sequence: "s01", Shot: "c001", Task: "txtToImage", Version: 1,
		Size: info.Size(), ModTime: info.ModTime(),
	}, "")
	if err != nil {
		t.Fatal(err)
	}

	res, err := newTestScanner(history).Scan(ctx, ScanOptions{Root: root, ExcludeProcessed: true})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(res.Files) != 1 || res.Files[0].FileName != "fresh.png" {
		t.Errorf("files = %+v, want only fresh.png", res.Files)
	}
	if len(res.Skipped) != 4 {
		t.Fatalf("skipped = %+v, want 4", res.Skipped)
	}
	for _, s := range res.Skipped {
		if s.Reason != SkipAlreadyProcessed {
			t.Errorf("%s reason = %s, want already_processed", s.Path, s.Reason)
		}
	}

	res, err = newTestScanner(history).Scan(ctx, ScanOptions{Root: root})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(res.Files) != 5 {
		t.Errorf("files without exclusion = %d, want 5", len(res.Files))
	}
}

func TestLooksProcessed(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"S01_c001_anything.png", true},
		{"proj_s01_c002_comp_v003.mov", true},
		{"x_sq01_sh02_v01.exr", true},
		{"LIG_c010_txtToImage_v0001.png", true},
		{"KIAP_c010_imgToVideo_v0002.mp4", true},
		{"KIAP_c010_raw.png", false},
		{"render_0001.png", false},
	}
	for _, tt := range tests {
		if got := LooksProcessed(tt.name); got != tt.want {
			t.Errorf("LooksProcessed(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestContentHash(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "b.bin")
	writeFile(t, a, "same")
	writeFile(t, b, "same")

	ha, err := ContentHash(a)
	if err != nil {
		t.Fatalf("ContentHash() error = %v", err)
	}
	hb, _ := ContentHash(b)
	if ha != hb || len(ha) != 64 {
		t.Errorf("hashes = %q %q, want equal 64-char hex", ha, hb)
	}

	big := filepath.Join(dir, "big.bin")
	data := make([]byte, fullHashLimit+sampleSize)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(big, data, 0644); err != nil {
		t.Fatal(err)
	}
	h1, err := ContentHash(big)
	if err != nil {
		t.Fatalf("ContentHash(big) error = %v", err)
	}
	data[len(data)-1] ^= 0xff
	os.WriteFile(big, data, 0644)
	h2, _ := ContentHash(big)
	if h1 == h2 {
		t.Error("changing the tail of a sampled file should change its hash")
	}
}

func TestBuildSequenceDict(t *testing.T) {
	paths := []string{
		"/work/LIG/render_c12.png",
		"/work/misc/final-kiap.png",
		"/work/misc/LIGHTS.png",
		"/work/misc/plain.png",
	}
	dict := BuildSequenceDict(paths, []string{"LIG", "KIAP"})

	if ss := dict["render_c12.png"]; ss.Sequence != "LIG" || ss.Shot != "c012" {
		t.Errorf("render_c12.png = %+v", ss)
	}
	if ss := dict["final-kiap.png"]; ss.Sequence != "KIAP" || ss.Shot != "c001" {
		t.Errorf("final-kiap.png = %+v", ss)
	}
	if _, ok := dict["LIGHTS.png"]; ok {
		t.Error("LIGHTS.png should not match LIG as a whole word")
	}
	if _, ok := dict["plain.png"]; ok {
		t.Error("plain.png should have no entry")
	}
}
