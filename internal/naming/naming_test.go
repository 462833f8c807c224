package naming

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
	"github.com/shotpipe/shotpipe-agent/internal/config"
	"github.com/shotpipe/shotpipe-agent/internal/tasks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestManager(t *testing.T, mutate func(*config.Config)) *Manager {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	fp := cfg.FileProcessing
	classifier := catalog.NewClassifier(fp.SupportedImageExtensions, fp.SupportedVideoExtensions)
	return NewManager(NewResolver(cfg.Naming), tasks.NewAssigner(classifier, fp.TaskMapping), testLogger())
}

func record(path string, ft catalog.FileType) *catalog.FileRecord {
	return catalog.NewFileRecord(path, ft)
}

func TestResolver_RuleOrder(t *testing.T) {
	cfg := config.Default()
	r := NewResolver(cfg.Naming)
	got := strings.Join(r.RuleNames(), ",")
	want := "batch_override,user,pattern,directory,dictionary,keyword,default"
	if got != want {
		t.Errorf("RuleNames() = %s, want %s", got, want)
	}

	cfg.Naming.DirectoryBeforePatterns = true
	got = strings.Join(NewResolver(cfg.Naming).RuleNames(), ",")
	want = "batch_override,user,directory,pattern,dictionary,keyword,default"
	if got != want {
		t.Errorf("RuleNames() with directory first = %s, want %s", got, want)
	}
}

func TestResolver_Resolve(t *testing.T) {
	r := NewResolver(config.Default().Naming)
	dict := catalog.SequenceDict{"dict_hit.png": {Sequence: "LIG", Shot: "c042"}}

	tests := []struct {
		name     string
		path     string
		batchSeq string
		seq      string
		shot     string
		source   string
	}{
		{"override keeps shot token", "/in/shots/anything_c12.png", "kiap", "KIAP", "c012", SourceBatchOverride},
		{"override default shot", "/in/shots/anything.png", "ABC", "ABC", "c001", SourceBatchOverride},
		{"seq shot prefix", "/in/x/s02_c5_plate.png", "", "S02", "c005", SourcePattern},
		{"underscore frame", "/in/x/render_0012.png", "", "RENDER", "c012", SourcePattern},
		{"dot frame", "/in/x/plate.0003.exr", "", "PLATE", "c003", SourcePattern},
		{"embedded", "/in/x/proj_s03_c7_comp.png", "", "S03", "c007", SourcePattern},
		{"project code", "/in/x/LIG_c3_raw.png", "", "LIG", "c003", SourcePattern},
		{"project code zero shot", "/in/x/LIG_c0_x.png", "", "LIG", "c000", SourcePattern},
		{"seq shot prefix zero", "/in/x/s01_c000_x.png", "", "S01", "c000", SourcePattern},
		{"underscore frame zero", "/in/x/A_000.jpg", "", "A", "c000", SourcePattern},
		{"directory", "/in/myseq/plain.png", "", "myseq", "c001", SourceDirectory},
		{"lowercase code directory", "/in/kiap/plain.png", "", "KIAP", "c001", SourceDirectory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := r.Resolve(record(tt.path, catalog.FileTypeImage), tt.batchSeq, dict)
			if a.Sequence != tt.seq || a.Shot != tt.shot || a.Source != tt.source {
				t.Errorf("Resolve(%s) = %+v, want %s/%s via %s", tt.path, a, tt.seq, tt.shot, tt.source)
			}
		})
	}
}

func TestResolver_UserValues(t *testing.T) {
	r := NewResolver(config.Default().Naming)
	rec := record("/in/x/s02_c5_plate.png", catalog.FileTypeImage)
	rec.Sequence = "lig"
	rec.Shot = "7"
	a := r.Resolve(rec, "", nil)
	if a.Sequence != "LIG" || a.Shot != "c007" || a.Source != SourceUser {
		t.Errorf("Resolve() = %+v, want user LIG/c007", a)
	}
}

func TestResolver_LowerRulesWithoutDirectory(t *testing.T) {
	cfg := config.Default()
	cfg.Naming.UseDirectoryName = false
	r := NewResolver(cfg.Naming)
	dict := catalog.SequenceDict{"dict_hit.png": {Sequence: "LIG", Shot: "c042"}}

	tests := []struct {
		path   string
		seq    string
		shot   string
		source string
	}{
		{"/in/x/dict_hit.png", "LIG", "c042", SourceDictionary},
		{"/in/x/my-kiap-take.png", "KIAP", "c001", SourceKeyword},
		{"/in/x/plain.png", "s01", "c001", SourceDefault},
	}
	for _, tt := range tests {
		a := r.Resolve(record(tt.path, catalog.FileTypeImage), "", dict)
		if a.Sequence != tt.seq || a.Shot != tt.shot || a.Source != tt.source {
			t.Errorf("Resolve(%s) = %+v, want %s/%s via %s", tt.path, a, tt.seq, tt.shot, tt.source)
		}
	}
}

func TestResolver_ProjectCodesUppercased(t *testing.T) {
	r := NewResolver(config.Default().Naming)
	for _, seq := range []string{"lig", "Kiap", "lig_kiap"} {
		rec := record("/in/x/plain.png", catalog.FileTypeImage)
		a := r.Resolve(rec, seq, nil)
		if a.Sequence != strings.ToUpper(seq) {
			t.Errorf("Resolve(override %q).Sequence = %q, want %q", seq, a.Sequence, strings.ToUpper(seq))
		}
	}
}

func TestResolver_DirectoryBeatsKeyword(t *testing.T) {
	r := NewResolver(config.Default().Naming)
	a := r.Resolve(record("/in/batch7/final-kiap.png", catalog.FileTypeImage), "", nil)
	if a.Sequence != "batch7" || a.Source != SourceDirectory {
		t.Errorf("Resolve() = %+v, want directory batch7", a)
	}
}

func TestResolver_DirectoryBeforePatterns(t *testing.T) {
	cfg := config.Default()
	cfg.Naming.DirectoryBeforePatterns = true
	r := NewResolver(cfg.Naming)
	a := r.Resolve(record("/in/batch1/KIAP_c010_raw.png", catalog.FileTypeImage), "", nil)
	if a.Sequence != "batch1" || a.Shot != "c001" {
		t.Errorf("Resolve() = %+v, want batch1/c001", a)
	}
}

func TestResolver_NFC(t *testing.T) {
	r := NewResolver(config.Default().Naming)
	// "é" decomposed (e + U+0301) in the directory name.
	a := r.Resolve(record("/in/café/plain.png", catalog.FileTypeImage), "", nil)
	if a.Sequence != "café" {
		t.Errorf("Sequence = %q, want NFC composed form", a.Sequence)
	}
}

func TestManager_Apply(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	src := filepath.Join(in, "batch1", "KIAP_c010_raw.png")
	writeFile(t, src)

	m := newTestManager(t, nil)
	rec := record(src, catalog.FileTypeImage)
	res, err := m.Apply(rec, Options{OutputDir: out})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Filename != "KIAP_c010_txtToImage_v0001.png" {
		t.Errorf("Filename = %s, want KIAP_c010_txtToImage_v0001.png", res.Filename)
	}
	if res.Path != filepath.Join(out, res.Filename) {
		t.Errorf("Path = %s", res.Path)
	}
	res.ApplyTo(rec)
	if rec.Sequence != "KIAP" || rec.Shot != "c010" || rec.Task != "txtToImage" || rec.Version != 1 {
		t.Errorf("record after ApplyTo = %+v", rec)
	}
}

func TestManager_VersionIncrements(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	m := newTestManager(t, nil)

	for i := 1; i <= 3; i++ {
		src := filepath.Join(in, fmt.Sprintf("LIG_c2_take%d.MOV", i))
		writeFile(t, src)
		res, err := m.Apply(record(src, catalog.FileTypeVideo), Options{OutputDir: out})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		want := fmt.Sprintf("LIG_c002_imgToVideo_v%04d.MOV", i)
		if res.Filename != want {
			t.Errorf("file %d name = %s, want %s", i, res.Filename, want)
		}
	}
}

func TestManager_VersionFromDisk(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeFile(t, filepath.Join(out, "LIG_c002_txtToImage_v0004.png"))
	writeFile(t, filepath.Join(out, "LIG_c002_txtToImage_v0004.metadata.json"))
	src := filepath.Join(in, "LIG_c2_x.png")
	writeFile(t, src)

	res, err := newTestManager(t, nil).Apply(record(src, catalog.FileTypeImage), Options{OutputDir: out})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Version != 5 {
		t.Errorf("Version = %d, want 5", res.Version)
	}
}

func TestManager_Reprocess(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "KIAP_c010_txtToImage_v0003.png")
	writeFile(t, src)

	res, err := newTestManager(t, nil).Apply(record(src, catalog.FileTypeImage), Options{})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Version != 4 || filepath.Dir(res.Path) != dir {
		t.Errorf("reprocess = v%d at %s, want v4 next to source", res.Version, res.Path)
	}
}

func TestManager_TaskReplacement(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "LIG_c1.mp4")
	writeFile(t, src)

	rec := record(src, catalog.FileTypeVideo)
	rec.Task = "comp"
	res, err := newTestManager(t, nil).Apply(rec, Options{OutputDir: dir})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Task != "imgToVideo" {
		t.Errorf("Task = %s, want imgToVideo", res.Task)
	}

	rec = record(src, catalog.FileTypeVideo)
	rec.Task = "layout"
	res, _ = newTestManager(t, nil).Apply(rec, Options{OutputDir: dir})
	if res.Task != "layout" {
		t.Errorf("explicit Task = %s, want layout", res.Task)
	}
}

func TestManager_ConcurrentClaimsAreUnique(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	m := newTestManager(t, nil)

	const n = 20
	names := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		src := filepath.Join(in, fmt.Sprintf("KIAP_c1_%02d.png", i))
		writeFile(t, src)
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			res, err := m.Apply(record(src, catalog.FileTypeImage), Options{OutputDir: out})
			if err != nil {
				t.Errorf("Apply() error = %v", err)
				return
			}
			names[i] = res.Filename
		}(i, src)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] {
			t.Errorf("duplicate name %s", name)
		}
		seen[name] = true
	}
}

func TestManager_ErrorCarriesDefaultPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	writeFile(t, blocker)
	src := filepath.Join(dir, "LIG_c1.png")
	writeFile(t, src)

	out := filepath.Join(blocker, "sub")
	_, err := newTestManager(t, nil).Apply(record(src, catalog.FileTypeImage), Options{OutputDir: out})
	if err == nil {
		t.Fatal("Apply() with unusable output dir should fail")
	}
	var nerr *Error
	if !errors.As(err, &nerr) || nerr.DefaultPath != filepath.Join(out, "LIG_c1.png") {
		t.Errorf("error = %#v, want *Error with default path", err)
	}
}

func TestParseName(t *testing.T) {
	seq, shot, task, v, ok := ParseName("KIAP_c010_txtToImage_v0007.png")
	if !ok || seq != "KIAP" || shot != "c010" || task != "txtToImage" || v != 7 {
		t.Errorf("ParseName() = %s %s %s %d %v", seq, shot, task, v, ok)
	}
	if _, _, _, _, ok := ParseName("render_0001.png"); ok {
		t.Error("ParseName(render_0001.png) should not match")
	}
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(path), 0644); err != nil {
		t.Fatal(err)
	}
}
