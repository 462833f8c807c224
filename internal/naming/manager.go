package naming

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
	"github.com/shotpipe/shotpipe-agent/internal/tasks"
)

var (
	// canonicalStemRe matches the stem of a name this package produced.
	canonicalStemRe = regexp.MustCompile(`^([a-zA-Z0-9]+)_c([0-9]+)_([a-zA-Z0-9]+)_v([0-9]+)`)
	versionSuffixRe = regexp.MustCompile(`_v(\d+)$`)
)

// Options are the per-batch inputs to Apply.
type Options struct {
	// OutputDir receives renamed files. Empty means next to the source.
	OutputDir     string
	BatchSequence string
	Dict          catalog.SequenceDict
}

// Result is the naming decision for one record.
type Result struct {
	Sequence string
	Shot     string
	Source   string
	Task     string
	Version  int
	Filename string
	Path     string
}

// ApplyTo copies the decision onto rec.
func (r *Result) ApplyTo(rec *catalog.FileRecord) {
	rec.Sequence = r.Sequence
	rec.Shot = r.Shot
	rec.SequenceSource = r.Source
	rec.Task = r.Task
	rec.Version = r.Version
	rec.ProcessedFilename = r.Filename
	rec.ProcessedPath = r.Path
}

// Error is returned when no canonical target could be produced. DefaultPath
// is outputDir joined with the original file name so the caller can still
// copy the file somewhere predictable.
type Error struct {
	Path        string
	DefaultPath string
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("naming %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Manager assigns canonical names and versions. Versions are claimed under
// a mutex so concurrent callers in one process never get the same target.
type Manager struct {
	resolver *Resolver
	assigner *tasks.Assigner
	logger   *slog.Logger

	mu      sync.Mutex
	claimed map[string]int
	targets map[string]bool
}

func NewManager(resolver *Resolver, assigner *tasks.Assigner, logger *slog.Logger) *Manager {
	return &Manager{
		resolver: resolver,
		assigner: assigner,
		logger:   logger,
		claimed:  make(map[string]int),
		targets:  make(map[string]bool),
	}
}

// Resolver returns the sequence/shot resolver in use.
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}

// FormatName builds the canonical file name. ext keeps its original case.
func FormatName(sequence, shot, task string, version int, ext string) string {
	return fmt.Sprintf("%s_%s_%s_v%04d%s", sequence, shot, task, version, ext)
}

// ParseName extracts the parts of a canonical name. ok is false for names
// that were not produced by FormatName.
func ParseName(name string) (sequence, shot, task string, version int, ok bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	m := canonicalStemRe.FindStringSubmatch(stem)
	if m == nil {
		return "", "", "", 0, false
	}
	v, err := strconv.Atoi(m[4])
	if err != nil {
		return "", "", "", 0, false
	}
	return m[1], catalog.FormatShot(m[2]), m[3], v, true
}

// Apply resolves sequence/shot, settles the task and picks the next free
// version for rec. On error the returned *Error carries a fallback path.
func (m *Manager) Apply(rec *catalog.FileRecord, opts Options) (*Result, error) {
	dir := opts.OutputDir
	if dir == "" {
		dir = filepath.Dir(rec.SourcePath)
	}
	fail := func(err error) (*Result, error) {
		return nil, &Error{Path: rec.SourcePath, DefaultPath: filepath.Join(dir, rec.FileName), Err: err}
	}
	if rec.FileName == "" {
		return fail(fmt.Errorf("record has no file name"))
	}

	a := m.resolver.Resolve(rec, opts.BatchSequence, opts.Dict)
	task := strings.TrimSpace(rec.Task)
	if task == "" || strings.EqualFold(task, tasks.Fallback) || strings.EqualFold(task, "unknown") {
		task = m.assigner.ForType(rec.FileType)
	}

	floor := 0
	if _, _, _, v, ok := ParseName(rec.FileName); ok {
		floor = v
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fail(fmt.Errorf("create output directory: %w", err))
	}

	ext := rec.Extension()
	prefix := fmt.Sprintf("%s_%s_%s_", a.Sequence, a.Shot, task)
	key := dir + "\x00" + prefix

	m.mu.Lock()
	defer m.mu.Unlock()

	onDisk, err := maxVersionInDir(dir, prefix)
	if err != nil {
		return fail(err)
	}
	version := max(floor, onDisk, m.claimed[key]) + 1

	var target, name string
	for {
		name = FormatName(a.Sequence, a.Shot, task, version, ext)
		target = filepath.Join(dir, name)
		if target == rec.SourcePath {
			version++
			continue
		}
		if _, err := os.Lstat(target); err == nil || m.targets[target] {
			version++
			continue
		}
		break
	}
	m.claimed[key] = version
	m.targets[target] = true

	if m.logger != nil {
		m.logger.Debug("name assigned",
			"file", rec.FileName,
			"name", name,
			"source", a.Source)
	}

	return &Result{
		Sequence: a.Sequence,
		Shot:     a.Shot,
		Source:   a.Source,
		Task:     task,
		Version:  version,
		Filename: name,
		Path:     target,
	}, nil
}

// Release forgets in-memory claims. Call between batches once files are on
// disk so the directory listing is authoritative again.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimed = make(map[string]int)
	m.targets = make(map[string]bool)
}

// maxVersionInDir returns the highest _vNNNN among files in dir that start
// with prefix. A missing directory counts as zero.
func maxVersionInDir(dir, prefix string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("list %s: %w", dir, err)
	}
	highest := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || strings.HasSuffix(name, catalog.SidecarSuffix) {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		m := versionSuffixRe.FindStringSubmatch(stem)
		if m == nil {
			continue
		}
		if v, err := strconv.Atoi(m[1]); err == nil && v > highest {
			highest = v
		}
	}
	return highest, nil
}
