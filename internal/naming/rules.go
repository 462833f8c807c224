// Package naming infers sequence/shot codes for media files and builds the
// canonical {SEQUENCE}_{SHOT}_{TASK}_v{NNNN}.{ext} output names.
package naming

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
	"github.com/shotpipe/shotpipe-agent/internal/config"
)

// Names of the resolution rules, recorded on each FileRecord.
const (
	SourceBatchOverride = "batch_override"
	SourceUser          = "user"
	SourceDirectory     = "directory"
	SourcePattern       = "pattern"
	SourceDictionary    = "dictionary"
	SourceKeyword       = "keyword"
	SourceDefault       = "default"
)

// Assignment is a resolved sequence/shot pair and the rule that produced it.
type Assignment struct {
	Sequence string
	Shot     string
	Source   string
}

// Pattern is one filename regex with its extractor.
type Pattern struct {
	Name    string
	Pattern *regexp.Regexp
	Extract func(m []string) (sequence, shot string)
}

func upperAndShot(m []string) (string, string) {
	return strings.ToUpper(m[1]), catalog.FormatShot(m[2])
}

// FilenamePatterns are tried in order; the first match wins.
var FilenamePatterns = []Pattern{
	{Name: "seq_shot_prefix", Pattern: regexp.MustCompile(`^([sS]\d+)_[cC](\d+)_`), Extract: upperAndShot},
	{Name: "name_underscore_frame", Pattern: regexp.MustCompile(`^([A-Za-z]+)_(\d+)\.`), Extract: upperAndShot},
	{Name: "name_dot_frame", Pattern: regexp.MustCompile(`^([A-Za-z]+)\.(\d+)\.`), Extract: upperAndShot},
	{Name: "embedded_seq_shot", Pattern: regexp.MustCompile(`_([sS]\d+)_[cC](\d+)`), Extract: upperAndShot},
	{Name: "project_code_shot", Pattern: regexp.MustCompile(`^(LIG|KIAP)_[cC](\d+)`), Extract: upperAndShot},
}

var (
	overrideShotRe = regexp.MustCompile(`(^|_)[cC](\d+)`)
	digitsRe       = regexp.MustCompile(`\d+`)
)

// Input carries everything a rule may look at.
type Input struct {
	Record        *catalog.FileRecord
	FileName      string // NFC-normalised
	ParentDir     string // NFC-normalised base name of the parent directory
	BatchSequence string
	Dict          catalog.SequenceDict
}

// Rule resolves an Input or reports no match.
type Rule struct {
	Name    string
	Resolve func(in Input) (Assignment, bool)
}

// Resolver evaluates the ordered rules.
type Resolver struct {
	rules        []Rule
	codes        []string
	upperCodes   map[string]bool
	defaultSeq   string
	defaultShot  string
	useDirectory bool
}

// NewResolver builds the rule chain from configuration. Filename patterns
// run before the directory rule unless DirectoryBeforePatterns is set.
func NewResolver(cfg config.NamingConfig) *Resolver {
	r := &Resolver{
		codes:        cfg.ProjectCodes,
		upperCodes:   make(map[string]bool),
		defaultSeq:   cfg.DefaultSequence,
		defaultShot:  cfg.DefaultShot,
		useDirectory: cfg.UseDirectoryName,
	}
	if r.defaultSeq == "" {
		r.defaultSeq = config.DefaultSequence
	}
	if r.defaultShot == "" {
		r.defaultShot = config.DefaultShot
	}
	for _, c := range cfg.ProjectCodes {
		r.upperCodes[strings.ToUpper(c)] = true
	}
	if len(cfg.ProjectCodes) > 1 {
		r.upperCodes[strings.ToUpper(strings.Join(cfg.ProjectCodes, "_"))] = true
	}

	override := Rule{Name: SourceBatchOverride, Resolve: r.batchOverride}
	user := Rule{Name: SourceUser, Resolve: r.userValue}
	directory := Rule{Name: SourceDirectory, Resolve: r.directory}
	pattern := Rule{Name: SourcePattern, Resolve: r.pattern}

	r.rules = []Rule{override, user}
	if cfg.DirectoryBeforePatterns {
		r.rules = append(r.rules, directory, pattern)
	} else {
		r.rules = append(r.rules, pattern, directory)
	}
	r.rules = append(r.rules,
		Rule{Name: SourceDictionary, Resolve: r.dictionary},
		Rule{Name: SourceKeyword, Resolve: r.keyword},
		Rule{Name: SourceDefault, Resolve: r.fallback},
	)
	return r
}

// RuleNames returns the evaluation order.
func (r *Resolver) RuleNames() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}

// Resolve runs the rules for rec and returns the first match.
func (r *Resolver) Resolve(rec *catalog.FileRecord, batchSequence string, dict catalog.SequenceDict) Assignment {
	in := Input{
		Record:        rec,
		FileName:      norm.NFC.String(rec.FileName),
		ParentDir:     norm.NFC.String(filepath.Base(filepath.Dir(rec.SourcePath))),
		BatchSequence: strings.TrimSpace(batchSequence),
		Dict:          dict,
	}
	for _, rule := range r.rules {
		if a, ok := rule.Resolve(in); ok {
			a.Sequence = r.NormalizeSequence(a.Sequence)
			a.Shot = r.NormalizeShot(a.Shot)
			a.Source = rule.Name
			return a
		}
	}
	return Assignment{Sequence: r.defaultSeq, Shot: r.defaultShot, Source: SourceDefault}
}

func (r *Resolver) batchOverride(in Input) (Assignment, bool) {
	if in.BatchSequence == "" {
		return Assignment{}, false
	}
	shot := "c001"
	if m := overrideShotRe.FindStringSubmatch(in.FileName); m != nil {
		shot = catalog.FormatShot(m[2])
	}
	return Assignment{Sequence: in.BatchSequence, Shot: shot}, true
}

func (r *Resolver) userValue(in Input) (Assignment, bool) {
	if in.Record == nil || strings.TrimSpace(in.Record.Sequence) == "" {
		return Assignment{}, false
	}
	shot := in.Record.Shot
	if shot == "" {
		shot = r.defaultShot
	}
	return Assignment{Sequence: strings.TrimSpace(in.Record.Sequence), Shot: shot}, true
}

func (r *Resolver) directory(in Input) (Assignment, bool) {
	if !r.useDirectory {
		return Assignment{}, false
	}
	switch in.ParentDir {
	case "", ".", "..", string(filepath.Separator):
		return Assignment{}, false
	}
	return Assignment{Sequence: in.ParentDir, Shot: "c001"}, true
}

func (r *Resolver) pattern(in Input) (Assignment, bool) {
	for _, p := range FilenamePatterns {
		if m := p.Pattern.FindStringSubmatch(in.FileName); m != nil {
			seq, shot := p.Extract(m)
			return Assignment{Sequence: seq, Shot: shot}, true
		}
	}
	return Assignment{}, false
}

func (r *Resolver) dictionary(in Input) (Assignment, bool) {
	ss, ok := in.Dict.Lookup(in.FileName)
	if !ok {
		ss, ok = in.Dict.Lookup(in.Record.FileName)
	}
	if !ok {
		return Assignment{}, false
	}
	return Assignment{Sequence: ss.Sequence, Shot: ss.Shot}, true
}

func (r *Resolver) keyword(in Input) (Assignment, bool) {
	upper := strings.ToUpper(in.FileName)
	for _, code := range r.codes {
		if strings.Contains(upper, strings.ToUpper(code)) {
			return Assignment{Sequence: code, Shot: "c001"}, true
		}
	}
	return Assignment{}, false
}

func (r *Resolver) fallback(Input) (Assignment, bool) {
	return Assignment{Sequence: r.defaultSeq, Shot: r.defaultShot}, true
}

// NormalizeSequence upper-cases known project codes and leaves anything
// else as given.
func (r *Resolver) NormalizeSequence(seq string) string {
	seq = strings.TrimSpace(seq)
	if seq == "" {
		return r.defaultSeq
	}
	if r.upperCodes[strings.ToUpper(seq)] {
		return strings.ToUpper(seq)
	}
	return seq
}

// NormalizeShot renders any shot string with digits as c%03d.
func (r *Resolver) NormalizeShot(shot string) string {
	d := digitsRe.FindString(shot)
	if d == "" {
		return r.defaultShot
	}
	n, err := strconv.Atoi(d)
	if err != nil {
		return r.defaultShot
	}
	return fmt.Sprintf("c%03d", n)
}
