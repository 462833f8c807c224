package catalog

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// SequenceShot is a sequence/shot pair attributed to a file.
type SequenceShot struct {
	Sequence string `json:"sequence"`
	Shot     string `json:"shot"`
}

// SequenceDict maps file names seen in one scan to a sequence/shot pair.
// It is built once per batch and only lists files that carry a project
// code in a folder segment or as a whole word in the name.
type SequenceDict map[string]SequenceShot

var shotTokenRe = regexp.MustCompile(`[cC](\d+)`)

// BuildSequenceDict derives the dictionary from scanned paths for the given
// project codes. Folder segments are checked before the file name.
func BuildSequenceDict(paths []string, codes []string) SequenceDict {
	wordRes := make([]*regexp.Regexp, len(codes))
	for i, code := range codes {
		wordRes[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(code) + `\b`)
	}

	dict := make(SequenceDict)
	for _, p := range paths {
		name := filepath.Base(p)
		seq := ""

		segments := strings.Split(filepath.ToSlash(filepath.Dir(p)), "/")
	folders:
		for _, seg := range segments {
			for _, code := range codes {
				if seg == code {
					seq = code
					break folders
				}
			}
		}
		if seq == "" {
			for i, re := range wordRes {
				if re.MatchString(name) {
					seq = codes[i]
					break
				}
			}
		}
		if seq == "" {
			continue
		}

		shot := "c001"
		if m := shotTokenRe.FindStringSubmatch(name); m != nil {
			shot = FormatShot(m[1])
		}
		dict[name] = SequenceShot{Sequence: seq, Shot: shot}
	}
	return dict
}

// Lookup returns the entry for an exact file name.
func (d SequenceDict) Lookup(name string) (SequenceShot, bool) {
	if d == nil {
		return SequenceShot{}, false
	}
	ss, ok := d[name]
	return ss, ok
}

// FormatShot renders a numeric shot token as c%03d. Non-numeric input is
// returned unchanged.
func FormatShot(digits string) string {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return digits
	}
	return fmt.Sprintf("c%03d", n)
}
