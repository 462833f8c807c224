// Package tasks maps media files to pipeline task labels.
package tasks

import (
	"github.com/shotpipe/shotpipe-agent/internal/catalog"
)

// Fallback is the task used when a file type has no mapping.
const Fallback = "comp"

// Assigner resolves extension -> file type -> task.
type Assigner struct {
	classifier *catalog.Classifier
	mapping    map[string]string
}

// NewAssigner copies mapping so later config edits need a new Assigner.
func NewAssigner(classifier *catalog.Classifier, mapping map[string]string) *Assigner {
	m := make(map[string]string, len(mapping))
	for k, v := range mapping {
		m[k] = v
	}
	return &Assigner{classifier: classifier, mapping: m}
}

// AssignTask returns the task for path. Unknown types and unmapped types
// get Fallback.
func (a *Assigner) AssignTask(path string) string {
	return a.ForType(a.classifier.Classify(path))
}

// ForType returns the task mapped to a file type.
func (a *Assigner) ForType(ft catalog.FileType) string {
	if task, ok := a.mapping[string(ft)]; ok && task != "" {
		return task
	}
	return Fallback
}

// AssignTasks sets Task on every record independently.
func (a *Assigner) AssignTasks(records []*catalog.FileRecord) {
	for _, r := range records {
		r.Task = a.AssignTask(r.SourcePath)
	}
}

// Mapping returns a copy of the active mapping.
func (a *Assigner) Mapping() map[string]string {
	m := make(map[string]string, len(a.mapping))
	for k, v := range a.mapping {
		m[k] = v
	}
	return m
}
