package main

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/shotpipe/shotpipe-agent/internal/processor"
)

// batchProgress renders worker events as a progress bar on a terminal and
// as plain lines elsewhere.
type batchProgress struct {
	w   io.Writer
	tty bool
	bar *progressbar.ProgressBar
}

func newBatchProgress(w io.Writer) *batchProgress {
	return &batchProgress{w: w, tty: isTerminal(w)}
}

func (p *batchProgress) onEvent(ev processor.Event) {
	switch e := ev.(type) {
	case processor.ProgressEvent:
		if p.bar == nil && p.tty {
			p.bar = progressbar.NewOptions(e.Total,
				progressbar.OptionSetWriter(p.w),
				progressbar.OptionSetDescription("processing"),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(30),
				progressbar.OptionClearOnFinish(),
			)
		}
		if p.bar != nil {
			p.bar.Describe(e.FileName)
		}
	case processor.FileEvent:
		if p.bar != nil {
			_ = p.bar.Set(e.Index + 1)
		}
	case processor.ErrorEvent:
		if p.bar == nil {
			fmt.Fprintf(p.w, "error: %s: %v\n", e.Record.FileName, e.Err)
		}
	}
}

func (p *batchProgress) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
