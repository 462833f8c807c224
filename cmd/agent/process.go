package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
	"github.com/shotpipe/shotpipe-agent/internal/jobs"
	"github.com/shotpipe/shotpipe-agent/internal/processor"
)

type processOutput struct {
	BatchID  string                `json:"batch_id"`
	Status   string                `json:"status"`
	Summary  processor.Summary     `json:"summary"`
	Manifest string                `json:"manifest,omitempty"`
	Files    []*catalog.FileRecord `json:"files"`
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var req jobs.BatchRequest

	cmd := &cobra.Command{
		Use:   "process <dir>",
		Short: "Rename and copy media from a directory in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Root = args[0]
			return ctx.withStack(cmd, func(st *stack) error {
				runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				b, err := st.service.CreateBatch(runCtx, req)
				if err != nil {
					return err
				}

				progress := newBatchProgress(cmd.ErrOrStderr())
				out, err := st.service.RunBatch(runCtx, b, jobs.Hooks{OnEvent: progress.onEvent})
				progress.finish()
				if err != nil {
					return err
				}

				result := processOutput{
					BatchID: b.ID,
					Status:  out.Batch.Status,
					Summary: out.Summary,
					Files:   out.Records,
				}
				if out.Manifest != nil {
					result.Manifest = out.Manifest.JSON
				}
				if result.Files == nil {
					result.Files = []*catalog.FileRecord{}
				}

				if !interactive(cmd) {
					return writeJSON(cmd, result)
				}
				renderProcess(cmd, result)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&req.OutputDir, "output", "o", "", "Output directory (default: alongside the sources)")
	cmd.Flags().StringVarP(&req.Sequence, "sequence", "s", "", "Force this sequence for every file")
	cmd.Flags().BoolVarP(&req.Recursive, "recursive", "r", true, "Descend into subdirectories")
	cmd.Flags().BoolVar(&req.ExcludeProcessed, "exclude-processed", false, "Skip files already in the history")
	return cmd
}

func renderProcess(cmd *cobra.Command, res processOutput) {
	w := cmd.OutOrStdout()
	rows := make([][]string, len(res.Files))
	for i, f := range res.Files {
		status := "ok"
		if !f.Success {
			status = f.Message
		}
		rows[i] = []string{f.FileName, f.ProcessedFilename, f.Task, status}
	}
	fmt.Fprintln(w, renderTable("Batch "+res.BatchID, []string{"Source", "Processed", "Task", "Status"}, rows, nil))

	s := res.Summary
	fmt.Fprintf(w, "%s: %s succeeded, %s failed, %s skipped in %s\n",
		res.Status,
		humanize.Comma(int64(s.Succeeded)),
		humanize.Comma(int64(s.Failed)),
		humanize.Comma(int64(s.Skipped)),
		s.Elapsed.Round(time.Millisecond))
	if res.Manifest != "" {
		fmt.Fprintf(w, "manifest: %s\n", res.Manifest)
	}
}
