package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
	"github.com/shotpipe/shotpipe-agent/internal/logging"
)

type scanRow struct {
	Path     string           `json:"path"`
	FileType catalog.FileType `json:"file_type"`
	Size     int64            `json:"size"`
	Sequence string           `json:"sequence"`
	Shot     string           `json:"shot"`
	Source   string           `json:"source"`
	Task     string           `json:"task"`
}

type scanOutput struct {
	Root    string                `json:"root"`
	Files   []scanRow             `json:"files"`
	Skipped []catalog.SkippedFile `json:"skipped"`
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var opts catalog.ScanOptions
	var sequence string

	cmd := &cobra.Command{
		Use:   "scan <dir>",
		Short: "Show how files in a directory would be named, without copying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Root = args[0]
			return ctx.withStack(cmd, func(st *stack) error {
				res, err := st.scanner.Scan(cmd.Context(), opts)
				if err != nil {
					return err
				}

				out := scanOutput{Root: res.Root, Files: make([]scanRow, 0, len(res.Files)), Skipped: res.Skipped}
				if out.Skipped == nil {
					out.Skipped = []catalog.SkippedFile{}
				}
				for _, rec := range res.Files {
					a := st.resolver.Resolve(rec, sequence, res.Sequence)
					out.Files = append(out.Files, scanRow{
						Path:     rec.SourcePath,
						FileType: rec.FileType,
						Size:     rec.Size,
						Sequence: a.Sequence,
						Shot:     a.Shot,
						Source:   a.Source,
						Task:     st.assigner.AssignTask(rec.SourcePath),
					})
				}

				if !interactive(cmd) {
					return writeJSON(cmd, out)
				}
				renderScan(cmd, out)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&opts.Recursive, "recursive", "r", true, "Descend into subdirectories")
	cmd.Flags().BoolVar(&opts.ExcludeProcessed, "exclude-processed", false, "Skip files already in the history")
	cmd.Flags().StringVarP(&sequence, "sequence", "s", "", "Force this sequence for every file")
	return cmd
}

func renderScan(cmd *cobra.Command, out scanOutput) {
	w := cmd.OutOrStdout()
	rows := make([][]string, len(out.Files))
	var total int64
	for i, f := range out.Files {
		total += f.Size
		rows[i] = []string{
			logging.SanitizePath(f.Path),
			string(f.FileType),
			humanize.Bytes(uint64(f.Size)),
			f.Sequence,
			f.Shot,
			f.Task,
			f.Source,
		}
	}
	fmt.Fprintln(w, renderTable("Files", []string{"Path", "Type", "Size", "Sequence", "Shot", "Task", "Rule"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight}))

	if len(out.Skipped) > 0 {
		skipped := make([][]string, len(out.Skipped))
		for i, s := range out.Skipped {
			skipped[i] = []string{logging.SanitizePath(s.Path), s.Reason}
		}
		fmt.Fprintln(w, renderTable("Skipped", []string{"Path", "Reason"}, skipped, nil))
	}
	fmt.Fprintf(w, "%s files (%s), %s skipped\n",
		humanize.Comma(int64(len(out.Files))), humanize.Bytes(uint64(total)), humanize.Comma(int64(len(out.Skipped))))
}
