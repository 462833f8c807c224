package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the processed-file history",
	}
	historyCmd.AddCommand(newHistoryListCommand(ctx))
	historyCmd.AddCommand(newHistoryStatsCommand(ctx))
	historyCmd.AddCommand(newHistoryExportCommand(ctx))
	return historyCmd
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processed files, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd, func(st *stack) error {
				entries, err := st.history.List(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []*catalog.HistoryEntry{}
				}
				if !interactive(cmd) {
					return writeJSON(cmd, entries)
				}

				rows := make([][]string, len(entries))
				for i, e := range entries {
					rows[i] = []string{
						humanize.Time(e.ProcessedAt),
						e.OriginalName,
						e.ProcessedName,
						e.Sequence + "/" + e.Shot,
						e.Task,
						humanize.Bytes(uint64(e.Size)),
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable("History",
					[]string{"When", "Original", "Processed", "Seq/Shot", "Task", "Size"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight}))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum entries to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Entries to skip")
	return cmd
}

func newHistoryStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the history by sequence, task and day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd, func(st *stack) error {
				stats, err := st.history.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if !interactive(cmd) {
					return writeJSON(cmd, stats)
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%s files processed\n", humanize.Comma(int64(stats.TotalFiles)))
				for _, group := range []struct {
					title  string
					counts map[string]int
				}{
					{"By sequence", stats.BySequence},
					{"By task", stats.ByTask},
					{"By day", stats.ByDay},
				} {
					fmt.Fprintln(w, renderTable(group.title, []string{"Key", "Files"}, countRows(group.counts),
						[]columnAlignment{alignLeft, alignRight}))
				}
				return nil
			})
		},
	}
}

func countRows(counts map[string]int) [][]string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, len(keys))
	for i, k := range keys {
		rows[i] = []string{k, strconv.Itoa(counts[k])}
	}
	return rows
}

func newHistoryExportCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the whole history as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd, func(st *stack) error {
				w := cmd.OutOrStdout()
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("create %s: %w", output, err)
					}
					defer f.Close()
					w = f
				}

				n, err := st.history.ExportCSV(cmd.Context(), w)
				if err != nil {
					return fmt.Errorf("export history: %w", err)
				}
				if output != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "exported %s entries to %s\n", humanize.Comma(int64(n)), output)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}
