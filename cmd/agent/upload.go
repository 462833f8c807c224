package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shotpipe/shotpipe-agent/internal/export"
	"github.com/shotpipe/shotpipe-agent/internal/shotgrid"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var project string
	var force bool

	cmd := &cobra.Command{
		Use:   "upload <manifest.json>",
		Short: "Upload the files of a batch manifest to Shotgrid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := export.LoadJSONFile(args[0])
			if err != nil {
				return err
			}
			return ctx.withStack(cmd, func(st *stack) error {
				if err := st.requireShotgrid(cmd); err != nil {
					return err
				}

				errOut := cmd.ErrOrStderr()
				summary, err := st.service.UploadManifest(cmd.Context(), m, project, force,
					func(done, total int, res *shotgrid.UploadResult) {
						state := "ok"
						switch {
						case res.Skipped:
							state = "skipped"
						case !res.Success:
							state = "failed: " + res.Error
						}
						fmt.Fprintf(errOut, "[%d/%d] %s %s\n", done, total, res.FileName, state)
					})
				if err != nil {
					return err
				}

				if !interactive(cmd) {
					if err := writeJSON(cmd, summary); err != nil {
						return err
					}
				} else {
					rows := make([][]string, len(summary.Results))
					for i, r := range summary.Results {
						version := ""
						if r.VersionID != 0 {
							version = strconv.Itoa(r.VersionID)
						}
						rows[i] = []string{r.FileName, version, r.Field, r.VersionURL, r.Error}
					}
					fmt.Fprintln(cmd.OutOrStdout(), renderTable("Upload", []string{"File", "Version", "Field", "URL", "Error"}, rows, nil))
					fmt.Fprintf(cmd.OutOrStdout(), "%d uploaded, %d failed, %d skipped\n", summary.Succeeded, summary.Failed, summary.Skipped)
				}
				if summary.Failed > 0 {
					return fmt.Errorf("%d of %d uploads failed", summary.Failed, summary.Total)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Shotgrid project (default from config)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Upload files already uploaded with the same content")
	return cmd
}
