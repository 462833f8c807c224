package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newShotgridCommand(ctx *commandContext) *cobra.Command {
	sgCmd := &cobra.Command{
		Use:   "shotgrid",
		Short: "Shotgrid connection and lookups",
	}
	sgCmd.AddCommand(newShotgridTestCommand(ctx))
	sgCmd.AddCommand(newShotgridProjectsCommand(ctx))
	sgCmd.AddCommand(newShotgridSimilarCommand(ctx))
	return sgCmd
}

func newShotgridTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Check the configured credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd, func(st *stack) error {
				if !st.cfg.ShotgridConfigured() {
					return errShotgridNotConfigured
				}
				if err := st.client.TestConnection(cmd.Context()); err != nil {
					return fmt.Errorf("shotgrid connection test failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s as %s\n", st.client.ServerURL(), st.cfg.Shotgrid.ScriptName)
				return nil
			})
		},
	}
}

type projectRow struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

func newShotgridProjectsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List active projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd, func(st *stack) error {
				if err := st.requireShotgrid(cmd); err != nil {
					return err
				}
				projects := st.entities.ListProjects(cmd.Context())
				out := make([]projectRow, len(projects))
				for i := range projects {
					p := &projects[i]
					out[i] = projectRow{ID: p.ID, Name: p.Name(), Status: p.Attr("sg_status")}
				}
				if !interactive(cmd) {
					return writeJSON(cmd, out)
				}

				rows := make([][]string, len(out))
				for i, p := range out {
					marker := ""
					if p.Name == st.cfg.Shotgrid.DefaultProject {
						marker = "*"
					}
					rows[i] = []string{strconv.Itoa(p.ID), p.Name + marker, p.Status}
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable("Projects", []string{"ID", "Name", "Status"}, rows,
					[]columnAlignment{alignRight}))
				return nil
			})
		},
	}
}

type similarRow struct {
	ID    int     `json:"id"`
	Code  string  `json:"code"`
	Score float64 `json:"similarity_score"`
	URL   string  `json:"url"`
}

func newShotgridSimilarCommand(ctx *commandContext) *cobra.Command {
	var project, sequence string

	cmd := &cobra.Command{
		Use:   "similar <file>",
		Short: "Find existing Versions whose names resemble a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd, func(st *stack) error {
				if err := st.requireShotgrid(cmd); err != nil {
					return err
				}
				if project == "" {
					project = st.cfg.Shotgrid.DefaultProject
				}

				links := st.links.SearchSimilar(cmd.Context(), args[0], project, sequence)
				out := make([]similarRow, len(links))
				for i, l := range links {
					out[i] = similarRow{ID: l.ID, Code: l.Attr("code"), Score: l.Score, URL: l.URL}
				}
				if !interactive(cmd) {
					return writeJSON(cmd, out)
				}

				rows := make([][]string, len(out))
				for i, r := range out {
					rows[i] = []string{strconv.Itoa(r.ID), r.Code, strconv.FormatFloat(r.Score, 'f', 2, 64), r.URL}
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable("Similar in "+project, []string{"ID", "Code", "Score", "URL"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignRight}))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Shotgrid project (default from config)")
	cmd.Flags().StringVarP(&sequence, "sequence", "s", "", "Restrict to this sequence")
	return cmd
}
