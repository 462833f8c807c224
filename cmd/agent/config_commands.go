package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shotpipe/shotpipe-agent/internal/config"
	"github.com/shotpipe/shotpipe-agent/internal/logging"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialise the configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.Shotgrid.APIKey != "" {
				shown.Shotgrid.APIKey = logging.SanitizeToken(shown.Shotgrid.APIKey)
			}
			data, err := yaml.Marshal(&shown)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.Path())
			return nil
		},
	})

	var initPath string
	var overwrite bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := initPath
			if target == "" {
				target = config.DefaultPath()
			}
			if _, err := os.Stat(target); err == nil && !overwrite {
				return fmt.Errorf("%s already exists; pass --overwrite to replace it", target)
			}
			if err := config.Default().Save(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", target)
			return nil
		},
	}
	initCmd.Flags().StringVar(&initPath, "path", "", "Destination (default ~/.shotpipe/config.yaml)")
	initCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	configCmd.AddCommand(initCmd)

	return configCmd
}
