package main

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/pipeops/vmmcore/fcconfig"
	"github.com/pipeops/vmmcore/fcrt"
	"github.com/spf13/cobra"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and scaffold vmmctl configuration",
	}
	cmd.AddCommand(newConfigShowCommand(), newConfigInitCommand())
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (file, then environment)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fcconfig.LoadFromFile(configPath)
			if err != nil {
				return err
			}
			fcconfig.LoadFromEnv(cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			encoded, err := toml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := fcrt.NewDefault()
			exists, err := rt.FileExists(configPath)
			if err != nil {
				return err
			}
			if exists && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
			}

			encoded, err := toml.Marshal(fcconfig.Default())
			if err != nil {
				return err
			}
			if err := rt.WriteFile(configPath, encoded, 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
