package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chordd/internal/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	var defaults bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultConfig()
			if !defaults {
				loader := opts.loader()
				loaded, err := loader.Load()
				if err != nil {
					return err
				}
				cfg = loaded
				for _, w := range loader.Warnings() {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", w.Field, w.Message)
				}
			}

			data, err := cfg.EncodeTOML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&defaults, "defaults", false, "print the built-in defaults instead")

	cmd.AddCommand(newConfigInitCmd(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema config files are checked against",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write(config.Schema())
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file chordd reads",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), opts.path())
		},
	})

	return cmd
}

func newConfigInitCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.path()
			out := cmd.OutOrStdout()

			if !force {
				_, created, err := config.LoadOrCreate(path)
				if err != nil {
					return err
				}
				if created {
					fmt.Fprintf(out, "wrote %s\n", path)
				} else {
					fmt.Fprintf(out, "%s already exists (use --force to overwrite)\n", path)
				}
				return nil
			}

			backup, err := config.BackupConfig(path)
			if err != nil {
				return err
			}
			if backup != "" {
				fmt.Fprintf(out, "saved previous config to %s\n", backup)
			}
			if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file, keeping a backup")
	return cmd
}
