// Package cli implements the chordd commands.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chordd/internal/config"
	"chordd/internal/device"
)

// Version is set at build time with
// -ldflags "-X chordd/internal/cli.Version=...".
var Version = "dev"

type rootOptions struct {
	configPath string
}

// NewRootCmd builds the chordd command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "chordd",
		Short:         "Chord typing daemon",
		Long:          "chordd watches every keyboard, tells chords from fast rolling keystrokes, and types the library expansion of each chord.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: $CHORDD_CONFIG_DIR or ~/.config/chordd/config.toml)")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newDevicesCmd())
	rootCmd.AddCommand(newLookupCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// path resolves the config file: the flag, then the first config.<ext>
// in the config directory, then the default TOML path.
func (o *rootOptions) path() string {
	if o.configPath != "" {
		return o.configPath
	}
	if found := config.FindConfigFile(); found != "" {
		return found
	}
	return config.ConfigPath()
}

func (o *rootOptions) loader() *config.Loader {
	return config.NewLoader(o.path())
}

// parseChord turns "KEY_A+KEY_B" or "a+b" into canonical key names.
func parseChord(arg string) ([]string, error) {
	parts := strings.Split(arg, "+")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		code, ok := device.KeyCode(p)
		if !ok {
			return nil, fmt.Errorf("unknown key %q", p)
		}
		names = append(names, device.KeyName(code))
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no keys in %q", arg)
	}
	return names, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the chordd version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chordd %s\n", Version)
		},
	}
}
