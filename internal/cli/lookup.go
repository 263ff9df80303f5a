package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chordd/internal/library"
)

func newLookupCmd(opts *rootOptions) *cobra.Command {
	var libraryPath string

	cmd := &cobra.Command{
		Use:   "lookup KEYS...",
		Short: "Resolve chords against the library",
		Long: `Resolve each chord against the chord library and print its expansion.

Keys are joined with '+' and may omit the KEY_ prefix:
  chordd lookup KEY_T+KEY_H
  chordd lookup t+h a+n+d`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := libraryPath
			if path == "" {
				cfg, err := opts.loader().Load()
				if err != nil {
					return err
				}
				path = cfg.Library.Path
			}

			lib, err := library.Load(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			missing := 0
			for _, arg := range args {
				names, err := parseChord(arg)
				if err != nil {
					return err
				}
				key := library.NormalizeKey(names)
				m, ok := lib.Lookup(names)
				if !ok {
					missing++
					fmt.Fprintf(out, "%s\t(no entry)\n", key)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", key, m.Section, m.Text)
			}
			if missing == len(args) {
				return fmt.Errorf("no library entry for %s", strings.Join(args, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&libraryPath, "library", "l", "", "library file (default: library.path from the config)")
	return cmd
}
