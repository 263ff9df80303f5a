package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"chordd/internal/device"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C89A3A")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = cellStyle.Foreground(lipgloss.Color("#8C8C8C"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4A4A4A"))
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the keyboards chordd would listen to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos, err := device.Discover()
			if errors.Is(err, device.ErrNoKeyboard) {
				return fmt.Errorf("%w (is the user in the input group?)", err)
			}
			if err != nil {
				return err
			}
			renderDevices(cmd.OutOrStdout(), infos)
			return nil
		},
	}
}

func renderDevices(w io.Writer, infos []device.Info) {
	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		phys := info.Phys
		if phys == "" {
			phys = "-"
		}
		rows = append(rows, []string{info.Path, info.Name, phys, strconv.Itoa(info.KeyCount)})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("DEVICE", "NAME", "PHYS", "KEYS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 2:
				return mutedStyle
			default:
				return cellStyle
			}
		})

	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d keyboard(s)\n", len(infos))
}
