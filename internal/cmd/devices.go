package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/camrig/internal/config"
	"github.com/Iron-Ham/camrig/internal/session"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture device nodes",
	Long: `List the device nodes matching discovery.pattern (default /dev/video*)
next to the configured device list. Nothing is changed; use the list to pick
--device overrides.`,
	Args: cobra.NoArgs,
	RunE: runDevices,
}

var devicesPattern string

func init() {
	devicesCmd.Flags().StringVar(&devicesPattern, "pattern", "", "glob for device nodes (default from discovery.pattern)")
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	pattern := devicesPattern
	if pattern == "" {
		pattern = cfg.Discovery.Pattern
	}

	found, err := session.Discover(pattern)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configured:")
	for i, d := range cfg.Devices {
		mark := ""
		if !slices.Contains(found, d) {
			mark = "  (not found)"
		}
		fmt.Fprintf(out, "  C%d  %s%s\n", i+1, d, mark)
	}
	if dups := session.Duplicates(cfg.Devices); len(dups) > 0 {
		fmt.Fprintf(out, "  warning: listed more than once: %v\n", dups)
	}

	fmt.Fprintf(out, "\nAvailable (%s):\n", pattern)
	if len(found) == 0 {
		fmt.Fprintln(out, "  none")
		return nil
	}
	for _, d := range found {
		fmt.Fprintf(out, "  %s\n", d)
	}
	return nil
}
