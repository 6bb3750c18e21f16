package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cardc/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "cardc",
	Short: "Local storage allocation for the 16-bit card VM",
	Long: `cardc decides which SSA values of a card applet become VM local slots,
packs them into as few slots as possible and bounds the stack use of every
call chain.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(allocCmd)
	rootCmd.AddCommand(printCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "only print diagnostics")
	rootCmd.PersistentFlags().Bool("timings", false, "show per-phase timings")
	rootCmd.PersistentFlags().Int("max-diagnostics", 100, "maximum number of diagnostics kept per function")
	rootCmd.PersistentFlags().String("trace", "", "write trace events to this file (\"-\" for stderr)")
	rootCmd.PersistentFlags().String("trace-level", "off", "trace level (off|error|phase|detail|debug)")
	rootCmd.PersistentFlags().String("trace-mode", "stream", "trace storage (stream|ring|both)")
	rootCmd.PersistentFlags().Int("trace-ring-size", 4096, "events kept in ring mode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// useColor resolves the --color flag against the terminal state of stdout.
func useColor(cmd *cobra.Command) (bool, error) {
	mode, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return false, err
	}
	switch mode {
	case "on":
		return true, nil
	case "off":
		return false, nil
	case "auto":
		return isTerminal(os.Stdout), nil
	}
	return false, errInvalidColor(mode)
}
