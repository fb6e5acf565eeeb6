package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uwbcore/uwbd/internal/control"
)

// socketPath is the control socket address, overridable via --socket.
var socketPath string

// outputFormat controls how list-shaped output is rendered: "table" or
// "yaml".
var outputFormat string

// rootCmd is the top-level cobra command for uwbctl.
var rootCmd = &cobra.Command{
	Use:   "uwbctl",
	Short: "Debug CLI for the uwbd ranging daemon",
	Long:  "uwbctl connects to uwbd's local control socket for adapter introspection.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/run/uwbd/control.sock",
		"uwbd control socket path")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, yaml")

	rootCmd.AddCommand(adapterCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// dial connects to the control socket.
func dial() (*control.Client, error) {
	return control.Dial(socketPath)
}
