package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the entry point when the binary is called without a
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "ael",
	Short: "Workflow automation over MCP tool backends",
	Long: `ael runs declared multi-step workflows whose steps execute sandboxed
scripts or invoke tools discovered from MCP backends, and exposes both
the discovered tools and the workflows over the MCP protocol.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from main to
// inject the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "ael version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
