// Package cli implements the symdex command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "symdex",
	Short: "Background source code indexing daemon",
	Long: `symdex indexes the source files of a project in the background and
answers symbol queries over a Unix domain socket.

The daemon keeps the index up to date by watching the registered source
files for modifications. Clients send one JSON request per connection and
receive one JSON response:

  symdex query find --file main.go --offset 120

Typical workflow:
  1. Initialize the project:   symdex init
  2. Start the daemon:         symdex --background
  3. Register source files:    symdex query load --database compile_commands.json
  4. Query the index:          symdex query find ...`,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
