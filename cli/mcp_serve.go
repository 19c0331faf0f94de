package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/symdex/symdex/config"
	"github.com/symdex/symdex/mcp"
)

var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve [project-path]",
	Short: "Start symdex as an MCP server",
	Long: `Start symdex as an MCP (Model Context Protocol) server.

This allows AI agents to query the symbol index as a native tool through
the MCP protocol. The server communicates via stdio and exposes the
following tools:

  - symdex_find_definition: Find the definitions of a symbol by USR
  - symdex_references: List every indexed reference to a symbol
  - symdex_complete: Propose indexed symbols matching a prefix
  - symdex_index_status: Check index health and statistics

Arguments:
  project-path  Optional path to the symdex project directory.
                If not provided, the current directory is used.

Configuration for Claude Code:
  claude mcp add symdex -- symdex mcp-serve`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMCPServe,
}

func init() {
	rootCmd.AddCommand(mcpServeCmd)
}

func runMCPServe(cmd *cobra.Command, args []string) error {
	projectRoot := ""
	if len(args) > 0 {
		projectRoot = args[0]
		if !filepath.IsAbs(projectRoot) {
			abs, err := filepath.Abs(projectRoot)
			if err != nil {
				return fmt.Errorf("failed to resolve path: %w", err)
			}
			projectRoot = abs
		}
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		projectRoot = cwd
	}

	if !config.Exists(projectRoot) {
		return fmt.Errorf("no symdex project found at %s (run 'symdex init' first)", projectRoot)
	}

	srv, err := mcp.NewServer(projectRoot)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	return srv.Serve()
}
