package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/symdex/symdex/config"
	"github.com/symdex/symdex/indexer"
)

var (
	initBackend string
	initDSN     string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize symdex in the current directory",
	Long: `Initialize symdex by creating a .symdex directory with configuration.

This command will:
- Create .symdex/config.yaml with default settings
- Add .symdex/ to .gitignore if present`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initBackend, "backend", "b", "", "Storage backend (sqlite or postgres)")
	initCmd.Flags().StringVar(&initDSN, "dsn", "", "PostgreSQL DSN (for the postgres backend)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	if config.Exists(cwd) {
		fmt.Println("symdex is already initialized in this directory.")
		fmt.Printf("Configuration: %s\n", config.GetConfigPath(cwd))
		return nil
	}

	cfg := config.DefaultConfig()
	switch initBackend {
	case "", "sqlite":
	case "postgres":
		if initDSN == "" {
			return fmt.Errorf("the postgres backend requires --dsn")
		}
		cfg.Storage.Backend = "postgres"
		cfg.Storage.Postgres.DSN = initDSN
	default:
		return fmt.Errorf("unknown storage backend: %s", initBackend)
	}

	if err := config.Save(cwd, cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	fmt.Printf("Created configuration at %s\n", config.GetConfigPath(cwd))

	if _, err := os.Stat(cwd + "/.gitignore"); err == nil {
		if err := indexer.AddToGitignore(cwd, ".symdex/"); err != nil {
			fmt.Printf("Warning: could not update .gitignore: %v\n", err)
		} else {
			fmt.Println("Added .symdex/ to .gitignore")
		}
	}

	fmt.Println("\nsymdex initialized successfully!")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Start the daemon:        symdex --background")
	fmt.Println("  2. Register source files:   symdex query load --dir .")
	fmt.Println("  3. Query the index:         symdex query find --file main.go --offset 120")

	return nil
}
