// Command postcode-proxy runs the postcode lookup proxy and its operator
// tooling: migrations, user management and an interactive search prompt.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/webuildtrades/postcode-lookup/internal/config"
)

var envFile string

// For testing
var osExit = os.Exit

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "postcode-proxy",
		Short: "UK postcode lookup proxy",
		Long:  `API-key gated postcode lookup proxy with per-account usage accounting.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadEnvFile(envFile)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env", config.EnvOrDefault("ENV", ".env"), "Path to .env file")

	root.AddCommand(newServerCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newUsersCmd())
	root.AddCommand(newSearchCmd())
	return root
}

// loadEnvFile loads path if it exists. Variables already set win.
func loadEnvFile(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: error loading %s: %v\n", path, err)
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		osExit(1)
	}
}
