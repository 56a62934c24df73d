package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL    string
	outputFormat string
	adminToken   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "dispatchctl",
	Short: "Dispatch engine operator CLI",
	Long: `dispatchctl is the operator CLI for the dispatch engine.

This CLI tool allows you to:
- Apply database migrations
- Inspect bookings and providers
- Trigger an out-of-band reconciliation sweep`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", getEnvOrDefault("DISPATCH_URL", "http://localhost:8080"), "dispatch engine server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&adminToken, "admin-token", getEnvOrDefault("ADMIN_TOKEN", ""), "operator token for admin endpoints")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
