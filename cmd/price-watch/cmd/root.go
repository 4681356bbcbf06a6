// Package cmd implements the CLI commands for the price-watch server.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "price-watch",
	Short: "Track product prices over time",
	Long: "A service that periodically fetches product pages, extracts price and " +
		"availability, keeps the observation history and reports price changes.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.AddCommand(versionCommand())
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the root command, for documentation generation.
func Root() *cobra.Command {
	return rootCmd
}
