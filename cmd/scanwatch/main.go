package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "scanwatch",
	Short: "scanwatch - re-scan saved listing searches and announce new candidates",
	Long: `scanwatch periodically re-scans saved searches through capture agents
(http selectors, RSS/Atom feeds, headless browser), keeps what it has already
seen and announces new candidates.

Examples:
  scanwatch run --config ./scanwatch.yaml        # Run the engine
  scanwatch validate --config ./scanwatch.yaml   # Check a config file
  scanwatch searches --config ./scanwatch.yaml   # List searches and next runs`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./scanwatch.yaml", "path to config file (yaml or json)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(searchesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
