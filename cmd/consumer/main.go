// Command consumer runs a long-running Consumer Worker, per
// SPEC_FULL.md §4.F.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:     "consumer",
	Short:   "Evaluate scenarios against a Monte Carlo model",
	Long:    `consumer loads one model from the broker, then evaluates scenarios one at a time, publishing results and retrying or dead-lettering failures per the error taxonomy.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}
