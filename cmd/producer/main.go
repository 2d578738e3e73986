// Command producer publishes a Model and its generated scenarios to the
// broker, per SPEC_FULL.md §4.E.
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
	Use:     "producer",
	Short:   "Publish a Monte Carlo model and its generated scenarios",
	Long:    `producer loads a declarative model file, publishes it under replacement semantics, and generates and publishes scenarios drawn from its variable distributions.`,
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
