// Command aggregator runs the Telemetry Aggregator of SPEC_FULL.md §4.G: it
// subscribes to the producer/consumer telemetry streams and the results
// queue, maintains the live statistical view, and serves it over HTTP as
// JSON/CSV exports and Prometheus metrics.
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
	Use:     "aggregator",
	Short:   "Aggregate simulation telemetry and serve statistics",
	Long:    `aggregator consumes producer stats, consumer stats, and results, maintains bounded result history and descriptive statistics, and exposes JSON/CSV exports plus Prometheus metrics over HTTP.`,
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
