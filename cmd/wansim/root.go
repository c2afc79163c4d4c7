package main

import (
	"log/slog"
	"os"

	"github.com/encodeous/tint"
	"github.com/spf13/cobra"
)

var verbose bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wansim",
	Short: "WAN resilience and QoS simulator",
	Long: `wansim runs discrete-event experiments over wide-area topologies:
link failover, strict-priority scheduling under congestion, flooding
with admission control, and policy steering, reporting per-category
delay, jitter, loss, and throughput.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// newLogger builds the process logger at the selected level
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		AddSource:  false,
		TimeFormat: "15:04:05",
	}))
}
