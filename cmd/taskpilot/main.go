package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	configPath string
	noColor    bool
	rootCmd    = &cobra.Command{
		Use:   "taskpilot",
		Short: "taskpilot - supervise automation task runs from a chat panel",
		Long: `taskpilot watches remote task executions, reports their outcome with a
log excerpt, asks the analysis service for a fix when a run fails, and applies
the task actions an assistant proposes in chat.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
