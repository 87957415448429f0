package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "medra",
	Short:   "medra — local medical-assistant backend",
	Version: version,
	Long: `medra is a local backend for a medical assistant: it proxies a
streaming chat model, keeps per-doctor conversation context, and
recalls prior turns by clinical keyword overlap.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(patientsCmd)
	rootCmd.AddCommand(notesCmd)
	rootCmd.AddCommand(configCmd)
}
