package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "cloudcase",
		Short: "cloudcase - natural-language test runner for cloud agent pods",
		Long: `cloudcase runs directories of natural-language test cases against
remote agent pods. Each case is dispatched as an agent task, polled to
completion, classified, and appended to a durable result ledger.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "config file path")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
