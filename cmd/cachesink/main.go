package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "cachesink",
		Short: "Project a kafka change stream into redis",
		Long: `cachesink consumes keyed upserts and tombstones from kafka topics and
keeps a redis (standalone, cluster or sentinel) keyspace converged to the
latest value per key.

Configuration comes from an optional YAML file overridden by CACHESINK_*
environment variables.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Consume the configured topics and project them into the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Open and close a session against the configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return check(cmd.Context(), configPath, cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(runCmd, checkCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
