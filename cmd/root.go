// Package cmd defines the draftforge command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "draftforge",
	Short: "draftforge - knowledge-grounded content generation service",
	Long: `draftforge ingests documents into per-tenant knowledge bases backed by
pgvector, searches them with hybrid vector and keyword scoring, and runs
content-generation jobs against configurable agent backends with SSE
progress streaming.

Run "draftforge serve" to start the HTTP API server.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
