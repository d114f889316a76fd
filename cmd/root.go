// Package cmd implements the kbase command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kbase",
	Short: "kbase - retrieval-augmented knowledge base API",
	Long: `kbase ingests text documents, chunks and embeds them with Gemini,
stores the vectors in PostgreSQL (pgvector), and answers questions over the
collection through a JSON HTTP API.

Running kbase without a subcommand starts the API server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
