package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var batchLimit int

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Classify a batch of unprocessed transcripts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Batch.RunBatch(ctx, batchLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), summary)
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of records to process (default from config)")
	rootCmd.AddCommand(batchCmd)
}
