package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/voc-classifier/internal/ingest"
)

var (
	importCharset string
	importSheet   string
	importDryRun  bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Load raw transcripts from CSV or XLSX files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := ingest.Options{Charset: importCharset, Sheet: importSheet, DryRun: importDryRun}
		reports := make([]*ingest.Report, 0, len(args))
		for _, path := range args {
			report, err := ingest.ImportFile(ctx, env.Store, path, opts)
			if err != nil {
				return err
			}
			reports = append(reports, report)
		}
		return printJSON(cmd.OutOrStdout(), reports)
	},
}

func init() {
	importCmd.Flags().StringVar(&importCharset, "charset", "", "CSV source encoding, e.g. euc-kr (default utf-8)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "validate without inserting")
	rootCmd.AddCommand(importCmd)
}
