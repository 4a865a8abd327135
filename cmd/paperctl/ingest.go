package main

import (
	"context"

	"github.com/spf13/cobra"

	"paper-extract/services"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Import JSONL paper lists",
	Long: `Walks the directory recursively and upserts every line of every *.jsonl file.
The file name without extension becomes the paper source.
Without an argument INGEST_DIR is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	dir := env.cfg.IngestDir
	if len(args) > 0 {
		dir = args[0]
	}
	cmd.Printf("Ingesting %s...\n", dir)

	stats, err := services.NewIngestService(env.gateway, env.log).IngestDir(context.Background(), dir)
	cmd.Printf("files=%d lines=%d upserted=%d skipped=%d locked=%d conflicts=%d\n",
		stats.Files, stats.Lines, stats.Upserted, stats.Skipped, stats.Locked, stats.Conflicts)
	return err
}
