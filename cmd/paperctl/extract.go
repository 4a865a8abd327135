package main

import (
	"context"

	"github.com/spf13/cobra"

	"paper-extract/services"
)

var extractLimit int

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run one extraction batch",
	Long: `Selects the credential with the most remaining quota and sends pending papers
to the extraction service in ascending id order. Failed papers stay pending.
The command only fails when no credential above the reserve is left.`,
	Args: cobra.NoArgs,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().IntVar(&extractLimit, "limit", -1, "maximum number of papers, -1 for all")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	pool := services.NewCredentialPool(env.gateway, env.cfg.ReservedTokenFloor, env.log)
	if _, err := pool.SelectActive(ctx); err != nil {
		return err
	}

	svc := services.NewExtractionService(env.gateway, pool, env.extractor, env.log)
	stats, err := svc.Run(ctx, extractLimit)
	cmd.Printf("run=%s processed=%d succeeded=%d failed=%d parse_failures=%d tokens=%d\n",
		stats.RunID, stats.Processed, stats.Succeeded, stats.Failed, stats.ParseFailures, stats.TokensUsed)
	return err
}
