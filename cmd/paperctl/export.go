package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"paper-extract/services"
	"paper-extract/storage"
)

var (
	exportOut    string
	exportLimit  int
	exportUpload bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export extracted papers as CSV",
	Long: `Writes all extracted, not deleted papers with authors and abstracts as CSV.
Use --out - for stdout. With --upload the file is also stored in the configured S3 bucket.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "papers.csv", "output file, - for stdout")
	exportCmd.Flags().IntVar(&exportLimit, "limit", -1, "maximum number of papers, -1 for all")
	exportCmd.Flags().BoolVar(&exportUpload, "upload", false, "upload the export to S3")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var buf bytes.Buffer
	n, err := services.NewExportService(env.gateway, env.log).Export(ctx, &buf, exportLimit)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	if exportOut == "-" {
		if _, err := cmd.OutOrStdout().Write(buf.Bytes()); err != nil {
			return err
		}
	} else {
		if err := os.WriteFile(exportOut, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", exportOut, err)
		}
		cmd.Printf("Exported %d papers to %s\n", n, exportOut)
	}

	if !exportUpload {
		return nil
	}
	client, err := storage.NewS3Client(ctx, env.cfg)
	if err != nil {
		return err
	}
	link, err := storage.UploadFile(ctx, client, env.cfg, uploadKey(exportOut, time.Now()), "text/csv", buf.Bytes())
	if err != nil {
		return err
	}
	env.log.Info("Export uploaded", zap.String("link", link), zap.Int("rows", n))
	cmd.Printf("Uploaded to %s\n", link)
	return nil
}

func uploadKey(out string, now time.Time) string {
	if out == "-" {
		return fmt.Sprintf("exports/papers-%s.csv", now.UTC().Format("2006-01-02T15-04-05Z"))
	}
	return "exports/" + filepath.Base(out)
}
