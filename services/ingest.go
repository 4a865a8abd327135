package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"paper-extract/metrics"
	"paper-extract/models"
	"paper-extract/storage"
)

const maxLineSize = 4 * 1024 * 1024

// PaperUpserter legt Papers an oder aktualisiert sie anhand der PDF-URL.
type PaperUpserter interface {
	UpsertPaper(ctx context.Context, rec models.IngestRecord) (*models.Paper, error)
}

// IngestStats zählt das Ergebnis eines Imports.
type IngestStats struct {
	Files     int `json:"files"`
	Lines     int `json:"lines"`
	Upserted  int `json:"upserted"`
	Skipped   int `json:"skipped"`
	Locked    int `json:"locked"`
	Conflicts int `json:"conflicts"`
}

func (s *IngestStats) add(o IngestStats) {
	s.Files += o.Files
	s.Lines += o.Lines
	s.Upserted += o.Upserted
	s.Skipped += o.Skipped
	s.Locked += o.Locked
	s.Conflicts += o.Conflicts
}

// IngestService importiert JSONL-Dateien in die Paper-Tabelle.
type IngestService struct {
	Store  PaperUpserter
	Logger *zap.Logger
}

// NewIngestService erstellt eine neue Instanz des IngestService.
func NewIngestService(store PaperUpserter, logger *zap.Logger) *IngestService {
	return &IngestService{Store: store, Logger: logger}
}

// IngestDir durchsucht dir rekursiv nach *.jsonl-Dateien. Der Dateiname ohne
// Endung wird als Quelle gespeichert.
func (s *IngestService) IngestDir(ctx context.Context, dir string) (IngestStats, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return IngestStats{}, fmt.Errorf("scan %s: %w", dir, err)
	}

	var total IngestStats
	for _, path := range files {
		stats, err := s.ingestFile(ctx, path)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
	s.Logger.Info("Ingestion finished",
		zap.String("dir", dir),
		zap.Int("files", total.Files),
		zap.Int("upserted", total.Upserted),
		zap.Int("skipped", total.Skipped),
		zap.Int("conflicts", total.Conflicts))
	return total, nil
}

func (s *IngestService) ingestFile(ctx context.Context, path string) (IngestStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return IngestStats{}, err
	}
	defer f.Close()

	source := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	s.Logger.Info("Uploading file", zap.String("file", path), zap.String("source", source))
	stats, err := s.IngestReader(ctx, source, f)
	stats.Files = 1
	return stats, err
}

// IngestReader liest ein JSON-Objekt pro Zeile und legt es unter source an.
// Kaputte Zeilen und Unique-Konflikte werden übersprungen, andere Datenbankfehler brechen ab.
func (s *IngestService) IngestReader(ctx context.Context, source string, r io.Reader) (IngestStats, error) {
	var stats IngestStats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		stats.Lines++
		log := s.Logger.With(zap.String("source", source), zap.Int("line", stats.Lines))

		var rec models.IngestRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			log.Warn("Skipping malformed line", zap.Error(err))
			stats.Skipped++
			continue
		}
		if rec.PDFURL == "" {
			log.Warn("Skipping line without pdf_url", zap.String("title", rec.Title))
			stats.Skipped++
			continue
		}
		rec.Source = source

		_, err := s.Store.UpsertPaper(ctx, rec)
		switch {
		case err == nil:
			stats.Upserted++
			metrics.PapersIngested.Inc()
			log.Debug("Paper upserted", zap.String("title", rec.Title))
		case errors.Is(err, storage.ErrPaperLocked):
			stats.Locked++
			log.Info("Paper is locked, not updated", zap.String("pdf_url", rec.PDFURL))
		case errors.Is(err, storage.ErrConstraint):
			stats.Conflicts++
			log.Error("Fingerprint conflict, paper not stored", zap.String("pdf_url", rec.PDFURL), zap.Error(err))
		default:
			return stats, err
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read %s: %w", source, err)
	}
	return stats, nil
}
