package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"go.uber.org/zap"

	"paper-extract/models"
)

// ExportColumns sind die Spalten der Exportdatei.
var ExportColumns = []string{"id", "title", "pdf", "authors-1", "authors-2", "en", "zh"}

// ExtractedLister liefert extrahierte Papers.
type ExtractedLister interface {
	ListExtractedPapers(ctx context.Context, limit int) ([]models.Paper, error)
}

// ExportService schreibt extrahierte Papers als Tabelle.
type ExportService struct {
	Store  ExtractedLister
	Logger *zap.Logger
}

// NewExportService erstellt eine neue Instanz des ExportService.
func NewExportService(store ExtractedLister, logger *zap.Logger) *ExportService {
	return &ExportService{Store: store, Logger: logger}
}

// Export schreibt bis zu limit extrahierte Papers als CSV nach w und liefert die Anzahl der Zeilen.
func (s *ExportService) Export(ctx context.Context, w io.Writer, limit int) (int, error) {
	papers, err := s.Store.ListExtractedPapers(ctx, limit)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportColumns); err != nil {
		return 0, err
	}
	for _, p := range papers {
		row := []string{strconv.FormatUint(uint64(p.ID), 10), p.Title, p.PDFURL, p.Authors, "", "", ""}

		var result models.ExtractionResult
		if err := json.Unmarshal(p.LastResult, &result); err != nil {
			s.Logger.Warn("Result does not match expected structure", zap.Uint("paper_id", p.ID), zap.Error(err))
		} else {
			row[4] = result.AuthorLines()
			row[5] = result.Abstract.En
			row[6] = result.Abstract.Zh
		}
		if err := cw.Write(row); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}
	s.Logger.Info("Export finished", zap.Int("rows", len(papers)))
	return len(papers), nil
}
