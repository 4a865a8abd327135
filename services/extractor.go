package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"paper-extract/metrics"
	"paper-extract/models"
	"paper-extract/providers"
)

// PaperStore ist der Teil der Persistenz, den die Extraktion braucht.
type PaperStore interface {
	ListPendingPapers(ctx context.Context, limit int) ([]models.Paper, error)
	UpdatePaperAudit(ctx context.Context, id uint, request, response []byte) error
	UpdatePaperResult(ctx context.Context, id uint, result []byte) error
}

// TokenPool liefert Credentials für Aufrufe und bucht den Verbrauch ab.
type TokenPool interface {
	Lease() (providers.Lease, error)
	Consume(ctx context.Context, amount int64) error
}

// RunStats fasst einen Extraktionslauf zusammen.
type RunStats struct {
	RunID         string `json:"run_id"`
	Processed     int    `json:"processed"`
	Succeeded     int    `json:"succeeded"`
	Failed        int    `json:"failed"`
	ParseFailures int    `json:"parse_failures"`
	TokensUsed    int64  `json:"tokens_used"`
}

// ExtractionService schickt offene Papers durch den LLM-Dienst und speichert die Ergebnisse.
//
// Es gibt keine Wiederholung innerhalb eines Laufs: Papers, die nicht extrahiert
// wurden, bleiben offen und werden beim nächsten Lauf erneut ausgewählt.
type ExtractionService struct {
	Store     PaperStore
	Pool      TokenPool
	Extractor providers.Extractor
	Logger    *zap.Logger
}

// NewExtractionService erstellt eine neue Instanz des ExtractionService.
func NewExtractionService(store PaperStore, pool TokenPool, extractor providers.Extractor, logger *zap.Logger) *ExtractionService {
	return &ExtractionService{Store: store, Pool: pool, Extractor: extractor, Logger: logger}
}

// Run verarbeitet bis zu limit offene Papers nach aufsteigender ID (limit < 0: alle).
// Fehler einzelner Papers werden geloggt und gezählt, nur Credential-Fehler brechen den Lauf ab.
func (s *ExtractionService) Run(ctx context.Context, limit int) (RunStats, error) {
	stats := RunStats{RunID: uuid.NewString()}
	log := s.Logger.With(zap.String("run_id", stats.RunID))

	papers, err := s.Store.ListPendingPapers(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("load pending papers: %w", err)
	}
	log.Info("Starting extraction run", zap.Int("pending", len(papers)), zap.Int("limit", limit), zap.String("service", s.Extractor.Name()))

	for i := range papers {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		paper := &papers[i]
		stats.Processed++

		ok, err := s.processPaper(ctx, log, paper, &stats)
		if ok {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		if err != nil {
			log.Error("Extraction run aborted", zap.Uint("paper_id", paper.ID), zap.Error(err))
			return stats, err
		}
	}

	log.Info("Extraction run finished",
		zap.Int("processed", stats.Processed),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int64("tokens_used", stats.TokensUsed))
	return stats, nil
}

// processPaper verarbeitet ein einzelnes Paper. Ein Fehler wird nur für
// Credential-Probleme zurückgegeben, die den ganzen Lauf beenden.
func (s *ExtractionService) processPaper(ctx context.Context, runLog *zap.Logger, paper *models.Paper, stats *RunStats) (bool, error) {
	log := runLog.With(zap.Uint("paper_id", paper.ID), zap.String("pdf_url", paper.PDFURL))
	log.Info("Extracting paper", zap.String("title", paper.Title))

	lease, err := s.Pool.Lease()
	if err != nil {
		return false, err
	}

	call, err := s.Extractor.Extract(ctx, lease, paper.PDFURL)
	if err != nil {
		metrics.ExtractionFailures.WithLabelValues("service").Inc()
		var svcErr *providers.ServiceError
		if errors.As(err, &svcErr) {
			log.Warn("Extraction service returned an error",
				zap.String("request_id", svcErr.RequestID),
				zap.Int("status_code", svcErr.StatusCode),
				zap.String("error_code", svcErr.Code),
				zap.String("error_message", svcErr.Message),
				zap.Error(svcErr.Err))
		} else {
			log.Warn("Extraction call failed", zap.Error(err))
		}
		if err := s.Store.UpdatePaperAudit(ctx, paper.ID, requestOf(call, paper), nil); err != nil {
			log.Error("Failed to store call history", zap.Error(err))
		}
		return false, nil
	}

	if err := s.Store.UpdatePaperAudit(ctx, paper.ID, requestOf(call, paper), call.Response); err != nil {
		metrics.ExtractionFailures.WithLabelValues("persistence").Inc()
		log.Error("Failed to store call history", zap.Error(err))
	}

	ok := false
	outcome := ParseContent(call.Content)
	if outcome.Err != nil {
		stats.ParseFailures++
		metrics.ExtractionFailures.WithLabelValues("parse").Inc()
		log.Warn("Could not parse extraction content, paper stays pending", zap.Error(outcome.Err))
	} else if err := s.Store.UpdatePaperResult(ctx, paper.ID, outcome.Raw); err != nil {
		metrics.ExtractionFailures.WithLabelValues("persistence").Inc()
		log.Error("Failed to store extraction result", zap.Error(err))
	} else {
		ok = true
		metrics.PapersExtracted.Inc()
		log.Info("Paper extracted", zap.Int("authors", outcome.AuthorCount()))
	}

	stats.TokensUsed += call.Usage
	if err := s.Pool.Consume(ctx, call.Usage); err != nil {
		if IsFatal(err) {
			return ok, err
		}
		log.Error("Failed to debit tokens", zap.Int64("tokens", call.Usage), zap.Error(err))
	}
	return ok, nil
}

// requestOf liefert den gesendeten Request, notfalls einen Platzhalter mit der PDF-URL.
func requestOf(call *providers.Call, paper *models.Paper) []byte {
	if call != nil && len(call.Request) > 0 {
		return call.Request
	}
	b, _ := json.Marshal(map[string]string{"pdf_url": paper.PDFURL})
	return b
}

// ParseOutcome unterscheidet ein geparstes Ergebnis (Err == nil) von einem Parse-Fehler.
type ParseOutcome struct {
	// Kompaktes JSON, wie es gespeichert wird
	Raw []byte
	// Nil, wenn das JSON nicht der erwarteten Struktur entspricht
	Result *models.ExtractionResult
	Err    error
}

// AuthorCount liefert die Anzahl der erkannten Autoren.
func (o ParseOutcome) AuthorCount() int {
	if o.Result == nil {
		return 0
	}
	return len(o.Result.Authors)
}

// ParseContent parst den Antworttext als JSON-Objekt. Ein Markdown-Codeblock
// um das JSON wird entfernt. Leere Objekte gelten als Fehler.
func ParseContent(content string) ParseOutcome {
	s := stripCodeFence(content)
	if s == "" {
		return ParseOutcome{Err: fmt.Errorf("%w: empty content", ErrParse)}
	}

	var generic map[string]any
	if err := json.Unmarshal([]byte(s), &generic); err != nil {
		return ParseOutcome{Err: fmt.Errorf("%w: %v", ErrParse, err)}
	}
	if len(generic) == 0 {
		return ParseOutcome{Err: fmt.Errorf("%w: empty object", ErrParse)}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return ParseOutcome{Err: fmt.Errorf("%w: %v", ErrParse, err)}
	}
	outcome := ParseOutcome{Raw: buf.Bytes()}

	var result models.ExtractionResult
	if err := json.Unmarshal(buf.Bytes(), &result); err == nil {
		outcome.Result = &result
	}
	return outcome
}

func stripCodeFence(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
