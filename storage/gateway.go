package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"paper-extract/models"
)

var (
	// ErrConstraint wird bei Unique-Verletzungen zurückgegeben.
	ErrConstraint = errors.New("constraint violation")
	// ErrNotFound wird zurückgegeben, wenn ein Datensatz nicht existiert.
	ErrNotFound = errors.New("record not found")
	// ErrPaperLocked meldet, dass ein gesperrtes Paper nicht überschrieben wurde.
	ErrPaperLocked = errors.New("paper is locked")
)

// Fingerprint berechnet md5(pdf_url + title + authors) als Hex-String.
func Fingerprint(pdfURL, title, authors string) string {
	sum := md5.Sum([]byte(pdfURL + title + authors))
	return hex.EncodeToString(sum[:])
}

// Gateway kapselt alle Datenbankzugriffe auf Papers und Credentials.
// Jede Mutation läuft in einer eigenen Transaktion.
type Gateway struct {
	DB     *gorm.DB
	Logger *zap.Logger
	// Fingerprint ist austauschbar, Standard ist md5.
	Fingerprint func(pdfURL, title, authors string) string
}

// NewGateway erstellt ein neues Gateway.
func NewGateway(db *gorm.DB, logger *zap.Logger) *Gateway {
	return &Gateway{DB: db, Logger: logger, Fingerprint: Fingerprint}
}

// Migrate legt die Tabellen an bzw. aktualisiert sie.
func (g *Gateway) Migrate() error {
	return g.DB.AutoMigrate(&models.Paper{}, &models.Credential{})
}

// FindPaperByPDFURL sucht ein Paper anhand seiner PDF-URL.
func (g *Gateway) FindPaperByPDFURL(ctx context.Context, pdfURL string) (*models.Paper, error) {
	var paper models.Paper
	if err := g.DB.WithContext(ctx).Where("pdf_url = ?", pdfURL).Order("id asc").First(&paper).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &paper, nil
}

// FindPaperByID lädt ein Paper anhand seiner ID.
func (g *Gateway) FindPaperByID(ctx context.Context, id uint) (*models.Paper, error) {
	var paper models.Paper
	if err := g.DB.WithContext(ctx).First(&paper, id).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &paper, nil
}

// UpsertPaper legt ein Paper an oder aktualisiert die beschreibenden Felder, Schlüssel ist pdf_url.
// Gesperrte Papers bleiben unverändert und liefern ErrPaperLocked.
func (g *Gateway) UpsertPaper(ctx context.Context, rec models.IngestRecord) (*models.Paper, error) {
	if rec.PDFURL == "" {
		return nil, fmt.Errorf("upsert paper: pdf_url is empty")
	}

	var result models.Paper
	err := g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Paper
		err := tx.Where("pdf_url = ?", rec.PDFURL).Order("id asc").First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			result = models.Paper{
				Source:             rec.Source,
				Title:              rec.Title,
				WebURL:             rec.WebURL,
				PDFURL:             rec.PDFURL,
				Authors:            rec.Author,
				Reference:          rec.Infos,
				ContentFingerprint: g.Fingerprint(rec.PDFURL, rec.Title, rec.Author),
			}
			return tx.Create(&result).Error
		case err != nil:
			return err
		}

		if existing.Locked {
			result = existing
			return ErrPaperLocked
		}

		existing.Source = rec.Source
		existing.Title = rec.Title
		existing.WebURL = rec.WebURL
		existing.Authors = rec.Author
		existing.Reference = rec.Infos
		existing.ContentFingerprint = g.Fingerprint(rec.PDFURL, rec.Title, rec.Author)
		result = existing
		return tx.Model(&result).Select("source", "title", "web_url", "authors", "reference", "content_fingerprint", "updated_at").Updates(&result).Error
	})
	if err != nil {
		if errors.Is(err, ErrPaperLocked) {
			return &result, err
		}
		return nil, fmt.Errorf("upsert paper %q: %w", rec.PDFURL, wrapErr(err))
	}
	return &result, nil
}

// UpdatePaperAudit speichert Request und Rohantwort des letzten Aufrufs. response darf nil sein.
func (g *Gateway) UpdatePaperAudit(ctx context.Context, id uint, request, response []byte) error {
	res := g.DB.WithContext(ctx).Model(&models.Paper{ID: id}).Updates(map[string]any{
		"last_request":  nullableJSON(request),
		"last_response": nullableJSON(response),
		"updated_at":    g.DB.NowFunc(),
	})
	return rowsOrErr(res)
}

// UpdatePaperResult speichert das geparste Ergebnis. Ein nicht-leeres Ergebnis setzt extracted.
func (g *Gateway) UpdatePaperResult(ctx context.Context, id uint, result []byte) error {
	res := g.DB.WithContext(ctx).Model(&models.Paper{ID: id}).Updates(map[string]any{
		"last_result": nullableJSON(result),
		"extracted":   len(result) > 0,
		"updated_at":  g.DB.NowFunc(),
	})
	return rowsOrErr(res)
}

// SetPaperLocked setzt oder entfernt die Sperre eines Papers.
func (g *Gateway) SetPaperLocked(ctx context.Context, id uint, locked bool) error {
	res := g.DB.WithContext(ctx).Model(&models.Paper{ID: id}).Updates(map[string]any{
		"locked":     locked,
		"updated_at": g.DB.NowFunc(),
	})
	return rowsOrErr(res)
}

// SoftDeletePaper markiert ein Paper als gelöscht.
func (g *Gateway) SoftDeletePaper(ctx context.Context, id uint) error {
	res := g.DB.WithContext(ctx).Model(&models.Paper{ID: id}).Updates(map[string]any{
		"deleted":    true,
		"updated_at": g.DB.NowFunc(),
	})
	return rowsOrErr(res)
}

// ListPendingPapers liefert nicht extrahierte, nicht gelöschte und nicht gesperrte Papers nach ID.
// limit < 0 bedeutet unbegrenzt.
func (g *Gateway) ListPendingPapers(ctx context.Context, limit int) ([]models.Paper, error) {
	query := g.DB.WithContext(ctx).
		Where("extracted = ? AND deleted = ? AND locked = ?", false, false, false).
		Order("id asc")
	if limit >= 0 {
		query = query.Limit(limit)
	}
	var papers []models.Paper
	if err := query.Find(&papers).Error; err != nil {
		return nil, err
	}
	return papers, nil
}

// ListExtractedPapers liefert extrahierte, nicht gelöschte Papers nach ID.
func (g *Gateway) ListExtractedPapers(ctx context.Context, limit int) ([]models.Paper, error) {
	query := g.DB.WithContext(ctx).
		Where("extracted = ? AND deleted = ?", true, false).
		Order("id asc")
	if limit >= 0 {
		query = query.Limit(limit)
	}
	var papers []models.Paper
	if err := query.Find(&papers).Error; err != nil {
		return nil, err
	}
	return papers, nil
}

// PaperFilter schränkt ListPapers ein. Nil-Felder werden ignoriert.
type PaperFilter struct {
	Source    string
	Extracted *bool
	Locked    *bool
	Limit     int
}

// ListPapers liefert nicht gelöschte Papers nach Filter.
func (g *Gateway) ListPapers(ctx context.Context, f PaperFilter) ([]models.Paper, error) {
	query := g.DB.WithContext(ctx).Model(&models.Paper{}).Where("deleted = ?", false)
	if f.Source != "" {
		query = query.Where("source = ?", f.Source)
	}
	if f.Extracted != nil {
		query = query.Where("extracted = ?", *f.Extracted)
	}
	if f.Locked != nil {
		query = query.Where("locked = ?", *f.Locked)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	var papers []models.Paper
	if err := query.Order("id asc").Find(&papers).Error; err != nil {
		return nil, err
	}
	return papers, nil
}

// FindEligibleCredentials liefert Credentials mit remaining_quota > floor,
// höchstes Kontingent zuerst, bei Gleichstand kleinste ID.
func (g *Gateway) FindEligibleCredentials(ctx context.Context, floor int64) ([]models.Credential, error) {
	var creds []models.Credential
	err := g.DB.WithContext(ctx).
		Where("remaining_quota > ?", floor).
		Order("remaining_quota desc").
		Order("id asc").
		Find(&creds).Error
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// FindCredentialByID lädt ein Credential anhand seiner ID.
func (g *Gateway) FindCredentialByID(ctx context.Context, id uint) (*models.Credential, error) {
	var cred models.Credential
	if err := g.DB.WithContext(ctx).First(&cred, id).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &cred, nil
}

// ListCredentials liefert alle Credentials nach ID.
func (g *Gateway) ListCredentials(ctx context.Context) ([]models.Credential, error) {
	var creds []models.Credential
	if err := g.DB.WithContext(ctx).Order("id asc").Find(&creds).Error; err != nil {
		return nil, err
	}
	return creds, nil
}

// UpdateCredentialQuota setzt das Restkontingent eines Credentials.
func (g *Gateway) UpdateCredentialQuota(ctx context.Context, id uint, quota int64) error {
	res := g.DB.WithContext(ctx).Model(&models.Credential{ID: id}).Updates(map[string]any{
		"remaining_quota": quota,
		"updated_at":      g.DB.NowFunc(),
	})
	return rowsOrErr(res)
}

// DebitCredentialQuota bucht amount vom Kontingent ab und liefert den neuen Stand.
// Es gibt keine Untergrenze, das Kontingent kann negativ werden.
func (g *Gateway) DebitCredentialQuota(ctx context.Context, id uint, amount int64) (int64, error) {
	var remaining int64
	err := g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Credential{ID: id}).Updates(map[string]any{
			"remaining_quota": gorm.Expr("remaining_quota - ?", amount),
			"updated_at":      tx.NowFunc(),
		})
		if err := rowsOrErr(res); err != nil {
			return err
		}
		var cred models.Credential
		if err := tx.Select("remaining_quota").First(&cred, id).Error; err != nil {
			return err
		}
		remaining = cred.RemainingQuota
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("debit credential %d: %w", id, wrapErr(err))
	}
	return remaining, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return datatypes.JSON(b)
}

func rowsOrErr(res *gorm.DB) error {
	if res.Error != nil {
		return wrapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func wrapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConstraint):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
