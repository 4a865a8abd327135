package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"paper-extract/metrics"
	"paper-extract/models"
	"paper-extract/providers"
)

// CredentialStore ist der Teil der Persistenz, den der CredentialPool braucht.
type CredentialStore interface {
	FindEligibleCredentials(ctx context.Context, floor int64) ([]models.Credential, error)
	DebitCredentialQuota(ctx context.Context, id uint, amount int64) (int64, error)
}

// CredentialPool wählt das aktive Credential aus und rotiert, sobald das
// Restkontingent die Reserve erreicht.
//
// SelectActive und Consume bilden einen gemeinsamen kritischen Abschnitt.
// Die Geheimnisse des aktiven Credentials werden nur über Lease pro Aufruf
// herausgegeben, nie über globale Umgebungsvariablen.
type CredentialPool struct {
	Store  CredentialStore
	Logger *zap.Logger
	// Reserve, die nie angebrochen werden soll
	Floor int64

	mu     sync.Mutex
	active *models.Credential
}

// NewCredentialPool erstellt einen neuen Pool ohne aktives Credential.
func NewCredentialPool(store CredentialStore, floor int64, logger *zap.Logger) *CredentialPool {
	return &CredentialPool{Store: store, Floor: floor, Logger: logger}
}

// SelectActive lädt das Credential mit dem höchsten Restkontingent über der Reserve.
func (p *CredentialPool) SelectActive(ctx context.Context) (*models.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selectLocked(ctx)
}

func (p *CredentialPool) selectLocked(ctx context.Context) (*models.Credential, error) {
	creds, err := p.Store.FindEligibleCredentials(ctx, p.Floor)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, ErrNoAvailableCredential
	}

	cred := creds[0]
	p.active = &cred
	p.Logger.Info("Credential loaded",
		zap.Uint("credential_id", cred.ID),
		zap.String("platform", cred.Platform),
		zap.String("model", cred.Model),
		zap.Int64("remaining_quota", cred.RemainingQuota),
		zap.String("owner", cred.Owner),
		zap.Strings("secret_keys", cred.SecretKeys()))
	return &cred, nil
}

// ActiveID liefert die ID des aktiven Credentials, 0 wenn keins gewählt ist.
func (p *CredentialPool) ActiveID() uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return 0
	}
	return p.active.ID
}

// Lease gibt das aktive Credential für genau einen Dienstaufruf heraus.
func (p *CredentialPool) Lease() (providers.Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return providers.Lease{}, ErrNoActiveCredential
	}
	return providers.Lease{
		CredentialID: p.active.ID,
		Platform:     p.active.Platform,
		Model:        p.active.Model,
		Secrets:      p.active.Secrets(),
	}, nil
}

// Consume bucht amount Tokens vom aktiven Credential ab. Fällt das Restkontingent
// auf oder unter die Reserve, wird rotiert. Findet die Rotation kein anderes
// Credential, kommt ErrCredentialExhausted zurück.
func (p *CredentialPool) Consume(ctx context.Context, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("consume: negative amount %d", amount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active == nil {
		return ErrNoActiveCredential
	}

	prevID := p.active.ID
	remaining, err := p.Store.DebitCredentialQuota(ctx, prevID, amount)
	if err != nil {
		return fmt.Errorf("consume %d tokens: %w", amount, err)
	}
	metrics.TokensConsumed.Add(float64(amount))
	p.active.RemainingQuota = remaining

	if remaining > p.Floor {
		return nil
	}

	log := p.Logger.With(zap.Uint("credential_id", prevID), zap.Int64("remaining_quota", remaining), zap.Int64("floor", p.Floor))
	log.Warn("Credential reached reserved floor, rotating.")

	if _, err := p.selectLocked(ctx); err != nil {
		if errors.Is(err, ErrNoAvailableCredential) {
			log.Error("Rotation found no other credential.")
			return fmt.Errorf("%w: credential %d has %d tokens left", ErrCredentialExhausted, prevID, remaining)
		}
		return err
	}
	// Nur bei veralteten oder parallel geänderten Daten möglich.
	if p.active.ID == prevID {
		log.Error("Rotation re-selected the depleted credential.")
		return fmt.Errorf("%w: credential %d re-selected", ErrCredentialExhausted, prevID)
	}

	metrics.CredentialRotations.Inc()
	log.Info("Credential rotated.", zap.Uint("new_credential_id", p.active.ID))
	return nil
}
