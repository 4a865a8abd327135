package providers

import (
	"context"
	"fmt"
)

// Extractor ist das Interface für den entfernten LLM-Dienst, der ein PDF auswertet.
type Extractor interface {
	// Extract schickt das PDF unter pdfURL samt fester Anweisung an den Dienst.
	// Schlägt der Aufruf fehl, ist der Fehler ein *ServiceError und Call enthält
	// trotzdem den gesendeten Request.
	Extract(ctx context.Context, lease Lease, pdfURL string) (*Call, error)

	// Name gibt den eindeutigen Namen des Dienstes zurück (z.B. "dashscope").
	Name() string
}

// Lease ist das für genau einen Aufruf gültige Credential.
type Lease struct {
	CredentialID uint
	Platform     string
	Model        string
	Secrets      map[string]string
}

// Call hält Request und Antwort eines Aufrufs für die Audit-Spalten.
type Call struct {
	Request   []byte
	Response  []byte
	RequestID string
	// Verbrauchte Tokens laut Antwort
	Usage int64
	// Textinhalt der ersten Antwort-Choice
	Content string
}

// ServiceError beschreibt eine nicht erfolgreiche Antwort des Dienstes.
type ServiceError struct {
	RequestID  string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("service call failed: request id: %s, status code: %d, error code: %s, error message: %s: %v",
			e.RequestID, e.StatusCode, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("service call failed: request id: %s, status code: %d, error code: %s, error message: %s",
		e.RequestID, e.StatusCode, e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
