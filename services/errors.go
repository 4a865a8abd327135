package services

import "errors"

var (
	// ErrNoAvailableCredential: kein Credential liegt über der Reserve. Der Prozess kann nicht starten.
	ErrNoAvailableCredential = errors.New("no credential with remaining quota above the reserved floor")
	// ErrCredentialExhausted: nach der Abbuchung ließ sich kein anderes Credential laden.
	ErrCredentialExhausted = errors.New("no distinct credential available after rotation")
	// ErrNoActiveCredential: Consume ohne vorheriges SelectActive.
	ErrNoActiveCredential = errors.New("no active credential selected")
	// ErrParse: Antwortinhalt ist kein verwertbares JSON.
	ErrParse = errors.New("unparseable extraction content")
)

// IsFatal meldet, ob ein Fehler den gesamten Lauf abbrechen muss.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNoAvailableCredential) ||
		errors.Is(err, ErrCredentialExhausted) ||
		errors.Is(err, ErrNoActiveCredential)
}
