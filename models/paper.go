package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Paper repräsentiert ein wissenschaftliches Paper samt Extraktions-Historie.
type Paper struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Beschreibende Felder aus dem Ingest
	Source    string  `json:"source" gorm:"size:256"`
	Title     string  `json:"title" gorm:"size:256;not null"`
	WebURL    string  `json:"web_url" gorm:"column:web_url;size:256"`
	PDFURL    string  `json:"pdf_url" gorm:"column:pdf_url;size:256;index;not null"`
	Authors   string  `json:"authors" gorm:"size:1024"`
	Reference *string `json:"reference,omitempty" gorm:"size:1024"`

	// md5(pdf_url + title + authors)
	ContentFingerprint string `json:"content_fingerprint" gorm:"size:32;uniqueIndex;not null"`

	// Letzter Aufruf des LLM-Dienstes (Request, Rohantwort, geparstes Ergebnis)
	LastRequest  datatypes.JSON `json:"last_request,omitempty"`
	LastResponse datatypes.JSON `json:"last_response,omitempty"`
	LastResult   datatypes.JSON `json:"last_result,omitempty"`

	Extracted bool `json:"extracted" gorm:"index;default:false"`
	// Manuell korrigiert, darf nicht automatisch überschrieben werden
	Locked  bool `json:"locked" gorm:"default:false"`
	Deleted bool `json:"deleted" gorm:"index;default:false"`
}

// TableName gibt explizit den Tabellennamen an.
func (Paper) TableName() string {
	return "t_paper_index"
}

// IsNullJSON meldet, ob ein JSON-Feld leer oder SQL-NULL ist.
func IsNullJSON(j datatypes.JSON) bool {
	s := strings.TrimSpace(string(j))
	return s == "" || s == "null"
}
