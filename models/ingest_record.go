package models

// IngestRecord ist eine Zeile einer JSONL-Quelldatei.
// Source wird aus dem Dateinamen gesetzt.
type IngestRecord struct {
	Source string  `json:"source"`
	Title  string  `json:"title" binding:"required"`
	PDFURL string  `json:"pdf_url" binding:"required"`
	WebURL string  `json:"web_url"`
	Author string  `json:"author"`
	Infos  *string `json:"infos,omitempty"`
}
