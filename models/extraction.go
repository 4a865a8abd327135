package models

import "strings"

// AuthorInfo ist ein Autor-Eintrag aus der LLM-Antwort.
// Das Modell liefert den Namen mal als "name", mal als "author".
type AuthorInfo struct {
	Name         string `json:"name,omitempty"`
	Author       string `json:"author,omitempty"`
	Email        string `json:"email"`
	Organization string `json:"organization"`
}

// DisplayName bevorzugt "name" vor "author".
func (a AuthorInfo) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Author
}

// Abstract enthält Original und Übersetzung.
type Abstract struct {
	En string `json:"en"`
	Zh string `json:"zh"`
}

// ExtractionResult ist die erwartete Struktur der LLM-Antwort.
type ExtractionResult struct {
	Authors  []AuthorInfo `json:"authors"`
	Abstract Abstract     `json:"abstract"`
}

// AuthorLines formatiert die Autoren als "name / email / organization", eine Zeile pro Autor.
func (r *ExtractionResult) AuthorLines() string {
	var b strings.Builder
	for _, a := range r.Authors {
		b.WriteString(a.DisplayName())
		b.WriteString(" / ")
		b.WriteString(a.Email)
		b.WriteString(" / ")
		b.WriteString(a.Organization)
		b.WriteString("\n")
	}
	return b.String()
}
