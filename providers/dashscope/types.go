package dashscope

import (
	"encoding/json"
	"strings"
)

// Message ist eine Chat-Nachricht. Content ist entweder ein String oder eine Liste von Parts.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart ist ein Text- oder Datei-Baustein einer Nachricht.
type ContentPart struct {
	Text string `json:"text,omitempty"`
	File string `json:"file,omitempty"`
}

// GenerationRequest ist der Request-Body der Generation-API.
type GenerationRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []Message `json:"messages"`
	} `json:"input"`
	Parameters struct {
		ResultFormat string `json:"result_format"`
	} `json:"parameters"`
}

// GenerationResponse repräsentiert die JSON-Antwort der Generation-API.
type GenerationResponse struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Output    struct {
		Choices []struct {
			FinishReason string `json:"finish_reason"`
			Message      struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
		TotalTokens  int64 `json:"total_tokens"`
	} `json:"usage"`
}

// TotalTokens liefert total_tokens oder, falls nicht gesetzt, die Summe aus Input und Output.
func (r *GenerationResponse) TotalTokens() int64 {
	if r.Usage.TotalTokens > 0 {
		return r.Usage.TotalTokens
	}
	return r.Usage.InputTokens + r.Usage.OutputTokens
}

// Content liefert den Text der ersten Choice.
// Multimodale Antworten liefern eine Liste von Parts, deren Texte verkettet werden.
func (r *GenerationResponse) Content() string {
	if len(r.Output.Choices) == 0 {
		return ""
	}
	raw := r.Output.Choices[0].Message.Content
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []ContentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			b.WriteString(p.Text)
		}
		return b.String()
	}
	return ""
}
