package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"paper-extract/config"
	"paper-extract/providers"
)

const (
	generationPath = "/services/aigc/text-generation/generation"
	pluginHeader   = `{"pdf_extracter":{}}`
	systemPrompt   = "You are a helpful assistant."
	// Aufgabe 1: Autoren, Organisation und E-Mail von der ersten Seite, pro Autor ein Objekt.
	// Aufgabe 2: Abstract übersetzen, Original (en) und Übersetzung (zh).
	instruction = "任务1:从首页中抽取作者(author)、机构(organization)、邮箱(email),输出是一个以作者为维度的对象列表;" +
		"任务2:翻译Abstract部分,输出包含原文(en)、译文(zh)。" +
		"输出格式:JSON"
)

// userAgentTransport fügt jeder Anfrage einen User-Agent-Header hinzu.
type userAgentTransport struct {
	Transport http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "paper-extract/1.0")
	return t.Transport.RoundTrip(req)
}

// Client ruft die DashScope-Generation-API mit dem PDF-Plugin auf.
type Client struct {
	Config *config.Config
	Logger *zap.Logger

	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient erstellt einen neuen DashScope-Client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return NewClientWithHTTP(cfg, logger, &http.Client{
		Timeout:   cfg.LLMTimeout,
		Transport: &userAgentTransport{Transport: http.DefaultTransport},
	})
}

// NewClientWithHTTP erstellt einen Client mit eigenem http.Client.
func NewClientWithHTTP(cfg *config.Config, logger *zap.Logger, httpClient *http.Client) *Client {
	limit := rate.Inf
	if cfg.LLMRateLimit > 0 {
		limit = rate.Limit(cfg.LLMRateLimit)
	}
	return &Client{
		Config:     cfg,
		Logger:     logger,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Name gibt den Namen des Dienstes zurück.
func (c *Client) Name() string {
	return "dashscope"
}

// BuildRequest baut den Request-Body für ein PDF.
func (c *Client) BuildRequest(model, pdfURL string) GenerationRequest {
	var req GenerationRequest
	req.Model = model
	req.Input.Messages = []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: []ContentPart{{Text: instruction}, {File: pdfURL}}},
	}
	req.Parameters.ResultFormat = "message"
	return req
}

// Extract schickt das PDF an DashScope und liefert Request, Rohantwort und Verbrauch.
func (c *Client) Extract(ctx context.Context, lease providers.Lease, pdfURL string) (*providers.Call, error) {
	model := lease.Model
	if model == "" {
		model = c.Config.LLMModel
	}
	log := c.Logger.With(zap.String("pdf_url", pdfURL), zap.String("model", model), zap.Uint("credential_id", lease.CredentialID))

	body, err := json.Marshal(c.BuildRequest(model, pdfURL))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	call := &providers.Call{Request: body}

	apiKey := lease.Secrets[c.Config.LLMAPIKeyName]
	if apiKey == "" {
		return call, &providers.ServiceError{Code: "MissingAPIKey", Message: fmt.Sprintf("credential has no %s", c.Config.LLMAPIKeyName)}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return call, &providers.ServiceError{Code: "RateLimited", Message: "waiting for rate limiter", Err: err}
	}

	if c.Config.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Config.LLMTimeout)
		defer cancel()
	}

	endpoint := strings.TrimRight(c.Config.LLMBaseURL, "/") + generationPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return call, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DashScope-Plugin", pluginHeader)

	log.Debug("Calling DashScope.")
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		code := "TransportError"
		if errors.Is(err, context.DeadlineExceeded) {
			code = "Timeout"
		}
		return call, &providers.ServiceError{Code: code, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return call, &providers.ServiceError{StatusCode: resp.StatusCode, Code: "ReadError", Message: "reading response body", Err: err}
	}

	var gr GenerationResponse
	decodeErr := json.Unmarshal(raw, &gr)

	if resp.StatusCode != http.StatusOK {
		return call, &providers.ServiceError{
			RequestID:  gr.RequestID,
			StatusCode: resp.StatusCode,
			Code:       gr.Code,
			Message:    gr.Message,
		}
	}
	if decodeErr != nil {
		return call, &providers.ServiceError{StatusCode: resp.StatusCode, Code: "InvalidResponse", Message: "response is not json", Err: decodeErr}
	}

	call.Response = raw
	call.RequestID = gr.RequestID
	call.Usage = gr.TotalTokens()
	call.Content = gr.Content()

	log.Info("DashScope call succeeded.",
		zap.String("request_id", gr.RequestID),
		zap.Int64("total_tokens", call.Usage),
		zap.Duration("took", time.Since(started)))
	return call, nil
}
