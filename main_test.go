package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"paper-extract/config"
	"paper-extract/models"
	"paper-extract/providers"
	"paper-extract/services"
	"paper-extract/storage"
	"paper-extract/storage/sqlitetest"
)

type fixedExtractor struct {
	content string
	usage   int64
}

func (f *fixedExtractor) Name() string { return "fixed" }

func (f *fixedExtractor) Extract(ctx context.Context, lease providers.Lease, pdfURL string) (*providers.Call, error) {
	return &providers.Call{
		Request:  []byte(`{"pdf":"` + pdfURL + `"}`),
		Response: []byte(`{"ok":true}`),
		Usage:    f.usage,
		Content:  f.content,
	}, nil
}

type testEnv struct {
	srv    *server
	router *gin.Engine
	gw     *storage.Gateway
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gw := storage.NewGateway(sqlitetest.Open(t), zap.NewNop())
	require.NoError(t, gw.DB.Create(&models.Credential{
		Platform:       "dashscope",
		Model:          "qwen-plus",
		SecretMaterial: datatypes.JSONMap{"DASHSCOPE_API_KEY": "sk-very-secret"},
		RemainingQuota: 100000,
		Owner:          "lab",
	}).Error)

	cfg := &config.Config{APISecretKey: apiKey, ReservedTokenFloor: 30000, ExtractBatchSize: 5}
	pool := services.NewCredentialPool(gw, cfg.ReservedTokenFloor, zap.NewNop())
	_, err := pool.SelectActive(context.Background())
	require.NoError(t, err)

	extractor := &fixedExtractor{content: `{"authors":[{"name":"Bob","email":"b@x","organization":"X"}]}`, usage: 100}
	srv := newServer(cfg, gw, pool, services.NewExtractionService(gw, pool, extractor, zap.NewNop()), zap.NewNop())
	router := gin.New()
	srv.setupRoutes(router)
	return &testEnv{srv: srv, router: router, gw: gw}
}

func (e *testEnv) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestAPIKeyMiddleware(t *testing.T) {
	env := newTestEnv(t, "s3cret")

	w := env.do(http.MethodGet, "/papers", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodGet, "/papers", "", "X-API-KEY", "s3cret")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPaperRoutes(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(http.MethodPost, "/papers", `{"title":"A","pdf_url":"http://x/1.pdf","author":"Bob"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created models.Paper
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, storage.Fingerprint("http://x/1.pdf", "A", "Bob"), created.ContentFingerprint)

	w = env.do(http.MethodPost, "/papers", `{"title":"missing url"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/papers/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pdf_url":"http://x/1.pdf"`)

	w = env.do(http.MethodGet, "/papers/99", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/papers/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPut, "/papers/1/lock", `{"locked":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodPost, "/papers", `{"title":"changed","pdf_url":"http://x/1.pdf"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	paper, err := env.gw.FindPaperByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "A", paper.Title)

	w = env.do(http.MethodGet, "/papers?locked=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	var locked []models.Paper
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &locked))
	assert.Len(t, locked, 1)

	w = env.do(http.MethodGet, "/papers?extracted=maybe", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodDelete, "/papers/1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodGet, "/papers", "")
	require.Equal(t, http.StatusOK, w.Code)
	var remaining []models.Paper
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &remaining))
	assert.Empty(t, remaining)
}

func TestCredentialsAreRedacted(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(http.MethodGet, "/credentials", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-very-secret")

	var views []credentialView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, []string{"DASHSCOPE_API_KEY"}, views[0].SecretKeys)
	assert.Equal(t, int64(100000), views[0].RemainingQuota)
	assert.True(t, views[0].Active)
}

func TestExtractRoute(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(http.MethodPost, "/papers", `{"title":"A","pdf_url":"http://x/1.pdf"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodPost, "/extract?limit=10", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	env.srv.runs.Wait()

	paper, err := env.gw.FindPaperByID(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, paper.Extracted)

	cred, err := env.gw.ListCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(99900), cred[0].RemainingQuota)

	w = env.do(http.MethodGet, "/extract", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Running bool              `json:"running"`
		LastRun services.RunStats `json:"last_run"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Running)
	assert.Equal(t, 1, status.LastRun.Succeeded)
}

func TestExtractRoute_ConflictWhileRunning(t *testing.T) {
	env := newTestEnv(t, "")

	env.srv.runMu.Lock()
	defer env.srv.runMu.Unlock()

	w := env.do(http.MethodPost, "/extract", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodPost, "/extract?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
