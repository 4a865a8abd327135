package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper-extract/storage"
)

func TestIngestReader(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)
	svc := NewIngestService(gw, zap.NewNop())

	input := strings.Join([]string{
		`{"title":"A","pdf_url":"http://x/1.pdf","web_url":"http://x/1","author":"Bob","infos":"Vol. 3"}`,
		``,
		`not json`,
		`{"title":"no url"}`,
		`{"title":"B","pdf_url":"http://x/2.pdf","author":"Eve"}`,
	}, "\n")

	stats, err := svc.IngestReader(ctx, "acl2024", strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, IngestStats{Lines: 4, Upserted: 2, Skipped: 2}, stats)

	paper, err := gw.FindPaperByPDFURL(ctx, "http://x/1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "acl2024", paper.Source)
	assert.Equal(t, "A", paper.Title)
	assert.Equal(t, "http://x/1", paper.WebURL)
	assert.Equal(t, "Bob", paper.Authors)
	require.NotNil(t, paper.Reference)
	assert.Equal(t, "Vol. 3", *paper.Reference)
	assert.Equal(t, storage.Fingerprint("http://x/1.pdf", "A", "Bob"), paper.ContentFingerprint)
}

func TestIngestReader_ReimportUpdatesAndRespectsLock(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)
	svc := NewIngestService(gw, zap.NewNop())

	_, err := svc.IngestReader(ctx, "src", strings.NewReader(
		`{"title":"A","pdf_url":"http://x/1.pdf"}`+"\n"+`{"title":"B","pdf_url":"http://x/2.pdf"}`))
	require.NoError(t, err)

	locked, err := gw.FindPaperByPDFURL(ctx, "http://x/2.pdf")
	require.NoError(t, err)
	require.NoError(t, gw.SetPaperLocked(ctx, locked.ID, true))

	stats, err := svc.IngestReader(ctx, "src", strings.NewReader(
		`{"title":"A2","pdf_url":"http://x/1.pdf"}`+"\n"+`{"title":"B2","pdf_url":"http://x/2.pdf"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Upserted)
	assert.Equal(t, 1, stats.Locked)

	updated, err := gw.FindPaperByPDFURL(ctx, "http://x/1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "A2", updated.Title)

	unchanged, err := gw.FindPaperByPDFURL(ctx, "http://x/2.pdf")
	require.NoError(t, err)
	assert.Equal(t, "B", unchanged.Title)

	var count int64
	require.NoError(t, gw.DB.Table("t_paper_index").Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestIngestReader_CountsFingerprintConflicts(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)
	gw.Fingerprint = func(string, string, string) string { return "same" }
	svc := NewIngestService(gw, zap.NewNop())

	stats, err := svc.IngestReader(ctx, "src", strings.NewReader(
		`{"title":"A","pdf_url":"http://x/1.pdf"}`+"\n"+`{"title":"B","pdf_url":"http://x/2.pdf"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Upserted)
	assert.Equal(t, 1, stats.Conflicts)
}

func TestIngestDir(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)
	svc := NewIngestService(gw, zap.NewNop())

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "iclr.jsonl"),
		[]byte(`{"title":"A","pdf_url":"http://x/1.pdf"}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "nips.jsonl"),
		[]byte(`{"title":"B","pdf_url":"http://x/2.pdf"}`+"\n"+`{"title":"C","pdf_url":"http://x/3.pdf"}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"),
		[]byte(`{"title":"D","pdf_url":"http://x/4.pdf"}`), 0o644))

	stats, err := svc.IngestDir(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 3, stats.Upserted)

	paper, err := gw.FindPaperByPDFURL(ctx, "http://x/3.pdf")
	require.NoError(t, err)
	assert.Equal(t, "nips", paper.Source)

	_, err = gw.FindPaperByPDFURL(ctx, "http://x/4.pdf")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIngestDir_MissingDir(t *testing.T) {
	svc := NewIngestService(newTestGateway(t), zap.NewNop())
	_, err := svc.IngestDir(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
