package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper-extract/models"
)

func TestExport(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)

	done, err := gw.UpsertPaper(ctx, models.IngestRecord{Title: "A", PDFURL: "http://x/1.pdf", Author: "Bob"})
	require.NoError(t, err)
	require.NoError(t, gw.UpdatePaperResult(ctx, done.ID, []byte(scenarioContent)))

	odd, err := gw.UpsertPaper(ctx, models.IngestRecord{Title: "B", PDFURL: "http://x/2.pdf"})
	require.NoError(t, err)
	require.NoError(t, gw.UpdatePaperResult(ctx, odd.ID, []byte(`{"authors":"unknown"}`)))

	_, err = gw.UpsertPaper(ctx, models.IngestRecord{Title: "C", PDFURL: "http://x/3.pdf"})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := NewExportService(gw, zap.NewNop()).Export(ctx, &buf, -1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ExportColumns, rows[0])
	assert.Equal(t, []string{"1", "A", "http://x/1.pdf", "Bob", "Bob / b@x / X\n", "An abstract.", "摘要。"}, rows[1])
	assert.Equal(t, []string{"2", "B", "http://x/2.pdf", "", "", "", ""}, rows[2])
}

func TestExport_SkipsDeletedAndRespectsLimit(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)
	for _, url := range []string{"http://x/1.pdf", "http://x/2.pdf", "http://x/3.pdf"} {
		p, err := gw.UpsertPaper(ctx, models.IngestRecord{Title: url, PDFURL: url})
		require.NoError(t, err)
		require.NoError(t, gw.UpdatePaperResult(ctx, p.ID, []byte(scenarioContent)))
	}
	require.NoError(t, gw.SoftDeletePaper(ctx, 1))

	var buf bytes.Buffer
	n, err := NewExportService(gw, zap.NewNop()).Export(ctx, &buf, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2", rows[1][0])
}
