package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/2389/querynox/internal/config"
	"github.com/2389/querynox/internal/conversation"
)

func newTestExtractor(maxChars int) *Extractor {
	return New(config.ExtractionConfig{MaxCharsPerFile: maxChars, MaxFileBytes: 1 << 20}, nil)
}

func workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetCellValue("Sheet1", "A1", "region"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "sales"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "north"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 42))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestExtract_Markdown(t *testing.T) {
	src := "# Title\n\nSome **bold** text and `code`.\n\n- first\n- second\n\n```go\nfmt.Println(1)\n```\n"

	got := markdownText([]byte(src))

	assert.Contains(t, got, "Title\n")
	assert.Contains(t, got, "Some bold text and code.")
	assert.Contains(t, got, "- first\n")
	assert.Contains(t, got, "- second")
	assert.Contains(t, got, "fmt.Println(1)")
	assert.NotContains(t, got, "**")
	assert.NotContains(t, got, "```")
}

func TestExtract_Spreadsheet(t *testing.T) {
	got, err := spreadsheetText(workbook(t))
	require.NoError(t, err)

	assert.Contains(t, got, "Sheet: Sheet1")
	assert.Contains(t, got, "region\tsales")
	assert.Contains(t, got, "north\t42")
}

func TestExtract_SpreadsheetCorrupt(t *testing.T) {
	_, err := spreadsheetText([]byte("definitely not a zip"))
	assert.Error(t, err)
}

func TestExtract_MixedFiles(t *testing.T) {
	e := newTestExtractor(1000)
	files := []conversation.File{
		{Name: "notes.md", Data: []byte("# Notes\n\nRemember the milk.")},
		{Name: "report.xlsx", Data: workbook(t)},
		{Name: "data.csv", ContentType: "text/csv", Data: []byte("a,b\n1,2\n")},
		{Name: "scan.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
	}

	got, err := e.Extract(context.Background(), "summarize", files)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, ContextHeader))
	assert.Contains(t, got, "--- notes.md ---\nNotes\nRemember the milk.")
	assert.Contains(t, got, "--- report.xlsx ---")
	assert.Contains(t, got, "--- data.csv ---\na,b\n1,2")
	assert.Contains(t, got, "[scan.pdf: unsupported file type, skipped]")

	// Sections appear in upload order
	assert.Less(t, strings.Index(got, "notes.md"), strings.Index(got, "report.xlsx"))
	assert.Less(t, strings.Index(got, "report.xlsx"), strings.Index(got, "data.csv"))
}

func TestExtract_DuplicateContentCollapsed(t *testing.T) {
	e := newTestExtractor(1000)
	files := []conversation.File{
		{Name: "a.txt", Data: []byte("same bytes")},
		{Name: "b.txt", Data: []byte("same bytes")},
	}

	got, err := e.Extract(context.Background(), "", files)
	require.NoError(t, err)
	assert.Contains(t, got, "--- a.txt ---")
	assert.NotContains(t, got, "b.txt")
}

func TestExtract_TruncatesPerFile(t *testing.T) {
	e := newTestExtractor(5)

	got, err := e.Extract(context.Background(), "", []conversation.File{
		{Name: "long.txt", Data: []byte("héllo world")},
	})
	require.NoError(t, err)
	assert.Contains(t, got, "--- long.txt ---\nhéllo\n[truncated]")
}

func TestExtract_NoUsableText(t *testing.T) {
	e := newTestExtractor(100)

	tests := []struct {
		name  string
		files []conversation.File
	}{
		{"only unsupported", []conversation.File{{Name: "photo.png", ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}}},
		{"invalid utf8", []conversation.File{{Name: "bad.txt", Data: []byte{0xff, 0xfe, 0xfd}}}},
		{"corrupt workbook", []conversation.File{{Name: "broken.xlsx", Data: []byte("nope")}}},
		{"no files", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(context.Background(), "", tt.files)
			assert.True(t, errors.Is(err, ErrNoText), "got %v", err)
		})
	}
}

func TestExtract_OversizedFileSkipped(t *testing.T) {
	e := New(config.ExtractionConfig{MaxCharsPerFile: 100, MaxFileBytes: 4}, nil)

	got, err := e.Extract(context.Background(), "", []conversation.File{
		{Name: "big.txt", Data: []byte("too large")},
		{Name: "ok.txt", Data: []byte("tiny")},
	})
	require.NoError(t, err)
	assert.Contains(t, got, "[big.txt: skipped, larger than 4 bytes]")
	assert.Contains(t, got, "--- ok.txt ---\ntiny")
}

func TestExtract_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestExtractor(100).Extract(ctx, "", []conversation.File{{Name: "a.txt", Data: []byte("x")}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name, contentType string
		want              kind
	}{
		{"README.MD", "", kindMarkdown},
		{"upload", "text/markdown; charset=utf-8", kindMarkdown},
		{"book.xlsx", "", kindSpreadsheet},
		{"payload", "application/json", kindPlain},
		{"notes", "text/plain", kindPlain},
		{"config.yaml", "application/octet-stream", kindPlain},
		{"scan.pdf", "application/pdf", kindUnsupported},
		{"image.jpg", "image/jpeg", kindUnsupported},
	}
	for _, tt := range tests {
		if got := classify(tt.name, tt.contentType); got != tt.want {
			t.Errorf("classify(%q, %q) = %v, want %v", tt.name, tt.contentType, got, tt.want)
		}
	}
}
