// ABOUTME: Text extraction from uploaded files for prompt context
// ABOUTME: Handles markdown, xlsx spreadsheets and plain text; skips unsupported types with a note

package extract

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"

	"github.com/2389/querynox/internal/config"
	"github.com/2389/querynox/internal/conversation"
)

// ContextHeader prefixes every extraction blob.
const ContextHeader = "\n\nContext from uploaded files:\n"

// ErrNoText is returned when none of the files produced any text.
var ErrNoText = errors.New("no text could be extracted from the uploaded files")

type kind int

const (
	kindUnsupported kind = iota
	kindPlain
	kindMarkdown
	kindSpreadsheet
)

// Extractor turns uploaded files into a context blob.
type Extractor struct {
	maxChars int
	maxBytes int64
	logger   *slog.Logger
}

// New creates an Extractor with the configured limits.
func New(cfg config.ExtractionConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	maxChars := cfg.MaxCharsPerFile
	if maxChars <= 0 {
		maxChars = config.DefaultMaxCharsPerFile
	}
	maxBytes := cfg.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = config.DefaultMaxFileBytes
	}
	return &Extractor{
		maxChars: maxChars,
		maxBytes: maxBytes,
		logger:   logger.With("component", "extract"),
	}
}

// Extract returns the text of files, one section per distinct file.
// Files with identical content are included once.
func (e *Extractor) Extract(ctx context.Context, prompt string, files []conversation.File) (string, error) {
	var (
		sb        strings.Builder
		extracted int
		seen      = make(map[string]string, len(files))
	)
	sb.WriteString(ContextHeader)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		sum := fingerprint(f.Data)
		if first, dup := seen[sum]; dup {
			e.logger.Debug("skipping duplicate upload", "file", f.Name, "duplicate_of", first)
			continue
		}
		seen[sum] = f.Name

		if int64(len(f.Data)) > e.maxBytes {
			fmt.Fprintf(&sb, "[%s: skipped, larger than %d bytes]\n", f.Name, e.maxBytes)
			continue
		}

		text, err := e.extractFile(f)
		if err != nil {
			e.logger.Warn("file extraction failed", "file", f.Name, "error", err)
			fmt.Fprintf(&sb, "[%s: could not be read]\n", f.Name)
			continue
		}
		if text == "" {
			fmt.Fprintf(&sb, "[%s: unsupported file type, skipped]\n", f.Name)
			continue
		}

		fmt.Fprintf(&sb, "--- %s ---\n%s\n", f.Name, truncate(text, e.maxChars))
		extracted++
	}

	if extracted == 0 {
		return "", ErrNoText
	}
	return sb.String(), nil
}

func (e *Extractor) extractFile(f conversation.File) (string, error) {
	switch classify(f.Name, f.ContentType) {
	case kindMarkdown:
		return markdownText(f.Data), nil
	case kindSpreadsheet:
		return spreadsheetText(f.Data)
	case kindPlain:
		if !utf8.Valid(f.Data) {
			return "", errors.New("not valid UTF-8 text")
		}
		return strings.TrimSpace(string(f.Data)), nil
	default:
		return "", nil
	}
}

func classify(name, contentType string) kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return kindMarkdown
	case ".xlsx":
		return kindSpreadsheet
	case ".txt", ".csv", ".tsv", ".json", ".log", ".yaml", ".yml":
		return kindPlain
	}

	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch {
	case ct == "text/markdown":
		return kindMarkdown
	case ct == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return kindSpreadsheet
	case strings.HasPrefix(ct, "text/"), ct == "application/json":
		return kindPlain
	}
	return kindUnsupported
}

func fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "\n[truncated]"
}
