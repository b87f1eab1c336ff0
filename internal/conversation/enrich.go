// ABOUTME: Context Enricher fans out web search and file extraction concurrently
// ABOUTME: Provider failures degrade to empty context plus a warning, never an error

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/2389/querynox/internal/metrics"
)

var (
	errSearchUnavailable     = errors.New("web search is not configured")
	errExtractionUnavailable = errors.New("file extraction is not configured")
)

// Enricher gathers best-effort context for a prompt.
type Enricher struct {
	searcher  Searcher
	extractor Extractor
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewEnricher creates an Enricher. Either provider may be nil, in which case
// requests for that source degrade with a warning.
func NewEnricher(searcher Searcher, extractor Extractor, m *metrics.Metrics, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		searcher:  searcher,
		extractor: extractor,
		metrics:   m,
		logger:    logger.With("component", "enricher"),
	}
}

// Enrich runs the requested lookups concurrently and joins their output as
// search result then extraction result, regardless of completion order.
func (e *Enricher) Enrich(ctx context.Context, req EnrichRequest) Enrichment {
	var (
		g                    errgroup.Group
		searchText, fileText string
		searchErr, fileErr   error
	)

	if req.WebSearch {
		g.Go(func() error {
			searchText, searchErr = e.search(ctx, req.Prompt)
			return nil
		})
	}
	if len(req.Files) > 0 {
		g.Go(func() error {
			fileText, fileErr = e.extract(ctx, req.Prompt, req.Files)
			return nil
		})
	}
	_ = g.Wait()

	var out Enrichment
	if req.WebSearch {
		if searchErr != nil {
			out.Warnings = append(out.Warnings, e.absorb(SourceWebSearch, searchErr))
		} else {
			out.Context += searchText
		}
	}
	if len(req.Files) > 0 {
		if fileErr != nil {
			out.Warnings = append(out.Warnings, e.absorb(SourceFiles, fileErr))
		} else {
			out.Context += fileText
		}
	}
	return out
}

func (e *Enricher) search(ctx context.Context, prompt string) (text string, err error) {
	if e.searcher == nil {
		return "", errSearchUnavailable
	}
	defer recoverProvider(&err)
	return e.searcher.Search(ctx, prompt)
}

func (e *Enricher) extract(ctx context.Context, prompt string, files []File) (text string, err error) {
	if e.extractor == nil {
		return "", errExtractionUnavailable
	}
	defer recoverProvider(&err)
	return e.extractor.Extract(ctx, prompt, files)
}

// recoverProvider turns a provider panic into an error so one source cannot
// take down the request.
func recoverProvider(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("provider panic: %v", r)
	}
}

func (e *Enricher) absorb(source string, err error) Warning {
	e.logger.Warn("enrichment source failed, continuing without it",
		"source", source,
		"error", err)
	e.metrics.RecordEnrichmentFailure(source)

	var msg string
	switch source {
	case SourceWebSearch:
		msg = fmt.Sprintf("Web search failed: %v. Continuing without search results.", err)
	default:
		msg = fmt.Sprintf("File processing failed: %v. Continuing without file context.", err)
	}
	return Warning{Source: source, Message: msg}
}
