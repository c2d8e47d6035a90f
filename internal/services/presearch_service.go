// Package services – PreSearchService
//
// This file implements the optional web-search phase that runs before the
// first participant of a round streams. The service owns the lifecycle of a
// PreSearchRecord: it advances the record to streaming, executes the
// configured Searcher, and finalizes the record as complete or failed. A
// failed search never blocks the round; participants proceed without search
// context.
package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
	"github.com/sinaneshat/roundtable-backend/internal/repo"
	"github.com/sinaneshat/roundtable-backend/internal/search"
)

// Searcher retrieves supporting context for a round's user prompt.
type Searcher interface {
	Search(ctx context.Context, query string) (*domain.SearchData, error)
}

// IndexSearcher answers search queries from a local search.Index corpus. It
// stands in for a remote web-search API and keeps the pipeline fully
// exercisable offline.
type IndexSearcher struct {
	Index search.Index
	// TopK bounds the number of returned snippets.
	TopK int
}

// Search ranks corpus snippets against the query.
func (s *IndexSearcher) Search(ctx context.Context, query string) (*domain.SearchData, error) {
	k := s.TopK
	if k <= 0 {
		k = 5
	}
	data := &domain.SearchData{Query: query}
	if s.Index == nil {
		return data, nil
	}
	for _, r := range s.Index.TopK(query, k) {
		title := r.Section
		if title == "" {
			title = snippetTitle(r.Snippet)
		}
		data.Results = append(data.Results, domain.SearchResult{
			Title:   title,
			Snippet: r.Snippet,
			Score:   r.Score,
		})
	}
	return data, nil
}

// snippetTitle derives a short title from the first words of a snippet.
func snippetTitle(snippet string) string {
	words := strings.Fields(snippet)
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}

// PreSearchService executes the pre-search phase for one round.
type PreSearchService struct {
	DB       *gorm.DB
	Searcher Searcher
}

// Execute runs the search for an existing pending record and finalizes it.
// Errors from the Searcher are absorbed into a failed record: the round gate
// must release either way.
func (s *PreSearchService) Execute(ctx context.Context, rec *domain.PreSearchRecord, query string) error {
	tr := otel.Tracer("services/PreSearchService")
	ctx, span := tr.Start(ctx, "Execute",
		trace.WithAttributes(
			attribute.String("thread.id", rec.ThreadID),
			attribute.Int("round.number", rec.RoundNumber),
		),
	)
	defer span.End()

	if err := repo.MarkPreSearchStreaming(ctx, s.DB, rec.ID); err != nil {
		return err
	}

	data, err := s.Searcher.Search(ctx, query)
	if err != nil {
		log.Warn().Err(err).
			Str("thread_id", rec.ThreadID).
			Int("round", rec.RoundNumber).
			Msg("pre-search failed; releasing round gate")
		return repo.FailPreSearch(ctx, s.DB, rec.ID, err.Error())
	}
	return repo.CompletePreSearch(ctx, s.DB, rec.ID, data)
}
