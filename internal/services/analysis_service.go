// Package services – AnalysisService
//
// This file implements the moderator analysis phase. Once every participant
// in a round has a terminal finish reason, a single AnalysisRecord is created
// for the round and a moderator model summarizes the participant messages.
// Retry is only possible from the failed state and works by deleting the
// failed row so the normal creation path can run again.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
	"github.com/sinaneshat/roundtable-backend/internal/orchestration"
	"github.com/sinaneshat/roundtable-backend/internal/provider"
	"github.com/sinaneshat/roundtable-backend/internal/repo"
)

// moderatorSystemPrompt frames the analysis call sent upstream.
const moderatorSystemPrompt = "You are the moderator of a roundtable discussion between AI participants. " +
	"Summarize the round: points of agreement, disagreements, and open questions. Be concise."

// AnalysisService owns creation, streaming, and retry of round analyses.
type AnalysisService struct {
	DB       *gorm.DB
	Provider provider.Streamer
	// Model is the moderator model identifier sent upstream.
	Model string
	// MaxTokens bounds the summary length; zero means provider default.
	MaxTokens int
}

// CreateForRound inserts the pending record for a finished round. Callers
// race through the (thread, round) unique index; repo.ErrDuplicate means
// another evaluation already created it.
func (s *AnalysisService) CreateForRound(ctx context.Context, threadID string, round int, participantMessageIDs []string) (*domain.AnalysisRecord, error) {
	return repo.CreateAnalysis(ctx, s.DB, threadID, round, participantMessageIDs)
}

// Get returns an analysis record, verifying thread ownership.
func (s *AnalysisService) Get(ctx context.Context, userID, threadID, analysisID string) (*domain.AnalysisRecord, error) {
	if _, err := repo.GetThread(ctx, s.DB, threadID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	rec, err := repo.GetAnalysis(ctx, s.DB, analysisID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}
	if rec.ThreadID != threadID {
		return nil, ErrAnalysisNotFound
	}
	return rec, nil
}

// Stream runs the moderator model over the round's messages, emitting deltas
// through emit and finalizing the record. Upstream failures mark the record
// failed rather than returning an error; the round machine treats a failed
// analysis as terminal.
func (s *AnalysisService) Stream(ctx context.Context, rec *domain.AnalysisRecord, roundMessages []domain.Message, emit EmitFunc) error {
	tr := otel.Tracer("services/AnalysisService")
	ctx, span := tr.Start(ctx, "Stream",
		trace.WithAttributes(
			attribute.String("thread.id", rec.ThreadID),
			attribute.Int("round.number", rec.RoundNumber),
		),
	)
	defer span.End()

	if err := repo.MarkAnalysisStreaming(ctx, s.DB, rec.ID); err != nil {
		return err
	}
	emit(RoundEvent{Type: EventAnalysisStart, Round: rec.RoundNumber, AnalysisID: rec.ID})

	streamsStarted.WithLabelValues("analysis").Inc()
	start := time.Now()
	events, err := s.Provider.Stream(ctx, provider.Request{
		Model:     s.Model,
		System:    moderatorSystemPrompt,
		Messages:  analysisPromptMessages(roundMessages),
		MaxTokens: s.MaxTokens,
	})
	if err != nil {
		return s.fail(ctx, rec, emit, err.Error())
	}

	var summary strings.Builder
	for ev := range events {
		switch ev.Type {
		case provider.EventText, provider.EventReasoning:
			summary.WriteString(ev.Text)
			emit(RoundEvent{Type: EventAnalysisDelta, Round: rec.RoundNumber, AnalysisID: rec.ID, Delta: ev.Text})
		case provider.EventError:
			streamDuration.WithLabelValues("analysis").Observe(time.Since(start).Seconds())
			return s.fail(ctx, rec, emit, ev.Err.Error())
		case provider.EventFinish:
			streamDuration.WithLabelValues("analysis").Observe(time.Since(start).Seconds())
		}
	}

	if err := repo.CompleteAnalysis(ctx, s.DB, rec.ID, &domain.AnalysisData{Summary: summary.String()}); err != nil {
		return err
	}
	emit(RoundEvent{Type: EventAnalysisDone, Round: rec.RoundNumber, AnalysisID: rec.ID})
	return nil
}

// Retry recreates and re-streams a failed analysis. Only failed records are
// retryable; the delete frees the (thread, round) slot for the new record.
func (s *AnalysisService) Retry(ctx context.Context, userID, threadID, analysisID string, emit EmitFunc) (*domain.AnalysisRecord, error) {
	old, err := s.Get(ctx, userID, threadID, analysisID)
	if err != nil {
		return nil, err
	}
	if old.Status != domain.StatusFailed {
		return nil, ErrAnalysisNotRetryable
	}
	if err := repo.DeleteFailedAnalysis(ctx, s.DB, old.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Another retry got here first.
			return nil, ErrAnalysisNotRetryable
		}
		return nil, err
	}

	rec, err := repo.CreateAnalysis(ctx, s.DB, threadID, old.RoundNumber, old.ParticipantMessageIDs)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrAnalysisNotRetryable
		}
		return nil, err
	}

	msgs, err := repo.ListRoundMessages(s.DB.WithContext(ctx), threadID, old.RoundNumber)
	if err != nil {
		return nil, err
	}
	if err := s.Stream(ctx, rec, msgs, emit); err != nil {
		return nil, err
	}
	return repo.GetAnalysis(ctx, s.DB, rec.ID)
}

// fail finalizes the record as failed and reports it downstream.
func (s *AnalysisService) fail(ctx context.Context, rec *domain.AnalysisRecord, emit EmitFunc, msg string) error {
	log.Warn().
		Str("thread_id", rec.ThreadID).
		Int("round", rec.RoundNumber).
		Str("error", msg).
		Msg("analysis stream failed")
	if err := repo.FailAnalysis(ctx, s.DB, rec.ID, msg); err != nil {
		return err
	}
	emit(RoundEvent{Type: EventAnalysisError, Round: rec.RoundNumber, AnalysisID: rec.ID, Error: msg})
	return nil
}

// analysisPromptMessages flattens the round into moderator input. Participant
// replies are attributed by index so the summary can reference speakers.
func analysisPromptMessages(roundMessages []domain.Message) []provider.ChatMessage {
	out := make([]provider.ChatMessage, 0, len(roundMessages))
	for i := range roundMessages {
		m := &roundMessages[i]
		switch m.Role {
		case domain.RoleUser:
			out = append(out, provider.ChatMessage{
				Role:    domain.RoleUser,
				Content: fmt.Sprintf("%s prompt: %s", orchestration.FormatRound(m.RoundNumber), m.Text()),
			})
		case domain.RoleAssistant:
			idx := -1
			if m.ParticipantIndex != nil {
				idx = *m.ParticipantIndex
			}
			out = append(out, provider.ChatMessage{
				Role:    domain.RoleUser,
				Content: fmt.Sprintf("Participant %d said: %s", idx, m.Text()),
			})
		}
	}
	return out
}
