// Package services – ResumeService
//
// This file implements reconnect recovery. A client that lost its SSE
// connection asks where the thread stands; the answer comes from the durable
// coordinator record and the stream buffers, never from in-process state, so
// it survives server restarts. Staleness is evaluated lazily here: an active
// buffer whose age crossed the threshold is failed on sight, and the
// coordinator record retires when that failure finishes the round.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
	"github.com/sinaneshat/roundtable-backend/internal/repo"
	"github.com/sinaneshat/roundtable-backend/internal/stream"
)

// ResumeState describes the stream a reconnecting client should attach to.
// Chunks already buffered are replayed inline; the client appends them before
// listening for live deltas.
type ResumeState struct {
	StreamID          string   `json:"streamId"`
	RoundNumber       int      `json:"roundNumber"`
	ParticipantIndex  int      `json:"participantIndex"`
	TotalParticipants int      `json:"totalParticipants"`
	Phase             string   `json:"phase"`
	Chunks            []string `json:"chunks,omitempty"`
}

// ResumeService answers "what is this thread streaming right now".
type ResumeService struct {
	DB          *gorm.DB
	Coordinator *stream.Coordinator
	Buffers     *stream.Buffer
}

// Resume returns the resumable stream state for a thread, or nil when no
// round is in flight. A stale buffer is retired on sight (failed buffer,
// sealed message, participant marked failed) and the call reports nothing to
// resume: with no producer running, the client must treat that slot as
// finished with an error rather than attach to a stream nothing feeds.
func (s *ResumeService) Resume(ctx context.Context, userID, threadID string) (*ResumeState, error) {
	tr := otel.Tracer("services/ResumeService")
	ctx, span := tr.Start(ctx, "Resume",
		trace.WithAttributes(attribute.String("thread.id", threadID)),
	)
	defer span.End()

	if _, err := repo.GetThread(ctx, s.DB, threadID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}

	active, err := s.Coordinator.ActiveStream(threadID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		resumeRequests.WithLabelValues("none").Inc()
		return nil, nil
	}

	index, ok, err := s.Coordinator.NextParticipantToStream(threadID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Every slot terminal but the record still present; retire it.
		if err := s.Coordinator.ClearActiveStream(threadID); err != nil {
			return nil, err
		}
		resumeRequests.WithLabelValues("none").Inc()
		return nil, nil
	}

	sid := stream.ID(threadID, active.RoundNumber, index)
	meta, err := s.Buffers.Meta(sid)
	if err != nil {
		return nil, err
	}

	if meta != nil && s.Buffers.IsStale(meta) {
		if err := s.retireStale(ctx, threadID, active.RoundNumber, index, sid); err != nil {
			return nil, err
		}
		resumeRequests.WithLabelValues("stale").Inc()
		// No active stream to offer: nothing is producing after the
		// abandonment, so the slot reads as finished with an error.
		return nil, nil
	}

	state := &ResumeState{
		StreamID:          sid,
		RoundNumber:       active.RoundNumber,
		ParticipantIndex:  index,
		TotalParticipants: active.TotalParticipants,
		Phase:             "participant",
	}
	if meta != nil {
		chunks, err := s.Buffers.Chunks(sid)
		if err != nil {
			return nil, err
		}
		state.Chunks = chunks
	}
	resumeRequests.WithLabelValues("live").Inc()
	return state, nil
}

// retireStale fails an abandoned stream and seals its message.
func (s *ResumeService) retireStale(ctx context.Context, threadID string, round, index int, sid string) error {
	log.Warn().
		Str("thread_id", threadID).
		Int("round", round).
		Int("participant", index).
		Msg("retiring stale stream on resume")

	if err := s.Buffers.Fail(sid, "stream abandoned"); err != nil {
		return err
	}
	if msg := s.openMessage(ctx, threadID, round, index); msg != nil {
		_ = repo.FinishMessage(s.DB, msg.ID, sealParts(msg.Parts), domain.FinishError)
	}
	_, err := s.Coordinator.UpdateParticipantStatus(threadID, round, index, stream.ParticipantFailed)
	return err
}

// openMessage finds the unfinished assistant message for one slot, if any.
func (s *ResumeService) openMessage(ctx context.Context, threadID string, round, index int) *domain.Message {
	msgs, err := repo.ListRoundMessages(s.DB.WithContext(ctx), threadID, round)
	if err != nil {
		return nil
	}
	for i := range msgs {
		m := &msgs[i]
		if m.Role == domain.RoleAssistant && m.ParticipantIndex != nil && *m.ParticipantIndex == index && !m.Terminal() {
			return m
		}
	}
	return nil
}
