// Package services – RoundService
//
// This file implements the round pipeline: a submitted turn appends the user
// message, then drives the orchestration machine over fresh database
// snapshots until the round reaches a terminal phase. Every side effect the
// machine requests happens inline: pre-search executes through
// PreSearchService, each participant streams through the configured provider
// into the durable stream buffer, and the moderator analysis runs through
// AnalysisService.
//
// Delivery to the client is a callback (EmitFunc); the HTTP layer renders the
// events as SSE. Crash and disconnect recovery is handled by ResumeService
// over the same durable buffers.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
	"github.com/sinaneshat/roundtable-backend/internal/orchestration"
	"github.com/sinaneshat/roundtable-backend/internal/provider"
	"github.com/sinaneshat/roundtable-backend/internal/repo"
	"github.com/sinaneshat/roundtable-backend/internal/stream"
)

// RoundEvent types delivered to the client during a round.
const (
	EventRoundStart       = "round-start"
	EventPreSearchStart   = "pre-search-start"
	EventPreSearchDone    = "pre-search-done"
	EventParticipantStart = "participant-start"
	EventParticipantDelta = "participant-delta"
	EventParticipantDone  = "participant-done"
	EventParticipantError = "participant-error"
	EventAnalysisStart    = "analysis-start"
	EventAnalysisDelta    = "analysis-delta"
	EventAnalysisDone     = "analysis-done"
	EventAnalysisError    = "analysis-error"
	EventRoundComplete    = "round-complete"
	EventRoundFailed      = "round-failed"
)

// RoundEvent is one unit of progress reported while a round runs.
// ParticipantIndex is a pointer so that participant 0 still serializes: a
// nil index means the event is not about a participant, never "participant
// zero".
type RoundEvent struct {
	Type             string `json:"type"`
	Round            int    `json:"roundNumber"`
	ParticipantIndex *int   `json:"participantIndex,omitempty"`
	MessageID        string `json:"messageId,omitempty"`
	AnalysisID       string `json:"analysisId,omitempty"`
	Delta            string `json:"delta,omitempty"`
	Error            string `json:"error,omitempty"`
}

// eventIndex boxes a participant index for a RoundEvent.
func eventIndex(i int) *int { return &i }

// EmitFunc receives round events in order. Implementations must not block
// indefinitely; a slow client stalls the pipeline.
type EmitFunc func(RoundEvent)

// RoundService drives one round of a roundtable thread end to end.
type RoundService struct {
	DB          *gorm.DB
	Provider    provider.Streamer
	PreSearch   *PreSearchService
	Analysis    *AnalysisService
	Coordinator *stream.Coordinator
	Buffers     *stream.Buffer

	// MaxPromptRunes caps submitted prompts; zero disables the check.
	MaxPromptRunes int
	// MaxTokens bounds each participant reply; zero means provider default.
	MaxTokens int
	// MaxEvaluations caps machine evaluations per turn as a runaway stop.
	MaxEvaluations int

	// Title generation config (first turn only).
	TitleLocale language.Tag
	TitleMaxLen int
}

// SubmitTurn validates and persists the user prompt, then runs the round to a
// terminal phase. The returned round number is the 0-based storage round that
// was executed.
func (s *RoundService) SubmitTurn(ctx context.Context, userID, threadID, prompt string, webSearchOverride *bool, emit EmitFunc) (int, error) {
	tr := otel.Tracer("services/RoundService")
	ctx, span := tr.Start(ctx, "SubmitTurn",
		trace.WithAttributes(
			attribute.String("thread.id", threadID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return 0, ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(prompt) > s.MaxPromptRunes {
		return 0, ErrTooLong
	}

	thread, err := repo.GetThread(ctx, s.DB, threadID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrThreadNotFound
		}
		return 0, err
	}
	roster, err := repo.ListParticipants(ctx, s.DB, threadID)
	if err != nil {
		return 0, err
	}
	if len(roster) == 0 {
		return 0, ErrNoParticipants
	}

	if err := s.rejectInFlight(threadID); err != nil {
		return 0, err
	}

	webSearch := thread.EnableWebSearch
	if webSearchOverride != nil {
		webSearch = *webSearchOverride
	}

	history, err := repo.ListMessages(s.DB.WithContext(ctx), threadID, 0)
	if err != nil {
		return 0, err
	}
	round := orchestration.NextRound(history)

	// Persist the user turn and maybe auto-title in one transaction.
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.CreateUserMessage(tx, threadID, round, prompt); err != nil {
			return err
		}
		if round == 0 && shouldAutoTitle(thread.Title) {
			if gen := s.generateTitle(prompt); gen != "" {
				if uerr := tx.Model(&domain.Thread{}).Where("id = ?", threadID).Update("title", gen).Error; uerr != nil {
					return uerr
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	roundsStarted.Inc()
	emit(RoundEvent{Type: EventRoundStart, Round: round})

	if err := s.run(ctx, thread, roster, round, prompt, webSearch, emit); err != nil {
		return round, err
	}
	return round, nil
}

// rejectInFlight refuses a new turn while another round is live. Stale
// streams (crashed producers) are swept so an abandoned round cannot wedge
// the thread forever.
func (s *RoundService) rejectInFlight(threadID string) error {
	active, err := s.Coordinator.ActiveStream(threadID)
	if err != nil {
		return err
	}
	if active == nil {
		return nil
	}
	if swept, err := s.sweepStale(threadID, active); err != nil {
		return err
	} else if swept {
		return nil
	}
	return ErrRoundInFlight
}

// sweepStale fails every stale buffered stream under the active record and
// reports whether the record was fully retired.
func (s *RoundService) sweepStale(threadID string, active *stream.ActiveStream) (bool, error) {
	for i := 0; i < active.TotalParticipants; i++ {
		sid := stream.ID(threadID, active.RoundNumber, i)
		meta, err := s.Buffers.Meta(sid)
		if err != nil {
			return false, err
		}
		if meta == nil || !s.Buffers.IsStale(meta) {
			continue
		}
		if err := s.failStaleStream(threadID, active.RoundNumber, i, sid); err != nil {
			return false, err
		}
	}
	remaining, err := s.Coordinator.ActiveStream(threadID)
	if err != nil {
		return false, err
	}
	return remaining == nil, nil
}

// failStaleStream retires one abandoned stream: buffer marked failed, the
// participant message sealed with an error finish, coordinator updated.
func (s *RoundService) failStaleStream(threadID string, round, index int, sid string) error {
	log.Warn().
		Str("thread_id", threadID).
		Int("round", round).
		Int("participant", index).
		Msg("failing stale stream")
	if err := s.Buffers.Fail(sid, "stream abandoned"); err != nil {
		return err
	}
	if msg := s.openParticipantMessage(threadID, round, index); msg != nil {
		_ = repo.FinishMessage(s.DB, msg.ID, sealParts(msg.Parts), domain.FinishError)
	}
	_, err := s.Coordinator.UpdateParticipantStatus(threadID, round, index, stream.ParticipantFailed)
	return err
}

// run drives the machine loop until the round terminates.
func (s *RoundService) run(ctx context.Context, thread *domain.Thread, roster []domain.Participant, round int, prompt string, webSearch bool, emit EmitFunc) error {
	machine := orchestration.NewMachine(orchestration.NewGuards())
	guards := machine.Guards()

	maxEvals := s.MaxEvaluations
	if maxEvals <= 0 {
		maxEvals = 64
	}

	for i := 0; i < maxEvals; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		snap, err := s.snapshot(ctx, thread.ID, roster, webSearch)
		if err != nil {
			return err
		}
		d := machine.Evaluate(snap)

		switch d.Action {
		case orchestration.ActionCreatePreSearch:
			emit(RoundEvent{Type: EventPreSearchStart, Round: d.Round})
			rec, err := repo.CreatePreSearch(ctx, s.DB, thread.ID, d.Round)
			if errors.Is(err, repo.ErrDuplicate) {
				continue
			}
			if err != nil {
				guards.ReleaseSearch(d.Round)
				return err
			}
			if err := s.PreSearch.Execute(ctx, rec, prompt); err != nil {
				return err
			}
			emit(RoundEvent{Type: EventPreSearchDone, Round: d.Round})

		case orchestration.ActionStreamParticipant:
			if err := s.streamParticipant(ctx, thread.ID, roster, d.Round, d.ParticipantIndex, emit); err != nil {
				return err
			}

		case orchestration.ActionCreateAnalysis:
			ids := participantMessageIDs(snap.Messages, d.Round)
			_, err := s.Analysis.CreateForRound(ctx, thread.ID, d.Round, ids)
			if errors.Is(err, repo.ErrDuplicate) {
				guards.MarkAnalysisCreated(d.Round)
				continue
			}
			if err != nil {
				guards.ReleaseAnalysis(d.Round)
				return err
			}
			guards.MarkAnalysisCreated(d.Round)

		case orchestration.ActionStreamAnalysis:
			rec, err := repo.GetAnalysis(ctx, s.DB, d.AnalysisID)
			if err != nil {
				return err
			}
			msgs, err := repo.ListRoundMessages(s.DB.WithContext(ctx), thread.ID, d.Round)
			if err != nil {
				return err
			}
			if err := s.Analysis.Stream(ctx, rec, msgs, emit); err != nil {
				return err
			}

		case orchestration.ActionNone:
			switch d.Phase {
			case orchestration.PhaseComplete:
				roundsFinished.WithLabelValues("complete").Inc()
				emit(RoundEvent{Type: EventRoundComplete, Round: d.Round})
				return nil
			case orchestration.PhaseFailed:
				roundsFinished.WithLabelValues("failed").Inc()
				emit(RoundEvent{Type: EventRoundFailed, Round: d.Round})
				return nil
			case orchestration.PhaseIdle:
				// No open round left; nothing more to do.
				return nil
			default:
				// Waiting on an effect owned by another evaluator. All
				// effects run inline here, so this only means a concurrent
				// submission touched the same thread. Yield briefly.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(100 * time.Millisecond):
				}
			}
		}
	}
	return fmt.Errorf("round %d did not terminate after %d evaluations", round, maxEvals)
}

// snapshot loads the machine's decision state fresh from the database.
func (s *RoundService) snapshot(ctx context.Context, threadID string, roster []domain.Participant, webSearch bool) (orchestration.Snapshot, error) {
	msgs, err := repo.ListMessages(s.DB.WithContext(ctx), threadID, 0)
	if err != nil {
		return orchestration.Snapshot{}, err
	}
	searches, err := repo.ListPreSearches(ctx, s.DB, threadID)
	if err != nil {
		return orchestration.Snapshot{}, err
	}
	analyses, err := repo.ListAnalyses(ctx, s.DB, threadID)
	if err != nil {
		return orchestration.Snapshot{}, err
	}
	return orchestration.Snapshot{
		Messages:         msgs,
		Participants:     roster,
		PreSearch:        searches,
		Analyses:         analyses,
		WebSearchEnabled: webSearch,
	}, nil
}

// streamParticipant runs one participant's reply through the provider,
// buffering every delta durably before it is emitted.
func (s *RoundService) streamParticipant(ctx context.Context, threadID string, roster []domain.Participant, round, index int, emit EmitFunc) error {
	p := rosterAt(roster, index)
	if p == nil {
		return fmt.Errorf("participant %d not in roster", index)
	}

	msg, err := repo.CreateParticipantMessage(s.DB, threadID, round, p.Index, p.ID)
	if err != nil {
		return err
	}

	sid := stream.ID(threadID, round, p.Index)
	if err := s.Buffers.Initialize(sid); err != nil {
		return err
	}
	if err := s.Coordinator.SetActiveStream(threadID, sid, round, p.Index, len(roster)); err != nil {
		return err
	}
	emit(RoundEvent{Type: EventParticipantStart, Round: round, ParticipantIndex: eventIndex(p.Index), MessageID: msg.ID})

	req, err := s.participantRequest(ctx, threadID, round, p)
	if err != nil {
		return err
	}

	streamsStarted.WithLabelValues("participant").Inc()
	start := time.Now()
	events, err := s.Provider.Stream(ctx, req)
	if err != nil {
		return s.failParticipant(threadID, round, p.Index, sid, msg, emit, err.Error())
	}

	var text strings.Builder
	finish := domain.FinishStop
	for ev := range events {
		switch ev.Type {
		case provider.EventText, provider.EventReasoning:
			text.WriteString(ev.Text)
			if err := s.Buffers.AppendChunk(sid, ev.Text); err != nil {
				return err
			}
			// The message row tracks the stream so the messages view shows
			// partial content while the participant is still talking.
			msg.Parts = domain.MessageParts{{Type: domain.PartText, State: domain.PartStreaming, Text: text.String()}}
			if err := repo.UpdateMessageParts(s.DB, msg.ID, msg.Parts); err != nil {
				return err
			}
			emit(RoundEvent{Type: EventParticipantDelta, Round: round, ParticipantIndex: eventIndex(p.Index), MessageID: msg.ID, Delta: ev.Text})
		case provider.EventError:
			streamDuration.WithLabelValues("participant").Observe(time.Since(start).Seconds())
			return s.failParticipant(threadID, round, p.Index, sid, msg, emit, ev.Err.Error())
		case provider.EventFinish:
			streamDuration.WithLabelValues("participant").Observe(time.Since(start).Seconds())
			if ev.FinishReason != "" {
				finish = ev.FinishReason
			}
		}
	}

	parts := domain.MessageParts{{Type: domain.PartText, State: domain.PartDone, Text: text.String()}}
	if err := repo.FinishMessage(s.DB, msg.ID, parts, finish); err != nil {
		return err
	}
	if err := s.Buffers.Complete(sid); err != nil {
		return err
	}
	if _, err := s.Coordinator.UpdateParticipantStatus(threadID, round, p.Index, stream.ParticipantCompleted); err != nil {
		return err
	}
	emit(RoundEvent{Type: EventParticipantDone, Round: round, ParticipantIndex: eventIndex(p.Index), MessageID: msg.ID})
	return nil
}

// failParticipant seals a failed participant turn everywhere it is tracked:
// message, buffer, and coordinator. Failed is terminal, so the round advances
// past this participant rather than retrying.
func (s *RoundService) failParticipant(threadID string, round, index int, sid string, msg *domain.Message, emit EmitFunc, cause string) error {
	log.Warn().
		Str("thread_id", threadID).
		Int("round", round).
		Int("participant", index).
		Str("error", cause).
		Msg("participant stream failed")

	parts := sealParts(msg.Parts)
	if err := repo.FinishMessage(s.DB, msg.ID, parts, domain.FinishError); err != nil {
		return err
	}
	if err := s.Buffers.Fail(sid, cause); err != nil {
		return err
	}
	if _, err := s.Coordinator.UpdateParticipantStatus(threadID, round, index, stream.ParticipantFailed); err != nil {
		return err
	}
	emit(RoundEvent{Type: EventParticipantError, Round: round, ParticipantIndex: eventIndex(index), MessageID: msg.ID, Error: cause})
	return nil
}

// participantRequest builds the upstream call for one participant: the
// thread history attributed by speaker, plus search context when the round's
// pre-search completed.
func (s *RoundService) participantRequest(ctx context.Context, threadID string, round int, p *domain.Participant) (provider.Request, error) {
	history, err := repo.ListMessages(s.DB.WithContext(ctx), threadID, 0)
	if err != nil {
		return provider.Request{}, err
	}

	system := p.SystemPrompt
	if system == "" {
		system = fmt.Sprintf("You are the %s in a roundtable discussion.", p.Role)
	}
	if rec, err := repo.GetPreSearch(ctx, s.DB, threadID, round); err == nil &&
		rec.Status == domain.StatusComplete && rec.SearchData != nil && len(rec.SearchData.Results) > 0 {
		system += "\n\nSearch context:\n" + formatSearchContext(rec.SearchData)
	}

	msgs := make([]provider.ChatMessage, 0, len(history))
	for i := range history {
		m := &history[i]
		switch m.Role {
		case domain.RoleUser:
			msgs = append(msgs, provider.ChatMessage{Role: domain.RoleUser, Content: m.Text()})
		case domain.RoleAssistant:
			if m.Text() == "" {
				continue
			}
			if m.ParticipantIndex != nil && *m.ParticipantIndex == p.Index {
				msgs = append(msgs, provider.ChatMessage{Role: domain.RoleAssistant, Content: m.Text()})
			} else {
				idx := -1
				if m.ParticipantIndex != nil {
					idx = *m.ParticipantIndex
				}
				msgs = append(msgs, provider.ChatMessage{
					Role:    domain.RoleUser,
					Content: fmt.Sprintf("Participant %d said: %s", idx, m.Text()),
				})
			}
		}
	}

	return provider.Request{
		Model:     p.Model,
		System:    system,
		Messages:  msgs,
		MaxTokens: s.MaxTokens,
	}, nil
}

// openParticipantMessage finds the unfinished assistant message for one
// participant turn, if any.
func (s *RoundService) openParticipantMessage(threadID string, round, index int) *domain.Message {
	msgs, err := repo.ListRoundMessages(s.DB, threadID, round)
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

// generateTitle derives a concise thread title from the first prompt.
func (s *RoundService) generateTitle(prompt string) string {
	toks := titleWordRE.FindAllString(strings.ToLower(strings.TrimSpace(prompt)), -1)
	if len(toks) == 0 {
		return ""
	}

	locale := s.TitleLocale
	if locale == language.Und {
		locale = language.English
	}
	titleCaser := cases.Title(locale)

	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, titleCaser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	if len(out) == 0 {
		return ""
	}
	title := strings.Join(out, " ")

	max := s.TitleMaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(title) > max {
		title = string([]rune(title)[:max])
	}
	return title
}

// shouldAutoTitle reports whether the current title is a placeholder.
func shouldAutoTitle(current string) bool {
	t := strings.TrimSpace(strings.ToLower(current))
	return t == "" || t == "new roundtable" || t == "untitled"
}

// sealParts marks every non-done part done so a terminal message never
// carries a streaming part.
func sealParts(parts domain.MessageParts) domain.MessageParts {
	out := make(domain.MessageParts, len(parts))
	for i, p := range parts {
		p.State = domain.PartDone
		out[i] = p
	}
	return out
}

// formatSearchContext renders search results as prompt context.
func formatSearchContext(data *domain.SearchData) string {
	var b strings.Builder
	for _, r := range data.Results {
		fmt.Fprintf(&b, "- %s\n", r.Snippet)
	}
	return b.String()
}

// participantMessageIDs collects the ids of a round's terminal assistant
// messages in arrival order.
func participantMessageIDs(messages []domain.Message, round int) []string {
	var out []string
	for i := range messages {
		m := &messages[i]
		if m.RoundNumber == round && m.Role == domain.RoleAssistant && m.Terminal() {
			out = append(out, m.ID)
		}
	}
	return out
}

// rosterAt returns the roster entry with the given participant index.
func rosterAt(roster []domain.Participant, index int) *domain.Participant {
	for i := range roster {
		if roster[i].Index == index {
			return &roster[i]
		}
	}
	return nil
}

// Extract Unicode letters with optional trailing numbers (e.g., "gpt5").
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

// Minimal English stop-words set for compact titles.
var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
}
