package orchestration

import (
	"testing"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
)

func userMsg(round int) domain.Message {
	return domain.Message{Role: domain.RoleUser, RoundNumber: round}
}

func assistantMsg(round, index int, finish string) domain.Message {
	m := domain.Message{Role: domain.RoleAssistant, RoundNumber: round, ParticipantIndex: &index}
	if finish != "" {
		m.FinishReason = &finish
	}
	return m
}

func TestCurrentRound_Empty(t *testing.T) {
	if got := CurrentRound(nil); got != 0 {
		t.Fatalf("CurrentRound(nil) = %d, want 0", got)
	}
}

func TestCurrentRound_LastUserByPosition(t *testing.T) {
	// A retried user message for round 1 arrives after round 2's artifacts;
	// position wins over the maximum round number present.
	msgs := []domain.Message{
		userMsg(0),
		assistantMsg(0, 0, domain.FinishStop),
		userMsg(2),
		assistantMsg(2, 0, domain.FinishStop),
		userMsg(1),
	}
	if got := CurrentRound(msgs); got != 1 {
		t.Fatalf("CurrentRound = %d, want 1 (last user by position, not max)", got)
	}
}

func TestCurrentRound_IgnoresTrailingAssistant(t *testing.T) {
	msgs := []domain.Message{
		userMsg(3),
		assistantMsg(3, 0, ""),
	}
	if got := CurrentRound(msgs); got != 3 {
		t.Fatalf("CurrentRound = %d, want 3", got)
	}
}

func TestNextRound(t *testing.T) {
	if got := NextRound(nil); got != 0 {
		t.Fatalf("NextRound(nil) = %d, want 0", got)
	}

	// After round r's user+participants, next is exactly r+1.
	msgs := []domain.Message{
		userMsg(0),
		assistantMsg(0, 0, domain.FinishStop),
		assistantMsg(0, 1, domain.FinishStop),
	}
	if got := NextRound(msgs); got != 1 {
		t.Fatalf("NextRound = %d, want 1", got)
	}

	msgs = append(msgs, userMsg(1), assistantMsg(1, 0, domain.FinishStop))
	if got := NextRound(msgs); got != 2 {
		t.Fatalf("NextRound = %d, want 2", got)
	}
}

func TestDisplayRound(t *testing.T) {
	cases := map[int]int{0: 1, 1: 2, 99: 100}
	for in, want := range cases {
		if got := DisplayRound(in); got != want {
			t.Fatalf("DisplayRound(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestFormatRound(t *testing.T) {
	if got := FormatRound(0); got != "Round 1" {
		t.Fatalf("FormatRound(0) = %q, want %q", got, "Round 1")
	}
	if got := FormatRound(99); got != "Round 100" {
		t.Fatalf("FormatRound(99) = %q, want %q", got, "Round 100")
	}
}
