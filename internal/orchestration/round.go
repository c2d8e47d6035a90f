// Package orchestration implements the round pipeline logic for roundtable
// conversations: round arithmetic over message history, the pre-search gate,
// per-session idempotency guards, and the state machine that decides the next
// pipeline action from a fresh snapshot of authoritative state.
//
// Everything in this package is pure computation over in-memory values; it
// performs no I/O and holds no references to the persistence or transport
// layers.
package orchestration

import (
	"fmt"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
)

// CurrentRound returns the round number of the last user message in arrival
// order. Position is authoritative over value: a retried or out-of-order user
// message must not make the counter jump to the maximum round present.
// An empty history yields 0.
func CurrentRound(messages []domain.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			return messages[i].RoundNumber
		}
	}
	return 0
}

// NextRound returns max(round) over all messages plus one, i.e. the round a
// newly submitted user turn belongs to. An empty history yields 0.
func NextRound(messages []domain.Message) int {
	if len(messages) == 0 {
		return 0
	}
	max := -1
	for i := range messages {
		if messages[i].RoundNumber > max {
			max = messages[i].RoundNumber
		}
	}
	return max + 1
}

// DisplayRound converts a 0-based storage round to its 1-based display form.
// This is the single conversion boundary between the two numbering schemes;
// nothing downstream may add another +1.
func DisplayRound(n int) int { return n + 1 }

// FormatRound renders a storage round number for display, e.g. 0 → "Round 1".
func FormatRound(n int) string {
	return fmt.Sprintf("Round %d", DisplayRound(n))
}
