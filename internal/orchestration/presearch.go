package orchestration

import "github.com/sinaneshat/roundtable-backend/internal/domain"

// ShouldWaitForPreSearch reports whether participant streaming for the given
// round must wait on the web-search phase.
//
// Semantics:
//   - webSearchEnabled is the current form value, not the value persisted on
//     the thread at round creation; the two may diverge and the form wins.
//     Disabling is an immediate, round-scoped override: never wait.
//   - Enabled with no record for the round: wait: the record still has to be
//     created.
//   - Enabled with a pending/streaming record: wait.
//   - Enabled with a complete or failed record: do not wait. Failure releases
//     the gate so a broken search can never deadlock the conversation.
func ShouldWaitForPreSearch(webSearchEnabled bool, records []domain.PreSearchRecord, roundNumber int) bool {
	if !webSearchEnabled {
		return false
	}
	for i := range records {
		if records[i].RoundNumber != roundNumber {
			continue
		}
		return !records[i].Status.Terminal()
	}
	// No record for this round yet.
	return true
}

// PreSearchFor returns the round's record, or nil when none exists.
func PreSearchFor(records []domain.PreSearchRecord, roundNumber int) *domain.PreSearchRecord {
	for i := range records {
		if records[i].RoundNumber == roundNumber {
			return &records[i]
		}
	}
	return nil
}
