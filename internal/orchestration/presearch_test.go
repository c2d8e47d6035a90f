package orchestration

import (
	"testing"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
)

func rec(round int, status domain.RecordStatus) domain.PreSearchRecord {
	return domain.PreSearchRecord{RoundNumber: round, Status: status}
}

func TestShouldWaitForPreSearch_DisabledNeverWaits(t *testing.T) {
	records := []domain.PreSearchRecord{
		rec(0, domain.StatusPending),
		rec(1, domain.StatusStreaming),
	}
	for round := 0; round < 3; round++ {
		if ShouldWaitForPreSearch(false, records, round) {
			t.Fatalf("round %d: disabled search must never wait", round)
		}
	}
	if ShouldWaitForPreSearch(false, nil, 2) {
		t.Fatal("disabled search with no records must not wait")
	}
}

func TestShouldWaitForPreSearch_NoRecordWaits(t *testing.T) {
	if !ShouldWaitForPreSearch(true, nil, 0) {
		t.Fatal("enabled with no record must wait (record still to be created)")
	}
	// A record for another round does not satisfy this round.
	if !ShouldWaitForPreSearch(true, []domain.PreSearchRecord{rec(0, domain.StatusComplete)}, 1) {
		t.Fatal("record for round 0 must not release round 1's gate")
	}
}

func TestShouldWaitForPreSearch_ByStatus(t *testing.T) {
	cases := []struct {
		status domain.RecordStatus
		wait   bool
	}{
		{domain.StatusPending, true},
		{domain.StatusStreaming, true},
		{domain.StatusComplete, false},
		{domain.StatusFailed, false}, // failure is non-blocking
	}
	for _, tc := range cases {
		got := ShouldWaitForPreSearch(true, []domain.PreSearchRecord{rec(2, tc.status)}, 2)
		if got != tc.wait {
			t.Fatalf("status %s: wait = %v, want %v", tc.status, got, tc.wait)
		}
	}
}

func TestShouldWaitForPreSearch_CompleteNeverReverts(t *testing.T) {
	records := []domain.PreSearchRecord{rec(0, domain.StatusComplete)}
	for i := 0; i < 5; i++ {
		if ShouldWaitForPreSearch(true, records, 0) {
			t.Fatal("a complete record must keep the gate open")
		}
	}
}

func TestPreSearchFor(t *testing.T) {
	records := []domain.PreSearchRecord{rec(0, domain.StatusComplete), rec(2, domain.StatusPending)}
	if got := PreSearchFor(records, 2); got == nil || got.RoundNumber != 2 {
		t.Fatalf("PreSearchFor(2) = %+v, want round 2 record", got)
	}
	if got := PreSearchFor(records, 1); got != nil {
		t.Fatalf("PreSearchFor(1) = %+v, want nil", got)
	}
}
