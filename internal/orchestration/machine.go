package orchestration

import (
	"github.com/sinaneshat/roundtable-backend/internal/domain"
)

// Phase is the machine's view of where the current round stands.
type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhaseWaitingPreSearch      Phase = "waiting_pre_search"
	PhaseStreamingParticipants Phase = "streaming_participants"
	PhaseCreatingAnalysis      Phase = "creating_analysis"
	PhaseStreamingAnalysis     Phase = "streaming_analysis"
	PhaseComplete              Phase = "complete"
	PhaseFailed                Phase = "failed"
)

// Action is the side effect the caller should perform next.
type Action string

const (
	// ActionNone: nothing to do; the round is idle, waiting on an in-flight
	// operation, or finished.
	ActionNone Action = "none"
	// ActionCreatePreSearch: create the round's pre-search record and run the
	// search phase.
	ActionCreatePreSearch Action = "create_pre_search"
	// ActionStreamParticipant: start streaming the participant at
	// Decision.ParticipantIndex.
	ActionStreamParticipant Action = "stream_participant"
	// ActionCreateAnalysis: create the round's analysis record.
	ActionCreateAnalysis Action = "create_analysis"
	// ActionStreamAnalysis: stream the analysis identified by
	// Decision.AnalysisID.
	ActionStreamAnalysis Action = "stream_analysis"
)

// Snapshot is the authoritative state the machine decides from. Callers must
// build it fresh at decision time, never from values captured when an effect
// was registered, so decisions cannot act on a state change that has already
// been superseded within the same scheduling tick.
type Snapshot struct {
	Messages     []domain.Message
	Participants []domain.Participant // enabled roster, ascending index
	PreSearch    []domain.PreSearchRecord
	Analyses     []domain.AnalysisRecord

	// WebSearchEnabled is the current form value for this round, which may
	// diverge from the flag persisted on the thread.
	WebSearchEnabled bool
}

// Decision is the machine's verdict for one evaluation.
type Decision struct {
	Phase            Phase
	Round            int
	Action           Action
	ParticipantIndex int    // valid when Action == ActionStreamParticipant
	AnalysisID       string // valid when Action == ActionStreamAnalysis
}

// Machine evaluates round snapshots into phase/action decisions. Create
// actions consume the session's Guards inside Evaluate, so evaluating the
// same state twice yields the side-effecting action exactly once.
type Machine struct {
	guards *Guards
}

// NewMachine returns a machine bound to the given session guards.
func NewMachine(g *Guards) *Machine {
	if g == nil {
		g = NewGuards()
	}
	return &Machine{guards: g}
}

// Guards exposes the session guard set, e.g. for explicit reset on abandon.
func (m *Machine) Guards() *Guards { return m.guards }

// Reset synchronously clears all idempotency guards. Callers invoke it before
// any asynchronous cleanup when a round is abandoned.
func (m *Machine) Reset() { m.guards.Reset() }

// Evaluate computes the current phase and next action for the round opened by
// the last user message in s.Messages.
func (m *Machine) Evaluate(s Snapshot) Decision {
	round, ok := openRound(s.Messages)
	if !ok {
		return Decision{Phase: PhaseIdle, Action: ActionNone}
	}
	d := Decision{Round: round, Action: ActionNone}

	// Pre-search gate first: no participant may stream while the round's
	// search phase is outstanding.
	if ShouldWaitForPreSearch(s.WebSearchEnabled, s.PreSearch, round) {
		d.Phase = PhaseWaitingPreSearch
		if PreSearchFor(s.PreSearch, round) == nil && m.guards.TryAcquireSearch(round) {
			d.Action = ActionCreatePreSearch
		}
		return d
	}

	total := len(s.Participants)
	if total == 0 {
		d.Phase = PhaseFailed
		return d
	}

	// Walk the roster in ascending index order. The index advances only past
	// participants whose message carries a terminal finish reason; failed is
	// terminal, so one broken participant never stalls the round. Counting is
	// strict equality against the roster size, filtered by this round's
	// number; messages from other rounds are invisible here.
	terminal := 0
	for _, p := range s.Participants {
		msg := participantMessage(s.Messages, round, p.Index)
		switch {
		case msg == nil:
			d.Phase = PhaseStreamingParticipants
			d.Action = ActionStreamParticipant
			d.ParticipantIndex = p.Index
			return d
		case !msg.Terminal():
			// In flight; wait for its finish reason.
			d.Phase = PhaseStreamingParticipants
			return d
		default:
			terminal++
		}
	}
	if terminal != total {
		d.Phase = PhaseStreamingParticipants
		return d
	}

	// All participants terminal: the analysis phase owns the round now.
	return m.evaluateAnalysis(s, d)
}

func (m *Machine) evaluateAnalysis(s Snapshot, d Decision) Decision {
	rec := analysisFor(s.Analyses, d.Round)
	if rec == nil {
		d.Phase = PhaseCreatingAnalysis
		// Triggered exactly once per round, immediately after the last
		// terminal finish reason, with no artificial delay.
		if !m.guards.AnalysisCreated(d.Round) && m.guards.TryAcquireAnalysis(d.Round) {
			d.Action = ActionCreateAnalysis
		}
		return d
	}

	switch rec.Status {
	case domain.StatusPending:
		d.Phase = PhaseCreatingAnalysis
		if m.guards.TryAcquireAnalysisID(rec.ID) {
			d.Action = ActionStreamAnalysis
			d.AnalysisID = rec.ID
		}
	case domain.StatusStreaming:
		d.Phase = PhaseStreamingAnalysis
	case domain.StatusFailed:
		// Failed analysis surfaces as a failed card; the round is over and
		// the user may retry by discarding the record.
		d.Phase = PhaseFailed
	default:
		d.Phase = PhaseComplete
	}
	return d
}

// openRound returns the round of the last user message by position, and
// whether any user message exists at all.
func openRound(messages []domain.Message) (int, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			return messages[i].RoundNumber, true
		}
	}
	return 0, false
}

// participantMessage finds the assistant message for (round, index), filtering
// strictly by the round's own number.
func participantMessage(messages []domain.Message, round, index int) *domain.Message {
	for i := range messages {
		msg := &messages[i]
		if msg.Role != domain.RoleAssistant || msg.RoundNumber != round {
			continue
		}
		if msg.ParticipantIndex != nil && *msg.ParticipantIndex == index {
			return msg
		}
	}
	return nil
}

func analysisFor(records []domain.AnalysisRecord, round int) *domain.AnalysisRecord {
	for i := range records {
		if records[i].RoundNumber == round {
			return &records[i]
		}
	}
	return nil
}
