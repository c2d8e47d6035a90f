package domain

import "testing"

func TestRecordStatusTerminal(t *testing.T) {
	cases := map[RecordStatus]bool{
		StatusPending:   false,
		StatusStreaming: false,
		StatusComplete:  true,
		StatusFailed:    true,
	}
	for s, want := range cases {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestMessageTerminal(t *testing.T) {
	m := &Message{}
	if m.Terminal() {
		t.Fatal("message without finish reason must not be terminal")
	}
	for _, fr := range []string{FinishStop, FinishLength, FinishError} {
		reason := fr
		m.FinishReason = &reason
		if !m.Terminal() {
			t.Fatalf("finish reason %q should be terminal", fr)
		}
	}
}

func TestMessageText_ConcatenatesTextPartsOnly(t *testing.T) {
	m := &Message{Parts: MessageParts{
		{Type: PartReasoning, State: PartDone, Text: "thinking..."},
		{Type: PartText, State: PartDone, Text: "Hello, "},
		{Type: PartText, State: PartStreaming, Text: "world"},
	}}
	if got := m.Text(); got != "Hello, world" {
		t.Fatalf("Text() = %q, want %q", got, "Hello, world")
	}
	if got := (&Message{}).Text(); got != "" {
		t.Fatalf("empty message Text() = %q", got)
	}
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		Thread{}.TableName():          "threads",
		Participant{}.TableName():     "participants",
		Message{}.TableName():         "messages",
		PreSearchRecord{}.TableName(): "pre_search_records",
		AnalysisRecord{}.TableName():  "analysis_records",
		Idempotency{}.TableName():     "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("table name %q, want %q", got, want)
		}
	}
}
