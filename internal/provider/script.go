package provider

import "context"

// Script is a deterministic in-memory Streamer used by tests and local
// development. Each call pops the next scripted turn; when the script is
// exhausted the last turn repeats.
type Script struct {
	Turns []ScriptTurn

	calls int
}

// ScriptTurn is one canned response.
type ScriptTurn struct {
	Chunks       []string
	FinishReason string // defaults to "stop"
	Err          error  // when set, the stream fails after Chunks
}

// Stream replays the next scripted turn as an event sequence.
func (s *Script) Stream(ctx context.Context, _ Request) (<-chan Event, error) {
	var turn ScriptTurn
	if len(s.Turns) > 0 {
		i := s.calls
		if i >= len(s.Turns) {
			i = len(s.Turns) - 1
		}
		turn = s.Turns[i]
	}
	s.calls++

	out := make(chan Event, len(turn.Chunks)+1)
	go func() {
		defer close(out)
		for _, c := range turn.Chunks {
			select {
			case out <- Event{Type: EventText, Text: c}:
			case <-ctx.Done():
				out <- Event{Type: EventError, Err: ctx.Err()}
				return
			}
		}
		if turn.Err != nil {
			out <- Event{Type: EventError, Err: turn.Err}
			return
		}
		reason := turn.FinishReason
		if reason == "" {
			reason = "stop"
		}
		out <- Event{Type: EventFinish, FinishReason: reason, Usage: &Usage{TotalTokens: len(turn.Chunks)}}
	}()
	return out, nil
}
