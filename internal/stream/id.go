// Package stream implements the server-side durable coordination for
// resumable response streams: the per-thread active-stream record
// (Coordinator) and the per-turn append-only chunk log (Buffer), both backed
// by the kv store.
package stream

import (
	"fmt"
	"regexp"
	"strconv"
)

// idRE matches the wire format {threadId}_r{round}_p{participant}.
var idRE = regexp.MustCompile(`^(.+)_r(\d+)_p(\d+)$`)

// ID builds the stream identifier for one participant turn.
func ID(threadID string, round, participant int) string {
	return fmt.Sprintf("%s_r%d_p%d", threadID, round, participant)
}

// ParseID splits a stream identifier into its components. The round and
// participant encoded here must agree with the metadata on the message they
// belong to; ParseID is how consumers cross-check that.
func ParseID(id string) (threadID string, round, participant int, err error) {
	m := idRE.FindStringSubmatch(id)
	if m == nil {
		return "", 0, 0, fmt.Errorf("malformed stream id %q", id)
	}
	round, err = strconv.Atoi(m[2])
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed stream id %q: %w", id, err)
	}
	participant, err = strconv.Atoi(m[3])
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed stream id %q: %w", id, err)
	}
	return m[1], round, participant, nil
}
