package stream

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sinaneshat/roundtable-backend/internal/kv"
)

// ParticipantStatus is the per-slot state inside an active-stream record.
type ParticipantStatus string

const (
	ParticipantActive    ParticipantStatus = "active"
	ParticipantCompleted ParticipantStatus = "completed"
	ParticipantFailed    ParticipantStatus = "failed"
)

// Terminal reports whether the slot counts toward the finished total.
func (s ParticipantStatus) Terminal() bool {
	return s == ParticipantCompleted || s == ParticipantFailed
}

// ActiveStream is the single thread-level record tracking the in-progress
// round. It exists if and only if at least one participant of the current
// round has not reached a terminal status, and it is the source of truth for
// what a reconnecting client should resume to.
type ActiveStream struct {
	StreamID            string                       `json:"streamId"`
	RoundNumber         int                          `json:"roundNumber"`
	ParticipantIndex    int                          `json:"participantIndex"`
	TotalParticipants   int                          `json:"totalParticipants"`
	CreatedAt           time.Time                    `json:"createdAt"`
	ParticipantStatuses map[string]ParticipantStatus `json:"participantStatuses"`
}

// status returns the slot's status and whether the slot is present at all.
func (a *ActiveStream) status(index int) (ParticipantStatus, bool) {
	s, ok := a.ParticipantStatuses[strconv.Itoa(index)]
	return s, ok
}

// Coordinator persists ActiveStream records in the kv store, one per thread.
// All operations are read-modify-write sequences against a single
// thread-scoped key; the caller serializes them per thread. The record's
// existence is the lock: a participant may only transition a slot it still
// finds active, and a finished round's record is deleted exactly once.
type Coordinator struct {
	store *kv.Store
	now   func() time.Time
}

// NewCoordinator returns a coordinator backed by the given store.
func NewCoordinator(store *kv.Store) *Coordinator {
	return &Coordinator{store: store, now: time.Now}
}

func activeKey(threadID string) string { return "active:" + threadID }

// ActiveStream loads the thread's record, or nil when none exists.
func (c *Coordinator) ActiveStream(threadID string) (*ActiveStream, error) {
	raw, ok, err := c.store.Get(activeKey(threadID))
	if err != nil {
		return nil, fmt.Errorf("load active stream: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var rec ActiveStream
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode active stream: %w", err)
	}
	return &rec, nil
}

// SetActiveStream upserts the thread's record for the given participant turn.
// An existing record for the same round is merged: prior participant statuses
// and CreatedAt are preserved and this participant's slot is marked active. A
// record for a different round is replaced outright with fresh statuses, fresh
// CreatedAt; nothing carries across a round boundary.
func (c *Coordinator) SetActiveStream(threadID, streamID string, round, participantIndex, totalParticipants int) error {
	rec, err := c.ActiveStream(threadID)
	if err != nil {
		return err
	}
	if rec == nil || rec.RoundNumber != round {
		rec = &ActiveStream{
			RoundNumber:         round,
			CreatedAt:           c.now().UTC(),
			ParticipantStatuses: make(map[string]ParticipantStatus),
		}
	}
	rec.StreamID = streamID
	rec.ParticipantIndex = participantIndex
	rec.TotalParticipants = totalParticipants
	rec.ParticipantStatuses[strconv.Itoa(participantIndex)] = ParticipantActive
	return c.save(threadID, rec)
}

// UpdateParticipantStatus marks the given slot completed or failed. When the
// count of terminal slots reaches the recorded total, the record is deleted
// and allFinished is true. With no record for the thread (or a record for a
// different round) it returns false and mutates nothing.
func (c *Coordinator) UpdateParticipantStatus(threadID string, round, participantIndex int, status ParticipantStatus) (allFinished bool, err error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	rec, err := c.ActiveStream(threadID)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.RoundNumber != round {
		return false, nil
	}

	rec.ParticipantStatuses[strconv.Itoa(participantIndex)] = status

	finished := 0
	for _, s := range rec.ParticipantStatuses {
		if s.Terminal() {
			finished++
		}
	}
	if finished >= rec.TotalParticipants {
		// Last participant done: the record disappears atomically with the
		// finish, which is what releases the round for analysis creation.
		return true, c.store.Delete(activeKey(threadID))
	}
	return false, c.save(threadID, rec)
}

// NextParticipantToStream scans the record's slots in ascending index order
// and returns the first index that is active or absent. The second return is
// false when no record exists or every index up to the total is terminal.
func (c *Coordinator) NextParticipantToStream(threadID string) (int, bool, error) {
	rec, err := c.ActiveStream(threadID)
	if err != nil {
		return 0, false, err
	}
	if rec == nil {
		return 0, false, nil
	}
	indices := make([]int, 0, rec.TotalParticipants)
	for i := 0; i < rec.TotalParticipants; i++ {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		s, ok := rec.status(i)
		if !ok || s == ParticipantActive {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// ClearActiveStream unconditionally deletes the thread's record. Used on
// explicit abandonment.
func (c *Coordinator) ClearActiveStream(threadID string) error {
	return c.store.Delete(activeKey(threadID))
}

func (c *Coordinator) save(threadID string, rec *ActiveStream) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode active stream: %w", err)
	}
	return c.store.Set(activeKey(threadID), raw)
}
