package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sinaneshat/roundtable-backend/internal/kv"
)

// StaleAfter is how long an active buffer may sit without completing before a
// resume attempt treats it as dead. The boundary is inclusive: exactly
// StaleAfter old counts as stale. Staleness is evaluated lazily on resume,
// never by a background timer.
const StaleAfter = 30 * time.Second

// BufferStatus is the lifecycle of one chunk log.
type BufferStatus string

const (
	BufferActive    BufferStatus = "active"
	BufferCompleted BufferStatus = "completed"
	BufferFailed    BufferStatus = "failed"
)

// BufferMeta is the metadata record stored alongside a stream's chunk log.
type BufferMeta struct {
	StreamID     string       `json:"streamId"`
	Status       BufferStatus `json:"status"`
	CreatedAt    time.Time    `json:"createdAt"`
	CompletedAt  *time.Time   `json:"completedAt,omitempty"`
	ChunkCount   int          `json:"chunkCount"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

// ErrorChunk is the synthetic chunk appended by Fail so replay consumers can
// tell a failed stream from a merely truncated one.
type ErrorChunk struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Buffer persists per-turn chunk logs in the kv store. The log is append-only
// and bounded by one participant turn's output; there is no compaction.
type Buffer struct {
	store *kv.Store
	now   func() time.Time
}

// NewBuffer returns a buffer backed by the given store.
func NewBuffer(store *kv.Store) *Buffer {
	return &Buffer{store: store, now: time.Now}
}

func metaKey(streamID string) string { return "buf:" + streamID + ":meta" }

func chunkKey(streamID string, n int) string {
	// Zero-padded so lexicographic key order is append order.
	return fmt.Sprintf("buf:%s:chunk:%010d", streamID, n)
}

// Initialize creates an empty active buffer for streamID.
func (b *Buffer) Initialize(streamID string) error {
	meta := BufferMeta{
		StreamID:  streamID,
		Status:    BufferActive,
		CreatedAt: b.now().UTC(),
	}
	return b.saveMeta(&meta)
}

// Meta loads the buffer metadata, or nil when the stream has no buffer.
func (b *Buffer) Meta(streamID string) (*BufferMeta, error) {
	raw, ok, err := b.store.Get(metaKey(streamID))
	if err != nil {
		return nil, fmt.Errorf("load buffer meta: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var meta BufferMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode buffer meta: %w", err)
	}
	return &meta, nil
}

// AppendChunk pushes one raw chunk onto the log and bumps the count.
func (b *Buffer) AppendChunk(streamID, chunk string) error {
	meta, err := b.Meta(streamID)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("append to uninitialized stream %q", streamID)
	}
	if err := b.store.Set(chunkKey(streamID, meta.ChunkCount), []byte(chunk)); err != nil {
		return fmt.Errorf("append chunk: %w", err)
	}
	meta.ChunkCount++
	return b.saveMeta(meta)
}

// Complete marks the buffer terminally successful.
func (b *Buffer) Complete(streamID string) error {
	return b.finish(streamID, BufferCompleted, "")
}

// Fail marks the buffer terminally failed and appends a synthetic error chunk
// so replay consumers can distinguish truncation from failure.
func (b *Buffer) Fail(streamID, message string) error {
	meta, err := b.Meta(streamID)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("fail uninitialized stream %q", streamID)
	}
	raw, err := json.Marshal(ErrorChunk{Type: "error", Message: message})
	if err != nil {
		return err
	}
	if err := b.store.Set(chunkKey(streamID, meta.ChunkCount), raw); err != nil {
		return fmt.Errorf("append error chunk: %w", err)
	}
	meta.ChunkCount++
	meta.Status = BufferFailed
	meta.ErrorMessage = message
	done := b.now().UTC()
	meta.CompletedAt = &done
	return b.saveMeta(meta)
}

// IsStale reports whether an active buffer has aged past StaleAfter. Terminal
// buffers are never stale.
func (b *Buffer) IsStale(meta *BufferMeta) bool {
	if meta == nil || meta.Status != BufferActive {
		return false
	}
	return b.now().Sub(meta.CreatedAt) >= StaleAfter
}

// Chunks returns the buffered chunks in append order.
func (b *Buffer) Chunks(streamID string) ([]string, error) {
	var out []string
	err := b.store.IteratePrefix("buf:"+streamID+":chunk:", func(_ string, val []byte) error {
		out = append(out, string(val))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}
	return out, nil
}

// Discard removes the buffer's metadata and chunk log entirely.
func (b *Buffer) Discard(streamID string) error {
	return b.store.DeletePrefix("buf:" + streamID + ":")
}

func (b *Buffer) finish(streamID string, status BufferStatus, message string) error {
	meta, err := b.Meta(streamID)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("finish uninitialized stream %q", streamID)
	}
	meta.Status = status
	meta.ErrorMessage = message
	done := b.now().UTC()
	meta.CompletedAt = &done
	return b.saveMeta(meta)
}

func (b *Buffer) saveMeta(meta *BufferMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode buffer meta: %w", err)
	}
	return b.store.Set(metaKey(meta.StreamID), raw)
}
