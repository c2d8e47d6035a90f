package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sinaneshat/roundtable-backend/internal/provider"
	"github.com/sinaneshat/roundtable-backend/internal/repo"
)

func TestIdempotency_StoreAndReplay(t *testing.T) {
	pl := newPipeline(t, &provider.Script{})
	th := pl.seedThread(t, "u1", false, 1)
	svc := &IdempotencyService{DB: pl.db}
	ctx := context.Background()

	// Unknown key: nothing to replay, no error.
	if msg, err := svc.Replay(ctx, "u1", th.ID, "k1"); err != nil || msg != nil {
		t.Fatalf("unknown key: msg=%v err=%v", msg, err)
	}

	opened, err := repo.CreateUserMessage(pl.db, th.ID, 0, "question?")
	if err != nil {
		t.Fatalf("CreateUserMessage: %v", err)
	}
	if err := svc.Store(ctx, "u1", th.ID, "k1", 0); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := svc.Replay(ctx, "u1", th.ID, "k1")
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if got == nil || got.ID != opened.ID {
		t.Fatalf("replayed wrong message: %+v", got)
	}

	// A retried store with the same key keeps the first record.
	if err := svc.Store(ctx, "u1", th.ID, "k1", 0); err != nil {
		t.Fatalf("second Store must be a no-op, got %v", err)
	}
}

func TestIdempotency_Store_NoUserMessage(t *testing.T) {
	pl := newPipeline(t, &provider.Script{})
	th := pl.seedThread(t, "u1", false, 1)
	svc := &IdempotencyService{DB: pl.db}

	err := svc.Store(context.Background(), "u1", th.ID, "k1", 0)
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound for a round with no user message, got %v", err)
	}
}

func TestIdempotency_Replay_MessageGone(t *testing.T) {
	pl := newPipeline(t, &provider.Script{})
	th := pl.seedThread(t, "u1", false, 1)
	svc := &IdempotencyService{DB: pl.db}
	ctx := context.Background()

	if _, err := repo.CreateIdempotency(ctx, pl.db, "u1", th.ID, "k1", "gone", 200, time.Hour); err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	_, err := svc.Replay(ctx, "u1", th.ID, "k1")
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound when the recorded message is gone, got %v", err)
	}
}
