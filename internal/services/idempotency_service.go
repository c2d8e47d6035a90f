// Idempotent turn submission.
//
// A turn carrying an Idempotency-Key is recorded against the user message
// that opened its round; a retry with the same key replays that message
// instead of running another round.
package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
	"github.com/sinaneshat/roundtable-backend/internal/repo"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyService resolves and records Idempotency-Key submissions for
// turn handling.
type IdempotencyService struct {
	DB *gorm.DB

	// TTL bounds how long a recorded key replays. Zero means 24 hours.
	TTL time.Duration
}

// Replay returns the user message recorded under key, or nil when the key is
// unknown or expired. ErrMessageNotFound means the record exists but its
// message has since disappeared; callers should fall through to a fresh run.
func (s *IdempotencyService) Replay(ctx context.Context, userID, threadID, key string) (*domain.Message, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, threadID, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	msg, err := repo.GetMessage(s.DB.WithContext(ctx), rec.MessageID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Store records key against the user message that opened round. Losing the
// insert race to a concurrent retry is fine: the first record wins.
func (s *IdempotencyService) Store(ctx context.Context, userID, threadID, key string, round int) error {
	msgs, err := repo.ListRoundMessages(s.DB.WithContext(ctx), threadID, round)
	if err != nil {
		return err
	}
	var messageID string
	for i := range msgs {
		if msgs[i].Role == domain.RoleUser {
			messageID = msgs[i].ID
			break
		}
	}
	if messageID == "" {
		return ErrMessageNotFound
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	_, err = repo.CreateIdempotency(ctx, s.DB, userID, threadID, key, messageID, http.StatusOK, ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}
