// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for PreSearchRecord,
// the per-round gate record of the optional web-search phase. The
// (thread_id, round_number) unique index makes record creation a safe
// rendezvous point: of any two concurrent creators, exactly one wins.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
)

// ErrDuplicate indicates a record already exists for a unique tuple.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
// glebarez/sqlite often returns plain-text errors for these.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// CreatePreSearch inserts a pending record for (threadID, round) and returns
// ErrDuplicate when one already exists.
func CreatePreSearch(ctx context.Context, db *gorm.DB, threadID string, round int) (*domain.PreSearchRecord, error) {
	rec := &domain.PreSearchRecord{
		ID:          uuid.NewString(),
		ThreadID:    threadID,
		RoundNumber: round,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// GetPreSearch returns the record for (threadID, round) or ErrNotFound.
func GetPreSearch(ctx context.Context, db *gorm.DB, threadID string, round int) (*domain.PreSearchRecord, error) {
	var rec domain.PreSearchRecord
	err := db.WithContext(ctx).
		Where("thread_id = ? AND round_number = ?", threadID, round).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListPreSearches returns every record for a thread in round order.
func ListPreSearches(ctx context.Context, db *gorm.DB, threadID string) ([]domain.PreSearchRecord, error) {
	var out []domain.PreSearchRecord
	err := db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("round_number ASC").
		Find(&out).Error
	return out, err
}

// MarkPreSearchStreaming advances a pending record to streaming. Records
// already past pending are left untouched.
func MarkPreSearchStreaming(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.PreSearchRecord{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Update("status", domain.StatusStreaming).Error
}

// CompletePreSearch finalizes a record with its search payload. A record in a
// terminal state is never rewritten.
func CompletePreSearch(ctx context.Context, db *gorm.DB, id string, data *domain.SearchData) error {
	return db.WithContext(ctx).
		Model(&domain.PreSearchRecord{}).
		Where("id = ? AND status IN ?", id, []domain.RecordStatus{domain.StatusPending, domain.StatusStreaming}).
		Select("status", "search_data").
		Updates(&domain.PreSearchRecord{Status: domain.StatusComplete, SearchData: data}).Error
}

// FailPreSearch marks a record failed. A failed pre-search releases the round
// gate instead of blocking it, so the error message is informational only.
func FailPreSearch(ctx context.Context, db *gorm.DB, id, errMsg string) error {
	return db.WithContext(ctx).
		Model(&domain.PreSearchRecord{}).
		Where("id = ? AND status IN ?", id, []domain.RecordStatus{domain.StatusPending, domain.StatusStreaming}).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"error_message": errMsg,
		}).Error
}
