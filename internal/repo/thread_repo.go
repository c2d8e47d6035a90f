// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Thread and
// Participant models.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a thread is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateThread inserts a new Thread row owned by userID.
func CreateThread(ctx context.Context, db *gorm.DB, userID, title string, enableWebSearch bool) (*domain.Thread, error) {
	t := &domain.Thread{
		ID:              uuid.NewString(),
		UserID:          userID,
		Title:           title,
		EnableWebSearch: enableWebSearch,
		CreatedAt:       time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// GetThread fetches a single thread by its ID and owner (userID). If the
// record does not exist, it returns ErrNotFound.
func GetThread(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Thread, error) {
	var t domain.Thread
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CountThreads returns the total number of threads owned by userID.
func CountThreads(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Thread{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListThreadsPage returns a paginated slice of threads for userID, ordered by
// creation time descending. The caller computes offset and limit.
func ListThreadsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Thread, error) {
	var out []domain.Thread
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateThreadTitle updates the title of a thread identified by id and owned
// by userID. If no rows are affected, it returns ErrNotFound.
func UpdateThreadTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.Thread{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetThreadWebSearch flips the thread-level web-search default. If no rows
// are affected, it returns ErrNotFound.
func SetThreadWebSearch(ctx context.Context, db *gorm.DB, id, userID string, enabled bool) error {
	res := db.WithContext(ctx).
		Model(&domain.Thread{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("enable_web_search", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateParticipant inserts one roster entry for a thread.
func CreateParticipant(ctx context.Context, db *gorm.DB, threadID string, index int, model, role, systemPrompt string) (*domain.Participant, error) {
	p := &domain.Participant{
		ID:           uuid.NewString(),
		ThreadID:     threadID,
		Index:        index,
		Model:        model,
		Role:         role,
		SystemPrompt: systemPrompt,
		Enabled:      true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// ListParticipants returns the enabled roster of a thread in ascending index
// order.
func ListParticipants(ctx context.Context, db *gorm.DB, threadID string) ([]domain.Participant, error) {
	var out []domain.Participant
	err := db.WithContext(ctx).
		Where("thread_id = ? AND enabled = ?", threadID, true).
		Order("participant_index asc").
		Find(&out).Error
	return out, err
}
