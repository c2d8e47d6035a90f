// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for AnalysisRecord,
// the per-round moderator summary. Like pre-search records, at most one
// analysis exists per (thread, round); retry deletes the failed row so the
// normal creation path can run again.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
)

// CreateAnalysis inserts a pending record for (threadID, round) capturing the
// participant message ids it will summarize. Returns ErrDuplicate when a
// record already exists for the round.
func CreateAnalysis(ctx context.Context, db *gorm.DB, threadID string, round int, messageIDs []string) (*domain.AnalysisRecord, error) {
	rec := &domain.AnalysisRecord{
		ID:                    uuid.NewString(),
		ThreadID:              threadID,
		RoundNumber:           round,
		Status:                domain.StatusPending,
		ParticipantMessageIDs: messageIDs,
		CreatedAt:             time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// GetAnalysis returns the record with the given id or ErrNotFound.
func GetAnalysis(ctx context.Context, db *gorm.DB, id string) (*domain.AnalysisRecord, error) {
	var rec domain.AnalysisRecord
	err := db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetAnalysisForRound returns the record for (threadID, round) or ErrNotFound.
func GetAnalysisForRound(ctx context.Context, db *gorm.DB, threadID string, round int) (*domain.AnalysisRecord, error) {
	var rec domain.AnalysisRecord
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

// ListAnalyses returns every record for a thread in round order.
func ListAnalyses(ctx context.Context, db *gorm.DB, threadID string) ([]domain.AnalysisRecord, error) {
	var out []domain.AnalysisRecord
	err := db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("round_number ASC").
		Find(&out).Error
	return out, err
}

// MarkAnalysisStreaming advances a pending record to streaming.
func MarkAnalysisStreaming(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.AnalysisRecord{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Update("status", domain.StatusStreaming).Error
}

// CompleteAnalysis finalizes a record with its summary payload. Terminal
// records are never rewritten.
func CompleteAnalysis(ctx context.Context, db *gorm.DB, id string, data *domain.AnalysisData) error {
	return db.WithContext(ctx).
		Model(&domain.AnalysisRecord{}).
		Where("id = ? AND status IN ?", id, []domain.RecordStatus{domain.StatusPending, domain.StatusStreaming}).
		Select("status", "analysis_data").
		Updates(&domain.AnalysisRecord{Status: domain.StatusComplete, AnalysisData: data}).Error
}

// FailAnalysis marks a record failed, recording the upstream error.
func FailAnalysis(ctx context.Context, db *gorm.DB, id, errMsg string) error {
	return db.WithContext(ctx).
		Model(&domain.AnalysisRecord{}).
		Where("id = ? AND status IN ?", id, []domain.RecordStatus{domain.StatusPending, domain.StatusStreaming}).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"error_message": errMsg,
		}).Error
}

// DeleteFailedAnalysis removes a failed record so a retry can recreate it.
// Returns ErrNotFound when no failed record exists for the id.
func DeleteFailedAnalysis(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND status = ?", id, domain.StatusFailed).
		Delete(&domain.AnalysisRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
