// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model, including the streaming lifecycle: assistant messages are created
// with a pending part, accumulate text while the model streams, and are
// sealed by setting a finish reason.
package repo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
)

// CreateUserMessage inserts the user turn that opens a round.
func CreateUserMessage(db *gorm.DB, threadID string, round int, content string) (*domain.Message, error) {
	m := &domain.Message{
		ID:          uuid.NewString(),
		ThreadID:    threadID,
		Role:        domain.RoleUser,
		RoundNumber: round,
		Parts: domain.MessageParts{
			{Type: domain.PartText, State: domain.PartDone, Text: content},
		},
		CreatedAt: time.Now().UTC(),
	}
	return m, db.Create(m).Error
}

// CreateParticipantMessage inserts a pending assistant message for one
// participant turn. The round number stored here must match the round encoded
// in the turn's stream id.
func CreateParticipantMessage(db *gorm.DB, threadID string, round, participantIndex int, participantID string) (*domain.Message, error) {
	idx := participantIndex
	m := &domain.Message{
		ID:               uuid.NewString(),
		ThreadID:         threadID,
		Role:             domain.RoleAssistant,
		RoundNumber:      round,
		ParticipantIndex: &idx,
		ParticipantID:    participantID,
		Parts: domain.MessageParts{
			{Type: domain.PartText, State: domain.PartPending},
		},
		CreatedAt: time.Now().UTC(),
	}
	return m, db.Create(m).Error
}

// UpdateMessageParts replaces the message's content parts mid-stream.
func UpdateMessageParts(db *gorm.DB, id string, parts domain.MessageParts) error {
	return db.Model(&domain.Message{}).
		Where("id = ?", id).
		Select("parts").
		Updates(&domain.Message{Parts: parts}).Error
}

// FinishMessage seals a message: parts become final and the finish reason is
// set. Once the finish reason is non-null the message is immutable.
func FinishMessage(db *gorm.DB, id string, parts domain.MessageParts, finishReason string) error {
	res := db.Model(&domain.Message{}).
		Where("id = ? AND finish_reason IS NULL", id).
		Select("parts", "finish_reason").
		Updates(&domain.Message{Parts: parts, FinishReason: &finishReason})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListMessages returns a thread's messages ordered deterministically
// (CreatedAt ASC, ID ASC).
func ListMessages(db *gorm.DB, threadID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.Where("thread_id = ?", threadID).Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListRoundMessages returns only the messages belonging to one round of a
// thread, in arrival order.
func ListRoundMessages(db *gorm.DB, threadID string, round int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.
		Where("thread_id = ? AND round_number = ?", threadID, round).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(db *gorm.DB, threadID string) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM messages WHERE thread_id = ?", threadID).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(db *gorm.DB, threadID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.
		Where("thread_id = ?", threadID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetMessage fetches a message by ID.
func GetMessage(db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
