// Package domain defines the persistence models for threads, participants,
// messages, pre-search records, and analysis records. These types are mapped
// with GORM and form the core data layer of the roundtable application.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// RecordStatus is the lifecycle status shared by pre-search and analysis
// records. Transitions are forward-only: pending → streaming → complete|failed.
type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusStreaming RecordStatus = "streaming"
	StatusComplete  RecordStatus = "complete"
	StatusFailed    RecordStatus = "failed"
)

// Terminal reports whether the status is one of the two terminal states.
func (s RecordStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Finish reasons recorded on assistant messages once streaming ends.
const (
	FinishStop   = "stop"
	FinishLength = "length"
	FinishError  = "error"
)

// PartState tags the lifecycle of a single content part. An explicit enum
// (rather than an untyped tag on a loose object) keeps stale streaming parts
// from leaking into reconnected views.
type PartState string

const (
	PartPending   PartState = "pending"
	PartStreaming PartState = "streaming"
	PartDone      PartState = "done"
)

// PartType distinguishes plain output text from reasoning segments.
type PartType string

const (
	PartText      PartType = "text"
	PartReasoning PartType = "reasoning"
)

// MessagePart is one ordered segment of an assistant message. Parts are
// appended while the upstream model streams and sealed when the message
// reaches a terminal finish reason.
type MessagePart struct {
	Type  PartType  `json:"type"`
	State PartState `json:"state"`
	Text  string    `json:"text"`
}

// MessageParts is stored as a JSON column via the GORM serializer.
type MessageParts []MessagePart

// Thread represents a roundtable conversation owned by a user. Each thread
// carries its participant roster and a per-thread web-search default that the
// client may override per round.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: identifier of the thread owner; indexed for efficient retrieval.
//   - Title: human-readable title (auto-generated from the first prompt).
//   - EnableWebSearch: default for the optional pre-search phase.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type Thread struct {
	ID              string         `json:"id"                gorm:"type:char(36);primaryKey"`
	UserID          string         `json:"user_id"           gorm:"type:varchar(64);not null;index:idx_user_threads"`
	Title           string         `json:"title"             gorm:"type:varchar(255);not null;default:'New roundtable'"`
	EnableWebSearch bool           `json:"enable_web_search" gorm:"not null;default:false"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-"                 gorm:"index"`
}

// TableName returns the database table name for Thread.
func (Thread) TableName() string { return "threads" }

// Participant is one configured AI model/role in a thread's roster. Each
// enabled participant produces exactly one message per round, in ascending
// Index order.
type Participant struct {
	ID           string         `json:"id"            gorm:"type:char(36);primaryKey"`
	ThreadID     string         `json:"thread_id"     gorm:"type:char(36);not null;index;uniqueIndex:ux_thread_participant,priority:1"`
	Index        int            `json:"index"         gorm:"column:participant_index;not null;uniqueIndex:ux_thread_participant,priority:2"`
	Model        string         `json:"model"         gorm:"type:varchar(128);not null"`
	Role         string         `json:"role"          gorm:"type:varchar(128);not null"`
	SystemPrompt string         `json:"system_prompt" gorm:"type:text"`
	Enabled      bool           `json:"enabled"       gorm:"not null;default:true"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-"             gorm:"index"`

	// Thread is the owning conversation; participants are cascade-deleted
	// with it.
	Thread Thread `json:"-" gorm:"foreignKey:ThreadID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Participant.
func (Participant) TableName() string { return "participants" }

// Message represents a single turn within a thread. User messages open a
// round; assistant messages carry the round number, participant index and id,
// and a finish reason that stays NULL until the stream terminates. The round
// number on the message and the round encoded in its stream id must always
// agree.
type Message struct {
	ID               string         `json:"id"                gorm:"type:char(36);primaryKey"`
	ThreadID         string         `json:"thread_id"         gorm:"type:char(36);not null;index:idx_thread_msgs,priority:1"`
	Role             string         `json:"role"              gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	RoundNumber      int            `json:"round_number"      gorm:"not null;index"`
	ParticipantIndex *int           `json:"participant_index,omitempty"`
	ParticipantID    string         `json:"participant_id,omitempty" gorm:"type:char(36)"`
	Parts            MessageParts   `json:"parts"             gorm:"type:text;serializer:json"`
	FinishReason     *string        `json:"finish_reason,omitempty" gorm:"type:varchar(16)"`
	CreatedAt        time.Time      `json:"created_at"        gorm:"index:idx_thread_msgs,priority:2"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-"                 gorm:"index"`

	// Thread is the parent conversation. Messages are cascade-deleted if
	// their thread is removed.
	Thread Thread `json:"-" gorm:"foreignKey:ThreadID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Terminal reports whether the message carries a terminal finish reason.
// Failed counts as terminal for completion-counting purposes.
func (m *Message) Terminal() bool { return m.FinishReason != nil }

// Text concatenates the message's text parts in order.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// SearchResult is one item produced by the pre-search phase.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url,omitempty"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score,omitempty"`
}

// SearchData is the payload of a completed pre-search record.
type SearchData struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// PreSearchRecord tracks the optional web-search phase for one round of a
// thread. At most one record exists per (thread, round), enforced by a
// unique index so concurrent creators lose cleanly at the database. Status
// only moves forward; a failed search releases the gate rather than blocking
// the round.
type PreSearchRecord struct {
	ID           string       `json:"id"            gorm:"type:char(36);primaryKey"`
	ThreadID     string       `json:"thread_id"     gorm:"type:char(36);not null;index;uniqueIndex:ux_thread_round_search,priority:1"`
	RoundNumber  int          `json:"round_number"  gorm:"not null;uniqueIndex:ux_thread_round_search,priority:2"`
	Status       RecordStatus `json:"status"        gorm:"type:varchar(16);not null;default:'pending'"`
	SearchData   *SearchData  `json:"search_data,omitempty" gorm:"type:text;serializer:json"`
	ErrorMessage string       `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`

	Thread Thread `json:"-" gorm:"foreignKey:ThreadID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for PreSearchRecord.
func (PreSearchRecord) TableName() string { return "pre_search_records" }

// AnalysisData is the payload of a completed moderator analysis.
type AnalysisData struct {
	Summary string `json:"summary"`
}

// StringList is stored as a JSON column via the GORM serializer.
type StringList []string

// AnalysisRecord is the moderator summary produced once every participant in
// a round has a terminal finish reason. Exactly one record exists per
// (thread, round), enforced by a unique index.
type AnalysisRecord struct {
	ID                    string        `json:"id"           gorm:"type:char(36);primaryKey"`
	ThreadID              string        `json:"thread_id"    gorm:"type:char(36);not null;index;uniqueIndex:ux_thread_round_analysis,priority:1"`
	RoundNumber           int           `json:"round_number" gorm:"not null;uniqueIndex:ux_thread_round_analysis,priority:2"`
	Status                RecordStatus  `json:"status"       gorm:"type:varchar(16);not null;default:'pending'"`
	ParticipantMessageIDs StringList    `json:"participant_message_ids" gorm:"type:text;serializer:json"`
	AnalysisData          *AnalysisData `json:"analysis_data,omitempty" gorm:"type:text;serializer:json"`
	ErrorMessage          string        `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`

	Thread Thread `json:"-" gorm:"foreignKey:ThreadID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for AnalysisRecord.
func (AnalysisRecord) TableName() string { return "analysis_records" }
