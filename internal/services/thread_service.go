// Package services – ThreadService
//
// This file implements ThreadService, which manages the lifecycle of
// roundtable threads and their participant rosters. It validates and
// normalizes titles, enforces ownership rules, and coordinates repository
// operations for creating, listing (with pagination), and updating threads.
// Automatic title generation happens in RoundService on the first submitted
// turn.
//
// Service-level errors (e.g., ErrThreadNotFound) are returned for predictable
// cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
	"github.com/sinaneshat/roundtable-backend/internal/repo"
	"golang.org/x/text/language"
)

// ParticipantSpec describes one roster entry at thread creation time.
type ParticipantSpec struct {
	Model        string
	Role         string
	SystemPrompt string
}

// ThreadRepo defines the repository contract required by ThreadService.
// Implementations are responsible for persistence of thread aggregates.
type ThreadRepo interface {
	// CreateThread inserts a new thread row for the given user.
	CreateThread(ctx context.Context, db *gorm.DB, userID, title string, enableWebSearch bool) (*domain.Thread, error)

	// GetThread fetches a thread by ID ensuring it belongs to the user.
	GetThread(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Thread, error)

	// CountThreads returns the total number of threads for pagination.
	CountThreads(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// ListThreadsPage returns a page of threads belonging to the user.
	ListThreadsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Thread, error)

	// UpdateThreadTitle updates a thread's title (only if it belongs to the user).
	UpdateThreadTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error

	// SetThreadWebSearch toggles the thread's default pre-search flag.
	SetThreadWebSearch(ctx context.Context, db *gorm.DB, id, userID string, enabled bool) error

	// CreateParticipant inserts one roster entry.
	CreateParticipant(ctx context.Context, db *gorm.DB, threadID string, index int, model, role, systemPrompt string) (*domain.Participant, error)

	// ListParticipants returns the enabled roster in ascending index order.
	ListParticipants(ctx context.Context, db *gorm.DB, threadID string) ([]domain.Participant, error)
}

// ThreadService provides thread-level operations such as creating, listing,
// toggling web search, and updating thread metadata. It enforces title rules
// and ensures ownership constraints.
type ThreadService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the thread repository used by this service.
	Repo ThreadRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
	// TitleLocale is retained for compatibility; auto-titling is handled in RoundService.
	TitleLocale language.Tag
	// MaxParticipants caps roster size per thread.
	MaxParticipants int
}

// NewThreadService constructs a ThreadService with sane defaults.
func NewThreadService(db *gorm.DB, r ThreadRepo) *ThreadService {
	return &ThreadService{
		DB:              db,
		Repo:            r,
		TitleMaxLen:     60,
		TitleLocale:     language.Und,
		MaxParticipants: 8,
	}
}

// Create inserts a new thread owned by userID and persists its roster. The
// roster must contain at least one participant; indices are assigned from the
// slice order.
func (s *ThreadService) Create(ctx context.Context, userID, title string, enableWebSearch bool, roster []ParticipantSpec) (*domain.Thread, []domain.Participant, error) {
	if len(roster) == 0 {
		return nil, nil, ErrNoParticipants
	}
	if s.MaxParticipants > 0 && len(roster) > s.MaxParticipants {
		return nil, nil, ErrTooLong
	}
	title = normalizeTitle(title)
	if title == "" {
		title = "New roundtable"
	}

	th, err := s.Repo.CreateThread(ctx, s.DB, userID, s.clip(title), enableWebSearch)
	if err != nil {
		return nil, nil, err
	}

	participants := make([]domain.Participant, 0, len(roster))
	for i, spec := range roster {
		model := strings.TrimSpace(spec.Model)
		role := strings.TrimSpace(spec.Role)
		if model == "" || role == "" {
			return nil, nil, ErrNoParticipants
		}
		p, err := s.Repo.CreateParticipant(ctx, s.DB, th.ID, i, model, role, spec.SystemPrompt)
		if err != nil {
			return nil, nil, err
		}
		participants = append(participants, *p)
	}
	return th, participants, nil
}

// Get fetches a thread and its roster, ensuring ownership.
func (s *ThreadService) Get(ctx context.Context, userID, threadID string) (*domain.Thread, []domain.Participant, error) {
	th, err := s.Repo.GetThread(ctx, s.DB, threadID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrThreadNotFound
		}
		return nil, nil, err
	}
	roster, err := s.Repo.ListParticipants(ctx, s.DB, threadID)
	if err != nil {
		return nil, nil, err
	}
	return th, roster, nil
}

// ListPage returns a page of threads for a user (paginated).
// It applies defaults for invalid page/pageSize and returns total count.
func (s *ThreadService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Thread, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountThreads(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Thread{}, 0, nil
	}

	items, err := s.Repo.ListThreadsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// UpdateTitle updates a thread's title, ensuring the thread exists and
// belongs to the given user. Falls back to "Untitled" if title is blank.
func (s *ThreadService) UpdateTitle(ctx context.Context, userID, threadID, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		title = "Untitled"
	}
	if _, err := s.Repo.GetThread(ctx, s.DB, threadID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrThreadNotFound
		}
		return err
	}
	return s.Repo.UpdateThreadTitle(ctx, s.DB, threadID, userID, s.clip(title))
}

// SetWebSearch toggles the thread's default pre-search flag. The per-round
// form value submitted with a turn still overrides this default.
func (s *ThreadService) SetWebSearch(ctx context.Context, userID, threadID string, enabled bool) error {
	err := s.Repo.SetThreadWebSearch(ctx, s.DB, threadID, userID, enabled)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrThreadNotFound
	}
	return err
}

// MessagesPage returns paginated messages for a thread, ensuring ownership.
func (s *ThreadService) MessagesPage(ctx context.Context, userID, threadID string, page, pageSize int) ([]domain.Message, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if _, err := s.Repo.GetThread(ctx, s.DB, threadID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrThreadNotFound
		}
		return nil, 0, err
	}

	total, err := repo.CountMessages(s.DB.WithContext(ctx), threadID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(s.DB.WithContext(ctx), threadID, offset, pageSize)
	return items, total, err
}

// clip truncates a thread title to the configured maximum rune length.
func (s *ThreadService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	s = whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	return s
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
