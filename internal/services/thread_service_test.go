package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
)

// ----- Fake repo -----

type fakeThreadRepo struct {
	createUserID string
	createTitle  string
	createWeb    bool

	participants []domain.Participant

	getThread *domain.Thread
	getErr    error

	updateTitle string
	updateErr   error

	webEnabled bool
	webErr     error

	countTotal int64
	countErr   error

	pageOffset int
	pageLimit  int
	pageItems  []domain.Thread
	pageErr    error
}

func (r *fakeThreadRepo) CreateThread(ctx context.Context, db *gorm.DB, userID, title string, enableWebSearch bool) (*domain.Thread, error) {
	r.createUserID, r.createTitle, r.createWeb = userID, title, enableWebSearch
	return &domain.Thread{ID: "t1", UserID: userID, Title: title, EnableWebSearch: enableWebSearch}, nil
}

func (r *fakeThreadRepo) GetThread(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Thread, error) {
	return r.getThread, r.getErr
}

func (r *fakeThreadRepo) CountThreads(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return r.countTotal, r.countErr
}

func (r *fakeThreadRepo) ListThreadsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Thread, error) {
	r.pageOffset, r.pageLimit = offset, limit
	return r.pageItems, r.pageErr
}

func (r *fakeThreadRepo) UpdateThreadTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	r.updateTitle = title
	return r.updateErr
}

func (r *fakeThreadRepo) SetThreadWebSearch(ctx context.Context, db *gorm.DB, id, userID string, enabled bool) error {
	r.webEnabled = enabled
	return r.webErr
}

func (r *fakeThreadRepo) CreateParticipant(ctx context.Context, db *gorm.DB, threadID string, index int, model, role, systemPrompt string) (*domain.Participant, error) {
	p := domain.Participant{ID: "p", ThreadID: threadID, Index: index, Model: model, Role: role, SystemPrompt: systemPrompt, Enabled: true}
	r.participants = append(r.participants, p)
	return &p, nil
}

func (r *fakeThreadRepo) ListParticipants(ctx context.Context, db *gorm.DB, threadID string) ([]domain.Participant, error) {
	return r.participants, nil
}

// ----- Tests -----

func TestThreadCreate_RequiresRoster(t *testing.T) {
	s := NewThreadService(nil, &fakeThreadRepo{})
	if _, _, err := s.Create(context.Background(), "u1", "t", false, nil); !errors.Is(err, ErrNoParticipants) {
		t.Fatalf("expected ErrNoParticipants, got %v", err)
	}
}

func TestThreadCreate_AssignsIndicesInOrder(t *testing.T) {
	r := &fakeThreadRepo{}
	s := NewThreadService(nil, r)

	roster := []ParticipantSpec{
		{Model: "gpt-4o", Role: "optimist"},
		{Model: "gpt-4o-mini", Role: "skeptic", SystemPrompt: "doubt everything"},
	}
	_, ps, err := s.Create(context.Background(), "u1", "  Future of  Work ", true, roster)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(ps) != 2 || ps[0].Index != 0 || ps[1].Index != 1 {
		t.Fatalf("unexpected indices: %+v", ps)
	}
	if r.createTitle != "Future of Work" {
		t.Fatalf("title not normalized: %q", r.createTitle)
	}
	if !r.createWeb {
		t.Fatal("web search flag not passed through")
	}
}

func TestThreadCreate_BlankRosterEntryRejected(t *testing.T) {
	s := NewThreadService(nil, &fakeThreadRepo{})
	roster := []ParticipantSpec{{Model: " ", Role: "x"}}
	if _, _, err := s.Create(context.Background(), "u1", "t", false, roster); !errors.Is(err, ErrNoParticipants) {
		t.Fatalf("expected ErrNoParticipants for blank model, got %v", err)
	}
}

func TestThreadGet_NotFoundMapped(t *testing.T) {
	r := &fakeThreadRepo{getErr: gorm.ErrRecordNotFound}
	s := NewThreadService(nil, r)
	if _, _, err := s.Get(context.Background(), "u1", "missing"); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound, got %v", err)
	}
}

func TestThreadUpdateTitle_FallbackAndClip(t *testing.T) {
	r := &fakeThreadRepo{getThread: &domain.Thread{ID: "t1"}}
	s := NewThreadService(nil, r)
	s.TitleMaxLen = 5

	if err := s.UpdateTitle(context.Background(), "u1", "t1", "   "); err != nil {
		t.Fatalf("UpdateTitle: %v", err)
	}
	if r.updateTitle != "Untit" {
		t.Fatalf("expected clipped fallback title, got %q", r.updateTitle)
	}
}

func TestThreadListPage_Defaults(t *testing.T) {
	r := &fakeThreadRepo{countTotal: 30, pageItems: []domain.Thread{{ID: "a"}}}
	s := NewThreadService(nil, r)

	items, total, err := s.ListPage(context.Background(), "u1", 0, 0)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 30 || len(items) != 1 {
		t.Fatalf("unexpected page: total=%d items=%d", total, len(items))
	}
	if r.pageOffset != 0 || r.pageLimit != 20 {
		t.Fatalf("defaults not applied: offset=%d limit=%d", r.pageOffset, r.pageLimit)
	}
}

func TestSetWebSearch_NotFoundMapped(t *testing.T) {
	r := &fakeThreadRepo{webErr: gorm.ErrRecordNotFound}
	s := NewThreadService(nil, r)
	if err := s.SetWebSearch(context.Background(), "u1", "missing", true); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound, got %v", err)
	}
}
