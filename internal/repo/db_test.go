package repo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/sinaneshat/roundtable-backend/internal/domain"
)

func TestOpenSQLite_MissingParentDirectory(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "nope", "app.db")

	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("OpenSQLite(%q) = %v, %v; want error", bad, db, err)
	}
	// Error text varies by platform and driver.
	lower := strings.ToLower(err.Error())
	if !(os.IsNotExist(err) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "out of memory")) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpenSQLite_PragmasPoolAndMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	var journalMode string
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		t.Fatalf("journal_mode = %q, want wal", journalMode)
	}
	var fkOn, busyMS int
	if err := db.Raw("PRAGMA foreign_keys;").Row().Scan(&fkOn); err != nil || fkOn != 1 {
		t.Fatalf("foreign_keys = %d (err %v), want 1", fkOn, err)
	}
	if err := db.Raw("PRAGMA busy_timeout;").Row().Scan(&busyMS); err != nil || busyMS != 5000 {
		t.Fatalf("busy_timeout = %d (err %v), want 5000", busyMS, err)
	}
	if stats := sqlDB.Stats(); stats.MaxOpenConnections != 10 {
		t.Fatalf("MaxOpenConnections = %d, want 10", stats.MaxOpenConnections)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	m := db.Migrator()
	for _, model := range []any{
		&domain.Thread{}, &domain.Participant{}, &domain.Message{},
		&domain.PreSearchRecord{}, &domain.AnalysisRecord{}, &domain.Idempotency{},
	} {
		if !m.HasTable(model) {
			t.Fatalf("missing table for %T", model)
		}
	}

	// Insert round-trip across the schema, including the (thread, round)
	// uniqueness on analysis records.
	now := time.Now().UTC()
	th := &domain.Thread{ID: "t1", UserID: "u1", Title: "T", CreatedAt: now, UpdatedAt: now}
	if err := db.Create(th).Error; err != nil {
		t.Fatalf("insert thread: %v", err)
	}
	p := &domain.Participant{ID: "p1", ThreadID: "t1", Index: 0, Model: "gpt-4o", Role: "Analyst", CreatedAt: now, UpdatedAt: now}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("insert participant: %v", err)
	}
	msg := &domain.Message{ID: "m1", ThreadID: "t1", Role: domain.RoleUser, RoundNumber: 0, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(msg).Error; err != nil {
		t.Fatalf("insert message: %v", err)
	}
	ar := &domain.AnalysisRecord{ID: "a1", ThreadID: "t1", RoundNumber: 0, Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(ar).Error; err != nil {
		t.Fatalf("insert analysis record: %v", err)
	}
	dup := &domain.AnalysisRecord{ID: "a2", ThreadID: "t1", RoundNumber: 0, Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(dup).Error; err == nil || !isUniqueViolation(err) {
		t.Fatalf("duplicate (thread, round) analysis should hit the unique index, got %v", err)
	}

	var got domain.Thread
	if err := db.First(&got, "id = ?", "t1").Error; err != nil || got.UserID != "u1" {
		t.Fatalf("readback thread: err=%v got=%+v", err, got)
	}
}

var _ func(string) (*gorm.DB, error) = OpenSQLite
