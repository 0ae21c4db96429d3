package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mallocator/domain-watch/pkg/config"
	"github.com/mallocator/domain-watch/pkg/logger"
	"github.com/mallocator/domain-watch/pkg/status"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	log := logger.New()
	cfg := config.New(log)
	cfg.StoreDriver = config.StoreSQLite
	cfg.StoreDSN = filepath.Join(t.TempDir(), "watch.db")
	cfg.HistoryLimit = 3

	store, err := NewSQL(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("NewSQL() error = %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return store
}

func TestSQLUpsertGet(t *testing.T) {
	store := newSQLStore(t)
	ctx := context.Background()

	rec, err := store.Get(ctx, "example.com")
	if err != nil || rec != nil {
		t.Fatalf("Get() of unknown domain = %v, %v, want nil, nil", rec, err)
	}

	rec, err = store.Upsert(ctx, "example.com", registered(date(2025, 5, 8)), now)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if rec.LastStatus != status.Registered {
		t.Errorf("Upsert() LastStatus = %s", rec.LastStatus)
	}

	if err := store.Mark(ctx, "example.com", Mark{NotifiedAt: &now, Threshold: 7, Announced: status.Registered}); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}

	rec, err = store.Get(ctx, "example.com")
	if err != nil || rec == nil {
		t.Fatalf("Get() = %v, %v", rec, err)
	}
	if rec.AnnouncedStatus != status.Registered || rec.Registrar != "Example Registrar" {
		t.Errorf("Get() = %+v", rec)
	}
	if rec.ExpiryDate == nil || !rec.ExpiryDate.Equal(*date(2025, 5, 8)) {
		t.Errorf("ExpiryDate = %v", rec.ExpiryDate)
	}
	if rec.LastNotifiedAt == nil || !rec.LastNotifiedAt.Equal(now) {
		t.Errorf("LastNotifiedAt = %v, want %s", rec.LastNotifiedAt, now)
	}
	if !rec.LastCheckedAt.Equal(now) || !rec.CreatedAt.Equal(now) {
		t.Errorf("timestamps = %s / %s, want %s", rec.LastCheckedAt, rec.CreatedAt, now)
	}
	if !rec.ThresholdNotified(7) {
		t.Errorf("NotifiedThresholds = %v, want [7]", rec.NotifiedThresholds)
	}

	// The domain becoming available clears expiry and thresholds
	rec, err = store.Upsert(ctx, "example.com", status.Classification{Status: status.Available}, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if rec.ExpiryDate != nil || len(rec.NotifiedThresholds) != 0 {
		t.Errorf("Upsert(available) = %+v", rec)
	}
	rec, _ = store.Get(ctx, "example.com")
	if rec.ExpiryDate != nil || len(rec.NotifiedThresholds) != 0 || rec.LastStatus != status.Available {
		t.Errorf("stored record = %+v", rec)
	}
}

func TestSQLHistory(t *testing.T) {
	store := newSQLStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s := Snapshot{Status: status.Registered, CheckedAt: now.Add(time.Duration(i) * time.Hour), Details: "ok"}
		if err := store.AppendHistory(ctx, "example.com", s); err != nil {
			t.Fatalf("AppendHistory() error = %v", err)
		}
	}
	if err := store.AppendHistory(ctx, "other.com", Snapshot{Status: status.Available, CheckedAt: now}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Upsert(ctx, "example.com", registered(nil), now); err != nil {
		t.Fatal(err)
	}

	rec, err := store.Get(ctx, "example.com")
	if err != nil || rec == nil {
		t.Fatalf("Get() = %v, %v", rec, err)
	}
	if len(rec.History) != 3 {
		t.Fatalf("len(History) = %d, want 3", len(rec.History))
	}
	if !rec.History[0].CheckedAt.Equal(now.Add(2*time.Hour)) || rec.History[0].Details != "ok" {
		t.Errorf("oldest snapshot = %+v", rec.History[0])
	}

	entries, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 || !entries[0].CheckedAt.Equal(now.Add(4*time.Hour)) {
		t.Errorf("Recent() = %+v", entries)
	}
}

func TestSQLListCleanup(t *testing.T) {
	store := newSQLStore(t)
	ctx := context.Background()

	for _, d := range []string{"c.com", "a.com", "b.com"} {
		if _, err := store.Upsert(ctx, d, status.Classification{Status: status.Available}, now); err != nil {
			t.Fatal(err)
		}
		if err := store.AppendHistory(ctx, d, Snapshot{Status: status.Available, CheckedAt: now}); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.Cleanup(ctx, []string{"a.com", "c.com"}); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 || records[0].Domain != "a.com" || records[1].Domain != "c.com" {
		t.Errorf("List() = %v, want a.com and c.com", records)
	}

	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Domain == "b.com" {
			t.Errorf("history of removed domain survived cleanup")
		}
	}
}

func TestOpenSQLite(t *testing.T) {
	log := logger.New()
	cfg := config.New(log)
	cfg.StoreDriver = config.StoreSQLite
	cfg.StoreDSN = filepath.Join(t.TempDir(), "open.db")

	store, err := Open(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	defer store.Close()
	if _, ok := store.(*SQLStore); !ok {
		t.Errorf("Open(sqlite) = %T, want *SQLStore", store)
	}

	// Reopening applies no migration twice
	second, err := Open(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	second.Close()
}
