package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ledgercache/internal/cache"
	"ledgercache/internal/core"
	"ledgercache/internal/ledger"
)

func newTestRepo(t *testing.T) *HistoryRepository {
	t.Helper()
	repo, err := NewHistoryRepository(filepath.Join(t.TempDir(), "data", "history.db"), nil)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func result(runID string, started time.Time) cache.RefreshResult {
	return cache.RefreshResult{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		Published:  true,
		Complete:   true,
		Version:    1,
		Window:     core.DateRange{Start: core.NewDate(2022, 6, 1), End: core.NewDate(2024, 5, 31)},
		Counts: map[ledger.EntityClass]int{
			ledger.Categories:   3,
			ledger.Transactions: 6,
		},
	}
}

func TestHistoryRepository_RecordAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

	if err := repo.Record(ctx, result("run-1", base)); err != nil {
		t.Fatalf("record: %v", err)
	}

	partial := result("run-2", base.Add(time.Hour))
	partial.Complete = false
	partial.Version = 2
	partial.Failed = map[ledger.EntityClass]error{ledger.Payees: errors.New("boom")}
	partial.Carried = []ledger.EntityClass{ledger.Payees}
	if err := repo.Record(ctx, partial); err != nil {
		t.Fatalf("record: %v", err)
	}

	runs, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != "run-2" {
		t.Errorf("expected newest first, got %s", runs[0].RunID)
	}
	if runs[0].Complete || len(runs[0].Failed) != 1 || runs[0].Failed[0] != "payees" {
		t.Errorf("unexpected partial run: %+v", runs[0])
	}
	if runs[0].Error == "" {
		t.Error("expected error text for partial run")
	}
	if runs[1].Window != "2022-06-01..2024-05-31" {
		t.Errorf("unexpected window %q", runs[1].Window)
	}
	if runs[1].Counts["transactions"] != 6 {
		t.Errorf("expected 6 transactions, got %d", runs[1].Counts["transactions"])
	}
}

func TestHistoryRepository_SkipsJoined(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	res := result("run-1", time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC))
	res.Joined = true
	repo.RefreshCompleted(ctx, res)

	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("joined results must not be stored, got %d rows", n)
	}
}

func TestHistoryRepository_DuplicateRunIgnored(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	res := result("run-1", time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 2; i++ {
		if err := repo.Record(ctx, res); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if n, _ := repo.Count(ctx); n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}
}

func TestHistoryRepository_Prune(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old-1", "old-2", "new-1"} {
		started := base.AddDate(0, 0, i*10)
		if err := repo.Record(ctx, result(id, started)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	removed, err := repo.Prune(ctx, base.AddDate(0, 0, 15))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	runs, _ := repo.List(ctx, 0)
	if len(runs) != 1 || runs[0].RunID != "new-1" {
		t.Errorf("unexpected remaining runs: %+v", runs)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	for i := 0; i < 2; i++ {
		if err := RunMigrations(path); err != nil {
			t.Fatalf("migration %d: %v", i, err)
		}
	}
}
