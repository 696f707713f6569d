package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ledgercache/internal/cache"
	"ledgercache/internal/ledger"
	"ledgercache/internal/log"

	_ "modernc.org/sqlite"
)

const defaultListLimit = 50

// RunRecord is a refresh pass as stored in the history table.
type RunRecord struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Published  bool           `json:"published"`
	Complete   bool           `json:"complete"`
	Joined     bool           `json:"joined"`
	Version    uint64         `json:"version"`
	Window     string         `json:"window,omitempty"`
	Failed     []string       `json:"failed,omitempty"`
	Carried    []string       `json:"carried,omitempty"`
	Error      string         `json:"error,omitempty"`
	Counts     map[string]int `json:"counts"`
}

// HistoryRepository keeps an audit trail of refresh passes in SQLite.
// Snapshot contents are never persisted.
type HistoryRepository struct {
	db      *sql.DB
	queries *Queries
	logger  *log.Logger
}

func NewHistoryRepository(dbPath string, logger *log.Logger) (*HistoryRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if logger == nil {
		logger = log.Nop()
	}
	return &HistoryRepository{
		db:      db,
		queries: New(db),
		logger:  logger.WithComponent(log.ComponentStorage),
	}, nil
}

func (r *HistoryRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Record stores one refresh result. Joined results share the leader's run
// id and are skipped.
func (r *HistoryRepository) Record(ctx context.Context, res cache.RefreshResult) error {
	if res.Joined || res.RunID == "" {
		return nil
	}
	params := InsertRefreshRunParams{
		RunID:          res.RunID,
		StartedAt:      res.StartedAt.UTC(),
		FinishedAt:     res.FinishedAt.UTC(),
		Published:      res.Published,
		Complete:       res.Complete,
		Joined:         res.Joined,
		Version:        int64(res.Version),
		FailedClasses:  joinClasses(res.FailedClasses()),
		CarriedClasses: joinClasses(res.Carried),
		Categories:     int64(res.Counts[ledger.Categories]),
		Accounts:       int64(res.Counts[ledger.Accounts]),
		Payees:         int64(res.Counts[ledger.Payees]),
		Transactions:   int64(res.Counts[ledger.Transactions]),
		Budgets:        int64(res.Counts[ledger.Budgets]),
	}
	if !res.Window.Start.IsZero() {
		params.WindowStart = sql.NullString{String: res.Window.Start.String(), Valid: true}
		params.WindowEnd = sql.NullString{String: res.Window.End.String(), Valid: true}
	}
	if err := res.Err(); err != nil {
		params.Error = err.Error()
	}
	if _, err := r.queries.InsertRefreshRun(ctx, params); err != nil {
		return fmt.Errorf("insert refresh run: %w", err)
	}
	return nil
}

// RefreshCompleted implements cache.Observer.
func (r *HistoryRepository) RefreshCompleted(ctx context.Context, res cache.RefreshResult) {
	if err := r.Record(ctx, res); err != nil {
		r.logger.ErrorContext(ctx, "Failed to record refresh run",
			log.FieldRunID, res.RunID,
			log.FieldError, err.Error())
	}
}

// List returns the most recent runs first.
func (r *HistoryRepository) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.queries.ListRefreshRuns(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list refresh runs: %w", err)
	}
	out := make([]RunRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, toRecord(row))
	}
	return out, nil
}

// Prune deletes runs started before the cutoff.
func (r *HistoryRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	n, err := r.queries.DeleteRefreshRunsBefore(ctx, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune refresh runs: %w", err)
	}
	return n, nil
}

func (r *HistoryRepository) Count(ctx context.Context) (int64, error) {
	return r.queries.CountRefreshRuns(ctx)
}

func toRecord(row RefreshRun) RunRecord {
	rec := RunRecord{
		RunID:      row.RunID,
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
		Published:  row.Published,
		Complete:   row.Complete,
		Joined:     row.Joined,
		Version:    uint64(row.Version),
		Failed:     splitClasses(row.FailedClasses),
		Carried:    splitClasses(row.CarriedClasses),
		Error:      row.Error,
		Counts: map[string]int{
			ledger.Categories.String():   int(row.Categories),
			ledger.Accounts.String():     int(row.Accounts),
			ledger.Payees.String():       int(row.Payees),
			ledger.Transactions.String(): int(row.Transactions),
			ledger.Budgets.String():      int(row.Budgets),
		},
	}
	if row.WindowStart.Valid && row.WindowEnd.Valid {
		rec.Window = row.WindowStart.String + ".." + row.WindowEnd.String
	}
	return rec
}

func joinClasses(classes []ledger.EntityClass) string {
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = c.String()
	}
	return strings.Join(names, ",")
}

func splitClasses(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
