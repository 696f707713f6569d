package storage

import (
	"context"
	"database/sql"
	"time"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

// RefreshRun is one row of refresh_runs.
type RefreshRun struct {
	ID             int64
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	Published      bool
	Complete       bool
	Joined         bool
	Version        int64
	WindowStart    sql.NullString
	WindowEnd      sql.NullString
	FailedClasses  string
	CarriedClasses string
	Error          string
	Categories     int64
	Accounts       int64
	Payees         int64
	Transactions   int64
	Budgets        int64
}

const insertRefreshRun = `INSERT INTO refresh_runs (
    run_id, started_at, finished_at, published, complete, joined, version,
    window_start, window_end, failed_classes, carried_classes, error,
    categories, accounts, payees, transactions, budgets
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO NOTHING
`

type InsertRefreshRunParams struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	Published      bool
	Complete       bool
	Joined         bool
	Version        int64
	WindowStart    sql.NullString
	WindowEnd      sql.NullString
	FailedClasses  string
	CarriedClasses string
	Error          string
	Categories     int64
	Accounts       int64
	Payees         int64
	Transactions   int64
	Budgets        int64
}

func (q *Queries) InsertRefreshRun(ctx context.Context, arg InsertRefreshRunParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertRefreshRun,
		arg.RunID,
		arg.StartedAt,
		arg.FinishedAt,
		arg.Published,
		arg.Complete,
		arg.Joined,
		arg.Version,
		arg.WindowStart,
		arg.WindowEnd,
		arg.FailedClasses,
		arg.CarriedClasses,
		arg.Error,
		arg.Categories,
		arg.Accounts,
		arg.Payees,
		arg.Transactions,
		arg.Budgets,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listRefreshRuns = `SELECT id, run_id, started_at, finished_at, published, complete, joined, version,
    window_start, window_end, failed_classes, carried_classes, error,
    categories, accounts, payees, transactions, budgets
FROM refresh_runs
ORDER BY started_at DESC, id DESC
LIMIT ?
`

func (q *Queries) ListRefreshRuns(ctx context.Context, limit int64) ([]RefreshRun, error) {
	rows, err := q.db.QueryContext(ctx, listRefreshRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RefreshRun
	for rows.Next() {
		var i RefreshRun
		if err := rows.Scan(
			&i.ID,
			&i.RunID,
			&i.StartedAt,
			&i.FinishedAt,
			&i.Published,
			&i.Complete,
			&i.Joined,
			&i.Version,
			&i.WindowStart,
			&i.WindowEnd,
			&i.FailedClasses,
			&i.CarriedClasses,
			&i.Error,
			&i.Categories,
			&i.Accounts,
			&i.Payees,
			&i.Transactions,
			&i.Budgets,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteRefreshRunsBefore = `DELETE FROM refresh_runs WHERE started_at < ?
`

func (q *Queries) DeleteRefreshRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteRefreshRunsBefore, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const countRefreshRuns = `SELECT COUNT(*) FROM refresh_runs
`

func (q *Queries) CountRefreshRuns(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countRefreshRuns)
	var count int64
	err := row.Scan(&count)
	return count, err
}
