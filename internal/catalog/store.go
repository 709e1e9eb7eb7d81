// Package catalog persists run summaries and their backup records in
// Postgres so operators can audit past runs without querying the cloud
// provider.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/backup/internal/model"
)

type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// SaveRun persists a finished run and its records.
func (s *Store) SaveRun(ctx context.Context, run *model.RunResult) error {
	perKind, err := json.Marshal(run.PerKind)
	if err != nil {
		return fmt.Errorf("marshal per-kind stats: %w", err)
	}
	kindErrors, err := json.Marshal(run.KindErrors)
	if err != nil {
		return fmt.Errorf("marshal kind errors: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO runs (run_id, state, started_at, finished_at, per_kind, kind_errors)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.RunID, run.State, run.StartedAt, run.FinishedAt, perKind, kindErrors,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, record := range run.Records {
		_, err = s.db.Exec(ctx,
			`INSERT INTO backup_records (id, run_id, resource_kind, resource_id, state, size_bytes, error, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			record.ID, run.RunID, record.ResourceRef.Kind, record.ResourceRef.ID,
			record.State, record.SizeBytes, nullableString(record.Error), record.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert backup record %s: %w", record.ID, err)
		}
	}

	return nil
}

// GetRun loads one run summary without its records.
func (s *Store) GetRun(ctx context.Context, runID string) (*model.RunResult, error) {
	var run model.RunResult
	var perKind, kindErrors []byte

	err := s.db.QueryRow(ctx,
		`SELECT run_id, state, started_at, finished_at, per_kind, kind_errors
		 FROM runs WHERE run_id = $1`, runID,
	).Scan(&run.RunID, &run.State, &run.StartedAt, &run.FinishedAt, &perKind, &kindErrors)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	if err := json.Unmarshal(perKind, &run.PerKind); err != nil {
		return nil, fmt.Errorf("decode per-kind stats: %w", err)
	}
	if err := json.Unmarshal(kindErrors, &run.KindErrors); err != nil {
		return nil, fmt.Errorf("decode kind errors: %w", err)
	}
	return &run, nil
}

// RunSummary is one row of the run history listing.
type RunSummary struct {
	RunID      string
	State      model.RunState
	StartedAt  time.Time
	FinishedAt time.Time
}

// ListRuns pages through run history, most recent first.
func (s *Store) ListRuns(ctx context.Context, limit int, cursor string) ([]RunSummary, bool, error) {
	query := `SELECT run_id, state, started_at, finished_at FROM runs`
	args := []any{}
	argIdx := 1

	if cursor != "" {
		query += fmt.Sprintf(` WHERE started_at < (SELECT started_at FROM runs WHERE run_id = $%d)`, argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY started_at DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.State, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, false, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate runs: %w", err)
	}

	hasMore := len(runs) > limit
	if hasMore {
		runs = runs[:limit]
	}
	return runs, hasMore, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
