package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/andresuchdata/batchsync/internal/domain"
	"github.com/lib/pq"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// RunRepository persists transfer summaries in sync_runs.
type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

type runRow struct {
	ID                     string         `db:"id"`
	Trigger                string         `db:"trigger"`
	State                  string         `db:"state"`
	Success                bool           `db:"success"`
	Message                string         `db:"message"`
	WindowStart            sql.NullTime   `db:"window_start"`
	WindowEnd              sql.NullTime   `db:"window_end"`
	FilesFound             int            `db:"files_found"`
	FilesUploaded          int            `db:"files_uploaded"`
	FilesFailed            int            `db:"files_failed"`
	UploadedNames          pq.StringArray `db:"uploaded_names"`
	ObjectsWithoutDate     int            `db:"objects_without_date"`
	SourceFilesWithoutDate int            `db:"source_files_without_date"`
	StartedAt              time.Time      `db:"started_at"`
	FinishedAt             time.Time      `db:"finished_at"`
}

type failureRow struct {
	RunID  string `db:"run_id"`
	Name   string `db:"name"`
	Stage  string `db:"stage"`
	Reason string `db:"reason"`
}

// Record stores a summary and its per-file failures in one transaction.
func (r *RunRepository) Record(ctx context.Context, s *domain.Summary) error {
	var windowStart, windowEnd sql.NullTime
	if s.DateRange != nil {
		windowStart = sql.NullTime{Time: s.DateRange.Start.Time, Valid: true}
		windowEnd = sql.NullTime{Time: s.DateRange.End.Time, Valid: true}
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO sync_runs (
				id, trigger, state, success, message, window_start, window_end,
				files_found, files_uploaded, files_failed, uploaded_names,
				objects_without_date, source_files_without_date, started_at, finished_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`
		_, err := tx.ExecContext(ctx, query,
			s.RunID,
			string(s.Trigger),
			string(s.State),
			s.Success,
			s.Message,
			windowStart,
			windowEnd,
			s.FilesFound,
			s.FilesUploaded,
			s.FilesFailed,
			pq.Array(s.UploadedNames),
			s.ObjectsWithoutDate,
			s.SourceFilesWithoutDate,
			s.StartedAt,
			s.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		if len(s.Failures) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sync_run_failures (run_id, position, name, stage, reason)
			VALUES ($1, $2, $3, $4, $5)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for i, f := range s.Failures {
			if _, err := stmt.ExecContext(ctx, s.RunID, i, f.Name, f.Stage, f.Reason); err != nil {
				return fmt.Errorf("failed to insert run failure: %w", err)
			}
		}
		return nil
	})
}

// List returns the newest runs first, with their failures attached.
func (r *RunRepository) List(ctx context.Context, limit int) ([]domain.Summary, error) {
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}

	release, err := r.db.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var rows []runRow
	query := `
		SELECT id, trigger, state, success, message, window_start, window_end,
			files_found, files_uploaded, files_failed, uploaded_names,
			objects_without_date, source_files_without_date, started_at, finished_at
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(rows) == 0 {
		return []domain.Summary{}, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	var failures []failureRow
	failureQuery := `
		SELECT run_id, name, stage, reason
		FROM sync_run_failures
		WHERE run_id = ANY($1)
		ORDER BY run_id, position
	`
	if err := r.db.SelectContext(ctx, &failures, failureQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to list run failures: %w", err)
	}

	byRun := make(map[string][]domain.FileFailure, len(rows))
	for _, f := range failures {
		byRun[f.RunID] = append(byRun[f.RunID], domain.FileFailure{Name: f.Name, Stage: f.Stage, Reason: f.Reason})
	}

	summaries := make([]domain.Summary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, row.toSummary(byRun[row.ID]))
	}
	return summaries, nil
}

func (row runRow) toSummary(failures []domain.FileFailure) domain.Summary {
	s := domain.Summary{
		RunID:                  row.ID,
		Trigger:                domain.Trigger(row.Trigger),
		State:                  domain.RunState(row.State),
		Success:                row.Success,
		Message:                row.Message,
		FilesFound:             row.FilesFound,
		FilesUploaded:          row.FilesUploaded,
		FilesFailed:            row.FilesFailed,
		UploadedNames:          []string(row.UploadedNames),
		ObjectsWithoutDate:     row.ObjectsWithoutDate,
		SourceFilesWithoutDate: row.SourceFilesWithoutDate,
		Failures:               failures,
		StartedAt:              row.StartedAt,
		FinishedAt:             row.FinishedAt,
	}
	if s.UploadedNames == nil {
		s.UploadedNames = []string{}
	}
	if row.WindowStart.Valid && row.WindowEnd.Valid {
		s.DateRange = &domain.DateRange{
			Start: domain.NewDate(row.WindowStart.Time),
			End:   domain.NewDate(row.WindowEnd.Time),
		}
	}
	return s
}
