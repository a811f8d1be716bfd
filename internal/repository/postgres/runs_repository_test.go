package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/andresuchdata/batchsync/internal/config"
	"github.com/andresuchdata/batchsync/internal/domain"
	"github.com/andresuchdata/batchsync/internal/repository/postgres/migrations"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return wrapDB(sqlx.NewDb(raw, "postgres")), mock
}

func sampleSummary() *domain.Summary {
	started := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	return &domain.Summary{
		RunID:         "6f1c2a8e-1b7e-4d8e-9a53-0c1f0d2b9e11",
		Trigger:       domain.TriggerManual,
		State:         domain.StateDone,
		Success:       true,
		Message:       "uploaded 2 of 3 files",
		FilesFound:    3,
		FilesUploaded: 2,
		FilesFailed:   1,
		UploadedNames: []string{"data_20240102.csv", "data_20240103.csv"},
		DateRange: &domain.DateRange{
			Start: domain.NewDate(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)),
			End:   domain.NewDate(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)),
		},
		Failures:   []domain.FileFailure{{Name: "data_20240104.csv.gz", Stage: "decompress", Reason: "decompress data_20240104.csv.gz: gzip: invalid header"}},
		StartedAt:  started,
		FinishedAt: started.Add(42 * time.Second),
	}
}

func TestRunRepository_Record(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db)
	s := sampleSummary()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_runs")).
		WithArgs(s.RunID, "manual", "done", true, s.Message,
			sqlmock.AnyArg(), sqlmock.AnyArg(),
			3, 2, 1, sqlmock.AnyArg(), 0, 0, s.StartedAt, s.FinishedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO sync_run_failures"))
	prep.ExpectExec().
		WithArgs(s.RunID, 0, "data_20240104.csv.gz", "decompress", s.Failures[0].Reason).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Record(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_RecordWithoutWindowOrFailures(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db)
	s := sampleSummary()
	s.DateRange = nil
	s.Failures = nil

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_runs")).
		WithArgs(s.RunID, "manual", "done", true, s.Message,
			sql.NullTime{}, sql.NullTime{},
			3, 2, 1, sqlmock.AnyArg(), 0, 0, s.StartedAt, s.FinishedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Record(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_RecordRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_runs")).
		WillReturnError(errors.New("duplicate key value violates unique constraint"))
	mock.ExpectRollback()

	err := repo.Record(context.Background(), sampleSummary())
	assert.ErrorContains(t, err, "failed to insert run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_List(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db)

	started := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	columns := []string{
		"id", "trigger", "state", "success", "message", "window_start", "window_end",
		"files_found", "files_uploaded", "files_failed", "uploaded_names",
		"objects_without_date", "source_files_without_date", "started_at", "finished_at",
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM sync_runs")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("run-2", "scheduled", "done", true, "nothing pending", nil, nil,
				0, 0, 0, "{}", 0, 0, started.Add(24*time.Hour), started.Add(24*time.Hour)).
			AddRow("run-1", "manual", "done", true, "uploaded", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
				3, 2, 1, "{data_20240102.csv,data_20240103.csv}", 1, 0, started, started.Add(time.Minute)))
	mock.ExpectQuery(regexp.QuoteMeta("FROM sync_run_failures")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "name", "stage", "reason"}).
			AddRow("run-1", "data_20240104.csv.gz", "decompress", "bad header"))

	runs, err := repo.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, domain.TriggerScheduled, runs[0].Trigger)
	assert.Nil(t, runs[0].DateRange)
	assert.Empty(t, runs[0].UploadedNames)
	assert.Empty(t, runs[0].Failures)

	assert.Equal(t, "run-1", runs[1].RunID)
	require.NotNil(t, runs[1].DateRange)
	assert.Equal(t, "2024-01-02 - 2024-01-04", runs[1].DateRange.String())
	assert.Equal(t, []string{"data_20240102.csv", "data_20240103.csv"}, runs[1].UploadedNames)
	assert.Equal(t, 1, runs[1].ObjectsWithoutDate)
	require.Len(t, runs[1].Failures, 1)
	assert.Equal(t, "decompress", runs[1].Failures[0].Stage)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_ListClampsLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sync_runs")).
		WithArgs(defaultRunsLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM sync_runs")).
		WithArgs(maxRunsLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	runs, err := repo.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NotNil(t, runs)

	_, err = repo.List(context.Background(), 10_000)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_ListError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM sync_runs")).WillReturnError(errors.New("relation does not exist"))

	_, err := NewRunRepository(db).List(context.Background(), 5)
	assert.ErrorContains(t, err, "failed to list runs")
}

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "batchsync", SSLMode: "disable"})
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=batchsync sslmode=disable", dsn)
}

func TestRunMigrations(t *testing.T) {
	raw, _, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	var gotDir string
	orig := gooseUp
	gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
		gotDir = dir
		return nil
	}
	t.Cleanup(func() { gooseUp = orig })

	require.NoError(t, RunMigrations(context.Background(), raw))
	assert.Equal(t, ".", gotDir)

	gooseUp = func(context.Context, *sql.DB, string) error { return errors.New("boom") }
	assert.ErrorContains(t, RunMigrations(context.Background(), raw), "migration error")
}

func TestMigrationsAreEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	assert.Contains(t, files, "00001_create_sync_runs.sql")
}
