// Package joblog writes the one audit record required per mutating
// ARCHIVE/DELETE operation: opened IN_PROGRESS before any data writes,
// closed SUCCESS or FAILED on every exit path. The FAILED path always
// uses a session distinct from the transaction that rolled back, so the
// audit trail survives the rollback that destroyed the original
// IN_PROGRESS row.
package joblog

import (
	"context"
	"fmt"

	"github.com/nyaruka/gocommon/analytics"
	"github.com/nyaruka/gocommon/dates"
	"github.com/vinovest/sqlx"

	"github.com/dsi-data/logops/internal/apperr"
	"github.com/dsi-data/logops/internal/model"
)

const sqlInsertInProgress = `
INSERT INTO job_logs (schema_name, job_type, table_name, status, source, reason, records_affected, started_at)
VALUES ($1, $2, $3, 'IN_PROGRESS', $4, $5, 0, $6)
RETURNING id, started_at
`

const sqlComplete = `
UPDATE job_logs SET status = $2, records_affected = $3, reason = $4, finished_at = $5
WHERE id = $1
`

const sqlInsertFailedComplete = `
INSERT INTO job_logs (schema_name, job_type, table_name, status, source, reason, records_affected, started_at, finished_at)
VALUES ($1, $2, $3, 'FAILED', $4, $5, 0, $6, $6)
RETURNING id
`

// Logger writes job_logs rows. It holds no database handle of its own;
// every call is handed the session (transaction or plain DB) to use,
// matching the contract that the FAILED write must come from a fresh
// session chosen by the caller.
type Logger struct{}

// NewLogger constructs a Logger. It has no state today but exists as a
// named type so call sites read as "the job logger", not a bare package
// function, and so a future version can hold shared metrics wiring.
func NewLogger() *Logger { return &Logger{} }

// Start inserts an IN_PROGRESS row inside tx and returns the resulting
// handle with its assigned ID and start time.
func (l *Logger) Start(ctx context.Context, tx *sqlx.Tx, jobType model.JobType, table string, source model.JobSource, reason string) (*model.JobLog, error) {
	row := model.JobLog{JobType: jobType, TableName: table, Status: model.JobInProgress, Source: source, Reason: reason}
	err := tx.QueryRowxContext(ctx, sqlInsertInProgress, row.SchemaName, jobType, table, source, reason, dates.Now()).Scan(&row.ID, &row.StartedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "error starting job log", err)
	}
	return &row, nil
}

// Complete closes handle with status SUCCESS or FAILED inside tx,
// recording recordsAffected and reason. The caller commits tx afterward.
func (l *Logger) Complete(ctx context.Context, tx *sqlx.Tx, handle *model.JobLog, status model.JobStatus, recordsAffected int, reason string) error {
	now := dates.Now()
	_, err := tx.ExecContext(ctx, sqlComplete, handle.ID, status, recordsAffected, reason, now)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "error completing job log", err)
	}
	handle.Status = status
	handle.RecordsAffected = recordsAffected
	handle.Reason = reason
	handle.FinishedAt = &now

	if status == model.JobSuccess {
		analytics.Gauge(fmt.Sprintf("crud.%s.records_affected", jobTypeMetric(handle.JobType)), float64(recordsAffected))
	}
	return nil
}

// LogFailed records a complete FAILED job-log entry using db, a session
// distinct from whatever transaction just rolled back. It is used both
// as the rollback-path finalizer for an operation that started a job log
// and then failed, and as the shorthand the spec describes for an
// operation that could not even begin its transaction.
func (l *Logger) LogFailed(ctx context.Context, db *sqlx.DB, jobType model.JobType, table string, source model.JobSource, errMessage string) (*model.JobLog, error) {
	row := model.JobLog{JobType: jobType, TableName: table, Status: model.JobFailed, Source: source, Reason: errMessage}
	now := dates.Now()
	err := db.QueryRowxContext(ctx, sqlInsertFailedComplete, row.SchemaName, jobType, table, source, errMessage, now).Scan(&row.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "error logging failed operation", err)
	}
	row.StartedAt = now
	row.FinishedAt = &now

	analytics.Gauge(fmt.Sprintf("crud.%s.failed", jobTypeMetric(jobType)), 1)
	return &row, nil
}

const sqlListRecent = `
SELECT id, schema_name, job_type, table_name, status, source, reason, records_affected, started_at, finished_at
FROM job_logs
ORDER BY started_at DESC
LIMIT $1
`

const sqlListRecentByStatus = `
SELECT id, schema_name, job_type, table_name, status, source, reason, records_affected, started_at, finished_at
FROM job_logs
WHERE status = $1
ORDER BY started_at DESC
LIMIT $2
`

// List returns the most recent job_logs rows, optionally filtered to a
// single status, newest first.
func (l *Logger) List(ctx context.Context, db *sqlx.DB, status model.JobStatus, limit int) ([]model.JobLog, error) {
	var rows []model.JobLog
	var err error
	if status == "" {
		err = db.SelectContext(ctx, &rows, sqlListRecent, limit)
	} else {
		err = db.SelectContext(ctx, &rows, sqlListRecentByStatus, status, limit)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "error listing job logs", err)
	}
	return rows, nil
}

func jobTypeMetric(t model.JobType) string {
	switch t {
	case model.JobArchive:
		return "archive"
	case model.JobDelete:
		return "delete"
	default:
		return "other"
	}
}
