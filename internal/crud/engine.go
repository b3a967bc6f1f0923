// Package crud implements the CRUD Core: preview and execute for both
// ARCHIVE and DELETE, with retention gating, duplicate-safe insertion,
// and source deletion bounded to exactly what was archived.
package crud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vinovest/sqlx"

	"github.com/dsi-data/logops/internal/apperr"
	"github.com/dsi-data/logops/internal/joblog"
	"github.com/dsi-data/logops/internal/model"
	"github.com/dsi-data/logops/internal/regions"
)

// Engine is the CRUD Core. It holds no database handle directly - every
// call is handed a region name and resolves its session through regions,
// matching the region session manager's session-vending contract.
type Engine struct {
	regions              *regions.Manager
	jobs                 *joblog.Logger
	archiveRetentionDays int
	deleteRetentionDays  int
	logger               *slog.Logger
}

// NewEngine builds an Engine wired to regions and jobs, enforcing the
// given retention floors. A nil logger defaults to slog.Default(),
// matching nugget-thane-ai-agent's client-constructor idiom.
func NewEngine(regionManager *regions.Manager, jobs *joblog.Logger, archiveRetentionDays, deleteRetentionDays int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{regions: regionManager, jobs: jobs, archiveRetentionDays: archiveRetentionDays, deleteRetentionDays: deleteRetentionDays, logger: logger}
}

// PreviewResult is the dry-run response: a candidate count and a small
// sample, with no mutation performed.
type PreviewResult struct {
	Table                model.Table
	PreviewCount         int
	SampleRecords        []map[string]interface{}
	RequiresConfirmation bool
}

// ExecuteResult is the mutation response.
type ExecuteResult struct {
	Table           model.Table
	RecordsArchived int
	RecordsDeleted  int
	RecordsSkipped  int
	JobLogID        int64
}

// PreviewArchive runs the preview branch of the ARCHIVE pipeline: no
// transaction, no job log, just a count and a sample.
func (e *Engine) PreviewArchive(ctx context.Context, region string, role model.Role, table model.Table, filters model.Filters, now time.Time) (*PreviewResult, error) {
	if !role.Allows(model.PermArchive) {
		return nil, apperr.New(apperr.PermissionDenied, "role does not permit archive operations")
	}
	strategy, ok := strategyFor(table)
	if !ok || table.IsArchiveTable() {
		return nil, apperr.New(apperr.ValidationError, fmt.Sprintf("%q is not a main table eligible for archive", table))
	}

	gated, err := applyRetentionGate(filters, now, e.archiveRetentionDays)
	if err != nil {
		return nil, err
	}

	db, err := e.regions.Session(region)
	if err != nil {
		return nil, err
	}

	return e.preview(ctx, db, strategy, strategy.mainTable, gated)
}

// PreviewDelete runs the preview branch of the DELETE pipeline, gated at
// deleteRetentionDays and restricted to archive tables.
func (e *Engine) PreviewDelete(ctx context.Context, region string, role model.Role, table model.Table, filters model.Filters, now time.Time) (*PreviewResult, error) {
	if !role.Allows(model.PermDeleteArchive) {
		return nil, apperr.New(apperr.PermissionDenied, "role does not permit delete operations")
	}
	if !table.IsArchiveTable() {
		return nil, apperr.New(apperr.ValidationError, fmt.Sprintf("%q is not an archive table; delete only targets archive tables", table))
	}
	strategy, ok := strategyFor(table)
	if !ok {
		return nil, apperr.New(apperr.ValidationError, fmt.Sprintf("no duplicate-key strategy registered for %q", table))
	}

	gated, err := applyRetentionGate(filters, now, e.deleteRetentionDays)
	if err != nil {
		return nil, err
	}

	db, err := e.regions.Session(region)
	if err != nil {
		return nil, err
	}

	return e.preview(ctx, db, strategy, strategy.archiveTable, gated)
}

func (e *Engine) preview(ctx context.Context, db *sqlx.DB, strategy keyStrategy, table model.Table, filters model.Filters) (*PreviewResult, error) {
	b := &argsBuilder{}
	cond, err := timeFilterSQL(b, strategy.timeColumn, filters)
	if err != nil {
		return nil, err
	}
	if cond == "" {
		return nil, apperr.New(apperr.ValidationError, "operation requires a date filter")
	}

	var count int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, cond)
	if err := db.GetContext(ctx, &count, countQuery, b.args...); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "error counting preview candidates", err)
	}

	sample := []map[string]interface{}{}
	if count > 0 {
		sb := &argsBuilder{}
		sampleCond, _ := timeFilterSQL(sb, strategy.timeColumn, filters)
		sampleQuery := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s ASC LIMIT 5", table, sampleCond, strategy.timeColumn)
		rows, err := db.QueryxContext(ctx, sampleQuery, sb.args...)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "error sampling preview candidates", err)
		}
		defer rows.Close()
		for rows.Next() {
			row := map[string]interface{}{}
			if err := rows.MapScan(row); err != nil {
				return nil, apperr.Wrap(apperr.Internal, "error scanning preview sample", err)
			}
			sample = append(sample, row)
		}
	}

	return &PreviewResult{
		Table:                table,
		PreviewCount:         count,
		SampleRecords:        sample,
		RequiresConfirmation: count > 0,
	}, nil
}

// ExecuteArchive runs the full ARCHIVE pipeline: job-log open, duplicate
// detection, insert, bounded source delete, fallback on race, post-check,
// commit and job-log finalize. Any failure after the job log is opened
// rolls back the data transaction and records FAILED on a fresh session.
func (e *Engine) ExecuteArchive(ctx context.Context, region string, role model.Role, source model.JobSource, table model.Table, filters model.Filters, now time.Time) (*ExecuteResult, error) {
	if !role.Allows(model.PermArchive) {
		return nil, apperr.New(apperr.PermissionDenied, "role does not permit archive operations")
	}
	strategy, ok := strategyFor(table)
	if !ok || table.IsArchiveTable() {
		return nil, apperr.New(apperr.ValidationError, fmt.Sprintf("%q is not a main table eligible for archive", table))
	}

	gated, gateErr := applyRetentionGate(filters, now, e.archiveRetentionDays)
	if gateErr != nil {
		e.logImmediateFailure(ctx, region, model.JobArchive, string(table), source, gateErr)
		return nil, gateErr
	}

	db, err := e.regions.Session(region)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		e.logImmediateFailure(ctx, region, model.JobArchive, string(table), source, err)
		return nil, apperr.Wrap(apperr.DBUnavailable, "error starting archive transaction", err)
	}

	handle, err := e.jobs.Start(ctx, tx, model.JobArchive, string(table), source, "archive in progress")
	if err != nil {
		tx.Rollback()
		e.logImmediateFailure(ctx, region, model.JobArchive, string(table), source, err)
		return nil, err
	}

	archived, deleted, skipped, err := e.performArchive(ctx, tx, strategy, gated)
	if err != nil {
		tx.Rollback()
		e.logFailedOnFreshSession(ctx, db, model.JobArchive, string(table), source, err)
		return nil, err
	}

	reason := fmt.Sprintf("archived=%d deleted=%d skipped=%d", archived, deleted, skipped)
	if err := e.jobs.Complete(ctx, tx, handle, model.JobSuccess, archived, reason); err != nil {
		tx.Rollback()
		e.logFailedOnFreshSession(ctx, db, model.JobArchive, string(table), source, err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		e.logFailedOnFreshSession(ctx, db, model.JobArchive, string(table), source, err)
		return nil, apperr.Wrap(apperr.Internal, "error committing archive transaction", err)
	}

	return &ExecuteResult{Table: table, RecordsArchived: archived, RecordsDeleted: deleted, RecordsSkipped: skipped, JobLogID: handle.ID}, nil
}

// ExecuteDelete runs the DELETE pipeline: simpler than ARCHIVE, a single
// delete statement inside the transaction bracketed by job-log calls.
func (e *Engine) ExecuteDelete(ctx context.Context, region string, role model.Role, source model.JobSource, table model.Table, filters model.Filters, now time.Time) (*ExecuteResult, error) {
	if !role.Allows(model.PermDeleteArchive) {
		return nil, apperr.New(apperr.PermissionDenied, "role does not permit delete operations")
	}
	if !table.IsArchiveTable() {
		return nil, apperr.New(apperr.ValidationError, fmt.Sprintf("%q is not an archive table; delete only targets archive tables", table))
	}
	strategy, ok := strategyFor(table)
	if !ok {
		return nil, apperr.New(apperr.ValidationError, fmt.Sprintf("no duplicate-key strategy registered for %q", table))
	}

	gated, gateErr := applyRetentionGate(filters, now, e.deleteRetentionDays)
	if gateErr != nil {
		e.logImmediateFailure(ctx, region, model.JobDelete, string(table), source, gateErr)
		return nil, gateErr
	}

	db, err := e.regions.Session(region)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		e.logImmediateFailure(ctx, region, model.JobDelete, string(table), source, err)
		return nil, apperr.Wrap(apperr.DBUnavailable, "error starting delete transaction", err)
	}

	handle, err := e.jobs.Start(ctx, tx, model.JobDelete, string(table), source, "delete in progress")
	if err != nil {
		tx.Rollback()
		e.logImmediateFailure(ctx, region, model.JobDelete, string(table), source, err)
		return nil, err
	}

	b := &argsBuilder{}
	cond, err := timeFilterSQL(b, strategy.timeColumn, gated)
	if err != nil {
		tx.Rollback()
		e.logFailedOnFreshSession(ctx, db, model.JobDelete, string(table), source, err)
		return nil, err
	}
	if cond == "" {
		err := apperr.New(apperr.ValidationError, "delete operation requires a date filter")
		tx.Rollback()
		e.logFailedOnFreshSession(ctx, db, model.JobDelete, string(table), source, err)
		return nil, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", table, cond)
	res, err := tx.ExecContext(ctx, query, b.args...)
	if err != nil {
		tx.Rollback()
		werr := apperr.Wrap(apperr.Internal, "error deleting archived rows", err)
		e.logFailedOnFreshSession(ctx, db, model.JobDelete, string(table), source, werr)
		return nil, werr
	}
	n, _ := res.RowsAffected()

	reason := fmt.Sprintf("deleted=%d", n)
	if err := e.jobs.Complete(ctx, tx, handle, model.JobSuccess, int(n), reason); err != nil {
		tx.Rollback()
		e.logFailedOnFreshSession(ctx, db, model.JobDelete, string(table), source, err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		e.logFailedOnFreshSession(ctx, db, model.JobDelete, string(table), source, err)
		return nil, apperr.Wrap(apperr.Internal, "error committing delete transaction", err)
	}

	return &ExecuteResult{Table: table, RecordsDeleted: int(n), JobLogID: handle.ID}, nil
}

func (e *Engine) logFailedOnFreshSession(ctx context.Context, db *sqlx.DB, jobType model.JobType, table string, source model.JobSource, cause error) {
	_, _ = e.jobs.LogFailed(ctx, db, jobType, table, source, cause.Error())
}

func (e *Engine) logImmediateFailure(ctx context.Context, region string, jobType model.JobType, table string, source model.JobSource, cause error) {
	db, err := e.regions.Session(region)
	if err != nil {
		return
	}
	e.logFailedOnFreshSession(ctx, db, jobType, table, source, cause)
}
