package crud

import (
	"context"
	"fmt"

	"github.com/vinovest/sqlx"

	"github.com/dsi-data/logops/internal/apperr"
	"github.com/dsi-data/logops/internal/model"
)

// TableStats is one main/archive table pair's row counts, mirroring the
// original chat service's get_table_stats tool response shape.
type TableStats struct {
	MainTable          model.Table
	MainCount          int64
	ArchiveTable       model.Table
	ArchiveCount       int64
	ArchiveTableExists bool
}

// Stats answers the "table statistics" tool: with a table given, it
// returns that table's main/archive pair; with table == "", it returns
// every governed pair, mirroring the original's table_name=None meaning
// "report on everything". filters, when it carries a date constraint,
// narrows MainCount/ArchiveCount to matching rows rather than the whole
// table.
func (e *Engine) Stats(ctx context.Context, region string, role model.Role, table model.Table, filters model.Filters) ([]TableStats, error) {
	if !role.Allows(model.PermSelect) {
		return nil, apperr.New(apperr.PermissionDenied, "role does not permit reading table statistics")
	}

	db, err := e.regions.Session(region)
	if err != nil {
		return nil, err
	}

	var targets []keyStrategy
	if table == "" {
		targets = []keyStrategy{strategies[model.TableActivities], strategies[model.TableTransactions]}
	} else {
		strategy, ok := strategyFor(table)
		if !ok {
			return nil, apperr.New(apperr.ValidationError, fmt.Sprintf("no statistics available for %q", table))
		}
		targets = []keyStrategy{strategy}
	}

	out := make([]TableStats, 0, len(targets))
	for _, strategy := range targets {
		mainCount, err := e.countTable(ctx, db, strategy.mainTable, strategy.timeColumn, filters)
		if err != nil {
			return nil, err
		}
		exists, archiveCount, err := e.countArchiveTable(ctx, db, strategy.archiveTable, strategy.timeColumn, filters)
		if err != nil {
			return nil, err
		}
		out = append(out, TableStats{
			MainTable:          strategy.mainTable,
			MainCount:          mainCount,
			ArchiveTable:       strategy.archiveTable,
			ArchiveCount:       archiveCount,
			ArchiveTableExists: exists,
		})
	}
	return out, nil
}

func (e *Engine) countTable(ctx context.Context, db *sqlx.DB, table model.Table, timeColumn string, filters model.Filters) (int64, error) {
	b := &argsBuilder{}
	cond, err := timeFilterSQL(b, timeColumn, filters)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	if cond != "" {
		query += " WHERE " + cond
	}

	var n int64
	if err := db.GetContext(ctx, &n, query, b.args...); err != nil {
		return 0, apperr.Wrap(apperr.Internal, fmt.Sprintf("error counting %s", table), err)
	}
	return n, nil
}

// countArchiveTable probes for the archive table's existence before
// counting it, the way regions.Manager.TestConnection does for its
// per-region table probe: an archive table that was never created in
// this region reports a zero count, not an error.
func (e *Engine) countArchiveTable(ctx context.Context, db *sqlx.DB, table model.Table, timeColumn string, filters model.Filters) (exists bool, count int64, err error) {
	if err := db.GetContext(ctx, &exists, "SELECT to_regclass($1) IS NOT NULL", string(table)); err != nil {
		return false, 0, apperr.Wrap(apperr.Internal, "error probing archive table existence", err)
	}
	if !exists {
		return false, 0, nil
	}
	count, err = e.countTable(ctx, db, table, timeColumn, filters)
	return exists, count, err
}
