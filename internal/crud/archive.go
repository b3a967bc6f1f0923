package crud

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/vinovest/sqlx"

	"github.com/dsi-data/logops/internal/apperr"
	"github.com/dsi-data/logops/internal/model"
)

// skipSet is the table-specific set of rows excluded from both the
// archive INSERT and the source DELETE: rows already present in the
// archive table (true duplicates) and, for transactions, rows with a
// NULL GUID, which carry no natural key and so can never be safely
// deduplicated if archived. Both classes are captured up front, in the
// same transaction snapshot, so the INSERT and the subsequent DELETE
// agree on exactly the same exclusion even though the INSERT changes the
// archive table's contents partway through.
type skipSet struct {
	count         int
	guidExclusion pq.StringArray // transactions only

	activityIDs    pq.StringArray // activities only
	postedTimes    pq.StringArray // activities only
}

func (e *Engine) computeSkipSet(ctx context.Context, tx *sqlx.Tx, strategy keyStrategy, filters model.Filters) (skipSet, error) {
	if strategy.guidColumn != "" {
		return e.computeTransactionSkipSet(ctx, tx, strategy, filters)
	}
	return e.computeActivitySkipSet(ctx, tx, strategy, filters)
}

func (e *Engine) computeTransactionSkipSet(ctx context.Context, tx *sqlx.Tx, strategy keyStrategy, filters model.Filters) (skipSet, error) {
	b := &argsBuilder{}
	cond, err := dateCondition(b, strategy, filters)
	if err != nil {
		return skipSet{}, err
	}

	dupQuery := fmt.Sprintf(`
		SELECT m.%s FROM %s m
		WHERE %s AND m.%s IS NOT NULL
		  AND EXISTS (SELECT 1 FROM %s a WHERE a.%s = m.%s)`,
		strategy.guidColumn, strategy.mainTable, cond, strategy.guidColumn,
		strategy.archiveTable, strategy.guidColumn, strategy.guidColumn)

	var dupGUIDs []string
	if err := tx.SelectContext(ctx, &dupGUIDs, dupQuery, b.args...); err != nil {
		return skipSet{}, apperr.Wrap(apperr.Internal, "error probing duplicate GUIDs", err)
	}

	nb := &argsBuilder{}
	nullCond, err := dateCondition(nb, strategy, filters)
	if err != nil {
		return skipSet{}, err
	}
	nullQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s m WHERE %s AND m.%s IS NULL`, strategy.mainTable, nullCond, strategy.guidColumn)
	var nullCount int
	if err := tx.GetContext(ctx, &nullCount, nullQuery, nb.args...); err != nil {
		return skipSet{}, apperr.Wrap(apperr.Internal, "error counting null-GUID rows", err)
	}

	return skipSet{count: len(dupGUIDs) + nullCount, guidExclusion: pq.StringArray(dupGUIDs)}, nil
}

func (e *Engine) computeActivitySkipSet(ctx context.Context, tx *sqlx.Tx, strategy keyStrategy, filters model.Filters) (skipSet, error) {
	b := &argsBuilder{}
	cond, err := dateCondition(b, strategy, filters)
	if err != nil {
		return skipSet{}, err
	}

	dupQuery := fmt.Sprintf(`
		SELECT m.activity_id, m.posted_time FROM %s m
		WHERE %s
		  AND EXISTS (SELECT 1 FROM %s a WHERE a.activity_id = m.activity_id AND a.posted_time = m.posted_time)`,
		strategy.mainTable, cond, strategy.archiveTable)

	rows, err := tx.QueryxContext(ctx, dupQuery, b.args...)
	if err != nil {
		return skipSet{}, apperr.Wrap(apperr.Internal, "error probing duplicate activity keys", err)
	}
	defer rows.Close()

	var ids, times []string
	for rows.Next() {
		var id, pt string
		if err := rows.Scan(&id, &pt); err != nil {
			return skipSet{}, apperr.Wrap(apperr.Internal, "error scanning duplicate activity key", err)
		}
		ids = append(ids, id)
		times = append(times, pt)
	}

	return skipSet{count: len(ids), activityIDs: pq.StringArray(ids), postedTimes: pq.StringArray(times)}, nil
}

// exclusionPredicate renders the SQL fragment (and its own placeholders,
// via b) that, appended to a main-table query already constrained by
// dateCondition, excludes every row in skip.
func exclusionPredicate(b *argsBuilder, strategy keyStrategy, skip skipSet) string {
	if strategy.guidColumn != "" {
		ph := b.add(skip.guidExclusion)
		return fmt.Sprintf("m.%s IS NOT NULL AND NOT (m.%s = ANY(%s))", strategy.guidColumn, strategy.guidColumn, ph)
	}
	ph1 := b.add(skip.activityIDs)
	ph2 := b.add(skip.postedTimes)
	return fmt.Sprintf(
		"NOT EXISTS (SELECT 1 FROM unnest(%s::text[], %s::text[]) AS dup(activity_id, posted_time) WHERE dup.activity_id = m.activity_id AND dup.posted_time = m.posted_time)",
		ph1, ph2)
}

func dateCondition(b *argsBuilder, strategy keyStrategy, filters model.Filters) (string, error) {
	sql, err := timeFilterSQL(b, "m."+strategy.timeColumn, filters)
	if err != nil {
		return "", err
	}
	if sql == "" {
		return "", apperr.New(apperr.ValidationError, "archive/delete operation requires a date filter")
	}
	return sql, nil
}

// performArchive runs the insert-then-delete pair inside tx and returns
// the counts needed for the job-log reason and the return contract. It
// does not open or close the transaction or the job log; the caller
// does.
func (e *Engine) performArchive(ctx context.Context, tx *sqlx.Tx, strategy keyStrategy, filters model.Filters) (archived, deleted, skipped int, err error) {
	skip, err := e.computeSkipSet(ctx, tx, strategy, filters)
	if err != nil {
		return 0, 0, 0, err
	}
	skipped = skip.count

	// a UNIQUE violation aborts the whole Postgres transaction, so the bulk
	// insert runs under a savepoint the fallback path can roll back to.
	if _, err := tx.ExecContext(ctx, "SAVEPOINT archive_insert"); err != nil {
		return 0, 0, 0, apperr.Wrap(apperr.Internal, "error creating archive savepoint", err)
	}
	archived, err = e.insertArchived(ctx, tx, strategy, filters, skip)
	if err != nil {
		if isUniqueViolation(err) {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT archive_insert"); rbErr != nil {
				return 0, 0, 0, apperr.Wrap(apperr.Internal, "error rolling back to archive savepoint", rbErr)
			}
			archived, skipped, err = e.fallbackInsert(ctx, tx, strategy, filters, skip)
			if err != nil {
				return 0, 0, 0, err
			}
		} else {
			return 0, 0, 0, err
		}
	}

	deleted, err = e.deleteArchived(ctx, tx, strategy, filters, skip)
	if err != nil {
		return 0, 0, 0, err
	}

	if err := e.postCheck(ctx, tx, strategy); err != nil {
		// a non-zero post-check is a warning, not a failure: it is logged
		// and the caller still commits the transaction with its counts.
		e.logger.Warn("post-archive conflict check found conflicts", "table", strategy.mainTable, "error", err)
	}

	return archived, deleted, skipped, nil
}

func (e *Engine) insertArchived(ctx context.Context, tx *sqlx.Tx, strategy keyStrategy, filters model.Filters, skip skipSet) (int, error) {
	b := &argsBuilder{}
	dateCond, err := dateCondition(b, strategy, filters)
	if err != nil {
		return 0, err
	}
	exclusion := exclusionPredicate(b, strategy, skip)
	if strategy.guidColumn != "" {
		// belt-and-braces: never insert a GUID the archive already holds
		exclusion += fmt.Sprintf(" AND NOT EXISTS (SELECT 1 FROM %s a WHERE a.%s = m.%s)",
			strategy.archiveTable, strategy.guidColumn, strategy.guidColumn)
	}

	cols := strings.Join(strategy.columns, ", ")
	selectCols := prefixColumns(strategy.columns, "m.")

	orderLimit := ""
	if filters.Limit != nil {
		orderLimit = fmt.Sprintf(" ORDER BY m.%s ASC LIMIT %d", strategy.timeColumn, *filters.Limit)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		SELECT %s FROM %s m
		WHERE %s AND %s%s`,
		strategy.archiveTable, cols, selectCols, strategy.mainTable, dateCond, exclusion, orderLimit)

	res, err := tx.ExecContext(ctx, query, b.args...)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "error inserting archive rows", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// deleteArchived removes from main exactly the rows just archived. When
// filters.Limit is set it bounds the delete to the same oldest-first
// top-N set via a correlated subquery keyed on the table's surrogate id
// column, which is always a true unique key regardless of table flavor -
// unlike keying on ActivityID alone, which is not unique for activities.
func (e *Engine) deleteArchived(ctx context.Context, tx *sqlx.Tx, strategy keyStrategy, filters model.Filters, skip skipSet) (int, error) {
	b := &argsBuilder{}
	dateCond, err := dateCondition(b, strategy, filters)
	if err != nil {
		return 0, err
	}
	exclusion := exclusionPredicate(b, strategy, skip)

	var query string
	if filters.Limit != nil {
		query = fmt.Sprintf(`
			DELETE FROM %s WHERE id IN (
				SELECT m.id FROM %s m WHERE %s AND %s ORDER BY m.%s ASC LIMIT %d
			)`, strategy.mainTable, strategy.mainTable, dateCond, exclusion, strategy.timeColumn, *filters.Limit)
	} else {
		query = fmt.Sprintf(`DELETE FROM %s m WHERE %s AND %s`, strategy.mainTable, dateCond, exclusion)
	}

	res, err := tx.ExecContext(ctx, query, b.args...)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "error deleting archived rows from source", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// fallbackInsert handles the race where a concurrent writer archived a
// row between computeSkipSet and insertArchived, surfacing as a UNIQUE
// violation. It re-reads the remaining candidates, batch-checks them
// against the archive table (alreadyArchivedSet), and inserts the
// survivors one row at a time, rather than aborting the whole batch; a
// row that still conflicts on insert is counted as skipped.
func (e *Engine) fallbackInsert(ctx context.Context, tx *sqlx.Tx, strategy keyStrategy, filters model.Filters, skip skipSet) (archived, skipped int, err error) {
	b := &argsBuilder{}
	dateCond, err := dateCondition(b, strategy, filters)
	if err != nil {
		return 0, 0, err
	}
	exclusion := exclusionPredicate(b, strategy, skip)

	candidateQuery := fmt.Sprintf(`SELECT %s FROM %s m WHERE %s AND %s`,
		strings.Join(prefixColumnsSlice(strategy.columns, "m."), ", "), strategy.mainTable, dateCond, exclusion)

	rows, err := tx.QueryxContext(ctx, candidateQuery, b.args...)
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.Internal, "error re-reading candidates for fallback insert", err)
	}

	var candidates []map[string]interface{}
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			rows.Close()
			return 0, 0, apperr.Wrap(apperr.Internal, "error scanning fallback candidate", err)
		}
		candidates = append(candidates, row)
	}
	rows.Close()

	skipped = skip.count
	insertCols := strings.Join(strategy.columns, ", ")
	placeholders := make([]string, len(strategy.columns))

	exists, err := e.alreadyArchivedSet(ctx, tx, strategy, candidates)
	if err != nil {
		return 0, 0, err
	}

	for _, row := range candidates {
		if exists[candidateKey(strategy, row)] {
			skipped++
			continue
		}

		args := make([]interface{}, len(strategy.columns))
		for i, col := range strategy.columns {
			args[i] = row[col]
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		insertOne := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING", strategy.archiveTable, insertCols, strings.Join(placeholders, ", "))
		res, err := tx.ExecContext(ctx, insertOne, args...)
		if err != nil {
			return 0, 0, apperr.Wrap(apperr.Internal, "error inserting fallback row", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			skipped++
			continue
		}
		archived++
	}

	return archived, skipped, nil
}

const keySeparator = "\x1f"

// candidateKey renders a candidate row's natural key as a single string,
// in the same join convention alreadyArchivedSet uses for its lookup set.
func candidateKey(strategy keyStrategy, row map[string]interface{}) string {
	vals := make([]string, len(strategy.keyColumns))
	for i, col := range strategy.keyColumns {
		vals[i] = toString(row[col])
	}
	return strings.Join(vals, keySeparator)
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// alreadyArchivedSet batch-checks which of candidates already exist in
// strategy.archiveTable, in chunks of duplicateBatchSize keys per query,
// rather than one round trip per candidate - the fallback path only
// triggers on a concurrent-write race, but a race during a large sweep
// can still leave many candidates to re-check.
func (e *Engine) alreadyArchivedSet(ctx context.Context, tx *sqlx.Tx, strategy keyStrategy, candidates []map[string]interface{}) (map[string]bool, error) {
	exists := make(map[string]bool, len(candidates))
	if len(candidates) == 0 {
		return exists, nil
	}

	if len(strategy.keyColumns) == 1 {
		col := strategy.keyColumns[0]
		keys := make([]string, len(candidates))
		for i, row := range candidates {
			keys[i] = toString(row[col])
		}
		for _, chunk := range chunkStrings(keys, duplicateBatchSize) {
			query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ANY($1)", col, strategy.archiveTable, col)
			var found []string
			if err := tx.SelectContext(ctx, &found, query, pq.StringArray(chunk)); err != nil {
				return nil, apperr.Wrap(apperr.Internal, "error batch-checking fallback existence", err)
			}
			for _, k := range found {
				exists[k] = true
			}
		}
		return exists, nil
	}

	colA, colB := strategy.keyColumns[0], strategy.keyColumns[1]
	a := make([]string, len(candidates))
	b := make([]string, len(candidates))
	for i, row := range candidates {
		a[i] = toString(row[colA])
		b[i] = toString(row[colB])
	}
	for _, chunk := range chunkPairs(a, b, duplicateBatchSize) {
		query := fmt.Sprintf(
			"SELECT %s, %s FROM %s WHERE (%s, %s) IN (SELECT unnest($1::text[]), unnest($2::text[]))",
			colA, colB, strategy.archiveTable, colA, colB)
		rows, err := tx.QueryxContext(ctx, query, pq.StringArray(chunk[0]), pq.StringArray(chunk[1]))
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "error batch-checking fallback existence", err)
		}
		for rows.Next() {
			var va, vb string
			if err := rows.Scan(&va, &vb); err != nil {
				rows.Close()
				return nil, apperr.Wrap(apperr.Internal, "error scanning fallback existence batch", err)
			}
			exists[va+keySeparator+vb] = true
		}
		rows.Close()
	}
	return exists, nil
}

// postCheck runs the cheap post-commit-adjacent sanity join described in
// the archive algorithm: any conflict is logged by the caller but never
// fails the operation.
func (e *Engine) postCheck(ctx context.Context, tx *sqlx.Tx, strategy keyStrategy) error {
	if strategy.guidColumn == "" {
		return nil
	}
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s m
		INNER JOIN %s a ON m.%s = a.%s
		WHERE m.%s IS NOT NULL`,
		strategy.mainTable, strategy.archiveTable, strategy.guidColumn, strategy.guidColumn, strategy.guidColumn)
	var n int
	if err := tx.GetContext(ctx, &n, query); err != nil {
		return apperr.Wrap(apperr.Internal, "error running post-archive conflict check", err)
	}
	if n > 0 {
		return apperr.New(apperr.Internal, fmt.Sprintf("post-archive check found %d GUID conflicts", n))
	}
	return nil
}

func prefixColumns(cols []string, prefix string) string {
	return strings.Join(prefixColumnsSlice(cols, prefix), ", ")
}

func prefixColumnsSlice(cols []string, prefix string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + c
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if e, ok := asPQError(err); ok {
		pqErr = e
	}
	if pqErr == nil {
		return false
	}
	return pqErr.Code == "23505"
}

func asPQError(err error) (*pq.Error, bool) {
	for err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return pqErr, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}
