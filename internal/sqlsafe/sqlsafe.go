// Package sqlsafe implements the Safe-SQL Executor: it validates a raw,
// LLM-or-operator-supplied SELECT statement against a forbidden-keyword
// list, strips multi-statement attempts, injects a row cap, runs it, and
// rewrites any 14-digit fixed-width date columns in the result into a
// human-readable timestamp.
package sqlsafe

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vinovest/sqlx"

	"github.com/dsi-data/logops/internal/apperr"
)

const defaultRowCap = 100

var quotedLiteralRe = regexp.MustCompile(`'[^']*'|"[^"]*"`)

// forbiddenPatterns mirrors the keyword set the chat tool layer rejects:
// anything that mutates schema or data, or invokes a stored/extended
// procedure, is out of bounds for a chat-issued query.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bINSERT\s+INTO\b`),
	regexp.MustCompile(`\bUPDATE\s+\w+\s+SET\b`),
	regexp.MustCompile(`\bDELETE\s+FROM\b`),
	regexp.MustCompile(`\bDROP\s+\w+\b`),
	regexp.MustCompile(`\bALTER\s+\w+\b`),
	regexp.MustCompile(`\bTRUNCATE\s+\w+\b`),
	regexp.MustCompile(`\bCREATE\s+\w+\b`),
	regexp.MustCompile(`\bEXEC\b`),
	regexp.MustCompile(`\bEXECUTE\b`),
	regexp.MustCompile(`\bSP_\w+\b`),
	regexp.MustCompile(`\bXP_\w+\b`),
	regexp.MustCompile(`\bMERGE\b`),
	regexp.MustCompile(`\bBULK\b`),
	regexp.MustCompile(`\bOPENROWSET\b`),
}

var dateColumnRe = regexp.MustCompile(`^\d{14}$`)

const dateLayout14 = "20060102150405"
const dateLayoutHuman = "2006-01-02 15:04:05"

// Validate checks raw for forbidden operations and multi-statement
// attempts, and returns a cleaned, single-statement, row-capped SELECT
// ready to execute. It never mutates raw's meaning beyond stripping a
// trailing semicolon and appending LIMIT, matching the contract that the
// query the caller asked for is the query that runs. rowCap <= 0 falls
// back to defaultRowCap.
func Validate(raw string, rowCap int) (string, error) {
	if rowCap <= 0 {
		rowCap = defaultRowCap
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", apperr.New(apperr.ValidationError, "empty SQL statement")
	}

	// a statement boundary mid-string is a multi-statement attempt; only
	// a single trailing semicolon is tolerated.
	body := strings.TrimRight(trimmed, ";")
	if strings.Contains(body, ";") {
		return "", apperr.New(apperr.SQLSafetyViolation, "only a single statement is permitted")
	}

	upper := strings.ToUpper(body)
	maskedForScan := quotedLiteralRe.ReplaceAllString(upper, "")

	for _, pattern := range forbiddenPatterns {
		if loc := pattern.FindStringIndex(maskedForScan); loc != nil {
			return "", apperr.New(apperr.SQLSafetyViolation,
				fmt.Sprintf("%s operations are not allowed; only SELECT queries are permitted", keywordLabel(pattern)))
		}
	}

	if !strings.HasPrefix(strings.TrimSpace(maskedForScan), "SELECT") && !strings.HasPrefix(strings.TrimSpace(maskedForScan), "WITH") {
		return "", apperr.New(apperr.SQLSafetyViolation, "only SELECT queries are allowed")
	}

	if !strings.Contains(upper, "LIMIT") {
		body = body + fmt.Sprintf(" LIMIT %d", rowCap)
	}

	return body, nil
}

// Result is the tabular output of a validated query, with any 14-digit
// date-like string columns rewritten for display.
type Result struct {
	Columns  []string
	Rows     []map[string]interface{}
	RowCount int
}

// Execute validates raw, runs it against db, and rewrites fixed-width
// date columns in the output. rowCap <= 0 falls back to defaultRowCap.
func Execute(ctx context.Context, db *sqlx.DB, raw string, rowCap int) (*Result, error) {
	cleaned, err := Validate(raw, rowCap)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryxContext(ctx, cleaned)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "error executing safe query", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "error reading result columns", err)
	}

	out := make([]map[string]interface{}, 0)
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "error scanning safe query row", err)
		}
		rewriteDateColumns(row)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "error iterating safe query rows", err)
	}

	return &Result{Columns: columns, Rows: out, RowCount: len(out)}, nil
}

var (
	reBoundary  = regexp.MustCompile(`\\b`)
	reWordGroup = regexp.MustCompile(`\\s\+\\w\+`)
	reSpaceEsc  = regexp.MustCompile(`\\s\+`)
)

// keywordLabel turns a forbidden-pattern regexp back into the plain
// keyword it matches, for the error message a caller sees.
func keywordLabel(pattern *regexp.Regexp) string {
	s := pattern.String()
	s = reBoundary.ReplaceAllString(s, "")
	s = reWordGroup.ReplaceAllString(s, "")
	s = reSpaceEsc.ReplaceAllString(s, " ")
	return s
}

func rewriteDateColumns(row map[string]interface{}) {
	for col, v := range row {
		s, ok := v.(string)
		if b, isBytes := v.([]byte); isBytes {
			// fixed-width CHAR columns can arrive from the driver as []byte
			s, ok = string(b), true
		}
		if !ok || !dateColumnRe.MatchString(s) {
			continue
		}
		t, err := time.Parse(dateLayout14, s)
		if err != nil {
			continue
		}
		row[col] = t.Format(dateLayoutHuman)
	}
}
