// Package router implements the Intent Router: it turns one chat
// utterance, plus the prior turn's context, into exactly one of a fixed
// set of decisions the orchestrator knows how to execute. It never talks
// to a database and never calls an LLM; it is pure string classification
// in front of the tools the orchestrator actually dispatches.
package router

import (
	"regexp"
	"strings"
	"time"

	"github.com/dsi-data/logops/internal/dateparse"
	"github.com/dsi-data/logops/internal/model"
)

// Kind names which branch of the closed sum type a Decision holds.
type Kind string

const (
	KindStats        Kind = "stats"
	KindArchive      Kind = "archive"
	KindDelete       Kind = "delete"
	KindRegionStatus Kind = "region_status"
	KindHealthCheck  Kind = "health_check"
	KindSQLEscape    Kind = "sql_escape"
	KindConfirm      Kind = "confirm"
	KindCancel       Kind = "cancel"
	KindGreeting     Kind = "greeting"
	KindClarify      Kind = "clarify"
	KindRefuse       Kind = "refuse"
	KindUnrecognized Kind = "unrecognized"
)

// ConfirmVerb distinguishes CONFIRM ARCHIVE from CONFIRM DELETE.
type ConfirmVerb string

const (
	ConfirmArchive ConfirmVerb = "archive"
	ConfirmDelete  ConfirmVerb = "delete"
)

// Decision is the router's single output value: exactly one field group
// is meaningful, selected by Kind. It is a closed sum type rendered as a
// struct rather than an interface so the orchestrator can switch on Kind
// without a type assertion per branch.
type Decision struct {
	Kind Kind

	// KindStats / KindArchive / KindDelete / KindConfirm
	Table   model.Table
	Filters model.Filters

	// KindConfirm
	ConfirmVerb ConfirmVerb

	// KindSQLEscape
	RawSQL string

	// KindClarify / KindRefuse / KindUnrecognized
	Message string
}

// Context carries the anaphora the router needs to resolve a bare
// "CONFIRM ARCHIVE" or "CANCEL" back to the table and filters of the
// operation it is confirming or cancelling.
type Context struct {
	PendingTable   model.Table
	PendingFilters model.Filters
	HasPending     bool
}

var (
	confirmArchiveRe = regexp.MustCompile(`(?i)\bCONFIRM\s+ARCHIVE\b`)
	confirmDeleteRe  = regexp.MustCompile(`(?i)\bCONFIRM\s+DELETE\b`)
	cancelRe         = regexp.MustCompile(`(?i)\b(CANCEL|ABORT)\b`)

	generalStatsRe = regexp.MustCompile(`(?i)\b(table|database|db)\s+stat(s|istics)\b|\bshow\s+all\s+tables\b|\blist\s+all\s+tables\b|\btable\s+summary\b|\b(how\s+many|counts?|totals?|number\s+of)\b.*\b(activit(y|ies)|transactions?|records?|rows?)\b|\b(activit(y|ies)|transactions?)\s+(counts?|stats?|statistics)\b`)
	regionStatusRe = regexp.MustCompile(`(?i)\b(which|current|active|what)\s+region\b|\bregion\s+(status|connection|info|information|details)\b|\bconnection\s+status\b|\b(total|how\s+many|count\s+of|number\s+of)\s+regions?\b|\b(available|all)\s+regions?\b|\blist\s+regions\b`)
	healthCheckRe  = regexp.MustCompile(`(?i)\bhealth\s*check\b|\bis\s+(the\s+)?(system|database|db)\s+(up|healthy|ok)\b`)
	greetingRe     = regexp.MustCompile(`(?i)^\s*(hello|hi|hey|yo|greetings|howdy)\b|\bgood\s+(morning|afternoon|evening)\b`)
	archiveVerbRe  = regexp.MustCompile(`(?i)\barchive\b`)
	deleteVerbRe   = regexp.MustCompile(`(?i)\b(delete|remove|purge)\b.*\barchiv`)
	sqlEscapeRe    = regexp.MustCompile(`(?i)^\s*(SELECT|WITH)\b`)

	// jobOrPredicateRe catches utterances that ask for a predicate the
	// router's fixed Filters shape cannot express (a job/record status,
	// an error condition) rather than a plain date range. These need a
	// real SQL translation the router never attempts, so they are routed
	// to KindUnrecognized - the LLM escape hatch - instead of being
	// misclassified as a plain stats or archive request.
	jobOrPredicateRe = regexp.MustCompile(`(?i)\b(errors?|failed|failures?|pending|succeeded|success(es)?|job\s+status|status\s+of)\b`)

	activitiesTableRe  = regexp.MustCompile(`(?i)\bactivit(y|ies)\b`)
	transactionTableRe = regexp.MustCompile(`(?i)\btransactions?\b`)
)

// Route classifies utterance and returns the single Decision the
// orchestrator should act on. now anchors any date phrase the utterance
// carries ("older than 30 days", "Q1 2026", ...), resolved via
// dateparse. It never returns an error: an utterance it cannot place at
// all becomes KindUnrecognized, and one it recognizes but can't fully
// resolve (e.g. a missing table name) becomes KindClarify, never a Go
// error value, matching the "always answer the chat turn" contract of
// the orchestrator above it.
func Route(utterance string, ctx Context, now time.Time) Decision {
	trimmed := strings.TrimSpace(utterance)

	if cancelRe.MatchString(trimmed) {
		return Decision{Kind: KindCancel}
	}
	if confirmArchiveRe.MatchString(trimmed) {
		return Decision{Kind: KindConfirm, ConfirmVerb: ConfirmArchive, Table: ctx.PendingTable, Filters: ctx.PendingFilters}
	}
	if confirmDeleteRe.MatchString(trimmed) {
		return Decision{Kind: KindConfirm, ConfirmVerb: ConfirmDelete, Table: ctx.PendingTable, Filters: ctx.PendingFilters}
	}

	if greetingRe.MatchString(trimmed) {
		return Decision{Kind: KindGreeting}
	}
	if jobOrPredicateRe.MatchString(trimmed) {
		return Decision{Kind: KindUnrecognized, Message: "That needs a query against job status or content beyond a plain date range. Could you rephrase, or ask again and I'll hand it to a broader query?"}
	}
	if generalStatsRe.MatchString(trimmed) {
		table, _ := resolveTable(trimmed, ctx) // ok=false is a valid "all tables" request
		return Decision{Kind: KindStats, Table: table, Filters: buildFilters(trimmed, now)}
	}
	if regionStatusRe.MatchString(trimmed) {
		return Decision{Kind: KindRegionStatus}
	}
	if healthCheckRe.MatchString(trimmed) {
		return Decision{Kind: KindHealthCheck}
	}
	if sqlEscapeRe.MatchString(trimmed) {
		return Decision{Kind: KindSQLEscape, RawSQL: trimmed}
	}

	if archiveVerbRe.MatchString(trimmed) {
		table, ok := resolveTable(trimmed, ctx)
		if !ok {
			return Decision{Kind: KindClarify, Message: "Which table should I archive - activities or transactions?"}
		}
		if table.IsArchiveTable() {
			return Decision{Kind: KindRefuse, Message: "Archive operations target a main table, not an archive table."}
		}
		return Decision{Kind: KindArchive, Table: table, Filters: resolveFilters(trimmed, ctx, now)}
	}
	if deleteVerbRe.MatchString(trimmed) {
		table, ok := resolveTable(trimmed, ctx)
		if !ok {
			return Decision{Kind: KindClarify, Message: "Which archived table should I delete from - activities or transactions?"}
		}
		archiveTable, hasArchive := table.ArchiveTableFor()
		if !hasArchive {
			archiveTable = table
		}
		return Decision{Kind: KindDelete, Table: archiveTable, Filters: resolveFilters(trimmed, ctx, now)}
	}

	// nothing matched any known route; this is the router's escape hatch
	// into the (stubbed) LLM fallback rather than a specific clarifying
	// question, so it gets its own Kind.
	return Decision{Kind: KindUnrecognized, Message: "I can help with table statistics, archiving, deleting archived records, region status, or health checks. Could you rephrase?"}
}

// buildFilters extracts a date filter from utterance via dateparse and
// renders it in the fixed-width encoding the activities/transaction
// tables use. It returns the zero Filters value if no phrase parses,
// leaving the caller to decide what fills the gap (the CRUD Core's own
// retention default, or an inherited pending filter).
func buildFilters(utterance string, now time.Time) model.Filters {
	result := dateparse.Parse(utterance, dateparse.Context{}, now)
	if !result.Success {
		return model.Filters{}
	}
	rng := result.Formats.ActivitiesTransactions
	filters := model.Filters{
		DateFilterPhrase: result.Description,
		DateOperation:    string(rng.Operation),
	}
	if rng.Start != "" {
		start := rng.Start
		filters.DateStart = &start
	}
	if rng.End != "" {
		end := rng.End
		filters.DateEnd = &end
	}
	return filters
}

// resolveFilters extracts a date filter from the current utterance and,
// only when the utterance carries none of its own (e.g. "archive them"
// following an earlier turn that already stated one), falls back to the
// pending operation's filters so a following confirm or repeat inherits
// the table AND the date range the conversation already established.
func resolveFilters(utterance string, ctx Context, now time.Time) model.Filters {
	filters := buildFilters(utterance, now)
	if filters.DateOperation == "" && ctx.HasPending {
		return ctx.PendingFilters
	}
	return filters
}

func resolveTable(utterance string, ctx Context) (model.Table, bool) {
	switch {
	case activitiesTableRe.MatchString(utterance):
		return model.TableActivities, true
	case transactionTableRe.MatchString(utterance):
		return model.TableTransactions, true
	case ctx.HasPending:
		return ctx.PendingTable, true
	default:
		return "", false
	}
}
