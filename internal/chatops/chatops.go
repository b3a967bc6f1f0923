// Package chatops implements the Chat Orchestrator: it takes one user
// turn, routes it, executes whatever the route calls for, and returns a
// structured card plus the audit row for that turn. It is the only layer
// that persists ChatTurn rows; router and crud stay storage-agnostic
// about conversation history.
package chatops

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dsi-data/logops/internal/apperr"
	"github.com/dsi-data/logops/internal/crud"
	"github.com/dsi-data/logops/internal/joblog"
	"github.com/dsi-data/logops/internal/model"
	"github.com/dsi-data/logops/internal/regions"
	"github.com/dsi-data/logops/internal/router"
	"github.com/dsi-data/logops/internal/sqlsafe"
)

// CardType names the structured content variant of a Response, mirroring
// the original chat service's "type" tags (stats_card, success_card, …)
// so a frontend built against that contract needs no retranslation.
type CardType string

const (
	CardStats        CardType = "stats_card"
	CardArchivePrev  CardType = "confirmation_card"
	CardDeletePrev   CardType = "confirmation_card"
	CardSuccess      CardType = "success_card"
	CardCancelled    CardType = "cancelled_card"
	CardRegionStatus CardType = "region_status_card"
	CardHealth       CardType = "health_card"
	CardSQLResult    CardType = "sql_query_results"
	CardClarify      CardType = "clarification_card"
	CardError        CardType = "error_card"
	CardGreeting     CardType = "welcome_card"
)

// Response is one turn's answer: a human-readable Text plus the
// structured card a UI renders.
type Response struct {
	CardType CardType
	Text     string
	Table    model.Table
	Counts   map[string]int
	SQL      *sqlsafe.Result
	Regions  []regions.Status
	Details  []string
}

// Turn is one inbound chat message and the session/identity it arrived
// with.
type Turn struct {
	SessionID string
	UserID    string
	Role      model.Role
	Region    string
	Message   string
}

// pendingOperation is the in-memory anaphora the orchestrator keeps per
// session so a bare "CONFIRM ARCHIVE" can recover what it is confirming.
// It intentionally does not survive a process restart; a restarted
// session simply asks the operator to restate the operation.
type pendingOperation struct {
	table   model.Table
	filters model.Filters
	kind    router.Kind
}

// Orchestrator wires the Core, the router, and the safe-SQL executor
// together and persists the conversation log. It holds no business logic
// of its own beyond turn sequencing.
type Orchestrator struct {
	regions *regions.Manager
	engine  *crud.Engine
	jobs    *joblog.Logger

	rowCap     int
	llm        LLMFallback
	llmTimeout time.Duration

	pending map[string]pendingOperation
}

// NewOrchestrator builds an Orchestrator over the given Core components.
// rowCap bounds every KindSQLEscape result (<= 0 falls back to the
// sqlsafe package default); llmTimeoutSeconds bounds the intent
// router's LLM escape hatch, used only once a fallback is wired in via
// WithLLMFallback.
func NewOrchestrator(regionManager *regions.Manager, engine *crud.Engine, jobs *joblog.Logger, rowCap int, llmTimeoutSeconds int) *Orchestrator {
	return &Orchestrator{
		regions:    regionManager,
		engine:     engine,
		jobs:       jobs,
		rowCap:     rowCap,
		llmTimeout: time.Duration(llmTimeoutSeconds) * time.Second,
		pending:    make(map[string]pendingOperation),
	}
}

// Handle runs one turn through Classify -> Execute -> Format -> Persist.
func (o *Orchestrator) Handle(ctx context.Context, turn Turn) (*Response, error) {
	now := time.Now()

	decision := router.Route(turn.Message, o.routerContext(turn.SessionID), now)

	resp, err := o.dispatch(ctx, turn, decision, now)
	if err != nil {
		resp = &Response{CardType: CardError, Text: err.Error()}
	}

	o.persistTurn(ctx, turn, decision, resp, now)

	return resp, nil
}

func (o *Orchestrator) routerContext(sessionID string) router.Context {
	pending, ok := o.pending[sessionID]
	if !ok {
		return router.Context{}
	}
	return router.Context{PendingTable: pending.table, PendingFilters: pending.filters, HasPending: true}
}

func (o *Orchestrator) dispatch(ctx context.Context, turn Turn, decision router.Decision, now time.Time) (*Response, error) {
	switch decision.Kind {
	case router.KindGreeting:
		return &Response{CardType: CardGreeting, Text: fmt.Sprintf("Hello %s, you are logged in with %s access in the %s region.", turn.UserID, turn.Role, turn.Region)}, nil

	case router.KindStats:
		return o.handleStats(ctx, turn, decision)

	case router.KindRegionStatus:
		return o.handleRegionStatus(ctx, turn)

	case router.KindHealthCheck:
		return o.handleHealthCheck(ctx, turn)

	case router.KindSQLEscape:
		return o.handleSQLEscape(ctx, turn, decision)

	case router.KindArchive:
		return o.handlePreviewArchive(ctx, turn, decision, now)

	case router.KindDelete:
		return o.handlePreviewDelete(ctx, turn, decision, now)

	case router.KindConfirm:
		return o.handleConfirm(ctx, turn, decision, now)

	case router.KindCancel:
		return o.handleCancel(turn)

	case router.KindClarify:
		return &Response{CardType: CardClarify, Text: decision.Message}, nil

	case router.KindRefuse:
		return &Response{CardType: CardError, Text: decision.Message}, nil

	case router.KindUnrecognized:
		if text, ok := o.tryLLMFallback(ctx, turn.Message); ok {
			return &Response{CardType: CardClarify, Text: text}, nil
		}
		return &Response{CardType: CardClarify, Text: decision.Message}, nil

	default:
		return &Response{CardType: CardClarify, Text: "I didn't understand that. Could you rephrase?"}, nil
	}
}

func (o *Orchestrator) handleRegionStatus(ctx context.Context, turn Turn) (*Response, error) {
	names := o.regions.ListRegions()
	statuses := make([]regions.Status, 0, len(names))
	for _, name := range names {
		status, err := o.regions.TestConnection(ctx, name)
		if err != nil {
			status = regions.Status{Region: name, Connected: false, Error: err.Error()}
		}
		statuses = append(statuses, status)
	}
	return &Response{CardType: CardRegionStatus, Text: fmt.Sprintf("%d region(s) connected.", len(statuses)), Regions: statuses}, nil
}

func (o *Orchestrator) handleHealthCheck(ctx context.Context, turn Turn) (*Response, error) {
	status, err := o.regions.TestConnection(ctx, turn.Region)
	if err != nil {
		return &Response{CardType: CardHealth, Text: fmt.Sprintf("Region %s is unhealthy: %v", turn.Region, err)}, nil
	}
	return &Response{CardType: CardHealth, Text: fmt.Sprintf("Region %s is healthy.", turn.Region), Regions: []regions.Status{status}}, nil
}

func (o *Orchestrator) handleSQLEscape(ctx context.Context, turn Turn, decision router.Decision) (*Response, error) {
	db, err := o.regions.Session(turn.Region)
	if err != nil {
		return nil, err
	}
	result, err := sqlsafe.Execute(ctx, db, decision.RawSQL, o.rowCap)
	if err != nil {
		return nil, err
	}
	return &Response{CardType: CardSQLResult, Text: fmt.Sprintf("%d row(s) returned.", result.RowCount), SQL: result}, nil
}

func (o *Orchestrator) handleStats(ctx context.Context, turn Turn, decision router.Decision) (*Response, error) {
	stats, err := o.engine.Stats(ctx, turn.Region, turn.Role, decision.Table, decision.Filters)
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	details := make([]string, 0, len(stats))
	for _, s := range stats {
		counts[string(s.MainTable)] = int(s.MainCount)
		archiveNote := fmt.Sprintf("%d", s.ArchiveCount)
		if !s.ArchiveTableExists {
			archiveNote = "no archive table"
		} else {
			counts[string(s.ArchiveTable)] = int(s.ArchiveCount)
		}
		details = append(details, fmt.Sprintf("%s: %d row(s); %s: %s", s.MainTable, s.MainCount, s.ArchiveTable, archiveNote))
	}

	// remembered so a following turn ("archive them") can inherit the
	// table and date range this stats query already established.
	if decision.Table != "" {
		o.pending[turn.SessionID] = pendingOperation{table: decision.Table, filters: decision.Filters, kind: router.KindStats}
	}

	return &Response{
		CardType: CardStats,
		Text:     strings.Join(details, "\n"),
		Table:    decision.Table,
		Counts:   counts,
		Details:  details,
	}, nil
}

func (o *Orchestrator) handlePreviewArchive(ctx context.Context, turn Turn, decision router.Decision, now time.Time) (*Response, error) {
	preview, err := o.engine.PreviewArchive(ctx, turn.Region, turn.Role, decision.Table, decision.Filters, now)
	if err != nil {
		return nil, err
	}
	o.pending[turn.SessionID] = pendingOperation{table: decision.Table, filters: decision.Filters, kind: router.KindArchive}
	return &Response{
		CardType: CardArchivePrev,
		Text:     fmt.Sprintf("Ready to archive %d record(s) from %s. Reply CONFIRM ARCHIVE to proceed or CANCEL to abort.", preview.PreviewCount, decision.Table),
		Table:    decision.Table,
		Counts:   map[string]int{"preview": preview.PreviewCount},
	}, nil
}

func (o *Orchestrator) handlePreviewDelete(ctx context.Context, turn Turn, decision router.Decision, now time.Time) (*Response, error) {
	preview, err := o.engine.PreviewDelete(ctx, turn.Region, turn.Role, decision.Table, decision.Filters, now)
	if err != nil {
		return nil, err
	}
	o.pending[turn.SessionID] = pendingOperation{table: decision.Table, filters: decision.Filters, kind: router.KindDelete}
	return &Response{
		CardType: CardDeletePrev,
		Text:     fmt.Sprintf("Ready to permanently delete %d record(s) from %s. Reply CONFIRM DELETE to proceed or CANCEL to abort.", preview.PreviewCount, decision.Table),
		Table:    decision.Table,
		Counts:   map[string]int{"preview": preview.PreviewCount},
	}, nil
}

func (o *Orchestrator) handleConfirm(ctx context.Context, turn Turn, decision router.Decision, now time.Time) (*Response, error) {
	pending, ok := o.pending[turn.SessionID]
	if !ok || (pending.kind != router.KindArchive && pending.kind != router.KindDelete) {
		return nil, apperr.New(apperr.ValidationError, "nothing pending to confirm; start a new archive or delete operation")
	}
	delete(o.pending, turn.SessionID)

	switch decision.ConfirmVerb {
	case router.ConfirmArchive:
		result, err := o.engine.ExecuteArchive(ctx, turn.Region, turn.Role, model.SourceChatbot, pending.table, pending.filters, now)
		if err != nil {
			return nil, err
		}
		return &Response{
			CardType: CardSuccess,
			Text:     fmt.Sprintf("Archived %d record(s) from %s (%d skipped as duplicates).", result.RecordsArchived, pending.table, result.RecordsSkipped),
			Table:    pending.table,
			Counts:   map[string]int{"archived": result.RecordsArchived, "deleted": result.RecordsDeleted, "skipped": result.RecordsSkipped},
		}, nil

	case router.ConfirmDelete:
		result, err := o.engine.ExecuteDelete(ctx, turn.Region, turn.Role, model.SourceChatbot, pending.table, pending.filters, now)
		if err != nil {
			return nil, err
		}
		return &Response{
			CardType: CardSuccess,
			Text:     fmt.Sprintf("Deleted %d record(s) from %s.", result.RecordsDeleted, pending.table),
			Table:    pending.table,
			Counts:   map[string]int{"deleted": result.RecordsDeleted},
		}, nil

	default:
		return nil, apperr.New(apperr.ValidationError, "unrecognized confirmation")
	}
}

func (o *Orchestrator) handleCancel(turn Turn) (*Response, error) {
	pending, had := o.pending[turn.SessionID]
	delete(o.pending, turn.SessionID)
	if !had {
		return &Response{CardType: CardCancelled, Text: "There was nothing pending to cancel."}, nil
	}
	return &Response{CardType: CardCancelled, Text: fmt.Sprintf("Cancelled the pending operation on %s. No changes were made.", pending.table), Table: pending.table}, nil
}

// persistTurn writes one ChatTurn row, including the decision's
// JSON-encoded filters, for operational decisions (stats, archive,
// delete, confirm, cancel, SQL escape, region/health status); purely
// conversational turns (greeting, clarify, unrecognized) are not
// persisted, matching the original's distinction between logged commands
// and lightweight chat.
func (o *Orchestrator) persistTurn(ctx context.Context, turn Turn, decision router.Decision, resp *Response, now time.Time) {
	if !shouldPersist(decision.Kind) {
		return
	}
	db, err := o.regions.Session(turn.Region)
	if err != nil {
		return
	}

	status := "completed"
	if resp.CardType == CardError {
		status = "failed"
	}

	filtersJSON, _ := json.Marshal(decision.Filters)
	row := model.ChatTurn{
		SessionID:       turn.SessionID,
		UserID:          turn.UserID,
		UserRole:        turn.Role,
		Region:          turn.Region,
		MessageType:     "command",
		UserMessage:     turn.Message,
		BotResponse:     resp.Text,
		OperationType:   string(decision.Kind),
		TableName:       string(decision.Table),
		FiltersApplied:  string(filtersJSON),
		RecordsAffected: sumCounts(resp.Counts),
		OperationStatus: status,
		Timestamp:       now,
	}
	_, _ = db.ExecContext(ctx, sqlInsertChatTurn,
		row.SessionID, row.UserID, row.UserRole, row.Region, row.MessageType,
		row.UserMessage, row.BotResponse, row.OperationType, row.TableName, row.FiltersApplied,
		row.RecordsAffected, row.OperationStatus, row.Timestamp)
}

func shouldPersist(kind router.Kind) bool {
	switch kind {
	case router.KindGreeting, router.KindClarify, router.KindUnrecognized:
		return false
	default:
		return true
	}
}

func sumCounts(counts map[string]int) int {
	total := 0
	for _, v := range counts {
		total += v
	}
	return total
}

const sqlInsertChatTurn = `
INSERT INTO chatops_log (session_id, user_id, user_role, region, message_type, user_message, bot_response, operation_type, table_name, filters_applied, records_affected, operation_status, timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`
