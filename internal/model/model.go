// Package model holds the entities shared across the lifecycle
// controller: the two main/archive table flavors, job and chat audit
// rows, region configuration, and the router's parsed-operation value.
package model

import "time"

// Table identifies one of the four governed tables by name.
type Table string

const (
	TableTransactions       Table = "dsitransactionlog"
	TableTransactionArchive Table = "dsitransactionlogarchive"
	TableActivities         Table = "dsiactivities"
	TableActivityArchive    Table = "dsiactivitiesarchive"
)

// IsArchiveTable reports whether t is one of the two archive tables.
func (t Table) IsArchiveTable() bool {
	return t == TableTransactionArchive || t == TableActivityArchive
}

// MainTableFor returns the main table that archives into t, and ok=false
// if t is not an archive table.
func (t Table) MainTableFor() (Table, bool) {
	switch t {
	case TableTransactionArchive:
		return TableTransactions, true
	case TableActivityArchive:
		return TableActivities, true
	}
	return "", false
}

// ArchiveTableFor returns the archive table that t archives into, and
// ok=false if t is not a main table.
func (t Table) ArchiveTableFor() (Table, bool) {
	switch t {
	case TableTransactions:
		return TableTransactionArchive, true
	case TableActivities:
		return TableActivityArchive, true
	}
	return "", false
}

// TransactionLog is a row of dsitransactionlog or its archive twin. The
// 14-character WhenReceived string is the table's ordering/retention
// field; GUID is the natural key and may be NULL.
type TransactionLog struct {
	ID           int64   `db:"id"`
	GUID         *string `db:"guid"`
	WhenReceived string  `db:"when_received"`
	Payload      string  `db:"payload"`
	Status       string  `db:"status"`
}

// Activity is a row of dsiactivities or its archive twin. Activities have
// no single unique column; the natural key is (ActivityID, PostedTime).
type Activity struct {
	ID         int64  `db:"id"`
	ActivityID string `db:"activity_id"`
	PostedTime string `db:"posted_time"`
	Payload    string `db:"payload"`
	Status     string `db:"status"`
}

// JobType enumerates the mutating operation families a JobLog records.
type JobType string

const (
	JobArchive JobType = "ARCHIVE"
	JobDelete  JobType = "DELETE"
	JobOther   JobType = "OTHER"
)

// JobStatus is the lifecycle state of a JobLog row.
type JobStatus string

const (
	JobInProgress JobStatus = "IN_PROGRESS"
	JobSuccess    JobStatus = "SUCCESS"
	JobFailed     JobStatus = "FAILED"
)

// JobSource distinguishes chat-driven operations from scheduled sweeps.
type JobSource string

const (
	SourceChatbot JobSource = "CHATBOT"
	SourceScript  JobSource = "SCRIPT"
)

// JobLog is one audit record per mutating operation, opened IN_PROGRESS
// before any writes and closed on every exit path.
type JobLog struct {
	ID              int64      `db:"id"`
	SchemaName      *string    `db:"schema_name"`
	JobType         JobType    `db:"job_type"`
	TableName       string     `db:"table_name"`
	Status          JobStatus  `db:"status"`
	Source          JobSource  `db:"source"`
	Reason          string     `db:"reason"`
	RecordsAffected int        `db:"records_affected"`
	StartedAt       time.Time  `db:"started_at"`
	FinishedAt      *time.Time `db:"finished_at"`
}

// Role is a caller's authorization level.
type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleMonitor Role = "Monitor"
)

// Permission is one action the role/permission map grants or withholds.
type Permission string

const (
	PermSelect             Permission = "select"
	PermArchive             Permission = "archive"
	PermDeleteArchive       Permission = "delete_archive"
	PermConfirmOperations   Permission = "confirm_operations"
)

var rolePermissions = map[Role]map[Permission]bool{
	RoleAdmin: {
		PermSelect:           true,
		PermArchive:          true,
		PermDeleteArchive:    true,
		PermConfirmOperations: true,
	},
	RoleMonitor: {
		PermSelect: true,
	},
}

// Allows reports whether role grants perm.
func (r Role) Allows(perm Permission) bool {
	return rolePermissions[r][perm]
}

// ChatTurn is one append-only row of the conversation log. Operational
// turns additionally persist TableName and FiltersApplied. A later
// confirmation does not read these rows back: the orchestrator recovers
// the table and filters from its in-memory pending entry for the session.
type ChatTurn struct {
	ID              int64     `db:"id"`
	SessionID       string    `db:"session_id"`
	UserID          string    `db:"user_id"`
	UserRole        Role      `db:"user_role"`
	Region          string    `db:"region"`
	MessageType     string    `db:"message_type"`
	UserMessage     string    `db:"user_message"`
	BotResponse     string    `db:"bot_response"`
	OperationType   string    `db:"operation_type"`
	TableName       string    `db:"table_name"`
	FiltersApplied  string    `db:"filters_applied"` // JSON-encoded Filters
	RecordsAffected int       `db:"records_affected"`
	OperationStatus string    `db:"operation_status"`
	Timestamp       time.Time `db:"timestamp"`
	ErrorMessage    *string   `db:"error_message"`
}

// RegionConfig is one registered region's connection configuration.
type RegionConfig struct {
	ID                int64      `db:"id"`
	Region            string     `db:"region"`
	ConnectionString  string     `db:"connection_string"`
	IsActive          bool       `db:"is_active"`
	IsConnected       bool       `db:"is_connected"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
	LastConnectedAt   *time.Time `db:"last_connected_at"`
	ConnectionNotes   *string    `db:"connection_notes"`
}

// Redacted returns a copy with ConnectionString masked, safe to surface
// in admin listings or logs.
func (c RegionConfig) Redacted() RegionConfig {
	c.ConnectionString = "***redacted***"
	return c
}

// Filters is the set of optional constraints a parsed operation carries.
// DateStart/DateEnd are 14-digit YYYYMMDDHHMMSS strings for the
// activities/transaction tables. Limit, when set, bounds the operation to
// the oldest Limit rows by the table's time field.
type Filters struct {
	DateFilterPhrase string  `json:"date_filter,omitempty"`
	DateOperation    string  `json:"date_operation,omitempty"` // between|greater_than|less_than|equals
	DateStart        *string `json:"date_start,omitempty"`
	DateEnd          *string `json:"date_end,omitempty"`
	Limit            *int    `json:"limit,omitempty"`
	Confirmed        bool    `json:"confirmed,omitempty"`
	PreviewToken     string  `json:"preview_token,omitempty"`
}

// Action is one of the router's fixed tool invocations.
type Action string

const (
	ActionStats        Action = "get_table_stats"
	ActionArchive      Action = "archive_records"
	ActionDelete       Action = "delete_archived_records"
	ActionRegionStatus Action = "region_status"
	ActionHealthCheck  Action = "health_check"
	ActionSQLEscape    Action = "execute_sql_query"
)

// ParsedOperation is the Intent Router's structured output for a turn
// that resolves to a concrete tool invocation.
type ParsedOperation struct {
	Action            Action
	Table             Table
	Filters           Filters
	IsArchiveTarget   bool
	Confidence        float64
	ValidationErrors  []string
}
