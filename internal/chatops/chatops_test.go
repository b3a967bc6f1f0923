package chatops

import (
	"context"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"

	"github.com/dsi-data/logops/internal/crud"
	"github.com/dsi-data/logops/internal/joblog"
	"github.com/dsi-data/logops/internal/model"
	"github.com/dsi-data/logops/internal/regions"
	"github.com/dsi-data/logops/internal/router"
)

const testRegion = "test"
const testDSN = "postgres://localhost/logops_test?sslmode=disable"

const schemaSQL = `
DROP TABLE IF EXISTS dsitransactionlog;
DROP TABLE IF EXISTS dsitransactionlogarchive;
DROP TABLE IF EXISTS dsiactivities;
DROP TABLE IF EXISTS dsiactivitiesarchive;
DROP TABLE IF EXISTS job_logs;
DROP TABLE IF EXISTS chatops_log;

CREATE TABLE dsiactivities (
	id SERIAL PRIMARY KEY,
	activity_id TEXT NOT NULL,
	posted_time CHAR(14) NOT NULL,
	payload TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'received',
	UNIQUE (activity_id, posted_time)
);
CREATE TABLE dsiactivitiesarchive (
	id INTEGER PRIMARY KEY,
	activity_id TEXT NOT NULL,
	posted_time CHAR(14) NOT NULL,
	payload TEXT NOT NULL,
	status TEXT NOT NULL,
	UNIQUE (activity_id, posted_time)
);
CREATE TABLE job_logs (
	id SERIAL PRIMARY KEY,
	schema_name TEXT,
	job_type TEXT NOT NULL,
	table_name TEXT NOT NULL,
	status TEXT NOT NULL,
	source TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	records_affected INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);
CREATE TABLE chatops_log (
	id SERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	user_role TEXT NOT NULL,
	region TEXT NOT NULL,
	message_type TEXT NOT NULL,
	user_message TEXT NOT NULL,
	bot_response TEXT NOT NULL,
	operation_type TEXT NOT NULL DEFAULT '',
	table_name TEXT NOT NULL DEFAULT '',
	filters_applied TEXT NOT NULL DEFAULT '',
	records_affected INTEGER NOT NULL DEFAULT 0,
	operation_status TEXT NOT NULL DEFAULT '',
	timestamp TIMESTAMPTZ NOT NULL,
	error_message TEXT
);
`

type fixedStore struct{}

func (fixedStore) ConnectionString(ctx context.Context, region string) (string, error) {
	return testDSN, nil
}
func (fixedStore) MarkConnected(ctx context.Context, region string, at time.Time) error { return nil }

func setup(t *testing.T) (*sqlx.DB, *Orchestrator) {
	db, err := sqlx.Open("postgres", testDSN)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)

	mgr := regions.NewManager(fixedStore{})
	require.NoError(t, mgr.Connect(context.Background(), testRegion))

	engine := crud.NewEngine(mgr, joblog.NewLogger(), 30, 90, nil)
	return db, NewOrchestrator(mgr, engine, joblog.NewLogger(), 100, 30)
}

func TestHandle_Greeting_NotPersisted(t *testing.T) {
	db, orch := setup(t)
	resp, err := orch.Handle(context.Background(), Turn{SessionID: "s1", UserID: "alice", Role: model.RoleAdmin, Region: testRegion, Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, CardGreeting, resp.CardType)

	var count int
	require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM chatops_log"))
	assert.Equal(t, 0, count)
}

func TestHandle_ArchiveThenConfirm_ExecutesAndPersists(t *testing.T) {
	db, orch := setup(t)
	old := time.Now().AddDate(0, 0, -40).Format("20060102150405")
	_, err := db.Exec(`INSERT INTO dsiactivities (activity_id, posted_time, payload) VALUES ('a1', $1, 'p')`, old)
	require.NoError(t, err)

	turn := Turn{SessionID: "s1", UserID: "alice", Role: model.RoleAdmin, Region: testRegion, Message: "archive activities older than 30 days"}
	preview, err := orch.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, CardArchivePrev, preview.CardType)
	assert.Equal(t, 1, preview.Counts["preview"])

	turn.Message = "CONFIRM ARCHIVE"
	success, err := orch.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, CardSuccess, success.CardType)
	assert.Equal(t, 1, success.Counts["archived"])

	var mainCount int
	require.NoError(t, db.Get(&mainCount, "SELECT COUNT(*) FROM dsiactivities"))
	assert.Equal(t, 0, mainCount)

	var logged int
	require.NoError(t, db.Get(&logged, "SELECT COUNT(*) FROM chatops_log"))
	assert.Equal(t, 2, logged, "both the preview and the confirm turn are persisted")

	var confirmLogged int
	require.NoError(t, db.Get(&confirmLogged, "SELECT COUNT(*) FROM chatops_log WHERE operation_type = $1", string(router.KindConfirm)))
	assert.Equal(t, 1, confirmLogged, "the confirm turn is logged under its own operation type")
}

func TestHandle_Cancel_ClearsPendingWithoutExecuting(t *testing.T) {
	db, orch := setup(t)
	old := time.Now().AddDate(0, 0, -40).Format("20060102150405")
	_, err := db.Exec(`INSERT INTO dsiactivities (activity_id, posted_time, payload) VALUES ('a1', $1, 'p')`, old)
	require.NoError(t, err)

	turn := Turn{SessionID: "s2", UserID: "bob", Role: model.RoleAdmin, Region: testRegion, Message: "archive activities older than 30 days"}
	_, err = orch.Handle(context.Background(), turn)
	require.NoError(t, err)

	turn.Message = "cancel"
	resp, err := orch.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, CardCancelled, resp.CardType)

	turn.Message = "CONFIRM ARCHIVE"
	resp, err = orch.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, CardError, resp.CardType, "confirming after cancel has nothing pending")

	var mainCount int
	require.NoError(t, db.Get(&mainCount, "SELECT COUNT(*) FROM dsiactivities"))
	assert.Equal(t, 1, mainCount, "cancelled operation never touched the table")
}

func TestHandle_MonitorRoleDeniedArchive_ReturnsErrorCard(t *testing.T) {
	_, orch := setup(t)
	turn := Turn{SessionID: "s3", UserID: "carol", Role: model.RoleMonitor, Region: testRegion, Message: "archive activities older than 30 days"}
	resp, err := orch.Handle(context.Background(), turn)
	require.NoError(t, err, "Handle itself never errors; denial surfaces as an error card")
	assert.Equal(t, CardError, resp.CardType)
}

func TestHandle_Stats_ReturnsCountsForRequestedTable(t *testing.T) {
	db, orch := setup(t)
	_, err := db.Exec(`INSERT INTO dsiactivities (activity_id, posted_time, payload) VALUES ('a1', '20260101000000', 'p')`)
	require.NoError(t, err)

	turn := Turn{SessionID: "s8", UserID: "frank", Role: model.RoleMonitor, Region: testRegion, Message: "how many activities are there"}
	resp, err := orch.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, CardStats, resp.CardType)
	assert.Equal(t, model.TableActivities, resp.Table)
	assert.Equal(t, 1, resp.Counts[string(model.TableActivities)])
}

func TestHandle_StatsThenArchive_InheritsTableAndFilterFromStatsTurn(t *testing.T) {
	db, orch := setup(t)
	old := time.Now().AddDate(0, 0, -40).Format("20060102150405")
	_, err := db.Exec(`INSERT INTO dsiactivities (activity_id, posted_time, payload) VALUES ('a1', $1, 'p')`, old)
	require.NoError(t, err)

	turn := Turn{SessionID: "s9", UserID: "grace", Role: model.RoleAdmin, Region: testRegion, Message: "count activities older than 30 days"}
	stats, err := orch.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, CardStats, stats.CardType)

	turn.Message = "archive them"
	preview, err := orch.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, CardArchivePrev, preview.CardType, "archive inherits the table the stats turn resolved")
	assert.Equal(t, model.TableActivities, preview.Table)
}

func TestHandle_ConfirmAfterStatsOnly_RejectsEvenWithATableResolved(t *testing.T) {
	_, orch := setup(t)
	turn := Turn{SessionID: "s10", UserID: "heidi", Role: model.RoleAdmin, Region: testRegion, Message: "count activities"}
	stats, err := orch.Handle(context.Background(), turn)
	require.NoError(t, err)
	require.Equal(t, CardStats, stats.CardType, "precondition: the stats turn resolved a table and armed the pending map")

	turn.Message = "CONFIRM ARCHIVE"
	resp, err := orch.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, CardError, resp.CardType, "a stats turn alone never arms a confirmable archive/delete")
}

func TestHandle_SQLEscape_ReturnsRows(t *testing.T) {
	db, orch := setup(t)
	_, err := db.Exec(`INSERT INTO dsiactivities (activity_id, posted_time, payload) VALUES ('a1', '20260101000000', 'p')`)
	require.NoError(t, err)

	turn := Turn{SessionID: "s4", UserID: "dan", Role: model.RoleMonitor, Region: testRegion, Message: "SELECT * FROM dsiactivities"}
	resp, err := orch.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, CardSQLResult, resp.CardType)
	require.NotNil(t, resp.SQL)
	assert.Equal(t, 1, resp.SQL.RowCount)
}

func TestHandle_Unrecognized_NoFallbackConfigured_ReturnsGenericClarify(t *testing.T) {
	db, orch := setup(t)
	turn := Turn{SessionID: "s5", UserID: "erin", Role: model.RoleAdmin, Region: testRegion, Message: "what is the meaning of life"}
	resp, err := orch.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, CardClarify, resp.CardType)
	assert.Contains(t, resp.Text, "table statistics")

	var count int
	require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM chatops_log"))
	assert.Equal(t, 0, count, "an unrecognized turn with no LLM fallback configured is not persisted")
}

func TestHandle_Unrecognized_WithFallbackConfigured_UsesFallbackText(t *testing.T) {
	_, orch := setup(t)
	orch.WithLLMFallback(func(ctx context.Context, utterance string) (string, error) {
		return "here is what I think you meant", nil
	})

	turn := Turn{SessionID: "s6", UserID: "erin", Role: model.RoleAdmin, Region: testRegion, Message: "what is the meaning of life"}
	resp, err := orch.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, CardClarify, resp.CardType)
	assert.Equal(t, "here is what I think you meant", resp.Text)
}

func TestHandle_Unrecognized_FallbackErrorFallsBackToGenericClarify(t *testing.T) {
	_, orch := setup(t)
	orch.WithLLMFallback(func(ctx context.Context, utterance string) (string, error) {
		return "", assert.AnError
	})

	turn := Turn{SessionID: "s7", UserID: "erin", Role: model.RoleAdmin, Region: testRegion, Message: "what is the meaning of life"}
	resp, err := orch.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, CardClarify, resp.CardType)
	assert.Contains(t, resp.Text, "table statistics")
}
