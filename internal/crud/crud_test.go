package crud

import (
	"context"
	"io/ioutil"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"

	"github.com/dsi-data/logops/internal/apperr"
	"github.com/dsi-data/logops/internal/joblog"
	"github.com/dsi-data/logops/internal/model"
	"github.com/dsi-data/logops/internal/regions"
)

const testRegion = "test"
const testDSN = "postgres://localhost/logops_test?sslmode=disable"

type fixedStore struct{ dsn string }

func (s fixedStore) ConnectionString(ctx context.Context, region string) (string, error) {
	return s.dsn, nil
}
func (s fixedStore) MarkConnected(ctx context.Context, region string, at time.Time) error { return nil }

func setup(t *testing.T) (*sqlx.DB, *regions.Manager, *Engine) {
	schema, err := ioutil.ReadFile("testdb.sql")
	require.NoError(t, err)

	db, err := sqlx.Open("postgres", testDSN)
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	mgr := regions.NewManager(fixedStore{dsn: testDSN})
	require.NoError(t, mgr.Connect(context.Background(), testRegion))

	engine := NewEngine(mgr, joblog.NewLogger(), 30, 90, nil)
	return db, mgr, engine
}

func seedActivity(t *testing.T, db *sqlx.DB, activityID, postedTime string) {
	_, err := db.Exec(`INSERT INTO dsiactivities (activity_id, posted_time, payload) VALUES ($1, $2, 'p')`, activityID, postedTime)
	require.NoError(t, err)
}

func olderThanFilter(days int, now time.Time) model.Filters {
	cutoff := now.AddDate(0, 0, -days).Format(timeLayout)
	return model.Filters{DateOperation: "less_than", DateEnd: &cutoff}
}

func TestPreviewArchive_CountsOnlyRowsPastRetention(t *testing.T) {
	db, _, engine := setup(t)
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	seedActivity(t, db, "act-1", now.AddDate(0, 0, -40).Format(timeLayout))
	seedActivity(t, db, "act-2", now.AddDate(0, 0, -5).Format(timeLayout))

	result, err := engine.PreviewArchive(context.Background(), testRegion, model.RoleAdmin, model.TableActivities, model.Filters{}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PreviewCount)
	assert.True(t, result.RequiresConfirmation)
}

func TestPreviewArchive_DeniedForMonitor(t *testing.T) {
	_, _, engine := setup(t)
	_, err := engine.PreviewArchive(context.Background(), testRegion, model.RoleMonitor, model.TableActivities, model.Filters{}, time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.PermissionDenied, apperr.KindOf(err))
}

func TestExecuteArchive_MovesRowsAndLogsJob(t *testing.T) {
	db, _, engine := setup(t)
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	seedActivity(t, db, "act-1", now.AddDate(0, 0, -40).Format(timeLayout))
	seedActivity(t, db, "act-2", now.AddDate(0, 0, -50).Format(timeLayout))
	seedActivity(t, db, "act-recent", now.AddDate(0, 0, -1).Format(timeLayout))

	result, err := engine.ExecuteArchive(context.Background(), testRegion, model.RoleAdmin, model.SourceScript, model.TableActivities, model.Filters{}, now)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RecordsArchived)
	assert.Equal(t, 2, result.RecordsDeleted)
	assert.Equal(t, 0, result.RecordsSkipped)

	var mainCount int
	require.NoError(t, db.Get(&mainCount, "SELECT COUNT(*) FROM dsiactivities"))
	assert.Equal(t, 1, mainCount)

	var archiveCount int
	require.NoError(t, db.Get(&archiveCount, "SELECT COUNT(*) FROM dsiactivitiesarchive"))
	assert.Equal(t, 2, archiveCount)

	var jobStatus string
	require.NoError(t, db.Get(&jobStatus, "SELECT status FROM job_logs WHERE id = $1", result.JobLogID))
	assert.Equal(t, "SUCCESS", jobStatus)
}

func TestExecuteArchive_SkipsAlreadyArchivedRows(t *testing.T) {
	db, _, engine := setup(t)
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	postedTime := now.AddDate(0, 0, -40).Format(timeLayout)
	seedActivity(t, db, "act-dup", postedTime)
	_, err := db.Exec(`INSERT INTO dsiactivitiesarchive (id, activity_id, posted_time, payload, status) VALUES (999, 'act-dup', $1, 'p', 'received')`, postedTime)
	require.NoError(t, err)

	result, err := engine.ExecuteArchive(context.Background(), testRegion, model.RoleAdmin, model.SourceScript, model.TableActivities, model.Filters{}, now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.RecordsArchived)
	assert.Equal(t, 0, result.RecordsDeleted)
	assert.Equal(t, 1, result.RecordsSkipped)

	var mainCount int
	require.NoError(t, db.Get(&mainCount, "SELECT COUNT(*) FROM dsiactivities"))
	assert.Equal(t, 1, mainCount, "a skipped duplicate is left in the source table, not deleted")
}

func TestExecuteArchive_RejectsTooRecentCutoff(t *testing.T) {
	_, _, engine := setup(t)
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	recentCutoff := now.AddDate(0, 0, -1).Format(timeLayout)

	_, err := engine.ExecuteArchive(context.Background(), testRegion, model.RoleAdmin, model.SourceScript, model.TableActivities,
		model.Filters{DateOperation: "less_than", DateEnd: &recentCutoff}, now)
	require.Error(t, err)
	assert.Equal(t, apperr.SafetyRuleViolation, apperr.KindOf(err))
}

func TestExecuteDelete_RemovesFromArchiveTable(t *testing.T) {
	db, _, engine := setup(t)
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	oldTime := now.AddDate(0, 0, -100).Format(timeLayout)
	_, err := db.Exec(`INSERT INTO dsiactivitiesarchive (id, activity_id, posted_time, payload, status) VALUES (1, 'act-1', $1, 'p', 'received')`, oldTime)
	require.NoError(t, err)

	result, err := engine.ExecuteDelete(context.Background(), testRegion, model.RoleAdmin, model.SourceChatbot, model.TableActivityArchive, model.Filters{}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsDeleted)

	var archiveCount int
	require.NoError(t, db.Get(&archiveCount, "SELECT COUNT(*) FROM dsiactivitiesarchive"))
	assert.Equal(t, 0, archiveCount)
}

func TestExecuteDelete_DeniedForMonitor(t *testing.T) {
	_, _, engine := setup(t)
	_, err := engine.ExecuteDelete(context.Background(), testRegion, model.RoleMonitor, model.SourceChatbot, model.TableActivityArchive, model.Filters{}, time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.PermissionDenied, apperr.KindOf(err))
}

func TestExecuteDelete_RejectsMainTable(t *testing.T) {
	_, _, engine := setup(t)
	_, err := engine.ExecuteDelete(context.Background(), testRegion, model.RoleAdmin, model.SourceChatbot, model.TableActivities, model.Filters{}, time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.ValidationError, apperr.KindOf(err))
}

func TestExecuteArchive_LimitBoundsArchiveAndDeleteToOldestFirst(t *testing.T) {
	db, _, engine := setup(t)
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	seedActivity(t, db, "act-oldest", now.AddDate(0, 0, -60).Format(timeLayout))
	seedActivity(t, db, "act-middle", now.AddDate(0, 0, -50).Format(timeLayout))
	seedActivity(t, db, "act-newest", now.AddDate(0, 0, -40).Format(timeLayout))

	limit := 2
	result, err := engine.ExecuteArchive(context.Background(), testRegion, model.RoleAdmin, model.SourceScript, model.TableActivities,
		model.Filters{Limit: &limit}, now)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RecordsArchived, "exactly Limit rows are archived, not all eligible rows")
	assert.Equal(t, 2, result.RecordsDeleted, "exactly Limit rows are deleted from source")

	var remaining []string
	require.NoError(t, db.Select(&remaining, "SELECT activity_id FROM dsiactivities"))
	assert.Equal(t, []string{"act-newest"}, remaining, "the oldest two rows are archived and deleted, leaving only the newest")

	var archived []string
	require.NoError(t, db.Select(&archived, "SELECT activity_id FROM dsiactivitiesarchive ORDER BY posted_time ASC"))
	assert.Equal(t, []string{"act-oldest", "act-middle"}, archived)
}

func TestExecuteArchive_TransactionArchivesNullGUIDAsSkipped(t *testing.T) {
	db, _, engine := setup(t)
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	oldTime := now.AddDate(0, 0, -40).Format(timeLayout)

	_, err := db.Exec(`INSERT INTO dsitransactionlog (guid, when_received, payload) VALUES ($1, $2, 'p')`, "guid-1", oldTime)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO dsitransactionlog (guid, when_received, payload) VALUES (NULL, $1, 'p')`, oldTime)
	require.NoError(t, err)

	result, err := engine.ExecuteArchive(context.Background(), testRegion, model.RoleAdmin, model.SourceScript, model.TableTransactions, model.Filters{}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsArchived)
	assert.Equal(t, 1, result.RecordsDeleted, "source deleted count equals archived count, not archived+skipped")
	assert.Equal(t, 1, result.RecordsSkipped, "the NULL-GUID row is skipped, never archived or deleted")

	var mainCount int
	require.NoError(t, db.Get(&mainCount, "SELECT COUNT(*) FROM dsitransactionlog"))
	assert.Equal(t, 1, mainCount)
}
