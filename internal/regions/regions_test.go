package regions

import (
	"context"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"

	"github.com/dsi-data/logops/internal/apperr"
)

const testDSN = "postgres://localhost/logops_test?sslmode=disable"

// memConfigStore fakes the region_config table in memory so Manager's
// connect/disconnect/session logic can be tested without a second
// control-plane database.
type memConfigStore struct {
	mu        sync.Mutex
	dsns      map[string]string
	connected map[string]time.Time
}

func newMemConfigStore() *memConfigStore {
	return &memConfigStore{dsns: map[string]string{"east": testDSN}, connected: map[string]time.Time{}}
}

func (s *memConfigStore) ConnectionString(ctx context.Context, region string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dsn, ok := s.dsns[region]
	if !ok {
		return "", apperr.New(apperr.InvalidRegion, "unknown region")
	}
	return dsn, nil
}

func (s *memConfigStore) MarkConnected(ctx context.Context, region string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected[region] = at
	return nil
}

func TestConnect_ThenSessionSucceeds(t *testing.T) {
	db, err := sqlx.Open("postgres", testDSN)
	require.NoError(t, err)
	db.Close()

	mgr := NewManager(newMemConfigStore())
	require.NoError(t, mgr.Connect(context.Background(), "east"))

	session, err := mgr.Session("east")
	require.NoError(t, err)
	assert.NotNil(t, session)

	assert.Contains(t, mgr.ListRegions(), "east")
}

func TestSession_BeforeConnect_Fails(t *testing.T) {
	mgr := NewManager(newMemConfigStore())
	_, err := mgr.Session("east")
	require.Error(t, err)
	assert.Equal(t, apperr.NotConnected, apperr.KindOf(err))
}

func TestConnect_UnknownRegion_Fails(t *testing.T) {
	mgr := NewManager(newMemConfigStore())
	err := mgr.Connect(context.Background(), "mars")
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidRegion, apperr.KindOf(err))
}

func TestDisconnect_ThenSessionFails(t *testing.T) {
	mgr := NewManager(newMemConfigStore())
	require.NoError(t, mgr.Connect(context.Background(), "east"))
	require.NoError(t, mgr.Disconnect("east"))

	_, err := mgr.Session("east")
	require.Error(t, err)
	assert.NotContains(t, mgr.ListRegions(), "east")
}

func TestDisconnect_UnknownRegion_NoOp(t *testing.T) {
	mgr := NewManager(newMemConfigStore())
	assert.NoError(t, mgr.Disconnect("nowhere"))
}

func TestConnect_Idempotent_RefreshesLastConnectedAt(t *testing.T) {
	mgr := NewManager(newMemConfigStore())
	ctx := context.Background()
	require.NoError(t, mgr.Connect(ctx, "east"))

	first := mgr.ConnectionStatus()["east"]
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, mgr.Connect(ctx, "east"))
	second := mgr.ConnectionStatus()["east"]

	assert.True(t, second.After(first) || second.Equal(first))
}

func TestTestConnection_ReportsTableCounts(t *testing.T) {
	db, err := sqlx.Open("postgres", testDSN)
	require.NoError(t, err)
	_, err = db.Exec(`DROP TABLE IF EXISTS dsiactivities; CREATE TABLE dsiactivities (id SERIAL PRIMARY KEY, activity_id TEXT, posted_time CHAR(14), payload TEXT, status TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO dsiactivities (activity_id, posted_time, payload, status) VALUES ('a', '20260101000000', 'p', 's')`)
	require.NoError(t, err)
	_, err = db.Exec(`DROP TABLE IF EXISTS dsitransactionlog; DROP TABLE IF EXISTS dsitransactionlogarchive; DROP TABLE IF EXISTS dsiactivitiesarchive`)
	require.NoError(t, err)

	mgr := NewManager(newMemConfigStore())
	require.NoError(t, mgr.Connect(context.Background(), "east"))

	status, err := mgr.TestConnection(context.Background(), "east")
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.EqualValues(t, 1, status.TableCounts["dsiactivities"])
	assert.EqualValues(t, 0, status.TableCounts["dsitransactionlogarchive"], "a missing table reports zero, not an error")
}
