package regions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"
)

const controlPlaneSchema = `
DROP TABLE IF EXISTS region_config;
CREATE TABLE region_config (
	id SERIAL PRIMARY KEY,
	region TEXT UNIQUE NOT NULL,
	connection_string TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	is_connected BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_connected_at TIMESTAMPTZ,
	connection_notes TEXT
);
`

func setupStore(t *testing.T) *sqlx.DB {
	db, err := sqlx.Open("postgres", testDSN)
	require.NoError(t, err)
	_, err = db.Exec(controlPlaneSchema)
	require.NoError(t, err)
	return db
}

func TestSQLConfigStore_ConnectionString_OnlyReturnsActiveRegions(t *testing.T) {
	db := setupStore(t)
	_, err := db.Exec(`INSERT INTO region_config (region, connection_string, is_active) VALUES ('east', 'postgres://east/db', TRUE), ('west', 'postgres://west/db', FALSE)`)
	require.NoError(t, err)

	store := NewSQLConfigStore(db)

	dsn, err := store.ConnectionString(context.Background(), "east")
	require.NoError(t, err)
	assert.Equal(t, "postgres://east/db", dsn)

	_, err = store.ConnectionString(context.Background(), "west")
	assert.Error(t, err, "an inactive region is not resolvable")
}

func TestSQLConfigStore_MarkConnected_UpdatesRow(t *testing.T) {
	db := setupStore(t)
	_, err := db.Exec(`INSERT INTO region_config (region, connection_string) VALUES ('east', 'postgres://east/db')`)
	require.NoError(t, err)

	store := NewSQLConfigStore(db)
	now, err := time.Parse(time.RFC3339, "2026-07-30T12:00:00Z")
	require.NoError(t, err)
	require.NoError(t, store.MarkConnected(context.Background(), "east", now))

	var isConnected bool
	require.NoError(t, db.Get(&isConnected, "SELECT is_connected FROM region_config WHERE region = 'east'"))
	assert.True(t, isConnected)
}
