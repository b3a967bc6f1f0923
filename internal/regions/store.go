package regions

import (
	"context"
	"fmt"
	"time"

	"github.com/vinovest/sqlx"

	"github.com/dsi-data/logops/internal/apperr"
)

const sqlLookupConnectionString = `
SELECT connection_string FROM region_config WHERE region = $1 AND is_active = TRUE
`

const sqlMarkConnected = `
UPDATE region_config SET is_connected = TRUE, last_connected_at = $2, updated_at = $2 WHERE region = $1
`

// SQLConfigStore implements ConfigStore against the region_config table
// on a control-plane database, the same one that holds job_logs,
// chatops_log, and users.
type SQLConfigStore struct {
	db *sqlx.DB
}

// NewSQLConfigStore wraps db as a ConfigStore.
func NewSQLConfigStore(db *sqlx.DB) *SQLConfigStore {
	return &SQLConfigStore{db: db}
}

func (s *SQLConfigStore) ConnectionString(ctx context.Context, region string) (string, error) {
	var dsn string
	err := s.db.GetContext(ctx, &dsn, sqlLookupConnectionString, region)
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidRegion, fmt.Sprintf("no active region_config row for %q", region), err)
	}
	return dsn, nil
}

func (s *SQLConfigStore) MarkConnected(ctx context.Context, region string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, sqlMarkConnected, region, at)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "error recording region connection", err)
	}
	return nil
}
