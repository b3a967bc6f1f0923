// Package regions implements the multi-region session manager: it owns
// per-region database engines, serializes connect/disconnect, and vends
// short-lived sessions to the CRUD core and safe-SQL executor.
package regions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nyaruka/gocommon/dates"
	_ "github.com/lib/pq"
	"github.com/vinovest/sqlx"

	"github.com/dsi-data/logops/internal/apperr"
	"github.com/dsi-data/logops/internal/model"
)

// knownTables are probed by TestConnection; a missing archive table is
// reported as a zero count rather than an error, since archive tables
// are created lazily in some regions.
var knownTables = []model.Table{
	model.TableTransactions,
	model.TableTransactionArchive,
	model.TableActivities,
	model.TableActivityArchive,
}

// ConfigStore resolves a region name to its connection string and
// records connection bookkeeping. It is implemented against the
// region_config table, kept separate from Manager so tests can fake it.
type ConfigStore interface {
	ConnectionString(ctx context.Context, region string) (string, error)
	MarkConnected(ctx context.Context, region string, at time.Time) error
}

type regionEntry struct {
	db              *sqlx.DB
	connected       bool
	lastConnectedAt *time.Time
}

// Manager is the concurrent region -> session-factory map described in
// the region session manager design. Reads of the map (Session,
// ConnectionStatus) take an RLock; connect/disconnect take a Lock.
type Manager struct {
	store ConfigStore

	mu      sync.RWMutex
	entries map[string]*regionEntry
}

// NewManager constructs an empty Manager backed by store.
func NewManager(store ConfigStore) *Manager {
	return &Manager{store: store, entries: make(map[string]*regionEntry)}
}

// Connect resolves region's connection string, opens a pooled engine,
// and probes it with SELECT 1. It is idempotent: calling Connect on an
// already-connected region is a no-op beyond refreshing lastConnectedAt.
func (m *Manager) Connect(ctx context.Context, region string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[region]; ok && entry.connected {
		now := dates.Now()
		entry.lastConnectedAt = &now
		return m.store.MarkConnected(ctx, region, now)
	}

	dsn, err := m.store.ConnectionString(ctx, region)
	if err != nil {
		return apperr.Wrap(apperr.InvalidRegion, fmt.Sprintf("unknown region %q", region), err)
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return apperr.Wrap(apperr.DBUnavailable, fmt.Sprintf("error opening region %q", region), err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(probeCtx, "SELECT 1"); err != nil {
		db.Close()
		return apperr.Wrap(apperr.DBUnavailable, fmt.Sprintf("region %q did not respond to SELECT 1", region), err)
	}

	now := dates.Now()
	m.entries[region] = &regionEntry{db: db, connected: true, lastConnectedAt: &now}

	return m.store.MarkConnected(ctx, region, now)
}

// Disconnect disposes region's engine and clears its entry. Disconnecting
// an unknown or already-disconnected region is a no-op.
func (m *Manager) Disconnect(region string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[region]
	if !ok || !entry.connected {
		return nil
	}
	err := entry.db.Close()
	delete(m.entries, region)
	return err
}

// Session vends the pooled *sqlx.DB for region. It fails with
// NotConnected if the region has not been connected. The returned handle
// is not meant to be shared across goroutines beyond the caller's own
// use; the underlying engine pools its own connections.
func (m *Manager) Session(region string) (*sqlx.DB, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[region]
	if !ok || !entry.connected {
		return nil, apperr.New(apperr.NotConnected, fmt.Sprintf("region %q is not connected", region))
	}
	return entry.db, nil
}

// Status describes one region's connectivity and per-table row counts.
type Status struct {
	Region      string
	Connected   bool
	TableCounts map[model.Table]int64
	Error       string
}

// TestConnection runs SELECT 1 plus a count probe on each known table.
// A missing table (e.g. an archive table never created in this region)
// is reported as a zero count rather than surfaced as an error.
func (m *Manager) TestConnection(ctx context.Context, region string) (Status, error) {
	db, err := m.Session(region)
	if err != nil {
		return Status{Region: region, Connected: false, Error: err.Error()}, err
	}

	if _, err := db.ExecContext(ctx, "SELECT 1"); err != nil {
		return Status{Region: region, Connected: false, Error: err.Error()}, apperr.Wrap(apperr.DBUnavailable, "health probe failed", err)
	}

	counts := make(map[model.Table]int64, len(knownTables))
	for _, table := range knownTables {
		var exists bool
		if err := db.GetContext(ctx, &exists, "SELECT to_regclass($1) IS NOT NULL", string(table)); err != nil {
			return Status{}, apperr.Wrap(apperr.Internal, "error probing table existence", err)
		}
		if !exists {
			counts[table] = 0
			continue
		}
		var n int64
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
		if err := db.GetContext(ctx, &n, query); err != nil {
			return Status{}, apperr.Wrap(apperr.Internal, fmt.Sprintf("error counting %s", table), err)
		}
		counts[table] = n
	}

	return Status{Region: region, Connected: true, TableCounts: counts}, nil
}

// ListRegions returns the names of every currently connected region.
func (m *Manager) ListRegions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.entries))
	for name, entry := range m.entries {
		if entry.connected {
			names = append(names, name)
		}
	}
	return names
}

// ConnectionStatus reports, for every connected region, whether it is
// live and when it was last (re)connected.
func (m *Manager) ConnectionStatus() map[string]time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]time.Time, len(m.entries))
	for name, entry := range m.entries {
		if entry.connected && entry.lastConnectedAt != nil {
			out[name] = *entry.lastConnectedAt
		}
	}
	return out
}
