package crud

import "github.com/dsi-data/logops/internal/model"

// keyStrategy names the columns that together form a table's archive
// natural key, and the column that holds the table's fixed-width time
// field used for retention gates and ordering. It is declarative and
// table-specific on purpose (design note: add new tables by extending
// this map, not by editing the engine).
type keyStrategy struct {
	mainTable    model.Table
	archiveTable model.Table
	timeColumn   string
	keyColumns   []string // the archive natural key, in column order
	columns      []string // full column list moved by INSERT ... SELECT
	guidColumn   string   // "" unless this table flavor has a nullable GUID key
}

var strategies = map[model.Table]keyStrategy{
	model.TableTransactions: {
		mainTable:    model.TableTransactions,
		archiveTable: model.TableTransactionArchive,
		timeColumn:   "when_received",
		keyColumns:   []string{"guid"},
		columns:      []string{"id", "guid", "when_received", "payload", "status"},
		guidColumn:   "guid",
	},
	model.TableActivities: {
		mainTable:    model.TableActivities,
		archiveTable: model.TableActivityArchive,
		timeColumn:   "posted_time",
		keyColumns:   []string{"activity_id", "posted_time"},
		columns:      []string{"id", "activity_id", "posted_time", "payload", "status"},
	},
}

func strategyFor(table model.Table) (keyStrategy, bool) {
	main := table
	if archiveOf, ok := table.MainTableFor(); ok {
		main = archiveOf
	}
	s, ok := strategies[main]
	return s, ok
}
