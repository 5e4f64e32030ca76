// Package snapshot reads third-party airport snapshots.
//
// A snapshot is a read-only SQLite database with airport, runway, runway_end
// and approach tables. Rows are exposed as iter.Seq2 sequences so callers can
// stop consuming at any row boundary.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/johndauphine/airport-sync/internal/model"

	_ "modernc.org/sqlite"
)

// Tables that must be present and non-empty.
var requiredTables = []string{"airport", "runway", "runway_end", "approach"}

// countQueries count the rows each table's reader yields. Runway ends are
// read through their runways, so unreferenced ends are not counted.
var countQueries = map[string]string{
	"airport":    "SELECT COUNT(*) FROM airport",
	"runway":     "SELECT COUNT(*) FROM runway",
	"runway_end": "SELECT COUNT(*) FROM (" + runwayEndQuery + ")",
	"approach":   "SELECT COUNT(*) FROM approach",
}

// PreconditionError means the snapshot cannot be imported at all.
type PreconditionError struct {
	Path  string
	Table string
	Err   error
}

func (e *PreconditionError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("snapshot %s: table %s: %v", e.Path, e.Table, e.Err)
	}
	return fmt.Sprintf("snapshot %s: %v", e.Path, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// ErrEmptyTable is wrapped by PreconditionError when a required table has no rows.
var ErrEmptyTable = errors.New("table is empty")

// RowError reports a row that failed validation. The row is skipped and the
// sequence continues.
type RowError struct {
	Table  string
	Key    string
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Table, e.Key, e.Reason)
}

// Counts holds the number of rows per table.
type Counts struct {
	Airports   int64
	Runways    int64
	RunwayEnds int64
	Approaches int64
}

// Total returns the sum of all table counts.
func (c Counts) Total() int64 {
	return c.Airports + c.Runways + c.RunwayEnds + c.Approaches
}

// Reader reads one snapshot file.
type Reader struct {
	db     *sql.DB
	path   string
	source model.Source
}

// Open opens the snapshot at path read-only. Records are tagged with source.
func Open(path string, source model.Source) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &PreconditionError{Path: path, Err: err}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, &PreconditionError{Path: path, Err: err}
	}
	db.SetMaxOpenConns(2)

	return &Reader{db: db, path: path, source: source}, nil
}

// Close releases the snapshot file.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Validate checks that every required table exists and has rows.
func (r *Reader) Validate(ctx context.Context) (Counts, error) {
	var counts Counts
	targets := map[string]*int64{
		"airport":    &counts.Airports,
		"runway":     &counts.Runways,
		"runway_end": &counts.RunwayEnds,
		"approach":   &counts.Approaches,
	}

	for _, table := range requiredTables {
		var n int64
		if err := r.db.QueryRowContext(ctx, countQueries[table]).Scan(&n); err != nil {
			return counts, &PreconditionError{Path: r.path, Table: table, Err: err}
		}
		if n == 0 {
			return counts, &PreconditionError{Path: r.path, Table: table, Err: ErrEmptyTable}
		}
		*targets[table] = n
	}
	return counts, nil
}
