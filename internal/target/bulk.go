package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/johndauphine/airport-sync/internal/logging"
	"github.com/johndauphine/airport-sync/internal/model"
)

// WriteSet is a batch of rows for one table. Rows are inserted, or on a Key
// conflict the Update columns are overwritten when the stored hash differs.
type WriteSet struct {
	Table   string
	Columns []string
	Key     []string
	Update  []string
	Rows    [][]any
}

// Len returns the number of rows in the set.
func (w WriteSet) Len() int { return len(w.Rows) }

var airportColumns = append([]string{
	"ident", "name", "latitude", "longitude", "elevation", "num_runways",
	"longest_runway_length", "longest_runway_surface", "num_approaches",
	"num_parking_gates", "has_avgas", "has_jetfuel", "has_tower", "source",
}, append(cellColumns(), "hash")...)

// AirportWrites builds the write set for airports. Size and population
// columns are left untouched on update.
func AirportWrites(airports []*model.Airport) WriteSet {
	rows := make([][]any, len(airports))
	for i, a := range airports {
		row := []any{
			a.Ident, a.Name, a.Latitude, a.Longitude, a.Elevation, a.NumRunways,
			a.LongestRunwayLength, a.LongestRunwaySurface, a.NumApproaches,
			a.NumParkingGates, a.HasAvgas, a.HasJetfuel, a.HasTower, string(a.Source),
		}
		for _, c := range a.Cells {
			row = append(row, c)
		}
		rows[i] = append(row, a.Hash)
	}
	return WriteSet{
		Table:   TableAirport,
		Columns: airportColumns,
		Key:     []string{"ident"},
		Update:  airportColumns[1:],
		Rows:    rows,
	}
}

var runwayColumns = []string{
	"source", "id", "airport_ident", "length", "width", "heading",
	"surface", "edge_light", "center_light", "hash",
}

// RunwayWrites builds the write set for runways.
func RunwayWrites(runways []*model.Runway) WriteSet {
	rows := make([][]any, len(runways))
	for i, r := range runways {
		rows[i] = []any{
			string(r.Source), r.ID, r.AirportIdent, r.Length, r.Width, r.Heading,
			r.Surface, r.EdgeLight, r.CenterLight, r.Hash,
		}
	}
	return WriteSet{
		Table:   TableRunway,
		Columns: runwayColumns,
		Key:     []string{"source", "id"},
		Update:  runwayColumns[2:],
		Rows:    rows,
	}
}

var runwayEndColumns = []string{
	"source", "id", "runway_id", "name", "end_type", "heading", "has_closed_markings", "hash",
}

// RunwayEndWrites builds the write set for runway ends.
func RunwayEndWrites(ends []*model.RunwayEnd) WriteSet {
	rows := make([][]any, len(ends))
	for i, e := range ends {
		rows[i] = []any{
			string(e.Source), e.ID, e.RunwayID, e.Name, e.EndType, e.Heading, e.HasClosedMarkings, e.Hash,
		}
	}
	return WriteSet{
		Table:   TableRunwayEnd,
		Columns: runwayEndColumns,
		Key:     []string{"source", "id"},
		Update:  runwayEndColumns[2:],
		Rows:    rows,
	}
}

var approachColumns = []string{
	"source", "id", "airport_ident", "type", "suffix", "runway_name", "fix_ident", "hash",
}

// ApproachWrites builds the write set for approaches.
func ApproachWrites(approaches []*model.Approach) WriteSet {
	rows := make([][]any, len(approaches))
	for i, a := range approaches {
		rows[i] = []any{
			string(a.Source), a.ID, a.AirportIdent, a.Type, a.Suffix, a.RunwayName, a.FixIdent, a.Hash,
		}
	}
	return WriteSet{
		Table:   TableApproach,
		Columns: approachColumns,
		Key:     []string{"source", "id"},
		Update:  approachColumns[2:],
		Rows:    rows,
	}
}

// Apply writes every set in a single transaction. Transient lock failures
// retry the whole transaction.
func (s *Store) Apply(ctx context.Context, sets ...WriteSet) error {
	total := 0
	for _, ws := range sets {
		total += ws.Len()
	}
	if total == 0 {
		return nil
	}

	return retry(ctx, "bulk write", 3, func() error {
		if s.dialect == Postgres {
			return s.applyCopy(ctx, sets)
		}
		return s.applyBatched(ctx, sets)
	})
}

// applyCopy streams each set into a TEMP staging table with the binary COPY
// protocol, then merges it into the target table.
func (s *Store) applyCopy(ctx context.Context, sets []WriteSet) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		pc := driverConn.(*stdlib.Conn).Conn()

		tx, err := pc.Begin(ctx)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, "SET LOCAL statement_timeout = 0"); err != nil {
			return fmt.Errorf("setting statement timeout: %w", err)
		}

		for i, ws := range sets {
			if ws.Len() == 0 {
				continue
			}
			staging := stagingName(ws.Table, i)

			// TEMP tables skip WAL and vanish at commit
			createSQL := fmt.Sprintf(`CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP`,
				quoteIdent(staging), quoteIdent(ws.Table))
			if _, err := tx.Exec(ctx, createSQL); err != nil {
				return fmt.Errorf("creating staging table for %s: %w", ws.Table, err)
			}

			if _, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, ws.Columns, pgx.CopyFromRows(ws.Rows)); err != nil {
				return fmt.Errorf("copying %s to staging: %w", ws.Table, err)
			}

			if _, err := tx.Exec(ctx, buildStagingMergeSQL(ws, staging)); err != nil {
				return fmt.Errorf("merging staging into %s: %w", ws.Table, err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		return nil
	})
}

// applyBatched writes multi-row INSERT ... ON CONFLICT statements sized to
// the parameter limit.
func (s *Store) applyBatched(ctx context.Context, sets []WriteSet) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, ws := range sets {
			if ws.Len() == 0 {
				continue
			}
			batchSize := s.maxParams / len(ws.Columns)
			if batchSize < 1 {
				batchSize = 1
			}

			for i := 0; i < len(ws.Rows); i += batchSize {
				end := min(i+batchSize, len(ws.Rows))
				upsertSQL, args := buildBatchedUpsertSQL(ws, ws.Rows[i:end])
				if _, err := tx.ExecContext(ctx, rebind(s.dialect, upsertSQL), args...); err != nil {
					return fmt.Errorf("executing batched upsert on %s: %w", ws.Table, err)
				}
			}
		}
		return nil
	})
}

// buildBatchedUpsertSQL generates a multi-row upsert:
// INSERT INTO t (cols) VALUES (?, ...), (?, ...)
// ON CONFLICT (key) DO UPDATE SET c = excluded.c, ...
// WHERE t.hash IS DISTINCT FROM excluded.hash
func buildBatchedUpsertSQL(ws WriteSet, rows [][]any) (string, []any) {
	numCols := len(ws.Columns)
	args := make([]any, 0, len(rows)*numCols)
	tuple := "(" + placeholders(numCols) + ")"
	tuples := make([]string, len(rows))
	for i, row := range rows {
		tuples[i] = tuple
		args = append(args, row...)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES %s",
		quoteIdent(ws.Table), strings.Join(quoteIdents(ws.Columns), ", "), strings.Join(tuples, ", "))
	sb.WriteString(conflictClause(ws))
	return sb.String(), args
}

// buildStagingMergeSQL generates the INSERT ... SELECT ... ON CONFLICT
// statement that merges a staging table into the target table.
func buildStagingMergeSQL(ws WriteSet, staging string) string {
	colStr := strings.Join(quoteIdents(ws.Columns), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		quoteIdent(ws.Table), colStr, colStr, quoteIdent(staging)) + conflictClause(ws)
}

func conflictClause(ws WriteSet) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, " ON CONFLICT (%s)", strings.Join(quoteIdents(ws.Key), ", "))

	if len(ws.Update) == 0 {
		sb.WriteString(" DO NOTHING")
		return sb.String()
	}

	setClauses := make([]string, len(ws.Update))
	hasHash := false
	for i, col := range ws.Update {
		setClauses[i] = fmt.Sprintf("%s = excluded.%s", quoteIdent(col), quoteIdent(col))
		if col == "hash" {
			hasHash = true
		}
	}
	fmt.Fprintf(&sb, " DO UPDATE SET %s", strings.Join(setClauses, ", "))

	// Skip rewriting rows whose content is unchanged
	if hasHash {
		fmt.Fprintf(&sb, " WHERE %s.%s IS DISTINCT FROM excluded.%s",
			quoteIdent(ws.Table), quoteIdent("hash"), quoteIdent("hash"))
	}
	return sb.String()
}

// Hashes returns the stored content hash of every record in table, keyed the
// way the importer keys records. Airports are shared between sources and are
// keyed by ident; secondary tables are filtered to source and keyed by
// model.CompositeKey.
func (s *Store) Hashes(ctx context.Context, table string, source model.Source) (map[string]string, error) {
	var rows *sql.Rows
	var err error

	switch table {
	case TableAirport:
		rows, err = s.query(ctx, "SELECT ident, hash FROM airport")
	case TableRunway, TableRunwayEnd, TableApproach:
		rows, err = s.query(ctx, fmt.Sprintf("SELECT id, hash FROM %s WHERE source = ?", quoteIdent(table)), string(source))
	default:
		return nil, fmt.Errorf("no hashes for table %q", table)
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s hashes: %w", table, err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var hash string
		if table == TableAirport {
			var ident string
			if err := rows.Scan(&ident, &hash); err != nil {
				return nil, err
			}
			hashes[ident] = hash
			continue
		}
		var id int64
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		hashes[model.CompositeKey(source, id)] = hash
	}
	return hashes, rows.Err()
}

// DeleteSourceData removes one source's runways, runway ends and approaches.
// Airports are kept.
func (s *Store) DeleteSourceData(ctx context.Context, source model.Source) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{TableApproach, TableRunwayEnd, TableRunway} {
			q := rebind(s.dialect, fmt.Sprintf("DELETE FROM %s WHERE source = ?", quoteIdent(table)))
			res, err := tx.ExecContext(ctx, q, string(source))
			if err != nil {
				return fmt.Errorf("deleting %s rows for %s: %w", table, source, err)
			}
			n, _ := res.RowsAffected()
			logging.Debug("Deleted %d %s rows for %s", n, table, source)
		}
		return nil
	})
}

// SizeUpdate assigns a new size class to an airport.
type SizeUpdate struct {
	Ident string
	Size  int
}

// UpdateSizes stores new size classes in one transaction. Each airport's
// current size moves to previous_size in the same statement.
func (s *Store) UpdateSizes(ctx context.Context, updates []SizeUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	// two params in CASE plus one in IN per row
	batchSize := min(s.maxParams/3, 1000)

	return retry(ctx, "size update", 3, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			for i := 0; i < len(updates); i += batchSize {
				batch := updates[i:min(i+batchSize, len(updates))]
				q, args := buildSizeUpdateSQL(batch)
				if _, err := tx.ExecContext(ctx, rebind(s.dialect, q), args...); err != nil {
					return fmt.Errorf("updating sizes: %w", err)
				}
			}
			return nil
		})
	})
}

func buildSizeUpdateSQL(batch []SizeUpdate) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(batch)*3)

	sb.WriteString("UPDATE airport SET previous_size = size, size = CASE ident")
	for _, u := range batch {
		sb.WriteString(" WHEN ? THEN CAST(? AS INTEGER)")
		args = append(args, u.Ident, u.Size)
	}
	sb.WriteString(" END WHERE ident IN (")
	sb.WriteString(placeholders(len(batch)))
	sb.WriteString(")")
	for _, u := range batch {
		args = append(args, u.Ident)
	}
	return sb.String(), args
}
