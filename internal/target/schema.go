package target

import (
	"fmt"
	"strings"

	"github.com/johndauphine/airport-sync/internal/spatial"
)

// Table names in the live store.
const (
	TableAirport   = "airport"
	TableRunway    = "runway"
	TableRunwayEnd = "runway_end"
	TableApproach  = "approach"
	TableJobs      = "import_jobs"
)

// cellColumns returns cell_l3 .. cell_l9.
func cellColumns() []string {
	cols := make([]string, 0, spatial.NumLevels)
	for level := spatial.MinLevel; level <= spatial.MaxLevel; level++ {
		cols = append(cols, fmt.Sprintf("cell_l%d", level))
	}
	return cols
}

func schemaStatements(d Dialect) []string {
	timestamp := "TIMESTAMPTZ"
	if d == SQLite {
		// fixed-width text, see timeLayout
		timestamp = "TEXT"
	}

	var cells strings.Builder
	for _, c := range cellColumns() {
		fmt.Fprintf(&cells, "\t%s TEXT NOT NULL,\n", c)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS airport (
	ident VARCHAR(5) PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	elevation INTEGER NOT NULL DEFAULT 0,
	num_runways INTEGER NOT NULL DEFAULT 0,
	longest_runway_length INTEGER NOT NULL DEFAULT 0,
	longest_runway_surface TEXT NOT NULL DEFAULT '',
	num_approaches INTEGER NOT NULL DEFAULT 0,
	num_parking_gates INTEGER NOT NULL DEFAULT 0,
	has_avgas BOOLEAN NOT NULL DEFAULT FALSE,
	has_jetfuel BOOLEAN NOT NULL DEFAULT FALSE,
	has_tower BOOLEAN NOT NULL DEFAULT FALSE,
	source TEXT NOT NULL,
	size INTEGER,
	previous_size INTEGER,
` + cells.String() + `	hash TEXT NOT NULL,
	msfs_population SMALLINT NOT NULL DEFAULT 0,
	xplane_population SMALLINT NOT NULL DEFAULT 0
)`,
		`CREATE TABLE IF NOT EXISTS runway (
	source TEXT NOT NULL,
	id BIGINT NOT NULL,
	airport_ident VARCHAR(5) NOT NULL REFERENCES airport(ident) ON DELETE CASCADE,
	length INTEGER NOT NULL DEFAULT 0,
	width INTEGER NOT NULL DEFAULT 0,
	heading DOUBLE PRECISION NOT NULL DEFAULT 0,
	surface TEXT NOT NULL DEFAULT '',
	edge_light TEXT NOT NULL DEFAULT '',
	center_light TEXT NOT NULL DEFAULT '',
	hash TEXT NOT NULL,
	PRIMARY KEY (source, id)
)`,
		`CREATE TABLE IF NOT EXISTS runway_end (
	source TEXT NOT NULL,
	id BIGINT NOT NULL,
	runway_id BIGINT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	end_type VARCHAR(1) NOT NULL,
	heading DOUBLE PRECISION NOT NULL DEFAULT 0,
	has_closed_markings BOOLEAN NOT NULL DEFAULT FALSE,
	hash TEXT NOT NULL,
	PRIMARY KEY (source, id),
	FOREIGN KEY (source, runway_id) REFERENCES runway(source, id) ON DELETE CASCADE
)`,
		`CREATE TABLE IF NOT EXISTS approach (
	source TEXT NOT NULL,
	id BIGINT NOT NULL,
	airport_ident VARCHAR(5) NOT NULL REFERENCES airport(ident) ON DELETE CASCADE,
	type TEXT NOT NULL DEFAULT '',
	suffix TEXT NOT NULL DEFAULT '',
	runway_name TEXT NOT NULL DEFAULT '',
	fix_ident TEXT NOT NULL DEFAULT '',
	hash TEXT NOT NULL,
	PRIMARY KEY (source, id)
)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS import_jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	source TEXT NOT NULL,
	started %[1]s NOT NULL,
	finished %[1]s,
	total_records_processed BIGINT NOT NULL DEFAULT 0,
	status_log TEXT NOT NULL DEFAULT '',
	requesting_user TEXT NOT NULL DEFAULT ''
)`, timestamp),
		`CREATE INDEX IF NOT EXISTS idx_runway_airport ON runway(airport_ident)`,
		`CREATE INDEX IF NOT EXISTS idx_runway_end_runway ON runway_end(source, runway_id)`,
		`CREATE INDEX IF NOT EXISTS idx_approach_airport ON approach(airport_ident)`,
		`CREATE INDEX IF NOT EXISTS idx_airport_msfs_population ON airport(msfs_population)`,
		`CREATE INDEX IF NOT EXISTS idx_airport_xplane_population ON airport(xplane_population)`,
		`CREATE INDEX IF NOT EXISTS idx_import_jobs_pending ON import_jobs(finished, started)`,
	}

	for _, c := range cellColumns() {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_airport_%s ON airport(%s)", c, c))
	}
	return stmts
}
