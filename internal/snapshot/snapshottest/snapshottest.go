// Package snapshottest builds small snapshot files for tests.
package snapshottest

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE airport (
	airport_id INTEGER PRIMARY KEY,
	ident TEXT,
	name TEXT,
	laty DOUBLE,
	lonx DOUBLE,
	altitude DOUBLE,
	num_runways INTEGER,
	longest_runway_length INTEGER,
	longest_runway_surface TEXT,
	num_approach INTEGER,
	num_parking_gate INTEGER,
	has_avgas INTEGER,
	has_jetfuel INTEGER,
	has_tower INTEGER
);
CREATE TABLE runway (
	runway_id INTEGER PRIMARY KEY,
	airport_id INTEGER,
	primary_end_id INTEGER,
	secondary_end_id INTEGER,
	length INTEGER,
	width INTEGER,
	heading DOUBLE,
	surface TEXT,
	edge_light TEXT,
	center_light TEXT
);
CREATE TABLE runway_end (
	runway_end_id INTEGER PRIMARY KEY,
	name TEXT,
	heading DOUBLE,
	has_closed_markings INTEGER
);
CREATE TABLE approach (
	approach_id INTEGER PRIMARY KEY,
	airport_id INTEGER,
	airport_ident TEXT,
	type TEXT,
	suffix TEXT,
	runway_name TEXT,
	fix_ident TEXT
);
`

// Airport describes one airport row.
type Airport struct {
	Ident    string
	Name     string
	Lat, Lon float64
	Altitude int
	Gates    int
	Avgas    bool
	Jetfuel  bool
	Tower    bool
}

// Runway describes one runway and its two ends.
type Runway struct {
	Length          int
	Width           int
	Heading         float64
	Surface         string
	EdgeLight       string
	CenterLight     string
	PrimaryName     string
	SecondaryName   string
	PrimaryClosed   bool
	SecondaryClosed bool
}

// Builder writes a snapshot file row by row.
type Builder struct {
	t        testing.TB
	db       *sql.DB
	path     string
	airports map[string]int64
	nextID   int64
}

// New creates an empty snapshot named name inside dir.
func New(t testing.TB, dir, name string) *Builder {
	t.Helper()
	path := filepath.Join(dir, name)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("opening snapshot: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("creating snapshot schema: %v", err)
	}
	b := &Builder{t: t, db: db, path: path, airports: make(map[string]int64), nextID: 1000}
	t.Cleanup(func() { b.db.Close() })
	return b
}

func (b *Builder) id() int64 {
	b.nextID++
	return b.nextID
}

// Airport inserts an airport and returns its snapshot id.
func (b *Builder) Airport(a Airport) int64 {
	b.t.Helper()
	id := b.id()
	b.Exec(`INSERT INTO airport (airport_id, ident, name, laty, lonx, altitude,
		num_runways, longest_runway_length, longest_runway_surface, num_approach,
		num_parking_gate, has_avgas, has_jetfuel, has_tower)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, '', 0, ?, ?, ?, ?)`,
		id, a.Ident, a.Name, a.Lat, a.Lon, a.Altitude, a.Gates, a.Avgas, a.Jetfuel, a.Tower)
	b.airports[a.Ident] = id
	return id
}

// Runway inserts a runway with both ends for the airport with the given ident
// and returns the runway id and its primary and secondary end ids.
func (b *Builder) Runway(ident string, r Runway) (runwayID, primaryID, secondaryID int64) {
	b.t.Helper()
	airportID, ok := b.airports[ident]
	if !ok {
		airportID = -1
	}
	primaryID, secondaryID, runwayID = b.id(), b.id(), b.id()
	b.Exec(`INSERT INTO runway_end (runway_end_id, name, heading, has_closed_markings) VALUES (?, ?, ?, ?)`,
		primaryID, r.PrimaryName, r.Heading, r.PrimaryClosed)
	b.Exec(`INSERT INTO runway_end (runway_end_id, name, heading, has_closed_markings) VALUES (?, ?, ?, ?)`,
		secondaryID, r.SecondaryName, r.Heading+180, r.SecondaryClosed)
	b.Exec(`INSERT INTO runway (runway_id, airport_id, primary_end_id, secondary_end_id, length, width,
		heading, surface, edge_light, center_light) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runwayID, airportID, primaryID, secondaryID, r.Length, r.Width, r.Heading,
		r.Surface, r.EdgeLight, r.CenterLight)
	b.Exec(`UPDATE airport SET num_runways = num_runways + 1,
		longest_runway_surface = CASE WHEN ? > longest_runway_length THEN ? ELSE longest_runway_surface END,
		longest_runway_length = MAX(longest_runway_length, ?)
		WHERE airport_id = ?`, r.Length, r.Surface, r.Length, airportID)
	return runwayID, primaryID, secondaryID
}

// Approach inserts an approach of the given type for ident and returns its id.
func (b *Builder) Approach(ident, typ, runwayName string) int64 {
	b.t.Helper()
	id := b.id()
	b.Exec(`INSERT INTO approach (approach_id, airport_id, airport_ident, type, suffix, runway_name, fix_ident)
		VALUES (?, ?, ?, ?, '', ?, ?)`, id, b.airports[ident], ident, typ, runwayName, "FIX"+runwayName)
	b.Exec(`UPDATE airport SET num_approach = num_approach + 1 WHERE ident = ?`, ident)
	return id
}

// Exec runs an arbitrary statement against the snapshot.
func (b *Builder) Exec(query string, args ...any) {
	b.t.Helper()
	if _, err := b.db.Exec(query, args...); err != nil {
		b.t.Fatalf("snapshot exec: %v", err)
	}
}

// Finish closes the file and returns its path. The builder must not be used
// afterwards.
func (b *Builder) Finish() string {
	b.t.Helper()
	if err := b.db.Close(); err != nil {
		b.t.Fatalf("closing snapshot: %v", err)
	}
	return b.path
}
