package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"

	"github.com/johndauphine/airport-sync/internal/model"
)

const airportQuery = `
	SELECT COALESCE(ident, ''), COALESCE(name, ''), laty, lonx,
		CAST(COALESCE(altitude, 0) AS INTEGER),
		COALESCE(num_runways, 0),
		CAST(COALESCE(longest_runway_length, 0) AS INTEGER),
		COALESCE(longest_runway_surface, ''),
		COALESCE(num_approach, 0),
		COALESCE(num_parking_gate, 0),
		COALESCE(has_avgas, 0), COALESCE(has_jetfuel, 0), COALESCE(has_tower, 0)
	FROM airport`

const runwayQuery = `
	SELECT r.runway_id, COALESCE(a.ident, ''),
		CAST(COALESCE(r.length, 0) AS INTEGER),
		CAST(COALESCE(r.width, 0) AS INTEGER),
		COALESCE(r.heading, 0),
		COALESCE(r.surface, ''), COALESCE(r.edge_light, ''), COALESCE(r.center_light, '')
	FROM runway r
	LEFT JOIN airport a ON a.airport_id = r.airport_id`

// Runway ends carry no back-reference; the owning runway is found through
// its primary/secondary end columns.
const runwayEndQuery = `
	SELECT e.runway_end_id, r.runway_id, COALESCE(e.name, ''), 'P',
		COALESCE(e.heading, 0), COALESCE(e.has_closed_markings, 0)
	FROM runway r
	JOIN runway_end e ON e.runway_end_id = r.primary_end_id
	UNION ALL
	SELECT e.runway_end_id, r.runway_id, COALESCE(e.name, ''), 'S',
		COALESCE(e.heading, 0), COALESCE(e.has_closed_markings, 0)
	FROM runway r
	JOIN runway_end e ON e.runway_end_id = r.secondary_end_id`

const approachQuery = `
	SELECT approach_id, COALESCE(airport_ident, ''), COALESCE(type, ''),
		COALESCE(suffix, ''), COALESCE(runway_name, ''), COALESCE(fix_ident, '')
	FROM approach`

// Airports yields every airport row. Invalid rows are yielded together with
// a *RowError.
func (r *Reader) Airports(ctx context.Context) iter.Seq2[*model.Airport, error] {
	return scanRows(ctx, r.db, "airport", airportQuery, func(rows *sql.Rows) (*model.Airport, error) {
		a := &model.Airport{Source: r.source}
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&a.Ident, &a.Name, &lat, &lon, &a.Elevation,
			&a.NumRunways, &a.LongestRunwayLength, &a.LongestRunwaySurface, &a.NumApproaches,
			&a.NumParkingGates, &a.HasAvgas, &a.HasJetfuel, &a.HasTower); err != nil {
			return nil, err
		}
		a.Latitude, a.Longitude = math.NaN(), math.NaN()
		if lat.Valid && lon.Valid {
			a.Latitude, a.Longitude = lat.Float64, lon.Float64
		}
		a.Ident = normalizeCode(a.Ident)
		a.Name = strings.TrimSpace(a.Name)
		a.LongestRunwaySurface = normalizeCode(a.LongestRunwaySurface)
		return a, validateAirport(a)
	})
}

// Runways yields every runway row with its owning airport ident.
func (r *Reader) Runways(ctx context.Context) iter.Seq2[*model.Runway, error] {
	return scanRows(ctx, r.db, "runway", runwayQuery, func(rows *sql.Rows) (*model.Runway, error) {
		rw := &model.Runway{Source: r.source}
		if err := rows.Scan(&rw.ID, &rw.AirportIdent, &rw.Length, &rw.Width, &rw.Heading,
			&rw.Surface, &rw.EdgeLight, &rw.CenterLight); err != nil {
			return nil, err
		}
		rw.AirportIdent = normalizeCode(rw.AirportIdent)
		rw.Surface = normalizeCode(rw.Surface)
		rw.EdgeLight = normalizeCode(rw.EdgeLight)
		rw.CenterLight = normalizeCode(rw.CenterLight)
		if rw.Length < 0 {
			return rw, &RowError{Table: "runway", Key: strconv.FormatInt(rw.ID, 10), Reason: "negative length"}
		}
		return rw, nil
	})
}

// RunwayEnds yields every runway end referenced by a runway.
func (r *Reader) RunwayEnds(ctx context.Context) iter.Seq2[*model.RunwayEnd, error] {
	return scanRows(ctx, r.db, "runway_end", runwayEndQuery, func(rows *sql.Rows) (*model.RunwayEnd, error) {
		e := &model.RunwayEnd{Source: r.source}
		if err := rows.Scan(&e.ID, &e.RunwayID, &e.Name, &e.EndType, &e.Heading, &e.HasClosedMarkings); err != nil {
			return nil, err
		}
		e.Name = normalizeCode(e.Name)
		return e, nil
	})
}

// Approaches yields every approach row.
func (r *Reader) Approaches(ctx context.Context) iter.Seq2[*model.Approach, error] {
	return scanRows(ctx, r.db, "approach", approachQuery, func(rows *sql.Rows) (*model.Approach, error) {
		a := &model.Approach{Source: r.source}
		if err := rows.Scan(&a.ID, &a.AirportIdent, &a.Type, &a.Suffix, &a.RunwayName, &a.FixIdent); err != nil {
			return nil, err
		}
		a.AirportIdent = normalizeCode(a.AirportIdent)
		a.Type = normalizeCode(a.Type)
		a.Suffix = normalizeCode(a.Suffix)
		a.RunwayName = normalizeCode(a.RunwayName)
		a.FixIdent = normalizeCode(a.FixIdent)
		return a, nil
	})
}

// scanRows turns a query into a sequence. A scan failure ends the sequence
// with the error; a *RowError from mapRow is yielded and iteration goes on.
func scanRows[T any](ctx context.Context, db *sql.DB, table, query string, mapRow func(*sql.Rows) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			yield(zero, fmt.Errorf("querying %s: %w", table, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := mapRow(rows)
			if err != nil {
				if _, ok := err.(*RowError); !ok {
					yield(zero, fmt.Errorf("scanning %s: %w", table, err))
					return
				}
			}
			if !yield(rec, err) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, fmt.Errorf("reading %s: %w", table, err))
		}
	}
}

func validateAirport(a *model.Airport) error {
	switch {
	case a.Ident == "":
		return &RowError{Table: "airport", Key: a.Name, Reason: "missing ident"}
	case len(a.Ident) > model.MaxIdentLength:
		return &RowError{Table: "airport", Key: a.Ident,
			Reason: fmt.Sprintf("ident longer than %d characters", model.MaxIdentLength)}
	case !validCoordinate(a.Latitude, 90) || !validCoordinate(a.Longitude, 180):
		return &RowError{Table: "airport", Key: a.Ident,
			Reason: fmt.Sprintf("coordinates (%f, %f) out of range", a.Latitude, a.Longitude)}
	}
	return nil
}

func validCoordinate(v, limit float64) bool {
	return !math.IsNaN(v) && v >= -limit && v <= limit
}

func normalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
