package target

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/johndauphine/airport-sync/internal/sizing"
)

// SizeInputs loads what the size classifier needs for each of the given
// airports: gate count, runways with end closure flags, approach types and the
// currently stored size. Runways and approaches from every source count.
func (s *Store) SizeInputs(ctx context.Context, idents []string) (map[string]*sizing.Input, error) {
	want := make(map[string]*sizing.Input, len(idents))
	for _, id := range idents {
		want[id] = nil
	}

	rows, err := s.query(ctx, "SELECT ident, num_parking_gates, size FROM airport")
	if err != nil {
		return nil, fmt.Errorf("querying airports for sizing: %w", err)
	}
	err = eachRow(rows, func() error {
		var ident string
		var gates int
		var size sql.NullInt64
		if err := rows.Scan(&ident, &gates, &size); err != nil {
			return err
		}
		if _, ok := want[ident]; !ok {
			return nil
		}
		in := &sizing.Input{Ident: ident, ParkingGates: gates}
		if size.Valid {
			v := int(size.Int64)
			in.CurrentSize = &v
		}
		want[ident] = in
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows, err = s.query(ctx, `SELECT r.airport_ident, r.length, r.surface, r.edge_light, r.center_light,
			COALESCE(p.has_closed_markings, FALSE), COALESCE(e.has_closed_markings, FALSE)
		FROM runway r
		LEFT JOIN runway_end p ON p.source = r.source AND p.runway_id = r.id AND p.end_type = 'P'
		LEFT JOIN runway_end e ON e.source = r.source AND e.runway_id = r.id AND e.end_type = 'S'`)
	if err != nil {
		return nil, fmt.Errorf("querying runways for sizing: %w", err)
	}
	err = eachRow(rows, func() error {
		var ident string
		var rw sizing.RunwayInfo
		if err := rows.Scan(&ident, &rw.Length, &rw.Surface, &rw.EdgeLight, &rw.CenterLight,
			&rw.PrimaryClosed, &rw.SecondaryClosed); err != nil {
			return err
		}
		if in := want[ident]; in != nil {
			in.Runways = append(in.Runways, rw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows, err = s.query(ctx, "SELECT airport_ident, type FROM approach")
	if err != nil {
		return nil, fmt.Errorf("querying approaches for sizing: %w", err)
	}
	err = eachRow(rows, func() error {
		var ident, typ string
		if err := rows.Scan(&ident, &typ); err != nil {
			return err
		}
		if in := want[ident]; in != nil {
			in.ApproachTypes = append(in.ApproachTypes, typ)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]*sizing.Input, len(want))
	for id, in := range want {
		if in != nil {
			out[id] = in
		}
	}
	return out, nil
}

// eachRow calls fn for every row and closes rows.
func eachRow(rows *sql.Rows, fn func() error) error {
	defer rows.Close()
	for rows.Next() {
		if err := fn(); err != nil {
			return err
		}
	}
	return rows.Err()
}
