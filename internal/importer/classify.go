package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/johndauphine/airport-sync/internal/model"
	"github.com/johndauphine/airport-sync/internal/sizing"
	"github.com/johndauphine/airport-sync/internal/snapshot"
)

// ClassifySnapshot computes the size class of one airport straight from a
// snapshot without touching the live store. Invalid rows are ignored.
func ClassifySnapshot(ctx context.Context, path, ident string, majors *sizing.Majors) (sizing.Result, *sizing.Input, error) {
	ident = strings.ToUpper(strings.TrimSpace(ident))

	r, err := snapshot.Open(path, model.SourceMSFS)
	if err != nil {
		return sizing.Result{}, nil, err
	}
	defer r.Close()

	var in *sizing.Input
	for a, err := range r.Airports(ctx) {
		if err != nil {
			if isRowError(err) {
				continue
			}
			return sizing.Result{}, nil, err
		}
		if a.Ident == ident {
			in = &sizing.Input{Ident: ident, ParkingGates: a.NumParkingGates}
			break
		}
	}
	if in == nil {
		return sizing.Result{}, nil, fmt.Errorf("airport %s not found in snapshot", ident)
	}

	runwayIdx := make(map[int64]int)
	for rw, err := range r.Runways(ctx) {
		if err != nil {
			if isRowError(err) {
				continue
			}
			return sizing.Result{}, nil, err
		}
		if rw.AirportIdent != ident {
			continue
		}
		runwayIdx[rw.ID] = len(in.Runways)
		in.Runways = append(in.Runways, sizing.RunwayInfo{
			Length:      rw.Length,
			Surface:     rw.Surface,
			EdgeLight:   rw.EdgeLight,
			CenterLight: rw.CenterLight,
		})
	}

	for e, err := range r.RunwayEnds(ctx) {
		if err != nil {
			if isRowError(err) {
				continue
			}
			return sizing.Result{}, nil, err
		}
		i, ok := runwayIdx[e.RunwayID]
		if !ok || !e.HasClosedMarkings {
			continue
		}
		if e.EndType == "P" {
			in.Runways[i].PrimaryClosed = true
		} else {
			in.Runways[i].SecondaryClosed = true
		}
	}

	for ap, err := range r.Approaches(ctx) {
		if err != nil {
			if isRowError(err) {
				continue
			}
			return sizing.Result{}, nil, err
		}
		if ap.AirportIdent == ident {
			in.ApproachTypes = append(in.ApproachTypes, ap.Type)
		}
	}

	return sizing.Classify(*in, majors), in, nil
}
