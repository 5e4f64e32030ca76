package importer

import (
	"context"
	"fmt"
	"sort"

	"github.com/johndauphine/airport-sync/internal/diff"
	"github.com/johndauphine/airport-sync/internal/logging"
	"github.com/johndauphine/airport-sync/internal/model"
	"github.com/johndauphine/airport-sync/internal/progress"
	"github.com/johndauphine/airport-sync/internal/sizing"
	"github.com/johndauphine/airport-sync/internal/spatial"
	"github.com/johndauphine/airport-sync/internal/target"
)

func airportFields(a *model.Airport) diff.Fields {
	return diff.Fields{
		"name":                   a.Name,
		"latitude":               a.Latitude,
		"longitude":              a.Longitude,
		"elevation":              a.Elevation,
		"num_runways":            a.NumRunways,
		"longest_runway_length":  a.LongestRunwayLength,
		"longest_runway_surface": a.LongestRunwaySurface,
		"num_approaches":         a.NumApproaches,
		"num_parking_gates":      a.NumParkingGates,
		"has_avgas":              a.HasAvgas,
		"has_jetfuel":            a.HasJetfuel,
		"has_tower":              a.HasTower,
	}
}

func runwayFields(r *model.Runway) diff.Fields {
	return diff.Fields{
		"airport_ident": r.AirportIdent,
		"length":        r.Length,
		"width":         r.Width,
		"heading":       r.Heading,
		"surface":       r.Surface,
		"edge_light":    r.EdgeLight,
		"center_light":  r.CenterLight,
	}
}

func runwayEndFields(e *model.RunwayEnd) diff.Fields {
	return diff.Fields{
		"runway_id":           e.RunwayID,
		"name":                e.Name,
		"end_type":            e.EndType,
		"heading":             e.Heading,
		"has_closed_markings": e.HasClosedMarkings,
	}
}

func approachFields(a *model.Approach) diff.Fields {
	return diff.Fields{
		"airport_ident": a.AirportIdent,
		"type":          a.Type,
		"suffix":        a.Suffix,
		"runway_name":   a.RunwayName,
		"fix_ident":     a.FixIdent,
	}
}

func (p *Pipeline) importAirports(ctx context.Context, st *runState) (phaseResult, error) {
	existing, err := p.prefetch(ctx, target.TableAirport)
	if err != nil {
		return phaseResult{}, err
	}

	res, err := runPhase(ctx, p.store, st.tracker, phase[*model.Airport]{
		category: progress.CategoryAirport,
		rows:     st.reader.Airports(context.WithoutCancel(ctx)),
		existing: existing,
		key:      func(a *model.Airport) string { return a.Ident },
		fields:   airportFields,
		setHash:  func(a *model.Airport, h string) { a.Hash = h },
		prepare: func(a *model.Airport) error {
			cells, err := spatial.Cells(a.Latitude, a.Longitude)
			if err != nil {
				return fmt.Errorf("spatial index: %w", err)
			}
			a.Cells = cells
			return nil
		},
		writes: target.AirportWrites,
	})
	if err != nil {
		return res, err
	}

	st.knownAirports = keySet(existing, res.seen)
	st.seenAirports = res.seen
	return res, nil
}

func (p *Pipeline) importRunways(ctx context.Context, st *runState) (phaseResult, error) {
	if p.refresh {
		logging.Info("Refresh: deleting %s runways, runway ends and approaches", p.source)
		if err := p.store.DeleteSourceData(context.WithoutCancel(ctx), p.source); err != nil {
			return phaseResult{}, err
		}
	}

	existing, err := p.prefetch(ctx, target.TableRunway)
	if err != nil {
		return phaseResult{}, err
	}

	res, err := runPhase(ctx, p.store, st.tracker, phase[*model.Runway]{
		category: progress.CategoryRunway,
		rows:     st.reader.Runways(context.WithoutCancel(ctx)),
		existing: existing,
		key:      (*model.Runway).Key,
		fields:   runwayFields,
		setHash:  func(r *model.Runway, h string) { r.Hash = h },
		prepare: func(r *model.Runway) error {
			if _, ok := st.knownAirports[r.AirportIdent]; !ok {
				return fmt.Errorf("%w: airport %q", errMissingReference, r.AirportIdent)
			}
			return nil
		},
		writes: target.RunwayWrites,
	})
	if err != nil {
		return res, err
	}

	st.knownRunways = keySet(existing, res.seen)
	return res, nil
}

func (p *Pipeline) importRunwayEnds(ctx context.Context, st *runState) (phaseResult, error) {
	existing, err := p.prefetch(ctx, target.TableRunwayEnd)
	if err != nil {
		return phaseResult{}, err
	}

	return runPhase(ctx, p.store, st.tracker, phase[*model.RunwayEnd]{
		category: progress.CategoryRunwayEnd,
		rows:     st.reader.RunwayEnds(context.WithoutCancel(ctx)),
		existing: existing,
		key:      (*model.RunwayEnd).Key,
		fields:   runwayEndFields,
		setHash:  func(e *model.RunwayEnd, h string) { e.Hash = h },
		prepare: func(e *model.RunwayEnd) error {
			if _, ok := st.knownRunways[e.RunwayKey()]; !ok {
				return fmt.Errorf("%w: runway %d", errMissingReference, e.RunwayID)
			}
			return nil
		},
		writes: target.RunwayEndWrites,
	})
}

func (p *Pipeline) importApproaches(ctx context.Context, st *runState) (phaseResult, error) {
	existing, err := p.prefetch(ctx, target.TableApproach)
	if err != nil {
		return phaseResult{}, err
	}

	return runPhase(ctx, p.store, st.tracker, phase[*model.Approach]{
		category: progress.CategoryApproach,
		rows:     st.reader.Approaches(context.WithoutCancel(ctx)),
		existing: existing,
		key:      (*model.Approach).Key,
		fields:   approachFields,
		setHash:  func(a *model.Approach, h string) { a.Hash = h },
		prepare: func(a *model.Approach) error {
			if _, ok := st.knownAirports[a.AirportIdent]; !ok {
				return fmt.Errorf("%w: airport %q", errMissingReference, a.AirportIdent)
			}
			return nil
		},
		writes: target.ApproachWrites,
	})
}

// classifySizes recomputes the size class of every airport seen in this run.
// Only changed sizes are written.
func (p *Pipeline) classifySizes(ctx context.Context, st *runState) (phaseResult, error) {
	var res phaseResult
	tracker := st.tracker

	idents := append([]string(nil), st.seenAirports...)
	sort.Strings(idents)
	tracker.SetTotal(progress.CategoryAirportSize, int64(len(idents)))
	tracker.StartPhase(progress.CategoryAirportSize)

	inputs, err := p.store.SizeInputs(context.WithoutCancel(ctx), idents)
	if err != nil {
		return res, err
	}

	var updates []target.SizeUpdate
	for _, ident := range idents {
		if ctx.Err() != nil {
			res.cancelled = true
			break
		}
		in, ok := inputs[ident]
		if !ok {
			tracker.Skip(progress.CategoryAirportSize)
			continue
		}

		r := sizing.Classify(*in, p.majors)
		if r.Inconsistent {
			logging.Warn("Airport %s is listed as a major airport but classifies as size %d", ident, r.Size)
		}

		outcome := diff.Skipped
		switch {
		case in.CurrentSize == nil:
			outcome = diff.New
		case *in.CurrentSize != r.Size:
			outcome = diff.Updated
		}
		tracker.Record(progress.CategoryAirportSize, outcome)
		if outcome != diff.Skipped {
			updates = append(updates, target.SizeUpdate{Ident: ident, Size: r.Size})
		}
	}

	if err := p.store.UpdateSizes(context.WithoutCancel(ctx), updates); err != nil {
		return res, fmt.Errorf("writing sizes: %w", err)
	}
	res.written = len(updates)
	res.processed = tracker.Counter(progress.CategoryAirportSize).Processed
	return res, nil
}
