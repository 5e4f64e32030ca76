// Package importer synchronizes one snapshot into the live store.
//
// An import runs five phases in fixed order: airports, runways, runway ends,
// approaches and size classification. Each phase reads its rows, diffs them
// against hashes prefetched from the store and writes the new and changed
// records in one bulk operation. Later phases rely on the foreign keys
// written by earlier ones.
package importer

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/johndauphine/airport-sync/internal/diff"
	"github.com/johndauphine/airport-sync/internal/logging"
	"github.com/johndauphine/airport-sync/internal/model"
	"github.com/johndauphine/airport-sync/internal/progress"
	"github.com/johndauphine/airport-sync/internal/sizing"
	"github.com/johndauphine/airport-sync/internal/snapshot"
	"github.com/johndauphine/airport-sync/internal/target"
)

// Job type tags.
const (
	TypeMSFSFull      = "msfs-full"
	TypeXPlaneFull    = "xplane-full"
	TypeMSFSRefresh   = "msfs-refresh"
	TypeXPlaneRefresh = "xplane-refresh"
)

// Store is the part of the live store an import needs.
type Store interface {
	Apply(ctx context.Context, sets ...target.WriteSet) error
	Hashes(ctx context.Context, table string, source model.Source) (map[string]string, error)
	DeleteSourceData(ctx context.Context, source model.Source) error
	SizeInputs(ctx context.Context, idents []string) (map[string]*sizing.Input, error)
	UpdateSizes(ctx context.Context, updates []target.SizeUpdate) error
}

// Result summarizes a finished run.
type Result struct {
	// Persisted counts the records processed by phases whose bulk write committed.
	Persisted int64
	// Cancelled is set when a cancellation request stopped the run early.
	Cancelled bool
}

// Pipeline imports snapshots from one source.
type Pipeline struct {
	store   Store
	majors  *sizing.Majors
	source  model.Source
	refresh bool
}

// New creates a pipeline for source. A refresh pipeline deletes the source's
// runways, runway ends and approaches before importing them again.
func New(store Store, majors *sizing.Majors, source model.Source, refresh bool) *Pipeline {
	return &Pipeline{store: store, majors: majors, source: source, refresh: refresh}
}

// Pipelines returns a pipeline for every known job type tag.
func Pipelines(store Store, majors *sizing.Majors) map[string]*Pipeline {
	return map[string]*Pipeline{
		TypeMSFSFull:      New(store, majors, model.SourceMSFS, false),
		TypeXPlaneFull:    New(store, majors, model.SourceXPlane, false),
		TypeMSFSRefresh:   New(store, majors, model.SourceMSFS, true),
		TypeXPlaneRefresh: New(store, majors, model.SourceXPlane, true),
	}
}

// Source returns the data source this pipeline imports.
func (p *Pipeline) Source() model.Source { return p.source }

// run-scoped state shared between phases
type runState struct {
	reader        *snapshot.Reader
	tracker       *progress.Job
	knownAirports map[string]struct{}
	knownRunways  map[string]struct{}
	seenAirports  []string
}

type phaseResult struct {
	processed int64
	written   int
	cancelled bool
	seen      []string
}

// Run imports the snapshot at path. It returns a *snapshot.PreconditionError
// when the snapshot is unusable. On cancellation the current phase still
// persists what it read, later phases are skipped and Result.Cancelled is set.
func (p *Pipeline) Run(ctx context.Context, job *model.ImportJob, path string, tracker *progress.Job) (Result, error) {
	var res Result

	reader, err := snapshot.Open(path, p.source)
	if err != nil {
		return res, err
	}
	defer reader.Close()

	counts, err := reader.Validate(ctx)
	if err != nil {
		return res, err
	}
	tracker.SetTotal(progress.CategoryAirport, counts.Airports)
	tracker.SetTotal(progress.CategoryRunway, counts.Runways)
	tracker.SetTotal(progress.CategoryRunwayEnd, counts.RunwayEnds)
	tracker.SetTotal(progress.CategoryApproach, counts.Approaches)
	logging.Info("Job %s: importing %d %s records from %s", job.ID, counts.Total(), p.source, path)

	st := &runState{reader: reader, tracker: tracker}
	phases := []struct {
		category string
		run      func(context.Context, *runState) (phaseResult, error)
	}{
		{progress.CategoryAirport, p.importAirports},
		{progress.CategoryRunway, p.importRunways},
		{progress.CategoryRunwayEnd, p.importRunwayEnds},
		{progress.CategoryApproach, p.importApproaches},
		{progress.CategoryAirportSize, p.classifySizes},
	}

	for _, ph := range phases {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		pr, err := ph.run(ctx, st)
		if err != nil {
			return res, fmt.Errorf("%s phase: %w", ph.category, err)
		}
		res.Persisted += pr.processed

		c := tracker.Counter(ph.category)
		logging.Info("Job %s: %s done (%d processed, %d new, %d updated, %d skipped)",
			job.ID, ph.category, c.Processed, c.New, c.Updated, c.Skipped)

		if pr.cancelled {
			res.Cancelled = true
			break
		}
	}

	if res.Cancelled {
		tracker.MarkCancelled()
		logging.Warn("Job %s: cancelled, remaining phases skipped", job.ID)
	}
	return res, nil
}

// phase describes how one entity category flows from reader to store.
type phase[T any] struct {
	category string
	rows     iter.Seq2[T, error]
	existing map[string]string
	key      func(T) string
	fields   func(T) diff.Fields
	setHash  func(T, string)
	// prepare validates references and fills derived fields; an error skips the row
	prepare func(T) error
	writes  func([]T) target.WriteSet
}

// runPhase drains rows, classifies each record and writes the New and
// Updated ones in one bulk operation. The cancellation check runs before each
// row; whatever was accumulated is persisted with a non-cancellable context.
func runPhase[T any](ctx context.Context, store Store, tracker *progress.Job, ph phase[T]) (phaseResult, error) {
	var res phaseResult
	tracker.StartPhase(ph.category)
	det := diff.NewDetector(ph.existing)
	logging.Debug("%s: %d stored records", ph.category, det.Len())

	var batch []T
	pending := make(map[string]int)
	seen := make(map[string]struct{})

	for rec, err := range ph.rows {
		if ctx.Err() != nil {
			res.cancelled = true
			break
		}
		if err != nil {
			if isRowError(err) {
				logging.Warn("Skipping %s row: %v", ph.category, err)
				tracker.Skip(ph.category)
				continue
			}
			return res, err
		}
		if ph.prepare != nil {
			if err := ph.prepare(rec); err != nil {
				logging.Warn("Skipping %s %s: %v", ph.category, ph.key(rec), err)
				tracker.Skip(ph.category)
				continue
			}
		}

		key := ph.key(rec)
		hash := diff.Hash(ph.fields(rec))
		ph.setHash(rec, hash)

		// a key repeated in one snapshot counts once; a pending write keeps the last row
		if _, dup := seen[key]; dup {
			tracker.Record(ph.category, diff.Skipped)
			if i, ok := pending[key]; ok {
				batch[i] = rec
			}
			continue
		}
		seen[key] = struct{}{}

		outcome := det.Classify(key, hash)
		tracker.Record(ph.category, outcome)
		res.seen = append(res.seen, key)

		if outcome == diff.Skipped {
			continue
		}
		pending[key] = len(batch)
		batch = append(batch, rec)
	}

	if err := store.Apply(context.WithoutCancel(ctx), ph.writes(batch)); err != nil {
		return res, fmt.Errorf("writing %s records: %w", ph.category, err)
	}
	res.written = len(batch)
	res.processed = tracker.Counter(ph.category).Processed
	return res, nil
}

// prefetch loads stored hashes with a context that survives cancellation so a
// phase that already started can still finish its bulk write.
func (p *Pipeline) prefetch(ctx context.Context, table string) (map[string]string, error) {
	hashes, err := p.store.Hashes(context.WithoutCancel(ctx), table, p.source)
	if err != nil {
		return nil, fmt.Errorf("prefetching %s hashes: %w", table, err)
	}
	return hashes, nil
}

func keySet(m map[string]string, extra []string) map[string]struct{} {
	set := make(map[string]struct{}, len(m)+len(extra))
	for k := range m {
		set[k] = struct{}{}
	}
	for _, k := range extra {
		set[k] = struct{}{}
	}
	return set
}

func isRowError(err error) bool {
	var rowErr *snapshot.RowError
	return errors.As(err, &rowErr)
}

// errMissingReference marks a row whose owner is not in the store.
var errMissingReference = errors.New("missing reference")
