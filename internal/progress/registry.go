// Package progress tracks per-job import progress in memory.
//
// A job's counters are kept per category (airports, runways, ...) plus a
// global total. Counters are serialized into the job record once the job
// finishes.
package progress

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/johndauphine/airport-sync/internal/diff"
)

// Categories in pipeline order.
const (
	CategoryAirport     = "airport"
	CategoryRunway      = "runway"
	CategoryRunwayEnd   = "runwayEnd"
	CategoryApproach    = "approach"
	CategoryAirportSize = "airportSize"
)

// Categories lists every category in pipeline order.
var Categories = []string{
	CategoryAirport, CategoryRunway, CategoryRunwayEnd, CategoryApproach, CategoryAirportSize,
}

// Counter is the element counter for one category.
type Counter struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	New       int64 `json:"new"`
	Updated   int64 `json:"updated"`
	Skipped   int64 `json:"skipped"`
}

// Snapshot is a point-in-time copy of a job's progress.
type Snapshot struct {
	JobID     string             `json:"jobId"`
	Total     int64              `json:"total"`
	Processed int64              `json:"processed"`
	Percent   int                `json:"percent"`
	Elements  map[string]Counter `json:"elements"`
	Started   time.Time          `json:"started"`
	Cancelled bool               `json:"cancelled,omitempty"`
}

// JSON serializes the snapshot for the job's status log.
func (s Snapshot) JSON() string {
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Percent returns processed/total as a truncated integer percentage.
func Percent(processed, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(processed * 100 / total)
}

// Job holds the counters of one in-flight job. It is safe for concurrent use.
type Job struct {
	mu        sync.RWMutex
	id        string
	started   time.Time
	elements  map[string]*Counter
	phase     string
	cancelled bool
	reporter  Reporter
}

func newJob(id string, reporter Reporter) *Job {
	j := &Job{
		id:       id,
		started:  time.Now(),
		elements: make(map[string]*Counter, len(Categories)),
		reporter: reporter,
	}
	for _, c := range Categories {
		j.elements[c] = &Counter{}
	}
	return j
}

func (j *Job) counter(category string) *Counter {
	c, ok := j.elements[category]
	if !ok {
		c = &Counter{}
		j.elements[category] = c
	}
	return c
}

// SetTotal sets the expected number of elements for category.
func (j *Job) SetTotal(category string, total int64) {
	j.mu.Lock()
	c := j.counter(category)
	c.Total = max(total, c.Processed)
	j.mu.Unlock()
}

// StartPhase marks category as the phase currently running.
func (j *Job) StartPhase(category string) {
	j.mu.Lock()
	j.phase = category
	update := j.updateLocked()
	j.mu.Unlock()

	j.reporter.ReportImmediate(update)
}

// Record counts one processed element with its change outcome.
func (j *Job) Record(category string, outcome diff.Outcome) {
	j.mu.Lock()
	c := j.counter(category)
	j.advanceLocked(c)
	switch outcome {
	case diff.New:
		c.New++
	case diff.Updated:
		c.Updated++
	default:
		c.Skipped++
	}
	update := j.updateLocked()
	j.mu.Unlock()

	j.reporter.Report(update)
}

// Skip counts one element that was read but rejected.
func (j *Job) Skip(category string) {
	j.Record(category, diff.Skipped)
}

// advanceLocked bumps processed, growing total when the snapshot held more
// rows than announced so processed never exceeds total.
func (j *Job) advanceLocked(c *Counter) {
	c.Processed++
	if c.Processed > c.Total {
		c.Total = c.Processed
	}
}

// MarkCancelled flags the job as stopped by a cancellation request.
func (j *Job) MarkCancelled() {
	j.mu.Lock()
	j.cancelled = true
	j.mu.Unlock()
}

// Counter returns a copy of one category's counter.
func (j *Job) Counter(category string) Counter {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if c, ok := j.elements[category]; ok {
		return *c
	}
	return Counter{}
}

// Snapshot returns a copy of the job's counters.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := Snapshot{
		JobID:     j.id,
		Elements:  make(map[string]Counter, len(j.elements)),
		Started:   j.started,
		Cancelled: j.cancelled,
	}
	for name, c := range j.elements {
		s.Elements[name] = *c
		s.Total += c.Total
		s.Processed += c.Processed
	}
	s.Percent = Percent(s.Processed, s.Total)
	return s
}

func (j *Job) updateLocked() ProgressUpdate {
	var total, processed int64
	for _, c := range j.elements {
		total += c.Total
		processed += c.Processed
	}
	u := ProgressUpdate{
		JobID:       j.id,
		Phase:       j.phase,
		Processed:   processed,
		Total:       total,
		ProgressPct: Percent(processed, total),
	}
	if c, ok := j.elements[j.phase]; ok {
		u.PhaseProcessed = c.Processed
		u.PhaseTotal = c.Total
	}
	return u
}

// Registry holds the progress of every in-flight job, keyed by job id.
type Registry struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	reporter Reporter
}

// NewRegistry creates an empty registry. Updates are forwarded to reporter,
// which may be nil.
func NewRegistry(reporter Reporter) *Registry {
	if reporter == nil {
		reporter = &NullReporter{}
	}
	return &Registry{jobs: make(map[string]*Job), reporter: reporter}
}

// Start registers a fresh tracker for jobID, replacing any previous one.
func (r *Registry) Start(jobID string) *Job {
	j := newJob(jobID, r.reporter)
	r.mu.Lock()
	r.jobs[jobID] = j
	r.mu.Unlock()
	return j
}

// Get returns the tracker for jobID.
func (r *Registry) Get(jobID string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[jobID]
	return j, ok
}

// Remove evicts jobID.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	delete(r.jobs, jobID)
	r.mu.Unlock()
}

// Snapshots returns a copy of every in-flight job's progress.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, len(jobs))
	for i, j := range jobs {
		out[i] = j.Snapshot()
	}
	return out
}
