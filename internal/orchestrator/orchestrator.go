// Package orchestrator drives import jobs from the job queue through their
// pipelines. At most one job runs at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/johndauphine/airport-sync/internal/importer"
	"github.com/johndauphine/airport-sync/internal/logging"
	"github.com/johndauphine/airport-sync/internal/metrics"
	"github.com/johndauphine/airport-sync/internal/model"
	"github.com/johndauphine/airport-sync/internal/notify"
	"github.com/johndauphine/airport-sync/internal/progress"
)

// ErrUnknownJobType is recorded for jobs whose type tag has no pipeline.
var ErrUnknownJobType = errors.New("unknown job type")

// finalizeTimeout bounds the bookkeeping done after a job, which runs even
// when the orchestrator is shutting down.
const finalizeTimeout = 30 * time.Second

// Pipeline imports one snapshot.
type Pipeline interface {
	Run(ctx context.Context, job *model.ImportJob, path string, tracker *progress.Job) (importer.Result, error)
}

// Pipelines converts a typed pipeline map.
func Pipelines[P Pipeline](m map[string]P) map[string]Pipeline {
	out := make(map[string]Pipeline, len(m))
	for k, p := range m {
		out[k] = p
	}
	return out
}

// JobStore is the job queue.
type JobStore interface {
	NextUnfinishedJob(ctx context.Context) (*model.ImportJob, error)
	FinishJob(ctx context.Context, id string, finished time.Time, totalProcessed int64, statusLog string) error
	GetJob(ctx context.Context, id string) (*model.ImportJob, error)
	ListJobs(ctx context.Context, limit int) ([]*model.ImportJob, error)
	Ping(ctx context.Context) error
}

// SnapshotLocator resolves snapshot handles to local files.
type SnapshotLocator interface {
	Fetch(ctx context.Context, handle string) (string, error)
	Remove(ctx context.Context, handle string) error
}

// Options configures an Orchestrator.
type Options struct {
	Store        JobStore
	Pipelines    map[string]Pipeline
	Locator      SnapshotLocator
	Registry     *progress.Registry
	Notifier     notify.Provider
	StoreType    string
	PollInterval time.Duration
	ErrorBackoff time.Duration
}

// Orchestrator coordinates the import process
type Orchestrator struct {
	store        JobStore
	pipelines    map[string]Pipeline
	locator      SnapshotLocator
	registry     *progress.Registry
	notifier     notify.Provider
	storeType    string
	pollInterval time.Duration
	errorBackoff time.Duration

	// serializes job processing
	runMu sync.Mutex

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates a new orchestrator
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		store:        opts.Store,
		pipelines:    opts.Pipelines,
		locator:      opts.Locator,
		registry:     opts.Registry,
		notifier:     opts.Notifier,
		storeType:    opts.StoreType,
		pollInterval: opts.PollInterval,
		errorBackoff: opts.ErrorBackoff,
		active:       make(map[string]context.CancelFunc),
	}
	if o.registry == nil {
		o.registry = progress.NewRegistry(nil)
	}
	if o.notifier == nil {
		o.notifier = notify.Nop{}
	}
	if o.pollInterval <= 0 {
		o.pollInterval = 30 * time.Second
	}
	if o.errorBackoff <= 0 {
		o.errorBackoff = o.pollInterval
	}
	return o
}

// Registry returns the progress registry of running jobs.
func (o *Orchestrator) Registry() *progress.Registry { return o.registry }

// Run polls the job queue until ctx is cancelled. Queue errors are logged and
// retried after the error backoff.
func (o *Orchestrator) Run(ctx context.Context) error {
	logging.Info("Import orchestrator started (poll interval %s)", o.pollInterval)
	defer logging.Info("Import orchestrator stopped")

	for {
		processed, err := o.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		wait := o.pollInterval
		switch {
		case err != nil:
			logging.Error("Import loop: %v (retrying in %s)", err, o.errorBackoff)
			wait = o.errorBackoff
		case processed:
			// drain the queue before sleeping
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce processes the oldest unfinished job, if any, and reports whether a
// job was processed.
func (o *Orchestrator) RunOnce(ctx context.Context) (bool, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	job, err := o.store.NextUnfinishedJob(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return true, o.processJob(ctx, job)
}

// Cancel requests cancellation of a running job. It reports whether the job
// was running.
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.active[jobID]
	if ok {
		cancel()
	}
	return ok
}

// ActiveJobs returns the ids of running jobs.
func (o *Orchestrator) ActiveJobs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

func (o *Orchestrator) processJob(ctx context.Context, job *model.ImportJob) error {
	start := time.Now()
	logging.Info("Job %s: starting %s import of %s", job.ID, job.Type, job.Source)
	if err := o.notifier.ImportStarted(job); err != nil {
		logging.Warn("Job %s: start notification failed: %v", job.ID, err)
	}

	m := metrics.StartJob(job.Type)
	tracker := o.registry.Start(job.ID)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.active[job.ID] = cancel
	o.mu.Unlock()

	res, err := o.execute(jobCtx, job, tracker)
	return o.finalize(job, tracker, m, start, res, err)
}

// execute runs the job's pipeline. A panic is converted into the job's error.
func (o *Orchestrator) execute(ctx context.Context, job *model.ImportJob, tracker *progress.Job) (res importer.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during import: %v", r)
			logging.Error("Job %s: %v\n%s", job.ID, err, debug.Stack())
		}
	}()

	p, ok := o.pipelines[job.Type]
	if !ok {
		return res, fmt.Errorf("%w %q", ErrUnknownJobType, job.Type)
	}

	path, err := o.locator.Fetch(ctx, job.Source)
	if err != nil {
		return res, err
	}
	return p.Run(ctx, job, path, tracker)
}

// finalize records the outcome. It runs on a fresh context so a shutdown
// does not leave the job unfinished.
func (o *Orchestrator) finalize(job *model.ImportJob, tracker *progress.Job, m *metrics.JobMetrics,
	start time.Time, res importer.Result, runErr error) error {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	finished := time.Now()
	duration := finished.Sub(start)
	snap := tracker.Snapshot()

	status := metrics.StatusSucceeded
	statusLog := snap.JSON()
	switch {
	case runErr != nil:
		status = metrics.StatusFailed
		statusLog = runErr.Error()
	case res.Cancelled:
		status = metrics.StatusCancelled
	}

	finishErr := o.store.FinishJob(ctx, job.ID, finished, res.Persisted, statusLog)

	if err := o.locator.Remove(ctx, job.Source); err != nil {
		logging.Warn("Job %s: removing snapshot: %v", job.ID, err)
	}
	o.registry.Remove(job.ID)
	o.mu.Lock()
	delete(o.active, job.ID)
	o.mu.Unlock()
	m.Finish(status, snap)

	var notifyErr error
	if runErr != nil {
		logging.Error("Job %s: failed after %s: %v", job.ID, duration.Round(time.Millisecond), runErr)
		notifyErr = o.notifier.ImportFailed(job, runErr, duration)
	} else {
		logging.Info("Job %s: %s after %s, %d records processed", job.ID, status, duration.Round(time.Millisecond), res.Persisted)
		notifyErr = o.notifier.ImportCompleted(job, duration, res.Persisted, res.Cancelled)
	}
	if notifyErr != nil {
		logging.Warn("Job %s: notification failed: %v", job.ID, notifyErr)
	}

	if finishErr != nil {
		return fmt.Errorf("finalizing job %s: %w", job.ID, finishErr)
	}
	return nil
}
