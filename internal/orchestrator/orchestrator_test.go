package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/johndauphine/airport-sync/internal/diff"
	"github.com/johndauphine/airport-sync/internal/importer"
	"github.com/johndauphine/airport-sync/internal/model"
	"github.com/johndauphine/airport-sync/internal/progress"
	"github.com/johndauphine/airport-sync/internal/snapshot"
	"github.com/johndauphine/airport-sync/internal/target"
)

type memStore struct {
	mu      sync.Mutex
	jobs    []*model.ImportJob
	nextErr error
	polls   int
}

func (s *memStore) add(id, typ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &model.ImportJob{ID: id, Type: typ, Source: "/snapshots/" + id + ".sqlite", Started: time.Now()})
}

func (s *memStore) NextUnfinishedJob(ctx context.Context) (*model.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.nextErr != nil {
		return nil, s.nextErr
	}
	for _, j := range s.jobs {
		if j.Finished == nil {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) FinishJob(ctx context.Context, id string, finished time.Time, total int64, statusLog string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			j.Finished = &finished
			j.TotalRecordsProcessed = total
			j.StatusLog = statusLog
			return nil
		}
	}
	return target.ErrJobNotFound
}

func (s *memStore) GetJob(ctx context.Context, id string) (*model.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			cp := *j
			return &cp, nil
		}
	}
	return nil, target.ErrJobNotFound
}

func (s *memStore) ListJobs(ctx context.Context, limit int) ([]*model.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ImportJob
	for i := len(s.jobs) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.jobs[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) Ping(ctx context.Context) error { return nil }

func (s *memStore) job(t *testing.T, id string) *model.ImportJob {
	t.Helper()
	j, err := s.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob(%s): %v", id, err)
	}
	return j
}

type memLocator struct {
	mu       sync.Mutex
	fetchErr error
	removed  []string
}

func (l *memLocator) Fetch(ctx context.Context, handle string) (string, error) {
	if l.fetchErr != nil {
		return "", l.fetchErr
	}
	return handle, nil
}

func (l *memLocator) Remove(ctx context.Context, handle string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, handle)
	return nil
}

type pipelineFunc func(ctx context.Context, job *model.ImportJob, path string, tracker *progress.Job) (importer.Result, error)

func (f pipelineFunc) Run(ctx context.Context, job *model.ImportJob, path string, tracker *progress.Job) (importer.Result, error) {
	return f(ctx, job, path, tracker)
}

func importTwo(ctx context.Context, job *model.ImportJob, path string, tracker *progress.Job) (importer.Result, error) {
	tracker.SetTotal(progress.CategoryAirport, 2)
	tracker.Record(progress.CategoryAirport, diff.New)
	tracker.Record(progress.CategoryAirport, diff.Skipped)
	return importer.Result{Persisted: 2}, nil
}

func newTestOrchestrator(store *memStore, loc *memLocator, p Pipeline) *Orchestrator {
	return New(Options{
		Store:        store,
		Pipelines:    map[string]Pipeline{importer.TypeMSFSFull: p},
		Locator:      loc,
		PollInterval: 10 * time.Millisecond,
		ErrorBackoff: 10 * time.Millisecond,
	})
}

func TestRunOnce_NoJob(t *testing.T) {
	o := newTestOrchestrator(&memStore{}, &memLocator{}, pipelineFunc(importTwo))
	processed, err := o.RunOnce(context.Background())
	if err != nil || processed {
		t.Errorf("RunOnce() = %v, %v; want false, nil", processed, err)
	}
}

func TestRunOnce_Success(t *testing.T) {
	store, loc := &memStore{}, &memLocator{}
	store.add("job-1", importer.TypeMSFSFull)
	o := newTestOrchestrator(store, loc, pipelineFunc(importTwo))

	processed, err := o.RunOnce(context.Background())
	if err != nil || !processed {
		t.Fatalf("RunOnce() = %v, %v", processed, err)
	}

	j := store.job(t, "job-1")
	if j.InFlight() {
		t.Fatal("job not finalized")
	}
	if j.TotalRecordsProcessed != 2 {
		t.Errorf("TotalRecordsProcessed = %d, want 2", j.TotalRecordsProcessed)
	}
	var snap progress.Snapshot
	if err := json.Unmarshal([]byte(j.StatusLog), &snap); err != nil {
		t.Fatalf("status log is not a progress snapshot: %v", err)
	}
	if snap.Elements[progress.CategoryAirport].New != 1 || snap.Cancelled {
		t.Errorf("snapshot = %+v", snap)
	}

	if len(loc.removed) != 1 || loc.removed[0] != j.Source {
		t.Errorf("removed = %v, want [%s]", loc.removed, j.Source)
	}
	if _, ok := o.Registry().Get("job-1"); ok {
		t.Error("progress entry not evicted")
	}
	if got := NewJobResult(j).Status; got != StatusSucceeded {
		t.Errorf("status = %s, want %s", got, StatusSucceeded)
	}
}

func TestRunOnce_Failures(t *testing.T) {
	tests := []struct {
		name     string
		jobType  string
		fetchErr error
		pipeline pipelineFunc
		wantLog  string
	}{
		{
			name:     "unknown type",
			jobType:  "lidar-full",
			pipeline: importTwo,
			wantLog:  `unknown job type "lidar-full"`,
		},
		{
			name:     "snapshot unavailable",
			jobType:  importer.TypeMSFSFull,
			fetchErr: &snapshot.PreconditionError{Path: "s3://b/k", Err: errors.New("downloading: 404")},
			pipeline: importTwo,
			wantLog:  "404",
		},
		{
			name:    "pipeline error",
			jobType: importer.TypeMSFSFull,
			pipeline: func(ctx context.Context, job *model.ImportJob, path string, tracker *progress.Job) (importer.Result, error) {
				return importer.Result{}, errors.New("runway phase: disk full")
			},
			wantLog: "disk full",
		},
		{
			name:    "panic",
			jobType: importer.TypeMSFSFull,
			pipeline: func(ctx context.Context, job *model.ImportJob, path string, tracker *progress.Job) (importer.Result, error) {
				panic("nil map")
			},
			wantLog: "panic during import: nil map",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, loc := &memStore{}, &memLocator{fetchErr: tt.fetchErr}
			store.add("job", tt.jobType)
			o := newTestOrchestrator(store, loc, tt.pipeline)

			if _, err := o.RunOnce(context.Background()); err != nil {
				t.Fatalf("RunOnce() error: %v", err)
			}
			j := store.job(t, "job")
			if j.InFlight() {
				t.Fatal("failed job not finalized")
			}
			if !strings.Contains(j.StatusLog, tt.wantLog) {
				t.Errorf("status log = %q, want it to contain %q", j.StatusLog, tt.wantLog)
			}
			r := NewJobResult(j)
			if r.Status != StatusFailed || r.Error == "" {
				t.Errorf("result = %+v, want failed", r)
			}
			if len(loc.removed) != 1 {
				t.Errorf("snapshot removed %d times, want 1", len(loc.removed))
			}
		})
	}
}

func TestCancel(t *testing.T) {
	store := &memStore{}
	store.add("job-c", importer.TypeMSFSFull)

	started := make(chan struct{})
	o := newTestOrchestrator(store, &memLocator{}, pipelineFunc(
		func(ctx context.Context, job *model.ImportJob, path string, tracker *progress.Job) (importer.Result, error) {
			tracker.SetTotal(progress.CategoryAirport, 10)
			tracker.Record(progress.CategoryAirport, diff.New)
			close(started)
			<-ctx.Done()
			tracker.MarkCancelled()
			return importer.Result{Persisted: 1, Cancelled: true}, nil
		}))

	done := make(chan error, 1)
	go func() {
		_, err := o.RunOnce(context.Background())
		done <- err
	}()

	<-started
	if !o.Cancel("job-c") {
		t.Fatal("Cancel() = false for a running job")
	}
	if err := <-done; err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if o.Cancel("job-c") {
		t.Error("Cancel() = true after the job finished")
	}

	r := NewJobResult(store.job(t, "job-c"))
	if r.Status != StatusCancelled || r.RecordsProcessed != 1 {
		t.Errorf("result = %+v, want cancelled with 1 record", r)
	}
}

func TestRunOnce_SingleFlight(t *testing.T) {
	store := &memStore{}
	store.add("a", importer.TypeMSFSFull)
	store.add("b", importer.TypeMSFSFull)

	var running, maxRunning atomic.Int32
	o := newTestOrchestrator(store, &memLocator{}, pipelineFunc(
		func(ctx context.Context, job *model.ImportJob, path string, tracker *progress.Job) (importer.Result, error) {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			return importer.Result{}, nil
		}))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.RunOnce(context.Background()); err != nil {
				t.Errorf("RunOnce() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := maxRunning.Load(); got != 1 {
		t.Errorf("max concurrent jobs = %d, want 1", got)
	}
	for _, id := range []string{"a", "b"} {
		if store.job(t, id).InFlight() {
			t.Errorf("job %s not processed", id)
		}
	}
}

func TestRun_DrainsQueueAndStops(t *testing.T) {
	store := &memStore{}
	store.add("a", importer.TypeMSFSFull)
	store.add("b", importer.TypeMSFSFull)
	o := newTestOrchestrator(store, &memLocator{}, pipelineFunc(importTwo))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run() took %s to stop", elapsed)
	}
	for _, id := range []string{"a", "b"} {
		if store.job(t, id).InFlight() {
			t.Errorf("job %s not processed", id)
		}
	}
}

func TestRun_BacksOffOnQueueError(t *testing.T) {
	store := &memStore{nextErr: errors.New("connection refused")}
	o := newTestOrchestrator(store, &memLocator{}, pipelineFunc(importTwo))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	store.mu.Lock()
	polls := store.polls
	store.mu.Unlock()
	if polls < 2 {
		t.Errorf("polled %d times, want retries after backoff", polls)
	}
	// a 10ms backoff over 100ms cannot spin
	if polls > 50 {
		t.Errorf("polled %d times, backoff not applied", polls)
	}
}

func TestJobStatus(t *testing.T) {
	store := &memStore{}
	store.add("old", importer.TypeMSFSFull)
	store.add("new", importer.TypeXPlaneFull)
	o := newTestOrchestrator(store, &memLocator{}, pipelineFunc(importTwo))
	ctx := context.Background()

	r, err := o.JobStatus(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if r.ID != "new" || r.Status != StatusRunning {
		t.Errorf("latest job = %+v", r)
	}

	// live progress for in-process jobs
	tracker := o.Registry().Start("old")
	tracker.SetTotal(progress.CategoryRunway, 4)
	tracker.Record(progress.CategoryRunway, diff.Updated)
	r, err = o.JobStatus(ctx, "old")
	if err != nil {
		t.Fatal(err)
	}
	if r.Progress == nil || r.RecordsProcessed != 1 {
		t.Errorf("running job = %+v, want live progress", r)
	}

	if _, err := o.JobStatus(ctx, "missing"); !errors.Is(err, target.ErrJobNotFound) {
		t.Errorf("JobStatus(missing) error = %v", err)
	}
}

func TestHistoryAndPrinting(t *testing.T) {
	store := &memStore{}
	store.add("a", importer.TypeMSFSFull)
	store.add("b", "bogus")
	o := newTestOrchestrator(store, &memLocator{}, pipelineFunc(importTwo))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := o.RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := o.History(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 || jobs[0].ID != "b" || jobs[0].Status != StatusFailed || jobs[1].Status != StatusSucceeded {
		t.Fatalf("History() = %+v", jobs)
	}

	var buf bytes.Buffer
	PrintHistory(&buf, jobs)
	if !strings.Contains(buf.String(), "unknown job type") {
		t.Errorf("history output missing error:\n%s", buf.String())
	}

	buf.Reset()
	PrintStatus(&buf, jobs[1])
	out := buf.String()
	if !strings.Contains(out, "succeeded") || !strings.Contains(out, progress.CategoryAirport) {
		t.Errorf("status output:\n%s", out)
	}
}

func TestHealthCheck(t *testing.T) {
	o := newTestOrchestrator(&memStore{}, &memLocator{}, pipelineFunc(importTwo))
	h := o.HealthCheck(context.Background())
	if !h.Healthy || !h.StoreConnected || h.ActiveJobs == nil {
		t.Errorf("HealthCheck() = %+v", h)
	}
}

func TestPipelines(t *testing.T) {
	m := Pipelines(importer.Pipelines(nil, nil))
	if len(m) != 4 {
		t.Errorf("Pipelines() has %d entries, want 4", len(m))
	}
}
