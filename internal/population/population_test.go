package population

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/johndauphine/airport-sync/internal/config"
	"github.com/johndauphine/airport-sync/internal/model"
	"github.com/johndauphine/airport-sync/internal/target"
)

func newStore(t *testing.T, idents ...string) *target.Store {
	t.Helper()
	cfg := &config.Config{Store: config.StoreConfig{
		Type:           "sqlite",
		Path:           filepath.Join(t.TempDir(), "live.db"),
		MaxConnections: 1,
	}}
	s, err := target.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}

	var airports []*model.Airport
	for _, id := range idents {
		airports = append(airports, &model.Airport{
			Ident: id, Name: id, Latitude: 10, Longitude: 10, Source: model.SourceMSFS,
			Cells: [7]string{"a", "b", "c", "d", "e", "f", "g"}, Hash: "h-" + id,
		})
	}
	if err := s.Apply(context.Background(), target.AirportWrites(airports)); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	return s
}

type service struct {
	mu       sync.Mutex
	status   int
	requests []Request
}

func (s *service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	status := s.status
	s.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func counts(t *testing.T, s *target.Store, source model.Source) map[model.PopulationState]int64 {
	t.Helper()
	c, err := s.PopulationCounts(context.Background(), source)
	if err != nil {
		t.Fatalf("PopulationCounts() error: %v", err)
	}
	return c
}

func TestDrain_HandlesAllBatches(t *testing.T) {
	store := newStore(t, "KAAA", "KBBB", "KCCC")
	svc := &service{}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	sched := NewScheduler(model.SourceMSFS, store, NewHTTPClient(srv.URL, time.Second), 2, time.Minute)
	n, err := sched.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() error: %v", err)
	}
	if n != 3 {
		t.Errorf("Drain() handled %d, want 3", n)
	}

	if len(svc.requests) != 2 {
		t.Fatalf("service got %d requests, want 2", len(svc.requests))
	}
	first := svc.requests[0]
	if first.Source != "msfs" || len(first.Airports) != 2 || first.Airports[0] != "KAAA" {
		t.Errorf("first request = %+v", first)
	}

	if c := counts(t, store, model.SourceMSFS); c[model.Handled] != 3 {
		t.Errorf("msfs counts = %v, want 3 handled", c)
	}
	// the other source is untouched
	if c := counts(t, store, model.SourceXPlane); c[model.NeedsHandling] != 3 {
		t.Errorf("xplane counts = %v, want 3 needing handling", c)
	}
}

func TestRunBatch_FailureReverts(t *testing.T) {
	store := newStore(t, "KAAA", "KBBB")
	srv := httptest.NewServer(&service{status: http.StatusBadGateway})
	defer srv.Close()

	sched := NewScheduler(model.SourceXPlane, store, NewHTTPClient(srv.URL, time.Second), 10, time.Minute)
	if _, err := sched.RunBatch(context.Background()); err == nil {
		t.Fatal("RunBatch() expected error for 502")
	}
	if c := counts(t, store, model.SourceXPlane); c[model.NeedsHandling] != 2 || c[model.Queued] != 0 {
		t.Errorf("counts = %v, want batch back in needs_handling", c)
	}
}

func TestRun_RecoversQueued(t *testing.T) {
	store := newStore(t, "KAAA", "KBBB")
	// a previous process crashed mid-batch
	if err := store.SetPopulation(context.Background(), model.SourceMSFS, []string{"KAAA", "KBBB"}, model.Queued); err != nil {
		t.Fatal(err)
	}

	svc := &service{}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	sched := NewScheduler(model.SourceMSFS, store, NewHTTPClient(srv.URL, time.Second), 10, time.Hour)
	if err := sched.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if c := counts(t, store, model.SourceMSFS); c[model.Handled] != 2 {
		t.Errorf("counts = %v, want both recovered airports handled", c)
	}
}

// flakyStore fails the first resets like a store that is still starting.
type flakyStore struct {
	*target.Store
	mu             sync.Mutex
	failResets     int
	resets         int
	claimsEarly    int
	resetSucceeded bool
}

func (f *flakyStore) ResetQueued(ctx context.Context, source model.Source) (int64, error) {
	f.mu.Lock()
	f.resets++
	if f.resets <= f.failResets {
		f.mu.Unlock()
		return 0, errors.New("connection refused")
	}
	f.resetSucceeded = true
	f.mu.Unlock()
	return f.Store.ResetQueued(ctx, source)
}

func (f *flakyStore) ClaimNeedsHandling(ctx context.Context, source model.Source, limit int) ([]string, error) {
	f.mu.Lock()
	if !f.resetSucceeded {
		f.claimsEarly++
	}
	f.mu.Unlock()
	return f.Store.ClaimNeedsHandling(ctx, source, limit)
}

func TestRun_RetriesRecovery(t *testing.T) {
	base := newStore(t, "KAAA", "KBBB")
	if err := base.SetPopulation(context.Background(), model.SourceMSFS, []string{"KAAA"}, model.Queued); err != nil {
		t.Fatal(err)
	}
	store := &flakyStore{Store: base, failResets: 2}

	srv := httptest.NewServer(&service{})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	sched := NewScheduler(model.SourceMSFS, store, NewHTTPClient(srv.URL, time.Second), 10, 20*time.Millisecond)
	if err := sched.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.resets < 3 {
		t.Errorf("ResetQueued called %d times, want at least 3", store.resets)
	}
	if store.claimsEarly != 0 {
		t.Errorf("%d claims happened before recovery succeeded", store.claimsEarly)
	}
	if c := counts(t, base, model.SourceMSFS); c[model.Handled] != 2 {
		t.Errorf("counts = %v, want both airports handled", c)
	}
}

func TestHTTPClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	err := c.Populate(context.Background(), model.SourceMSFS, []string{"KAAA"})
	if err == nil {
		t.Fatal("Populate() expected error")
	}
	if want := "status 503: busy"; !strings.Contains(err.Error(), want) {
		t.Errorf("error = %q, want it to contain %q", err, want)
	}

	c = NewHTTPClient("http://127.0.0.1:1", 100*time.Millisecond)
	if err := c.Populate(context.Background(), model.SourceMSFS, []string{"KAAA"}); err == nil {
		t.Error("Populate() expected connection error")
	}
}
