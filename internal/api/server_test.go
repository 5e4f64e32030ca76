package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/johndauphine/airport-sync/internal/config"
	"github.com/johndauphine/airport-sync/internal/diff"
	"github.com/johndauphine/airport-sync/internal/importer"
	"github.com/johndauphine/airport-sync/internal/model"
	"github.com/johndauphine/airport-sync/internal/orchestrator"
	"github.com/johndauphine/airport-sync/internal/progress"
	"github.com/johndauphine/airport-sync/internal/snapshot"
	"github.com/johndauphine/airport-sync/internal/target"
)

func newServer(t *testing.T) (*httptest.Server, *orchestrator.Orchestrator, *target.Store) {
	t.Helper()
	cfg := &config.Config{Store: config.StoreConfig{
		Type:           "sqlite",
		Path:           filepath.Join(t.TempDir(), "live.db"),
		MaxConnections: 1,
	}}
	store, err := target.Open(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	o := orchestrator.New(orchestrator.Options{
		Store:     store,
		Pipelines: orchestrator.Pipelines(importer.Pipelines(store, nil)),
		Locator:   snapshot.NewLocator(t.TempDir(), nil),
		StoreType: "sqlite",
	})
	srv := httptest.NewServer(NewHandler(o))
	t.Cleanup(srv.Close)
	return srv, o, store
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var h orchestrator.HealthCheckResult
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if !h.Healthy || h.StoreType != "sqlite" {
		t.Errorf("health = %+v", h)
	}
}

func TestJobsEndpoints(t *testing.T) {
	srv, o, store := newServer(t)
	job := &model.ImportJob{Type: importer.TypeMSFSFull, Source: "/tmp/none.sqlite"}
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	tracker := o.Registry().Start(job.ID)
	tracker.SetTotal(progress.CategoryAirport, 2)
	tracker.Record(progress.CategoryAirport, diff.New)

	resp, err := http.Get(srv.URL + "/jobs")
	if err != nil {
		t.Fatal(err)
	}
	var snaps []progress.Snapshot
	err = json.NewDecoder(resp.Body).Decode(&snaps)
	resp.Body.Close()
	if err != nil || len(snaps) != 1 || snaps[0].Percent != 50 {
		t.Fatalf("GET /jobs = %+v, %v", snaps, err)
	}

	resp, err = http.Get(srv.URL + "/jobs/" + job.ID)
	if err != nil {
		t.Fatal(err)
	}
	var res orchestrator.JobResult
	err = json.NewDecoder(resp.Body).Decode(&res)
	resp.Body.Close()
	if err != nil || res.Status != orchestrator.StatusRunning || res.Progress == nil {
		t.Fatalf("GET /jobs/{id} = %+v, %v", res, err)
	}

	resp, err = http.Get(srv.URL + "/jobs/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/jobs/"+job.ID+"/cancel", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cancel of a job not running here = %d, want 404", resp.StatusCode)
	}
}

func TestMetrics(t *testing.T) {
	srv, _, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "airport_sync_jobs_active") {
		t.Error("metrics output missing airport_sync_jobs_active")
	}
}
