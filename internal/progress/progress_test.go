package progress

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/johndauphine/airport-sync/internal/diff"
)

func TestJob_Counters(t *testing.T) {
	r := NewRegistry(nil)
	j := r.Start("job-1")

	j.SetTotal(CategoryAirport, 4)
	j.SetTotal(CategoryRunway, 6)
	j.Record(CategoryAirport, diff.New)
	j.Record(CategoryAirport, diff.Updated)
	j.Record(CategoryAirport, diff.Skipped)
	j.Skip(CategoryAirport)

	c := j.Counter(CategoryAirport)
	want := Counter{Total: 4, Processed: 4, New: 1, Updated: 1, Skipped: 2}
	if c != want {
		t.Errorf("Counter() = %+v, want %+v", c, want)
	}

	s := j.Snapshot()
	if s.Total != 10 || s.Processed != 4 || s.Percent != 40 {
		t.Errorf("Snapshot() totals = %d/%d %d%%, want 4/10 40%%", s.Processed, s.Total, s.Percent)
	}
	if len(s.Elements) != len(Categories) {
		t.Errorf("Snapshot() has %d categories, want %d", len(s.Elements), len(Categories))
	}
}

func TestJob_ProcessedNeverExceedsTotal(t *testing.T) {
	j := NewRegistry(nil).Start("job")
	j.SetTotal(CategoryRunwayEnd, 1)
	for i := 0; i < 3; i++ {
		j.Record(CategoryRunwayEnd, diff.New)
	}
	c := j.Counter(CategoryRunwayEnd)
	if c.Processed > c.Total {
		t.Errorf("processed %d exceeds total %d", c.Processed, c.Total)
	}

	// lowering the total below what was already processed is ignored
	j.SetTotal(CategoryRunwayEnd, 1)
	if c := j.Counter(CategoryRunwayEnd); c.Total != 3 {
		t.Errorf("Total = %d, want 3", c.Total)
	}

	s := j.Snapshot()
	if s.Processed > s.Total {
		t.Errorf("global processed %d exceeds total %d", s.Processed, s.Total)
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		processed, total int64
		want             int
	}{
		{0, 0, 0},
		{0, 10, 0},
		{1, 3, 33},
		{2, 3, 66},
		{999, 1000, 99},
		{10, 10, 100},
	}
	for _, tt := range tests {
		if got := Percent(tt.processed, tt.total); got != tt.want {
			t.Errorf("Percent(%d, %d) = %d, want %d", tt.processed, tt.total, got, tt.want)
		}
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry(nil)
	r.Start("a")
	r.Start("b")

	if _, ok := r.Get("a"); !ok {
		t.Fatal("Get(a) missing")
	}
	if got := len(r.Snapshots()); got != 2 {
		t.Errorf("Snapshots() = %d, want 2", got)
	}

	r.Remove("a")
	if _, ok := r.Get("a"); ok {
		t.Error("Get(a) still present after Remove")
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry(nil)
	j := r.Start("job")
	j.SetTotal(CategoryApproach, 1000)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				j.Record(CategoryApproach, diff.New)
				_ = r.Snapshots()
			}
		}()
	}
	wg.Wait()

	if c := j.Counter(CategoryApproach); c.Processed != 1000 || c.New != 1000 {
		t.Errorf("Counter() = %+v, want 1000 processed", c)
	}
}

func TestSnapshot_JSON(t *testing.T) {
	j := NewRegistry(nil).Start("job-9")
	j.SetTotal(CategoryAirport, 2)
	j.Record(CategoryAirport, diff.New)
	j.MarkCancelled()

	var decoded map[string]any
	if err := json.Unmarshal([]byte(j.Snapshot().JSON()), &decoded); err != nil {
		t.Fatalf("status log is not JSON: %v", err)
	}
	if decoded["jobId"] != "job-9" || decoded["cancelled"] != true || decoded["percent"] != float64(50) {
		t.Errorf("decoded = %v", decoded)
	}
	elements := decoded["elements"].(map[string]any)
	if _, ok := elements["airportSize"]; !ok {
		t.Error("airportSize category missing")
	}
}

func TestJSONReporter_Throttle(t *testing.T) {
	var buf bytes.Buffer
	rep := NewJSONReporter(&buf, time.Hour)

	rep.Report(ProgressUpdate{JobID: "j", Phase: "airport", Processed: 1})
	rep.Report(ProgressUpdate{JobID: "j", Phase: "airport", Processed: 2})
	rep.ReportImmediate(ProgressUpdate{JobID: "j", Phase: "runway", Processed: 3})
	rep.Close()
	rep.ReportImmediate(ProgressUpdate{JobID: "j", Phase: "runway", Processed: 4})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	var u ProgressUpdate
	if err := json.Unmarshal([]byte(lines[1]), &u); err != nil {
		t.Fatal(err)
	}
	if u.Phase != "runway" || u.Processed != 3 || u.Timestamp == "" {
		t.Errorf("second update = %+v", u)
	}
}

type recordingReporter struct {
	mu      sync.Mutex
	updates []ProgressUpdate
}

func (r *recordingReporter) Report(u ProgressUpdate) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}
func (r *recordingReporter) ReportImmediate(u ProgressUpdate) { r.Report(u) }
func (r *recordingReporter) Close()                           {}

func TestJob_ForwardsToReporter(t *testing.T) {
	rec := &recordingReporter{}
	j := NewRegistry(MultiReporter{rec, &NullReporter{}}).Start("job")
	j.SetTotal(CategoryRunway, 2)
	j.StartPhase(CategoryRunway)
	j.Record(CategoryRunway, diff.Updated)

	if len(rec.updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(rec.updates))
	}
	last := rec.updates[1]
	if last.Phase != CategoryRunway || last.PhaseProcessed != 1 || last.PhaseTotal != 2 || last.ProgressPct != 50 {
		t.Errorf("last update = %+v", last)
	}
}

func TestBarReporter(t *testing.T) {
	var buf bytes.Buffer
	b := NewBarReporter(&buf)
	b.Report(ProgressUpdate{Phase: CategoryAirport, PhaseProcessed: 1, PhaseTotal: 2})
	b.Report(ProgressUpdate{Phase: CategoryRunway, PhaseProcessed: 5, PhaseTotal: 3})
	b.Close()
	if buf.Len() == 0 {
		t.Error("bar wrote nothing")
	}
}
