package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/johndauphine/airport-sync/internal/progress"
)

func TestJobMetrics(t *testing.T) {
	const jobType = "metrics-test-full"
	active := testutil.ToFloat64(JobsActive)

	m := StartJob(jobType)
	if got := testutil.ToFloat64(JobsActive); got != active+1 {
		t.Errorf("JobsActive = %v, want %v", got, active+1)
	}

	m.Finish(StatusCancelled, progress.Snapshot{Elements: map[string]progress.Counter{
		progress.CategoryAirport: {Processed: 5, New: 2, Updated: 1, Skipped: 2},
		progress.CategoryRunway:  {Processed: 3, Skipped: 3},
	}})

	if got := testutil.ToFloat64(JobsActive); got != active {
		t.Errorf("JobsActive after Finish = %v, want %v", got, active)
	}
	if got := testutil.ToFloat64(JobsTotal.WithLabelValues(jobType, StatusCancelled)); got != 1 {
		t.Errorf("JobsTotal = %v, want 1", got)
	}

	tests := []struct {
		category, outcome string
		want              float64
	}{
		{progress.CategoryAirport, "new", 2},
		{progress.CategoryAirport, "updated", 1},
		{progress.CategoryAirport, "skipped", 2},
		{progress.CategoryRunway, "skipped", 3},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(RecordsTotal.WithLabelValues(jobType, tt.category, tt.outcome)); got != tt.want {
			t.Errorf("RecordsTotal(%s, %s) = %v, want %v", tt.category, tt.outcome, got, tt.want)
		}
	}
}

func TestRecordPopulationBatch(t *testing.T) {
	const source = "metrics-test"

	RecordPopulationBatch(source, 10, nil)
	RecordPopulationBatch(source, 4, nil)
	RecordPopulationBatch(source, 7, errors.New("service unavailable"))

	if got := testutil.ToFloat64(PopulationBatches.WithLabelValues(source, StatusSucceeded)); got != 2 {
		t.Errorf("succeeded batches = %v, want 2", got)
	}
	if got := testutil.ToFloat64(PopulationBatches.WithLabelValues(source, StatusFailed)); got != 1 {
		t.Errorf("failed batches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(PopulationAirports.WithLabelValues(source)); got != 14 {
		t.Errorf("airports = %v, want 14", got)
	}
}
