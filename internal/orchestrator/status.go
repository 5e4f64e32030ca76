package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/johndauphine/airport-sync/internal/model"
	"github.com/johndauphine/airport-sync/internal/progress"
)

// Job status values.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// JobResult is the JSON view of one import job.
type JobResult struct {
	ID               string             `json:"id"`
	Type             string             `json:"type"`
	Snapshot         string             `json:"snapshot"`
	RequestingUser   string             `json:"requestingUser,omitempty"`
	Status           string             `json:"status"`
	StartedAt        time.Time          `json:"startedAt"`
	FinishedAt       *time.Time         `json:"finishedAt,omitempty"`
	DurationSeconds  float64            `json:"durationSeconds"`
	RecordsProcessed int64              `json:"recordsProcessed"`
	Error            string             `json:"error,omitempty"`
	Progress         *progress.Snapshot `json:"progress,omitempty"`
}

// NewJobResult interprets a stored job. Finished jobs carry either the JSON
// progress snapshot or an error message in their status log.
func NewJobResult(j *model.ImportJob) *JobResult {
	r := &JobResult{
		ID:               j.ID,
		Type:             j.Type,
		Snapshot:         j.Source,
		RequestingUser:   j.RequestingUser,
		StartedAt:        j.Started,
		FinishedAt:       j.Finished,
		RecordsProcessed: j.TotalRecordsProcessed,
	}

	if j.InFlight() {
		r.Status = StatusRunning
		r.DurationSeconds = time.Since(j.Started).Seconds()
		return r
	}
	r.DurationSeconds = j.Finished.Sub(j.Started).Seconds()

	var snap progress.Snapshot
	if err := json.Unmarshal([]byte(j.StatusLog), &snap); err != nil {
		r.Status = StatusFailed
		r.Error = j.StatusLog
		return r
	}
	r.Progress = &snap
	r.Status = StatusSucceeded
	if snap.Cancelled {
		r.Status = StatusCancelled
	}
	return r
}

// JobStatus returns a job by id, or the most recent job when id is empty.
// Live progress is attached for jobs running in this process.
func (o *Orchestrator) JobStatus(ctx context.Context, id string) (*JobResult, error) {
	var job *model.ImportJob
	if id == "" {
		jobs, err := o.store.ListJobs(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(jobs) == 0 {
			return nil, fmt.Errorf("no import jobs found")
		}
		job = jobs[0]
	} else {
		var err error
		if job, err = o.store.GetJob(ctx, id); err != nil {
			return nil, err
		}
	}

	r := NewJobResult(job)
	if t, ok := o.registry.Get(job.ID); ok {
		snap := t.Snapshot()
		r.Progress = &snap
		r.RecordsProcessed = snap.Processed
	}
	return r, nil
}

// History returns the most recent jobs, newest first.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]*JobResult, error) {
	jobs, err := o.store.ListJobs(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*JobResult, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, NewJobResult(j))
	}
	return out, nil
}

// PrintStatus writes a human-readable job status.
func PrintStatus(w io.Writer, r *JobResult) {
	fmt.Fprintf(w, "Job:       %s\n", r.ID)
	fmt.Fprintf(w, "Type:      %s\n", r.Type)
	fmt.Fprintf(w, "Snapshot:  %s\n", r.Snapshot)
	if r.RequestingUser != "" {
		fmt.Fprintf(w, "Requested: %s\n", r.RequestingUser)
	}
	fmt.Fprintf(w, "Status:    %s\n", r.Status)
	fmt.Fprintf(w, "Started:   %s\n", r.StartedAt.Format("2006-01-02 15:04:05"))
	if r.FinishedAt != nil {
		fmt.Fprintf(w, "Finished:  %s\n", r.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "Duration:  %s\n", (time.Duration(r.DurationSeconds * float64(time.Second))).Round(time.Second))
	fmt.Fprintf(w, "Records:   %d\n", r.RecordsProcessed)
	if r.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", r.Error)
	}

	if r.Progress == nil {
		return
	}
	fmt.Fprintf(w, "\n%-12s %10s %10s %8s %8s %8s\n", "Category", "Processed", "Total", "New", "Updated", "Skipped")
	fmt.Fprintln(w, strings.Repeat("-", 62))
	for _, cat := range progress.Categories {
		c, ok := r.Progress.Elements[cat]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%-12s %10d %10d %8d %8d %8d\n", cat, c.Processed, c.Total, c.New, c.Updated, c.Skipped)
	}
	fmt.Fprintf(w, "\nOverall: %d/%d (%d%%)\n", r.Progress.Processed, r.Progress.Total, r.Progress.Percent)
}

// PrintHistory writes one line per job.
func PrintHistory(w io.Writer, jobs []*JobResult) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No import history")
		return
	}

	fmt.Fprintf(w, "%-36s %-15s %-20s %-10s %10s\n", "ID", "Type", "Started", "Status", "Records")
	fmt.Fprintln(w, strings.Repeat("-", 95))
	for _, r := range jobs {
		fmt.Fprintf(w, "%-36s %-15s %-20s %-10s %10d\n",
			r.ID, r.Type, r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, r.RecordsProcessed)
		if r.Error != "" {
			msg := r.Error
			if len(msg) > 80 {
				msg = msg[:77] + "..."
			}
			fmt.Fprintf(w, "%36s Error: %s\n", "", msg)
		}
	}
	fmt.Fprintln(w, "\nUse 'status --job <ID>' to view job details")
}
