package target

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/airport-sync/internal/model"
)

// ErrJobNotFound is returned when no job has the requested id.
var ErrJobNotFound = errors.New("import job not found")

// SQLite stores timestamps as fixed-width UTC text so ORDER BY sorts
// chronologically.
const timeLayout = "2006-01-02 15:04:05.000000000"

func (s *Store) timeArg(t time.Time) any {
	if s.dialect == SQLite {
		return t.UTC().Format(timeLayout)
	}
	return t
}

// dbTime scans either a native timestamp or the SQLite text form.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
	case time.Time:
		t.Time, t.Valid = v, true
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
	return nil
}

func (t *dbTime) parse(s string) error {
	parsed, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		// rows written by other tools
		if parsed, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
	}
	t.Time, t.Valid = parsed, true
	return nil
}

const jobColumns = `id, type, source, started, finished, total_records_processed, status_log, requesting_user`

func scanJob(row interface{ Scan(...any) error }) (*model.ImportJob, error) {
	var j model.ImportJob
	var started, finished dbTime
	if err := row.Scan(&j.ID, &j.Type, &j.Source, &started, &finished,
		&j.TotalRecordsProcessed, &j.StatusLog, &j.RequestingUser); err != nil {
		return nil, err
	}
	j.Started = started.Time
	if finished.Valid {
		ft := finished.Time
		j.Finished = &ft
	}
	return &j, nil
}

// CreateJob inserts a new in-flight job. An empty ID is assigned a UUID and a
// zero Started time is set to now.
func (s *Store) CreateJob(ctx context.Context, job *model.ImportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Started.IsZero() {
		job.Started = time.Now()
	}
	_, err := s.exec(ctx, `INSERT INTO import_jobs (id, type, source, started, total_records_processed, status_log, requesting_user)
		VALUES (?, ?, ?, ?, 0, '', ?)`,
		job.ID, job.Type, job.Source, s.timeArg(job.Started), job.RequestingUser)
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// NextUnfinishedJob returns the oldest job without a finish stamp, or nil.
func (s *Store) NextUnfinishedJob(ctx context.Context) (*model.ImportJob, error) {
	j, err := scanJob(s.queryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs
		WHERE finished IS NULL ORDER BY started ASC, id ASC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying next job: %w", err)
	}
	return j, nil
}

// FinishJob stamps the job as finished with its final counters and log.
func (s *Store) FinishJob(ctx context.Context, id string, finished time.Time, totalProcessed int64, statusLog string) error {
	res, err := s.exec(ctx, `UPDATE import_jobs SET finished = ?, total_records_processed = ?, status_log = ?
		WHERE id = ?`, s.timeArg(finished), totalProcessed, statusLog, id)
	if err != nil {
		return fmt.Errorf("finishing job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing job %s: %w", id, ErrJobNotFound)
	}
	return nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*model.ImportJob, error) {
	j, err := scanJob(s.queryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying job %s: %w", id, err)
	}
	return j, nil
}

// ListJobs returns the most recent jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*model.ImportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.query(ctx, `SELECT `+jobColumns+` FROM import_jobs ORDER BY started DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.ImportJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
