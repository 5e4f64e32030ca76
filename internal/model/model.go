// Package model defines the reference-data entities synchronized from snapshots
// and the import job record that drives a synchronization run.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Source tags the third-party snapshot a record came from.
type Source string

const (
	SourceMSFS   Source = "msfs"
	SourceXPlane Source = "xplane"
)

// ParseSource validates a source tag.
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(s)) {
	case SourceMSFS:
		return SourceMSFS, nil
	case SourceXPlane:
		return SourceXPlane, nil
	default:
		return "", fmt.Errorf("unknown source %q (valid: msfs, xplane)", s)
	}
}

// PopulationColumn returns the airport column holding this source's population state.
func (s Source) PopulationColumn() string {
	return string(s) + "_population"
}

// MaxIdentLength is the fixed-format limit for airport codes.
const MaxIdentLength = 5

// Size classes outside the computed 0..5 range.
const (
	SizeClosed = -1
	SizeMajor  = 6
)

// PopulationState is the per-source "has been populated" flag on an airport.
type PopulationState int

const (
	NeedsHandling PopulationState = iota
	Queued
	Handled
)

func (p PopulationState) String() string {
	switch p {
	case NeedsHandling:
		return "needs_handling"
	case Queued:
		return "queued"
	case Handled:
		return "handled"
	default:
		return "unknown"
	}
}

// Airport is the aggregate root for runways and approaches.
type Airport struct {
	Ident                string
	Name                 string
	Latitude             float64
	Longitude            float64
	Elevation            int
	NumRunways           int
	LongestRunwayLength  int
	LongestRunwaySurface string
	NumApproaches        int
	NumParkingGates      int
	HasAvgas             bool
	HasJetfuel           bool
	HasTower             bool
	Source               Source

	// Derived, never part of the content hash.
	Size         *int
	PreviousSize *int
	Cells        [7]string // spatial cell tokens for levels 3..9
	Hash         string
}

// Runway belongs to one airport and owns up to two runway ends.
type Runway struct {
	Source       Source
	ID           int64
	AirportIdent string
	Length       int
	Width        int
	Heading      float64
	Surface      string
	EdgeLight    string
	CenterLight  string
	Hash         string
}

// Key returns the composite {source, native id} key.
func (r *Runway) Key() string { return CompositeKey(r.Source, r.ID) }

// RunwayEnd belongs to one runway.
type RunwayEnd struct {
	Source            Source
	ID                int64
	RunwayID          int64
	Name              string
	EndType           string // "P" primary, "S" secondary
	Heading           float64
	HasClosedMarkings bool
	Hash              string
}

// Key returns the composite {source, native id} key.
func (e *RunwayEnd) Key() string { return CompositeKey(e.Source, e.ID) }

// RunwayKey returns the composite key of the owning runway.
func (e *RunwayEnd) RunwayKey() string { return CompositeKey(e.Source, e.RunwayID) }

// Approach belongs to one airport.
type Approach struct {
	Source       Source
	ID           int64
	AirportIdent string
	Type         string
	Suffix       string
	RunwayName   string
	FixIdent     string
	Hash         string
}

// Key returns the composite {source, native id} key.
func (a *Approach) Key() string { return CompositeKey(a.Source, a.ID) }

// CompositeKey renders a {source, native id} pair as a map key.
func CompositeKey(source Source, id int64) string {
	return fmt.Sprintf("%s:%d", source, id)
}

// ImportJob is the persisted record of one snapshot import.
type ImportJob struct {
	ID                    string
	Type                  string
	Source                string // snapshot handle, removed after processing
	Started               time.Time
	Finished              *time.Time
	TotalRecordsProcessed int64
	StatusLog             string
	RequestingUser        string
}

// InFlight reports whether the job has not been finalized yet.
func (j *ImportJob) InFlight() bool { return j.Finished == nil }
