// Package sizing derives an airport's size class from its runways and approaches.
package sizing

import (
	"strings"

	"github.com/johndauphine/airport-sync/internal/model"
)

// Base class thresholds on the longest open runway, in feet.
var lengthClasses = []struct {
	minLength int
	class     int
}{
	{10000, 5},
	{8000, 4},
	{6000, 3},
	{4500, 2},
	{2300, 1},
}

// SecondRunwayLength is the length an additional hard-surfaced runway needs for class 5.
const SecondRunwayLength = 8000

var hardSurfaces = map[string]bool{
	"A":  true, // asphalt
	"C":  true, // concrete
	"B":  true, // bituminous
	"T":  true, // tarmac
	"M":  true, // macadam
	"BR": true, // brick
}

var precisionApproaches = map[string]bool{
	"ILS": true,
	"GLS": true,
}

// RunwayInfo is the subset of a runway the classifier looks at.
type RunwayInfo struct {
	Length          int
	Surface         string
	EdgeLight       string
	CenterLight     string
	PrimaryClosed   bool
	SecondaryClosed bool
}

// Closed reports whether both ends carry closed markings.
func (r RunwayInfo) Closed() bool {
	return r.PrimaryClosed && r.SecondaryClosed
}

// HardSurface reports whether the runway surface is paved.
func (r RunwayInfo) HardSurface() bool {
	return hardSurfaces[strings.ToUpper(strings.TrimSpace(r.Surface))]
}

// Lighted reports whether the runway has edge or center lighting.
func (r RunwayInfo) Lighted() bool {
	return strings.TrimSpace(r.EdgeLight) != "" || strings.TrimSpace(r.CenterLight) != ""
}

// Input is everything the classifier needs for one airport.
type Input struct {
	Ident         string
	ParkingGates  int
	Runways       []RunwayInfo
	ApproachTypes []string
	CurrentSize   *int // value stored before this classification
}

// Result is the classification outcome.
type Result struct {
	Size int
	// Inconsistent is set when a curated major does not qualify for class 5.
	Inconsistent bool
}

// Classify runs the rule cascade. majors may be nil.
func Classify(in Input, majors *Majors) Result {
	open := make([]RunwayInfo, 0, len(in.Runways))
	for _, r := range in.Runways {
		if !r.Closed() {
			open = append(open, r)
		}
	}
	if len(open) == 0 {
		return Result{Size: model.SizeClosed}
	}

	longest := 0
	for _, r := range open {
		if r.Length > longest {
			longest = r.Length
		}
	}

	size := 0
	for _, lc := range lengthClasses {
		if longest >= lc.minLength {
			size = lc.class
			break
		}
	}

	curated := majors.Contains(in.Ident)

	if size == 5 && !hasPrecisionApproach(in.ApproachTypes) {
		size = 4
	}

	if size == 5 {
		qualifying := 0
		for _, r := range open {
			if r.Length >= SecondRunwayLength && r.HardSurface() {
				qualifying++
			}
		}
		if qualifying < 2 {
			size = 4
		}
	}

	if size == 5 && in.ParkingGates == 0 && !curated {
		size = 4
	}

	if size == 4 && len(in.ApproachTypes) == 0 {
		size = 3
	}

	if size >= 4 && !anyRunway(in.Runways, RunwayInfo.Lighted) {
		size = 3
	}

	if size >= 3 && !anyRunway(in.Runways, RunwayInfo.HardSurface) {
		size = 2
	}

	if curated {
		if size == 5 {
			return Result{Size: model.SizeMajor}
		}
		return Result{Size: size, Inconsistent: true}
	}

	return Result{Size: size}
}

func hasPrecisionApproach(types []string) bool {
	for _, t := range types {
		if precisionApproaches[strings.ToUpper(strings.TrimSpace(t))] {
			return true
		}
	}
	return false
}

func anyRunway(runways []RunwayInfo, pred func(RunwayInfo) bool) bool {
	for _, r := range runways {
		if pred(r) {
			return true
		}
	}
	return false
}
