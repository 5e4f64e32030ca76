// Package spatial maps coordinates to hierarchical S2 cell identifiers.
//
// Levels 3 through 9 are indexed. S2 cells nest exactly, so the level-n cell
// for a coordinate is always the parent of its level-(n+1) cell.
package spatial

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
)

const (
	// MinLevel is the coarsest indexed level.
	MinLevel = 3
	// MaxLevel is the finest indexed level.
	MaxLevel = 9
	// NumLevels is the number of indexed levels.
	NumLevels = MaxLevel - MinLevel + 1
)

// Index returns the cell token containing (lat, lon) at the given level.
func Index(lat, lon float64, level int) (string, error) {
	if level < MinLevel || level > MaxLevel {
		return "", fmt.Errorf("level %d out of range %d..%d", level, MinLevel, MaxLevel)
	}
	leaf, err := leafCell(lat, lon)
	if err != nil {
		return "", err
	}
	return leaf.Parent(level).ToToken(), nil
}

// Cells returns the tokens for every indexed level, coarsest first.
func Cells(lat, lon float64) ([NumLevels]string, error) {
	var out [NumLevels]string
	leaf, err := leafCell(lat, lon)
	if err != nil {
		return out, err
	}
	for level := MinLevel; level <= MaxLevel; level++ {
		out[level-MinLevel] = leaf.Parent(level).ToToken()
	}
	return out, nil
}

// Contains reports whether the cell identified by parent contains child.
func Contains(parent, child string) bool {
	p := s2.CellIDFromToken(parent)
	c := s2.CellIDFromToken(child)
	if !p.IsValid() || !c.IsValid() {
		return false
	}
	return p.Contains(c)
}

// Level returns the level encoded in a token, or -1 for an invalid token.
func Level(token string) int {
	id := s2.CellIDFromToken(token)
	if !id.IsValid() {
		return -1
	}
	return id.Level()
}

func leafCell(lat, lon float64) (s2.CellID, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, fmt.Errorf("coordinate (%f, %f) out of range", lat, lon)
	}
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon)), nil
}
