package spatial

import (
	"testing"
)

var testCoords = []struct {
	name     string
	lat, lon float64
}{
	{"KJFK", 40.639751, -73.778925},
	{"EGLL", 51.4706, -0.461941},
	{"YSSY", -33.946111, 151.177222},
	{"SCEL", -33.393, -70.785803},
	{"north pole", 90, 0},
	{"antimeridian", 0, 180},
	{"south west corner", -90, -180},
}

func TestCells_Containment(t *testing.T) {
	for _, tc := range testCoords {
		t.Run(tc.name, func(t *testing.T) {
			cells, err := Cells(tc.lat, tc.lon)
			if err != nil {
				t.Fatalf("Cells() error: %v", err)
			}
			for i := 0; i < NumLevels-1; i++ {
				parent, child := cells[i], cells[i+1]
				if parent == child {
					t.Fatalf("level %d and %d share token %s", i+MinLevel, i+MinLevel+1, parent)
				}
				if !Contains(parent, child) {
					t.Errorf("level %d cell %s does not contain level %d cell %s",
						i+MinLevel, parent, i+MinLevel+1, child)
				}
				if Contains(child, parent) {
					t.Errorf("child %s contains parent %s", child, parent)
				}
			}
		})
	}
}

func TestCells_Levels(t *testing.T) {
	cells, err := Cells(47.449, -122.309)
	if err != nil {
		t.Fatalf("Cells() error: %v", err)
	}
	for i, tok := range cells {
		if got := Level(tok); got != i+MinLevel {
			t.Errorf("token %s level = %d, want %d", tok, got, i+MinLevel)
		}
	}
}

func TestIndex_MatchesCells(t *testing.T) {
	lat, lon := 35.552258, 139.779694
	cells, err := Cells(lat, lon)
	if err != nil {
		t.Fatalf("Cells() error: %v", err)
	}
	for level := MinLevel; level <= MaxLevel; level++ {
		tok, err := Index(lat, lon, level)
		if err != nil {
			t.Fatalf("Index(level=%d) error: %v", level, err)
		}
		if tok != cells[level-MinLevel] {
			t.Errorf("Index(level=%d) = %s, Cells = %s", level, tok, cells[level-MinLevel])
		}
	}
}

func TestIndex_Deterministic(t *testing.T) {
	a, _ := Index(40.639751, -73.778925, 9)
	b, _ := Index(40.639751, -73.778925, 9)
	if a != b {
		t.Errorf("Index not deterministic: %s != %s", a, b)
	}
}

func TestIndex_Errors(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		level    int
	}{
		{"level too low", 0, 0, 2},
		{"level too high", 0, 0, 10},
		{"latitude out of range", 91, 0, 5},
		{"longitude out of range", 0, -181, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Index(tt.lat, tt.lon, tt.level); err == nil {
				t.Error("expected error")
			}
		})
	}
}
