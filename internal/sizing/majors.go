package sizing

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jszwec/csvutil"
)

// Majors is the curated set of airports eligible for the top size class.
// A nil *Majors behaves as an empty list.
type Majors struct {
	idents map[string]struct{}
}

type majorRecord struct {
	Ident string `csv:"ident"`
	Name  string `csv:"name,omitempty"`
}

// NewMajors builds a list from idents.
func NewMajors(idents ...string) *Majors {
	m := &Majors{idents: make(map[string]struct{}, len(idents))}
	for _, id := range idents {
		if id = normalizeIdent(id); id != "" {
			m.idents[id] = struct{}{}
		}
	}
	return m
}

// LoadMajors reads a CSV file with an "ident" header column.
// An empty path yields an empty list.
func LoadMajors(path string) (*Majors, error) {
	if path == "" {
		return NewMajors(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening majors file: %w", err)
	}
	defer f.Close()
	return ParseMajors(f)
}

// ParseMajors decodes the curated list from CSV.
func ParseMajors(r io.Reader) (*Majors, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	dec, err := csvutil.NewDecoder(cr)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return NewMajors(), nil
		}
		return nil, fmt.Errorf("reading majors header: %w", err)
	}

	m := NewMajors()
	for {
		var rec majorRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decoding majors row: %w", err)
		}
		if id := normalizeIdent(rec.Ident); id != "" {
			m.idents[id] = struct{}{}
		}
	}
	return m, nil
}

// Contains reports whether ident is curated.
func (m *Majors) Contains(ident string) bool {
	if m == nil {
		return false
	}
	_, ok := m.idents[normalizeIdent(ident)]
	return ok
}

// Len returns the number of curated airports.
func (m *Majors) Len() int {
	if m == nil {
		return 0
	}
	return len(m.idents)
}

func normalizeIdent(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
