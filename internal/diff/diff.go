// Package diff decides whether an incoming record is new, changed, or unchanged
// relative to the live store by comparing canonical content hashes.
package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Outcome classifies an incoming record.
type Outcome int

const (
	New Outcome = iota
	Updated
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case New:
		return "new"
	case Updated:
		return "updated"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Fields holds the mutable fields of a record by name. Identifiers and derived
// values (size, spatial cells, population state) must not be included.
type Fields map[string]any

// Hash returns a canonical digest of fields. The result does not depend on
// map iteration order or surrounding whitespace in string values.
func Hash(fields Fields) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(canonical(fields[k])))
		h.Write([]byte{'\n'})
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

func canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00"
	case string:
		return strings.TrimSpace(x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', 6, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', 6, 32)
	case *int:
		if x == nil {
			return "\x00"
		}
		return strconv.Itoa(*x)
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	default:
		return fmt.Sprint(x)
	}
}

// Detector classifies records against hashes prefetched for a whole category.
type Detector struct {
	existing map[string]string
}

// NewDetector wraps a key -> stored hash map. The map is not copied.
func NewDetector(existing map[string]string) *Detector {
	if existing == nil {
		existing = make(map[string]string)
	}
	return &Detector{existing: existing}
}

// Classify compares the freshly computed hash of a record with the stored one.
func (d *Detector) Classify(key, hash string) Outcome {
	stored, ok := d.existing[key]
	if !ok {
		return New
	}
	if stored != hash {
		return Updated
	}
	return Skipped
}

// Len returns the number of stored records.
func (d *Detector) Len() int { return len(d.existing) }
