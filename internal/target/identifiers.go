package target

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
)

// quoteIdent safely quotes an identifier, escaping embedded quotes.
// Both PostgreSQL and SQLite accept double-quoted identifiers.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteIdents(idents []string) []string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = quoteIdent(id)
	}
	return out
}

// stagingName generates a TEMP staging table name for one write set.
// PostgreSQL has a 63-byte limit for identifiers; long names fall back to a hash.
func stagingName(table string, setIndex int) string {
	suffix := fmt.Sprintf("_s%d", setIndex)
	base := "_stg_" + table
	const maxLen = 63

	if len(base)+len(suffix) > maxLen {
		hash := sha256.Sum256([]byte(table))
		base = fmt.Sprintf("_stg_%x", hash[:8])
	}
	return base + suffix
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
// Queries passed here must not contain literal question marks.
func rebind(d Dialect, query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
