package target

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/johndauphine/airport-sync/internal/model"
)

// ResetQueued returns every airport left Queued for source to NeedsHandling.
func (s *Store) ResetQueued(ctx context.Context, source model.Source) (int64, error) {
	col := quoteIdent(source.PopulationColumn())
	res, err := s.exec(ctx, fmt.Sprintf("UPDATE airport SET %s = ? WHERE %s = ?", col, col),
		int(model.NeedsHandling), int(model.Queued))
	if err != nil {
		return 0, fmt.Errorf("resetting queued %s airports: %w", source, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClaimNeedsHandling moves up to limit NeedsHandling airports to Queued and
// returns their idents.
func (s *Store) ClaimNeedsHandling(ctx context.Context, source model.Source, limit int) ([]string, error) {
	col := quoteIdent(source.PopulationColumn())
	var idents []string

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		idents = idents[:0]
		selectSQL := fmt.Sprintf("SELECT ident FROM airport WHERE %s = ? ORDER BY ident LIMIT ?", col)
		if s.dialect == Postgres {
			selectSQL += " FOR UPDATE SKIP LOCKED"
		}
		rows, err := tx.QueryContext(ctx, rebind(s.dialect, selectSQL), int(model.NeedsHandling), limit)
		if err != nil {
			return fmt.Errorf("selecting %s airports: %w", source, err)
		}
		for rows.Next() {
			var ident string
			if err := rows.Scan(&ident); err != nil {
				rows.Close()
				return err
			}
			idents = append(idents, ident)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(idents) == 0 {
			return nil
		}

		return setPopulation(ctx, tx, s.dialect, source, idents, model.Queued)
	})
	if err != nil {
		return nil, err
	}
	return idents, nil
}

// SetPopulation sets the population state of the given airports for source.
func (s *Store) SetPopulation(ctx context.Context, source model.Source, idents []string, state model.PopulationState) error {
	if len(idents) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return setPopulation(ctx, tx, s.dialect, source, idents, state)
	})
}

// PopulationCounts returns the number of airports in each state for source.
func (s *Store) PopulationCounts(ctx context.Context, source model.Source) (map[model.PopulationState]int64, error) {
	col := quoteIdent(source.PopulationColumn())
	rows, err := s.query(ctx, fmt.Sprintf("SELECT %s, COUNT(*) FROM airport GROUP BY %s", col, col))
	if err != nil {
		return nil, fmt.Errorf("counting %s population: %w", source, err)
	}
	defer rows.Close()

	counts := make(map[model.PopulationState]int64)
	for rows.Next() {
		var state int
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[model.PopulationState(state)] = n
	}
	return counts, rows.Err()
}

func setPopulation(ctx context.Context, tx *sql.Tx, d Dialect, source model.Source, idents []string, state model.PopulationState) error {
	col := quoteIdent(source.PopulationColumn())
	const batchSize = 500

	for i := 0; i < len(idents); i += batchSize {
		batch := idents[i:min(i+batchSize, len(idents))]
		args := make([]any, 0, len(batch)+1)
		args = append(args, int(state))
		for _, id := range batch {
			args = append(args, id)
		}
		q := fmt.Sprintf("UPDATE airport SET %s = ? WHERE ident IN (%s)", col, placeholders(len(batch)))
		if _, err := tx.ExecContext(ctx, rebind(d, q), args...); err != nil {
			return fmt.Errorf("setting %s population to %s: %w", source, state, err)
		}
	}
	return nil
}
