package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/plughost/internal/statequery"
)

// StateQuery selects snapshots of one session.
type StateQuery struct {
	SessionID string
	// Filter restricts the snapshots returned. Nil matches every snapshot.
	Filter statequery.Predicate
	// Latest keeps only the newest snapshot of each plugin instance,
	// before Filter is applied.
	Latest bool
}

// QueryStates returns the snapshots matching q, ordered by unique id then
// seq.
func (s *Store) QueryStates(ctx context.Context, q StateQuery) ([]Snapshot, error) {
	query, params, err := compileStateQuery(q)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	return collectSnapshots(rows)
}

// compileStateQuery converts q to parameterized SQL.
// Values are never interpolated; every comparison uses a ? placeholder.
func compileStateQuery(q StateQuery) (string, []any, error) {
	if res := statequery.Validate(orAll(q.Filter)); !res.Valid {
		return "", nil, fmt.Errorf("invalid filter: %s", strings.Join(res.Problems, "; "))
	}

	where := []string{"p.session_id = ?"}
	params := []any{q.SessionID}
	if q.Latest {
		where = append(where, `p.seq = (
			SELECT MAX(seq) FROM plugin_states
			WHERE session_id = p.session_id AND unique_id = p.unique_id
		)`)
	}
	if q.Filter != nil {
		sql, filterParams, err := compilePredicate(q.Filter)
		if err != nil {
			return "", nil, err
		}
		where = append(where, sql)
		params = append(params, filterParams...)
	}

	sql := `SELECT p.session_id, p.seq, p.unique_id, p.plugin, p.state_hash, p.state, p.removed
		FROM plugin_states p
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY p.unique_id ASC, p.seq ASC, p.id ASC`
	return sql, params, nil
}

func orAll(p statequery.Predicate) statequery.Predicate {
	if p == nil {
		return statequery.And{}
	}
	return p
}

// compilePredicate compiles a predicate to a WHERE clause fragment.
func compilePredicate(p statequery.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case statequery.Equals:
		return compileEquals(pred)
	case *statequery.Equals:
		return compileEquals(*pred)
	case statequery.Not:
		return compileNot(pred)
	case *statequery.Not:
		return compileNot(*pred)
	case statequery.And:
		return compileAnd(pred)
	case *statequery.And:
		return compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileEquals(eq statequery.Equals) (string, []any, error) {
	// Field names come from the closed set KindOf knows, checked by
	// Validate, so they are safe to place in SQL.
	return fmt.Sprintf("p.%s = ?", eq.Field), []any{eq.Value}, nil
}

func compileNot(not statequery.Not) (string, []any, error) {
	sql, params, err := compilePredicate(not.Predicate)
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", params, nil
}

func compileAnd(and statequery.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil // vacuous truth
	}
	parts := make([]string, 0, len(and.Predicates))
	var params []any
	for _, pred := range and.Predicates {
		sql, p, err := compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	return "(" + strings.Join(parts, " AND ") + ")", params, nil
}
