package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// get runs a single-row named query into dest. It reports false with a nil
// error when no row matched.
func (s *Store) get(ctx context.Context, dest interface{}, query string, arg interface{}) (bool, error) {
	q, args, err := s.bind(query, arg)
	if err != nil {
		return false, err
	}
	if err := s.db.GetContext(ctx, dest, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// selectAll runs a named query and scans every row into dest.
func (s *Store) selectAll(ctx context.Context, dest interface{}, query string, arg interface{}) error {
	q, args, err := s.bind(query, arg)
	if err != nil {
		return err
	}
	return s.db.SelectContext(ctx, dest, q, args...)
}

// exec runs a named statement and returns the number of affected rows.
func (s *Store) exec(ctx context.Context, query string, arg interface{}) (int64, error) {
	q, args, err := s.bind(query, arg)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// exists runs a "SELECT 1 ... LIMIT 1" style named query.
func (s *Store) exists(ctx context.Context, query string, arg interface{}) (bool, error) {
	var one int
	return s.get(ctx, &one, query, arg)
}
