package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrInconsistent means the store holds more than one overall row for a
// prefix/suffix pair of one kind. It signals a corrupted table and callers
// must abort rather than pick a row.
var ErrInconsistent = errors.New("inconsistent results")

// Row is one estimate for downstream consumers. Forum is empty for overall
// counts.
type Row struct {
	Prefix string
	Suffix string
	Forum  string
	Kind   string
	Value  float64
	RunID  string
}

// Results persists estimate rows in SQLite
type Results struct {
	conn *sql.DB
}

func OpenResults(path string) (*Results, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer at a time
	conn.SetMaxOpenConns(1)

	r := &Results{conn: conn}
	if err := r.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return r, nil
}

func (r *Results) Close() error {
	return r.conn.Close()
}

func (r *Results) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS estimates (
		prefix TEXT NOT NULL,
		suffix TEXT NOT NULL,
		forum TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		value REAL NOT NULL,
		run_id TEXT NOT NULL DEFAULT '',
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_estimates_term ON estimates(prefix, suffix, kind);
	`
	_, err := r.conn.Exec(schema)
	return err
}

// Replace swaps every row of the given kinds for rows, in one transaction.
// byForum selects whether the per-forum or the overall rows of those kinds
// are replaced; every row must belong to that scope and to kinds.
func (r *Results) Replace(ctx context.Context, byForum bool, kinds []string, rows []Row) error {
	allowed := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, k := range kinds {
		if _, err := tx.ExecContext(ctx, `DELETE FROM estimates WHERE kind = ? AND (forum != '') = ?`, k, byForum); err != nil {
			return fmt.Errorf("clear %s rows: %w", k, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO estimates (prefix, suffix, forum, kind, value, run_id, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, row := range rows {
		if !allowed[row.Kind] {
			return fmt.Errorf("row kind %q not being replaced", row.Kind)
		}
		if (row.Forum != "") != byForum {
			return fmt.Errorf("row %s%s forum %q outside replaced scope", row.Prefix, row.Suffix, row.Forum)
		}
		if _, err := stmt.ExecContext(ctx, row.Prefix, row.Suffix, row.Forum, row.Kind, row.Value, row.RunID, now); err != nil {
			return fmt.Errorf("insert %s%s: %w", row.Prefix, row.Suffix, err)
		}
	}
	return tx.Commit()
}

// Lookup returns the overall row for a term among the given kinds.
// ErrNotFound if there is none, ErrInconsistent if there is more than one.
func (r *Results) Lookup(ctx context.Context, prefix, suffix string, kinds ...string) (Row, error) {
	query, args := kindFilter(`
	SELECT prefix, suffix, forum, kind, value, run_id FROM estimates
	WHERE prefix = ? AND suffix = ? AND forum = ''`, []any{prefix, suffix}, kinds)

	rows, err := r.queryRows(ctx, query, args...)
	if err != nil {
		return Row{}, err
	}
	switch len(rows) {
	case 0:
		return Row{}, fmt.Errorf("%s%s: %w", prefix, suffix, ErrNotFound)
	case 1:
		return rows[0], nil
	default:
		return Row{}, fmt.Errorf("%d rows for %s,%s: %w", len(rows), prefix, suffix, ErrInconsistent)
	}
}

// Overall lists overall rows of the given kinds, ordered by term
func (r *Results) Overall(ctx context.Context, kinds ...string) ([]Row, error) {
	query, args := kindFilter(`
	SELECT prefix, suffix, forum, kind, value, run_id FROM estimates
	WHERE forum = ''`, nil, kinds)
	return r.queryRows(ctx, query+` ORDER BY prefix, suffix`, args...)
}

// Forums lists per-forum rows for a term, largest first
func (r *Results) Forums(ctx context.Context, prefix, suffix string) ([]Row, error) {
	return r.queryRows(ctx, `
	SELECT prefix, suffix, forum, kind, value, run_id FROM estimates
	WHERE prefix = ? AND suffix = ? AND forum != ''
	ORDER BY value DESC, forum`, prefix, suffix)
}

func kindFilter(query string, args []any, kinds []string) (string, []any) {
	if len(kinds) == 0 {
		return query, args
	}
	query += ` AND kind IN (?`
	args = append(args, kinds[0])
	for _, k := range kinds[1:] {
		query += `, ?`
		args = append(args, k)
	}
	return query + `)`, args
}

func (r *Results) queryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.Prefix, &row.Suffix, &row.Forum, &row.Kind, &row.Value, &row.RunID); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
