// Package sqlitestore is the SQLite-backed rules.Store.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"oasis/internal/rules"
)

// Config selects the database file. Decoded from the rules.sqlite config
// section.
type Config struct {
	Path string `mapstructure:"path"`
}

// Store keeps hidden rules in a single "hiddens" table.
type Store struct {
	db *sql.DB
}

var _ rules.Store = (*Store)(nil)

// Open opens (or creates) the database at cfg.Path and runs schema migrations.
func Open(cfg Config) (*Store, error) {
	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS hiddens (
    path TEXT PRIMARY KEY,
    least_permission INTEGER NOT NULL
);`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) List(ctx context.Context) ([]rules.HiddenRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, least_permission FROM hiddens`)
	if err != nil {
		return nil, fmt.Errorf("list hiddens: %w", err)
	}
	defer rows.Close()

	var out []rules.HiddenRule
	for rows.Next() {
		var r rules.HiddenRule
		if err := rows.Scan(&r.Path, &r.LeastPermission); err != nil {
			return nil, fmt.Errorf("scan hidden: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const upsertSQL = `INSERT INTO hiddens (path, least_permission) VALUES (?, ?)
ON CONFLICT(path) DO UPDATE SET least_permission = excluded.least_permission`

func (s *Store) Insert(ctx context.Context, rule rules.HiddenRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertSQL, rule.Path, rule.LeastPermission); err != nil {
		return fmt.Errorf("insert hidden: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM hiddens WHERE path = ?`, rules.Normalize(path)); err != nil {
		return fmt.Errorf("delete hidden: %w", err)
	}
	return nil
}

// subtreeWhere matches a path and everything nested under it without LIKE, so
// '%' and '_' in file names need no escaping.
const subtreeWhere = `path = ?1 OR substr(path, 1, length(?1) + 1) = ?1 || '/'`

func (s *Store) DeleteTree(ctx context.Context, path string) error {
	path = rules.Normalize(path)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM hiddens WHERE `+subtreeWhere, path); err != nil {
		return fmt.Errorf("delete hidden tree: %w", err)
	}
	return tx.Commit()
}

func (s *Store) RenameTree(ctx context.Context, oldPath, newPath string) error {
	oldPath, newPath = rules.Normalize(oldPath), rules.Normalize(newPath)
	if oldPath == newPath {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT path, least_permission FROM hiddens WHERE `+subtreeWhere, oldPath)
	if err != nil {
		return fmt.Errorf("select hidden tree: %w", err)
	}
	var moved []rules.HiddenRule
	for rows.Next() {
		var r rules.HiddenRule
		if err := rows.Scan(&r.Path, &r.LeastPermission); err != nil {
			rows.Close()
			return fmt.Errorf("scan hidden: %w", err)
		}
		moved = append(moved, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM hiddens WHERE `+subtreeWhere, oldPath); err != nil {
		return fmt.Errorf("delete hidden tree: %w", err)
	}
	for _, r := range moved {
		dst := rules.Rebase(r.Path, oldPath, newPath)
		if _, err := tx.ExecContext(ctx, upsertSQL, dst, r.LeastPermission); err != nil {
			return fmt.Errorf("rewrite hidden %q: %w", r.Path, err)
		}
	}
	return tx.Commit()
}
