package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"krakensync/pkg/core"
)

// SQLite stores each resource in its own table of a single database file.
type SQLite struct {
	db *sql.DB

	mu     sync.Mutex
	tables map[core.Resource]bool
}

// OpenSQLite opens or creates the database at path. ":memory:" keeps it in
// process memory.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path must not be empty")
	}
	dsn := "file::memory:?cache=shared"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, err = db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+StateTable+` (
	resource   TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &SQLite{db: db, tables: make(map[core.Resource]bool)}, nil
}

func (s *SQLite) ensureTable(ctx context.Context, resource core.Resource) (string, error) {
	table, err := tableName(resource)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[resource] {
		return table, nil
	}
	_, err = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+table+` (
	row_key             TEXT PRIMARY KEY,
	load_id             TEXT NOT NULL,
	cursor_timestamp_ms INTEGER,
	data                TEXT NOT NULL,
	loaded_at           TEXT NOT NULL
)`)
	if err != nil {
		return "", fmt.Errorf("create table %s: %w", table, err)
	}
	s.tables[resource] = true
	return table, nil
}

func (s *SQLite) LoadState(ctx context.Context, resource core.Resource) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT state FROM `+StateTable+` WHERE resource=?`, resource.String())
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	return []byte(v), nil
}

func (s *SQLite) Write(ctx context.Context, batch *Batch) (int, error) {
	table, err := s.ensureTable(ctx, batch.Resource)
	if err != nil {
		return 0, err
	}
	rows, err := encodeRows(batch)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if batch.Replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return 0, fmt.Errorf("replace %s: %w", table, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO `+table+` (row_key, load_id, cursor_timestamp_ms, data, loaded_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(row_key) DO UPDATE SET
	load_id=excluded.load_id,
	cursor_timestamp_ms=excluded.cursor_timestamp_ms,
	data=excluded.data,
	loaded_at=excluded.loaded_at`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.key, batch.LoadID, r.cursorTs, r.data, now); err != nil {
				return 0, fmt.Errorf("insert into %s: %w", table, err)
			}
		}
	}

	if batch.State != nil {
		_, err := tx.ExecContext(ctx, `
INSERT INTO `+StateTable+` (resource, state, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(resource) DO UPDATE SET state=excluded.state, updated_at=excluded.updated_at`,
			batch.Resource.String(), string(batch.State), now)
		if err != nil {
			return 0, fmt.Errorf("save state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *SQLite) Reset(ctx context.Context, resource core.Resource) error {
	table, err := s.ensureTable(ctx, resource)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return fmt.Errorf("reset rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+StateTable+` WHERE resource=?`, resource.String()); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	return tx.Commit()
}

// count returns the number of stored rows of resource.
func (s *SQLite) count(ctx context.Context, resource core.Resource) (int, error) {
	table, err := s.ensureTable(ctx, resource)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// records returns the stored JSON rows of resource ordered by cursor timestamp.
func (s *SQLite) records(ctx context.Context, resource core.Resource) ([]string, error) {
	table, err := s.ensureTable(ctx, resource)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM `+table+` ORDER BY cursor_timestamp_ms IS NULL, cursor_timestamp_ms, row_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
