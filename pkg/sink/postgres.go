package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"krakensync/pkg/core"
)

// Postgres stores each resource in its own table with the record as JSONB.
type Postgres struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	tables map[core.Resource]bool
}

// OpenPostgres connects to connStr and creates the state table.
func OpenPostgres(ctx context.Context, connStr string, maxConns int) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	_, err = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+StateTable+` (
	resource   TEXT PRIMARY KEY,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Postgres{pool: pool, tables: make(map[core.Resource]bool)}, nil
}

func (p *Postgres) ensureTable(ctx context.Context, resource core.Resource) (string, error) {
	table, err := tableName(resource)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tables[resource] {
		return table, nil
	}
	_, err = p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+table+` (
	row_key             TEXT PRIMARY KEY,
	load_id             TEXT NOT NULL,
	cursor_timestamp_ms BIGINT,
	data                JSONB NOT NULL,
	loaded_at           TIMESTAMPTZ NOT NULL
)`)
	if err != nil {
		return "", fmt.Errorf("create table %s: %w", table, err)
	}
	p.tables[resource] = true
	return table, nil
}

func (p *Postgres) LoadState(ctx context.Context, resource core.Resource) ([]byte, error) {
	var state string
	err := p.pool.QueryRow(ctx, `SELECT state::text FROM `+StateTable+` WHERE resource=$1`, resource.String()).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	return []byte(state), nil
}

func (p *Postgres) Write(ctx context.Context, batch *Batch) (int, error) {
	table, err := p.ensureTable(ctx, batch.Resource)
	if err != nil {
		return 0, err
	}
	rows, err := encodeRows(batch)
	if err != nil {
		return 0, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	b := &pgx.Batch{}
	if batch.Replace {
		b.Queue(`DELETE FROM ` + table)
	}
	for _, r := range rows {
		b.Queue(`
INSERT INTO `+table+` (row_key, load_id, cursor_timestamp_ms, data, loaded_at)
VALUES ($1, $2, $3, $4::jsonb, $5)
ON CONFLICT (row_key) DO UPDATE SET
	load_id = EXCLUDED.load_id,
	cursor_timestamp_ms = EXCLUDED.cursor_timestamp_ms,
	data = EXCLUDED.data,
	loaded_at = EXCLUDED.loaded_at`, r.key, batch.LoadID, r.cursorTs, r.data, now)
	}
	if batch.State != nil {
		b.Queue(`
INSERT INTO `+StateTable+` (resource, state, updated_at)
VALUES ($1, $2::jsonb, $3)
ON CONFLICT (resource) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
			batch.Resource.String(), string(batch.State), now)
	}

	if b.Len() > 0 {
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return 0, fmt.Errorf("write %s: %w", table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (p *Postgres) Reset(ctx context.Context, resource core.Resource) error {
	table, err := p.ensureTable(ctx, resource)
	if err != nil {
		return err
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM `+table); err != nil {
		return fmt.Errorf("reset rows: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+StateTable+` WHERE resource=$1`, resource.String()); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
