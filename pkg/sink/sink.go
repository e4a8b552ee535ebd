// Package sink persists normalized records and per-resource cursor state.
// Every Write commits a batch of records together with the state that
// follows them, so a crash never leaves a watermark ahead of its rows.
package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"krakensync/pkg/core"
)

// StateTable holds one cursor blob per resource.
const StateTable = "_krakensync_state"

// Batch is one unit of work for a Sink.
type Batch struct {
	Resource    core.Resource
	Disposition core.WriteDisposition
	// PrimaryKey lists the record fields forming the row identity. Rows
	// missing any of them get a random key.
	PrimaryKey []string
	LoadID     string
	Records    []core.Record
	// State replaces the stored cursor when non-nil.
	State []byte
	// Replace drops every existing row of the resource before writing.
	Replace bool
}

// Sink is a destination store.
type Sink interface {
	// LoadState returns the stored cursor blob, or nil when none exists.
	LoadState(ctx context.Context, resource core.Resource) ([]byte, error)
	// Write commits the batch records and state atomically and returns the
	// number of rows written.
	Write(ctx context.Context, batch *Batch) (int, error)
	// Reset drops the stored rows and cursor of resource.
	Reset(ctx context.Context, resource core.Resource) error
	Close() error
}

var rowAPI = sonic.Config{SortMapKeys: true}.Froze()

// RowKey joins the primary key values of record. It returns a random UUID
// when there is no key or a key field is missing.
func RowKey(record core.Record, primaryKey []string) string {
	if len(primaryKey) == 0 {
		return uuid.NewString()
	}
	parts := make([]string, 0, len(primaryKey))
	for _, field := range primaryKey {
		v, ok := record[field]
		if !ok || v == nil || v == "" {
			return uuid.NewString()
		}
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, "|")
}

// row is the storage form of a record.
type row struct {
	key      string
	cursorTs *int64
	data     string
}

func encodeRows(batch *Batch) ([]row, error) {
	rows := make([]row, 0, len(batch.Records))
	for _, record := range batch.Records {
		data, err := rowAPI.MarshalToString(record)
		if err != nil {
			return nil, fmt.Errorf("encode %s record: %w", batch.Resource, err)
		}
		r := row{key: RowKey(record, batch.PrimaryKey), data: data}
		if ts, ok := record[core.FieldCursorTimestampMs].(int64); ok {
			r.cursorTs = &ts
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func tableName(resource core.Resource) (string, error) {
	if !resource.Valid() {
		return "", fmt.Errorf("%w: %s", core.ErrUnknownResource, resource)
	}
	return `"` + resource.String() + `"`, nil
}

// Open returns the Sink selected by config.
func Open(ctx context.Context, config core.SinkConfig) (Sink, error) {
	switch config.Driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, config.DSN)
	case "postgres":
		return OpenPostgres(ctx, config.DSN, config.MaxConns)
	}
	return nil, core.NewConfigError("unknown sink driver "+config.Driver, core.ErrInvalidConfig)
}
