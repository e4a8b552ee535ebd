package sink

import (
	"context"
	"slices"
	"sync"

	"krakensync/pkg/core"
)

// Memory is an in-process Sink used by tests and dry runs.
type Memory struct {
	mu     sync.RWMutex
	tables map[core.Resource]*memTable
	states map[core.Resource][]byte
	closed bool
}

type memTable struct {
	order []string
	rows  map[string]core.Record
}

// NewMemory returns an empty in-process sink.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[core.Resource]*memTable),
		states: make(map[core.Resource][]byte),
	}
}

func (m *Memory) LoadState(_ context.Context, resource core.Resource) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, core.ErrSinkClosed
	}
	return slices.Clone(m.states[resource]), nil
}

func (m *Memory) Write(_ context.Context, batch *Batch) (int, error) {
	rows, err := encodeRows(batch)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, core.ErrSinkClosed
	}

	table := m.tables[batch.Resource]
	if table == nil || batch.Replace {
		table = &memTable{rows: make(map[string]core.Record)}
		m.tables[batch.Resource] = table
	}
	for i, r := range rows {
		if _, exists := table.rows[r.key]; !exists {
			table.order = append(table.order, r.key)
		}
		table.rows[r.key] = batch.Records[i]
	}
	if batch.State != nil {
		m.states[batch.Resource] = slices.Clone(batch.State)
	}
	return len(rows), nil
}

func (m *Memory) Reset(_ context.Context, resource core.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return core.ErrSinkClosed
	}
	delete(m.states, resource)
	delete(m.tables, resource)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Rows returns the stored records of resource in first-insert order.
func (m *Memory) Rows(resource core.Resource) []core.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	table := m.tables[resource]
	if table == nil {
		return nil
	}
	out := make([]core.Record, 0, len(table.order))
	for _, key := range table.order {
		out = append(out, table.rows[key])
	}
	return out
}
