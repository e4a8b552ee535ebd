package futures

import (
	"context"
	"iter"

	"krakensync/pkg/core"
)

// Executions extracts trade fills. The endpoint is signed when the client
// has credentials and queried anonymously otherwise.
type Executions struct {
	getter Getter
	opts   *ResourceOptions
}

// NewExecutions returns the executions extractor.
func NewExecutions(getter Getter, opts ...ResourceOption) *Executions {
	return &Executions{
		getter: getter,
		opts:   applyResourceOptions(core.ResourceExecutions, opts),
	}
}

func (e *Executions) Resource() core.Resource { return core.ResourceExecutions }

func (e *Executions) PrimaryKey() []string { return []string{"uid"} }

func (e *Executions) Extract(ctx context.Context, state *CursorState) iter.Seq2[core.Record, error] {
	return func(yield func(core.Record, error) bool) {
		pager := &tokenPager{
			getter:   e.getter,
			path:     PathExecutions,
			private:  e.getter.Authenticated(),
			listKeys: []string{"elements", "executionEvents"},
			pageSize: e.opts.PageSize,
			start:    e.opts.StartTimestamp,
			logger:   e.opts.Logger,
			normalize: func(item core.Record) (core.Record, int64, bool, error) {
				ts, ok := ExtractTimestamp(item, ExecutionTimestampFields)
				if !ok {
					return nil, 0, false, nil
				}
				record, err := EnrichRecord(item, ts)
				return record, ts, err == nil, err
			},
		}
		pager.run(ctx, state, yield)
	}
}
