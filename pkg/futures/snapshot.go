package futures

import (
	"context"
	"iter"

	"krakensync/pkg/core"
)

// snapshotter fetches a single-page endpoint whose rows replace the
// previous run's.
type snapshotter struct {
	getter   Getter
	path     string
	private  bool
	listKeys []string
	opts     *ResourceOptions
}

func (s *snapshotter) extract(ctx context.Context) iter.Seq2[core.Record, error] {
	return func(yield func(core.Record, error) bool) {
		items, _, err := fetchList(ctx, s.getter, core.NewRequest(s.path).SetPrivate(s.private), s.listKeys...)
		if err != nil {
			yield(nil, err)
			return
		}

		count := 0
		for _, item := range items {
			raw, ok := asRecord(item)
			if !ok {
				continue
			}
			record, err := Snapshot(raw)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(record, nil) {
				return
			}
			count++
		}
		logStats(s.opts.Logger, count, 0)
	}
}

// Tickers extracts the public market snapshot of every instrument.
type Tickers struct {
	snapshotter
}

// NewTickers returns the tickers extractor. It needs no credentials.
func NewTickers(getter Getter, opts ...ResourceOption) *Tickers {
	return &Tickers{snapshotter{
		getter:   getter,
		path:     PathTickers,
		listKeys: []string{"tickers"},
		opts:     applyResourceOptions(core.ResourceTickers, opts),
	}}
}

func (t *Tickers) Resource() core.Resource { return core.ResourceTickers }

func (t *Tickers) PrimaryKey() []string { return nil }

// Extract ignores state; tickers carry no cursor.
func (t *Tickers) Extract(ctx context.Context, _ *CursorState) iter.Seq2[core.Record, error] {
	return t.extract(ctx)
}

// OpenPositions extracts the account's currently open positions.
type OpenPositions struct {
	snapshotter
}

// NewOpenPositions returns the open positions extractor. It fails with a
// config error when getter cannot sign requests.
func NewOpenPositions(getter Getter, opts ...ResourceOption) (*OpenPositions, error) {
	if err := requireAuth(core.ResourceOpenPositions, getter); err != nil {
		return nil, err
	}
	return &OpenPositions{snapshotter{
		getter:   getter,
		path:     PathOpenPositions,
		private:  true,
		listKeys: []string{"openPositions", "openpositions"},
		opts:     applyResourceOptions(core.ResourceOpenPositions, opts),
	}}, nil
}

func (o *OpenPositions) Resource() core.Resource { return core.ResourceOpenPositions }

func (o *OpenPositions) PrimaryKey() []string { return nil }

func (o *OpenPositions) Extract(ctx context.Context, _ *CursorState) iter.Seq2[core.Record, error] {
	return o.extract(ctx)
}
