package futures

import (
	"context"

	"github.com/rs/zerolog"

	"krakensync/pkg/core"
)

// normalizeFunc turns one raw item into a normalized record and its cursor
// timestamp. ok is false for items without a usable timestamp.
type normalizeFunc func(item core.Record) (record core.Record, ts int64, ok bool, err error)

// tokenPager walks an endpoint paginated only by continuation token. The
// watermark is advanced once the last page has been yielded.
type tokenPager struct {
	getter    Getter
	path      string
	private   bool
	listKeys  []string
	pageSize  int
	start     int64
	logger    zerolog.Logger
	normalize normalizeFunc
}

func (p *tokenPager) run(ctx context.Context, state *CursorState, yield func(core.Record, error) bool) {
	since := initialSince(p.start, state)
	token := state.Token()
	maxSeen := state.resumeMax(since)
	emitted := 0

	for {
		params := prepareParams(core.Params{"count": p.pageSize}, since, token)
		items, nextToken, err := fetchList(ctx, p.getter, core.NewRequest(p.path).SetQueryParams(params).SetPrivate(p.private), p.listKeys...)
		if err != nil {
			yield(nil, err)
			return
		}

		if len(items) == 0 {
			state.setToken("")
			state.complete(maxSeen)
			logStats(p.logger, emitted, state.LastTimestamp)
			return
		}

		for _, item := range items {
			raw, ok := asRecord(item)
			if !ok {
				continue
			}
			record, ts, ok, err := p.normalize(raw)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				continue
			}
			if ts > maxSeen {
				maxSeen = ts
			}
			if !yield(record, nil) {
				return
			}
			emitted++
		}

		if nextToken != "" {
			token = nextToken
			state.setToken(nextToken)
			state.hold(maxSeen)
			p.logger.Debug().Msg("continuation token received, fetching next page")
			continue
		}

		state.setToken("")
		state.complete(maxSeen)
		logStats(p.logger, emitted, state.LastTimestamp)
		return
	}
}
