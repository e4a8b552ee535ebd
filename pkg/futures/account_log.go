package futures

import (
	"context"
	"iter"
	"slices"

	"krakensync/pkg/core"
)

// maxBeforeHistory is how many consecutive fallback boundaries are kept.
// When all of them are equal pagination is making no progress.
const maxBeforeHistory = 3

// AccountLog extracts ledger entries. It follows continuation tokens when the
// API returns them and otherwise pages backwards with the inclusive "before"
// parameter.
//
// Two filters guard against replaying inclusive boundaries. After a resume
// without a token, entries at or below the resumed watermark are dropped.
// During fallback paging, entries at the previous boundary timestamp whose
// booking_uid was already emitted are dropped.
type AccountLog struct {
	getter Getter
	opts   *ResourceOptions
}

// NewAccountLog returns the account log extractor. It requires an
// authenticated getter.
func NewAccountLog(getter Getter, opts ...ResourceOption) (*AccountLog, error) {
	if err := requireAuth(core.ResourceAccountLog, getter); err != nil {
		return nil, err
	}
	return &AccountLog{
		getter: getter,
		opts:   applyResourceOptions(core.ResourceAccountLog, opts),
	}, nil
}

func (a *AccountLog) Resource() core.Resource { return core.ResourceAccountLog }

func (a *AccountLog) PrimaryKey() []string { return []string{"booking_uid"} }

type logEntry struct {
	ts  int64
	uid string
}

func (a *AccountLog) Extract(ctx context.Context, state *CursorState) iter.Seq2[core.Record, error] {
	return func(yield func(core.Record, error) bool) {
		a.run(ctx, state, yield)
	}
}

func (a *AccountLog) run(ctx context.Context, state *CursorState, yield func(core.Record, error) bool) {
	logger := a.opts.Logger
	pageSize := a.opts.PageSize

	resumed := state.LastTimestamp != 0
	since := initialSince(a.opts.StartTimestamp, state)
	token := state.Token()
	before := int64(state.Before)
	maxSeen := state.resumeMax(since)
	emitted := 0

	var floor int64
	if resumed && since != 0 && token == "" {
		floor = since
	}

	lastBefore := before
	boundary := make(map[string]bool, len(state.BoundaryBookingUIDs))
	if lastBefore != 0 {
		for _, uid := range state.BoundaryBookingUIDs {
			boundary[uid] = true
		}
	} else {
		state.clearBoundary()
	}

	var seenBefore []int64

	for {
		base := core.Params{"count": pageSize}
		if before != 0 {
			base["before"] = before
		}
		params := prepareParams(base, since, token)

		logs, nextToken, err := fetchList(ctx, a.getter, core.NewRequest(PathAccountLog).SetQueryParams(params).SetPrivate(true), "logs", "accountLog")
		if err != nil {
			yield(nil, err)
			return
		}

		if len(logs) == 0 {
			state.setToken("")
			state.Before = 0
			state.complete(maxSeen)
			logger.Info().Msg("no more records returned by api")
			logStats(logger, emitted, state.LastTimestamp)
			return
		}

		var page []logEntry
		for _, item := range logs {
			raw, ok := asRecord(item)
			if !ok {
				continue
			}
			ts, ok := ExtractTimestamp(raw, AccountLogTimestampFields)
			if !ok {
				continue
			}
			if floor != 0 && ts <= floor {
				continue
			}
			uid, _ := raw.StringField("booking_uid")
			if lastBefore != 0 && ts == lastBefore && uid != "" && boundary[uid] {
				continue
			}

			record, err := EnrichRecord(raw, ts)
			if err != nil {
				yield(nil, err)
				return
			}
			page = append(page, logEntry{ts: ts, uid: uid})
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
			state.Before = 0
			before = 0
			lastBefore = 0
			clear(boundary)
			state.clearBoundary()
			seenBefore = seenBefore[:0]
			state.hold(maxSeen)
			logger.Debug().Msg("continuation token received, fetching next page")
			continue
		}

		state.setToken("")
		clear(boundary)
		state.clearBoundary()

		earliest := earliestOf(page)
		if since != 0 && len(page) > 0 && earliest <= since {
			logger.Info().
				Str("since", MsToISO(since)).
				Str("earliest", MsToISO(earliest)).
				Msg("reached start timestamp, backfill complete")
			state.Before = 0
			state.complete(maxSeen)
			logStats(logger, emitted, state.LastTimestamp)
			return
		}

		if len(logs) >= pageSize && len(page) > 0 {
			seenBefore = append(seenBefore, earliest)
			if len(seenBefore) > maxBeforeHistory {
				seenBefore = seenBefore[1:]
			}
			if len(seenBefore) == maxBeforeHistory && allEqual(seenBefore) {
				logger.Warn().
					Str("before", MsToISO(earliest)).
					Int("repeats", maxBeforeHistory).
					Msg("infinite loop detected, same boundary timestamp returned repeatedly; stopping pagination")
				state.Before = 0
				state.complete(maxSeen)
				logStats(logger, emitted, state.LastTimestamp)
				return
			}

			before = earliest
			lastBefore = earliest
			for _, e := range page {
				if e.ts == earliest && e.uid != "" {
					boundary[e.uid] = true
				}
			}
			state.BoundaryBookingUIDs = sortedKeys(boundary)
			state.Before = Millis(before)
			state.hold(maxSeen)
			token = ""
			logger.Debug().
				Str("before", MsToISO(earliest)).
				Int("records_so_far", emitted).
				Msg("using fallback pagination")
			continue
		}

		event := logger.Info().Int("page_len", len(logs)).Int("page_size", pageSize)
		if len(page) > 0 {
			event = event.Str("earliest", MsToISO(earliest))
		}
		event.Msg("pagination complete, last page was partial")

		state.Before = 0
		state.complete(maxSeen)
		logStats(logger, emitted, state.LastTimestamp)
		return
	}
}

func earliestOf(page []logEntry) int64 {
	if len(page) == 0 {
		return 0
	}
	earliest := page[0].ts
	for _, e := range page[1:] {
		earliest = min(earliest, e.ts)
	}
	return earliest
}

func allEqual(values []int64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
