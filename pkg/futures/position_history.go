package futures

import (
	"context"
	"fmt"
	"iter"
	"maps"

	"krakensync/pkg/core"
)

// PositionHistory extracts position lifecycle events. Each element wraps a
// PositionUpdate under "event"; it is flattened one level, keeping the outer
// uid and timestamp.
type PositionHistory struct {
	getter Getter
	opts   *ResourceOptions
}

// NewPositionHistory returns the position history extractor. It requires an
// authenticated getter.
func NewPositionHistory(getter Getter, opts ...ResourceOption) (*PositionHistory, error) {
	if err := requireAuth(core.ResourcePositionHistory, getter); err != nil {
		return nil, err
	}
	return &PositionHistory{
		getter: getter,
		opts:   applyResourceOptions(core.ResourcePositionHistory, opts),
	}, nil
}

func (p *PositionHistory) Resource() core.Resource { return core.ResourcePositionHistory }

func (p *PositionHistory) PrimaryKey() []string { return []string{"executionUid", "uid"} }

func (p *PositionHistory) Extract(ctx context.Context, state *CursorState) iter.Seq2[core.Record, error] {
	return func(yield func(core.Record, error) bool) {
		pager := &tokenPager{
			getter:    p.getter,
			path:      PathPositionHistory,
			private:   true,
			listKeys:  []string{"elements"},
			pageSize:  p.opts.PageSize,
			start:     p.opts.StartTimestamp,
			logger:    p.opts.Logger,
			normalize: normalizePositionUpdate,
		}
		pager.run(ctx, state, yield)
	}
}

func flattenPositionUpdate(element core.Record) core.Record {
	event, ok := asRecord(element["event"])
	if !ok {
		return element.Clone()
	}
	update, ok := asRecord(event["PositionUpdate"])
	if !ok {
		return element.Clone()
	}
	out := core.Record{
		"uid":       element["uid"],
		"timestamp": element["timestamp"],
	}
	maps.Copy(out, update)
	return out
}

func normalizePositionUpdate(element core.Record) (core.Record, int64, bool, error) {
	normalized := flattenPositionUpdate(element)
	ts, ok := ExtractTimestamp(normalized, PositionHistoryTimestampFields)
	if !ok {
		return nil, 0, false, nil
	}

	raw, err := CanonicalJSON(normalized)
	if err != nil {
		return nil, 0, false, err
	}

	record := normalized.Clone()
	if isBlank(record["executionUid"]) {
		record["executionUid"] = SyntheticExecutionUID(record, ts)
	}
	record[core.FieldCursorTimestampMs] = ts
	record[core.FieldCursorTimestamp] = MsToISO(ts)
	record[core.FieldRawData] = raw
	return record, ts, true, nil
}

// SyntheticExecutionUID derives a stable identity for events without an
// execution, such as funding: "{updateReason}-{tradeable}-{timestampMs}".
func SyntheticExecutionUID(record core.Record, ts int64) string {
	return fmt.Sprintf("%s-%s-%d", fieldOr(record, "updateReason", "unknown"), fieldOr(record, "tradeable", "unknown"), ts)
}

func fieldOr(record core.Record, key, fallback string) string {
	v, ok := record[key]
	if !ok || v == nil {
		return fallback
	}
	return fmt.Sprint(v)
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	}
	return false
}
