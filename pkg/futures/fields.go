package futures

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"

	"krakensync/pkg/core"
)

// Candidate timestamp paths per resource, tried in order.
var (
	ExecutionTimestampFields       = []string{"timestamp", "info.timestamp", "takerOrder.timestamp", "trade.timestamp"}
	AccountLogTimestampFields      = []string{"timestamp", "date"}
	PositionHistoryTimestampFields = []string{"timestamp", "event.timestamp"}
)

// Values above this are already milliseconds; below it they are seconds.
const millisThreshold = 1_000_000_000_000

var canonicalAPI = sonic.Config{SortMapKeys: true}.Froze()

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

var (
	decimalCtx = func() *apd.Context {
		ctx := apd.BaseContext.WithPrecision(40)
		ctx.Rounding = apd.RoundDown
		return ctx
	}()
	decimalThreshold = apd.New(millisThreshold, 0)
	decimalThousand  = apd.New(1000, 0)
)

// LookupNested walks a dot-separated path through nested objects. It
// reports false when a segment is missing, null or not an object.
func LookupNested(record map[string]any, path string) (any, bool) {
	var current any = record
	for _, part := range strings.Split(path, ".") {
		obj, ok := asObject(current)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

func asObject(v any) (map[string]any, bool) {
	switch obj := v.(type) {
	case map[string]any:
		return obj, obj != nil
	case core.Record:
		return obj, obj != nil
	}
	return nil, false
}

// CoerceTimestampMs converts epoch seconds or milliseconds (numbers or
// numeric strings) and ISO-8601 strings to epoch milliseconds.
func CoerceTimestampMs(raw any) (int64, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, false
	case int:
		return scaleInt(int64(v))
	case int32:
		return scaleInt(int64(v))
	case int64:
		return scaleInt(v)
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return scaleInt(int64(v))
	case float32:
		return scaleFloat(float64(v))
	case float64:
		return scaleFloat(v)
	case json.Number:
		return coerceString(string(v))
	case string:
		return coerceString(v)
	}
	return 0, false
}

func scaleInt(v int64) (int64, bool) {
	if v > millisThreshold {
		return v, true
	}
	if v < math.MinInt64/1000 {
		return 0, false
	}
	return v * 1000, true
}

func scaleFloat(v float64) (int64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if v <= millisThreshold {
		v *= 1000
	}
	if v >= math.MaxInt64 || v <= math.MinInt64 {
		return 0, false
	}
	return int64(v), true
}

func coerceString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if d, _, err := apd.NewFromString(s); err == nil {
		return scaleDecimal(d)
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

func scaleDecimal(d *apd.Decimal) (int64, bool) {
	if d.Form != apd.Finite {
		return 0, false
	}
	var out apd.Decimal
	if d.Cmp(decimalThreshold) > 0 {
		out.Set(d)
	} else if _, err := decimalCtx.Mul(&out, d, decimalThousand); err != nil {
		return 0, false
	}
	if _, err := decimalCtx.Quantize(&out, &out, 0); err != nil {
		return 0, false
	}
	ms, err := out.Int64()
	if err != nil {
		return 0, false
	}
	return ms, true
}

// MsToISO formats epoch milliseconds as UTC ISO-8601 with a Z suffix.
// Whole seconds carry no fraction, otherwise microseconds are printed.
func MsToISO(ms int64) string {
	t := time.UnixMilli(ms).UTC()
	if ms%1000 == 0 {
		return t.Format("2006-01-02T15:04:05Z")
	}
	return t.Format("2006-01-02T15:04:05.000000Z")
}

// ExtractTimestamp returns the first coercible timestamp among paths.
func ExtractTimestamp(record map[string]any, paths []string) (int64, bool) {
	for _, path := range paths {
		value, ok := LookupNested(record, path)
		if !ok {
			continue
		}
		if ts, ok := CoerceTimestampMs(value); ok {
			return ts, true
		}
	}
	return 0, false
}

// CanonicalJSON serializes v with sorted keys and no insignificant whitespace.
func CanonicalJSON(v any) (string, error) {
	out, err := canonicalAPI.MarshalToString(v)
	if err != nil {
		return "", core.NewExchangeError(core.ErrorTypeMalformedPayload, 0, "", "encode raw_data").
			WithCode(core.ErrCodeMalformedPayload).
			WithCause(err)
	}
	return out, nil
}

// EnrichRecord returns a shallow copy of record with cursor metadata and the
// canonical serialization of the original record.
func EnrichRecord(record core.Record, timestampMs int64) (core.Record, error) {
	raw, err := CanonicalJSON(record)
	if err != nil {
		return nil, err
	}
	out := record.Clone()
	out[core.FieldCursorTimestampMs] = timestampMs
	out[core.FieldCursorTimestamp] = MsToISO(timestampMs)
	out[core.FieldRawData] = raw
	return out, nil
}

// Snapshot returns a copy of record with only raw_data added.
func Snapshot(record core.Record) (core.Record, error) {
	raw, err := CanonicalJSON(record)
	if err != nil {
		return nil, err
	}
	out := record.Clone()
	out[core.FieldRawData] = raw
	return out, nil
}

func asRecord(v any) (core.Record, bool) {
	obj, ok := asObject(v)
	if !ok {
		return nil, false
	}
	return core.Record(obj), true
}
