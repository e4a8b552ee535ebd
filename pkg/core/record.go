package core

// Record is one item as decoded from the exchange, possibly enriched with
// cursor metadata. Numbers are kept as json.Number so nothing is lost
// between decoding and persisting.
type Record map[string]any

// Synthesized field names added to normalized records.
const (
	FieldCursorTimestampMs = "_cursor_timestamp_ms"
	FieldCursorTimestamp   = "_cursor_timestamp"
	FieldRawData           = "raw_data"
)

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r)+3)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// StringField returns the value at key if it is a non-empty string.
func (r Record) StringField(key string) (string, bool) {
	s, ok := r[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// List returns the first value among keys that is a non-empty array.
func (r Record) List(keys ...string) []any {
	for _, key := range keys {
		if items, ok := r[key].([]any); ok && len(items) > 0 {
			return items
		}
	}
	return nil
}

// FirstString returns the first non-empty string among keys.
func (r Record) FirstString(keys ...string) string {
	for _, key := range keys {
		if s, ok := r.StringField(key); ok {
			return s
		}
	}
	return ""
}
