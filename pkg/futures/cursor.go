package futures

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/bytedance/sonic"
)

// Millis is an epoch-millisecond cursor value. Zero means unset. It is
// persisted as a decimal string and accepts numbers when read back.
type Millis int64

func (m Millis) MarshalJSON() ([]byte, error) {
	if m == 0 {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(strconv.FormatInt(int64(m), 10))), nil
}

func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	var raw any = json.Number(data)
	if data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("millis: %w", err)
		}
		if s == "" {
			*m = 0
			return nil
		}
		raw = s
	}
	ms, ok := coerceMillis(raw)
	if !ok {
		return fmt.Errorf("millis: cannot parse %s", data)
	}
	*m = Millis(ms)
	return nil
}

// coerceMillis reads a stored cursor value. Stored values are always
// milliseconds, so no seconds heuristic is applied to integers.
func coerceMillis(raw any) (int64, bool) {
	var s string
	switch v := raw.(type) {
	case json.Number:
		s = string(v)
	case string:
		s = v
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, true
	}
	return CoerceTimestampMs(raw)
}

// CursorState is the persisted pagination progress of one resource. Field
// names are stable across releases.
//
// LastTimestamp only moves when a pass over the endpoint completes. While a
// pass is in flight the newest timestamp emitted so far is kept in
// PendingTimestamp, so a resumed pass still requests everything above the
// old watermark.
type CursorState struct {
	LastTimestamp       Millis   `json:"last_timestamp,omitempty"`
	PendingTimestamp    Millis   `json:"pending_timestamp,omitempty"`
	ContinuationToken   *string  `json:"continuation_token"`
	Before              Millis   `json:"before,omitempty"`
	BoundaryBookingUIDs []string `json:"boundary_booking_uids,omitempty"`
}

// DecodeCursorState parses a persisted state blob. An empty blob is the
// initial state.
func DecodeCursorState(data []byte) (*CursorState, error) {
	state := &CursorState{}
	if len(bytes.TrimSpace(data)) == 0 {
		return state, nil
	}
	if err := sonic.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("decode cursor state: %w", err)
	}
	return state, nil
}

// Encode serializes the state for the sink.
func (s *CursorState) Encode() ([]byte, error) {
	return sonic.Marshal(s)
}

// Clone returns a deep copy.
func (s *CursorState) Clone() *CursorState {
	out := *s
	if s.ContinuationToken != nil {
		token := *s.ContinuationToken
		out.ContinuationToken = &token
	}
	out.BoundaryBookingUIDs = slices.Clone(s.BoundaryBookingUIDs)
	return &out
}

// Token returns the continuation token or the empty string.
func (s *CursorState) Token() string {
	if s.ContinuationToken == nil {
		return ""
	}
	return *s.ContinuationToken
}

func (s *CursorState) setToken(token string) {
	if token == "" {
		s.ContinuationToken = nil
		return
	}
	s.ContinuationToken = &token
}

// resumeMax is the running maximum a pass starts from.
func (s *CursorState) resumeMax(since int64) int64 {
	return max(since, int64(s.PendingTimestamp))
}

// hold records maxSeen as in-flight progress without moving the watermark.
func (s *CursorState) hold(maxSeen int64) {
	if maxSeen > int64(s.LastTimestamp) {
		s.PendingTimestamp = Millis(maxSeen)
	}
}

// complete ends a pass: maxSeen becomes the watermark.
func (s *CursorState) complete(maxSeen int64) {
	if maxSeen != 0 {
		s.LastTimestamp = Millis(maxSeen)
	}
	s.PendingTimestamp = 0
}

func (s *CursorState) clearBoundary() {
	s.BoundaryBookingUIDs = nil
}
