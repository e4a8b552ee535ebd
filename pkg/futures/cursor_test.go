package futures

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCursorState(t *testing.T) {
	tests := []struct {
		name string
		data string
		want CursorState
	}{
		{"empty", ``, CursorState{}},
		{"empty object", `{}`, CursorState{}},
		{"string watermark", `{"last_timestamp":"1700000000000"}`, CursorState{LastTimestamp: 1700000000000}},
		{"numeric watermark", `{"last_timestamp":1700000000000}`, CursorState{LastTimestamp: 1700000000000}},
		{"null token", `{"last_timestamp":"1","continuation_token":null}`, CursorState{LastTimestamp: 1}},
		{"in-flight pass", `{"last_timestamp":"1","pending_timestamp":"5"}`, CursorState{LastTimestamp: 1, PendingTimestamp: 5}},
		{
			"fallback cursor",
			`{"before":"1700000000000","boundary_booking_uids":["a","b"]}`,
			CursorState{Before: 1700000000000, BoundaryBookingUIDs: []string{"a", "b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCursorState([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestDecodeCursorState_Token(t *testing.T) {
	got, err := DecodeCursorState([]byte(`{"continuation_token":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Token())
}

func TestDecodeCursorState_Invalid(t *testing.T) {
	_, err := DecodeCursorState([]byte(`{"last_timestamp":"soon"}`))
	assert.Error(t, err)
}

func TestCursorState_Encode(t *testing.T) {
	state := &CursorState{LastTimestamp: 1700000000000}
	state.setToken("next")

	data, err := state.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"last_timestamp":"1700000000000","continuation_token":"next"}`, string(data))

	state.setToken("")
	data, err = state.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"last_timestamp":"1700000000000","continuation_token":null}`, string(data))
}

func TestCursorState_Clone(t *testing.T) {
	state := &CursorState{BoundaryBookingUIDs: []string{"a"}}
	state.setToken("t")

	clone := state.Clone()
	clone.BoundaryBookingUIDs[0] = "b"
	*clone.ContinuationToken = "u"

	assert.Equal(t, "a", state.BoundaryBookingUIDs[0])
	assert.Equal(t, "t", state.Token())
}

func TestCursorState_HoldAndComplete(t *testing.T) {
	state := &CursorState{LastTimestamp: 100}

	state.hold(90)
	assert.Zero(t, state.PendingTimestamp)

	state.hold(150)
	assert.Equal(t, Millis(100), state.LastTimestamp)
	assert.Equal(t, Millis(150), state.PendingTimestamp)
	assert.Equal(t, int64(150), state.resumeMax(100))

	state.complete(150)
	assert.Equal(t, Millis(150), state.LastTimestamp)
	assert.Zero(t, state.PendingTimestamp)
}
