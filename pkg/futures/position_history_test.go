package futures

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krakensync/pkg/core"
)

func TestPositionHistory_RequiresAuth(t *testing.T) {
	_, err := NewPositionHistory(&fakeGetter{})
	assert.True(t, core.IsConfigError(err))
}

func TestPositionHistory_SynthesizesFundingKey(t *testing.T) {
	getter := &fakeGetter{authenticated: true, pages: []core.Record{
		payload(t, `{"elements":[{
			"uid":"outer-1",
			"timestamp":1700000000000,
			"event":{"PositionUpdate":{"updateReason":"funding","tradeable":"PI_XBTUSD","realizedFunding":"-0.01"}}
		}]}`),
	}}
	ex, err := NewPositionHistory(getter)
	require.NoError(t, err)
	state := &CursorState{}

	records := drain(t, ex, state)

	require.Len(t, records, 1)
	record := records[0]
	assert.Equal(t, "funding-PI_XBTUSD-1700000000000", record["executionUid"])
	assert.Equal(t, "outer-1", record["uid"])
	assert.Equal(t, "-0.01", record["realizedFunding"])
	assert.NotContains(t, record, "event")
	assert.Equal(t,
		`{"realizedFunding":"-0.01","timestamp":1700000000000,"tradeable":"PI_XBTUSD","uid":"outer-1","updateReason":"funding"}`,
		record[core.FieldRawData])
	assert.Equal(t, "2023-11-14T22:13:20Z", record[core.FieldCursorTimestamp])
	assert.Equal(t, Millis(1700000000000), state.LastTimestamp)
	assert.Equal(t, PathPositionHistory, getter.calls[0].path)
	assert.True(t, getter.calls[0].private)
}

func TestPositionHistory_KeepsExecutionUID(t *testing.T) {
	getter := &fakeGetter{authenticated: true, pages: []core.Record{
		payload(t, `{"elements":[{
			"uid":"outer-2",
			"timestamp":1700000001000,
			"event":{"PositionUpdate":{"executionUid":"exec-9","updateReason":"trade","tradeable":"PF_ETHUSD"}}
		}]}`),
	}}
	ex, err := NewPositionHistory(getter)
	require.NoError(t, err)

	records := drain(t, ex, &CursorState{})

	require.Len(t, records, 1)
	assert.Equal(t, "exec-9", records[0]["executionUid"])
}

func TestPositionHistory_UnknownParts(t *testing.T) {
	record := core.Record{"updateReason": nil}
	assert.Equal(t, "unknown-unknown-42", SyntheticExecutionUID(record, 42))
}

func TestPositionHistory_UnwrappedElement(t *testing.T) {
	getter := &fakeGetter{authenticated: true, pages: []core.Record{
		payload(t, `{"elements":[
			{"uid":"plain","event":{"timestamp":1700000002000}},
			{"uid":"no-time","event":{"PositionUpdate":{"tradeable":"PI_XBTUSD"}}}
		]}`),
	}}
	ex, err := NewPositionHistory(getter)
	require.NoError(t, err)

	records := drain(t, ex, &CursorState{})

	require.Len(t, records, 1)
	assert.Equal(t, "plain", records[0]["uid"])
	assert.Equal(t, int64(1700000002000), records[0][core.FieldCursorTimestampMs])
	assert.Equal(t, "unknown-unknown-1700000002000", records[0]["executionUid"])
}

func TestPositionHistory_TwoPages(t *testing.T) {
	getter := &fakeGetter{authenticated: true, pages: []core.Record{
		payload(t, `{"elements":[{"uid":"1","timestamp":1700000000000,"event":{"PositionUpdate":{"executionUid":"x"}}}],"continuation_token":"abc"}`),
		payload(t, `{"elements":[{"uid":"2","timestamp":1700000003000,"event":{"PositionUpdate":{"executionUid":"y"}}}]}`),
	}}
	ex, err := NewPositionHistory(getter)
	require.NoError(t, err)
	state := &CursorState{}

	records := drain(t, ex, state)

	assert.Len(t, records, 2)
	assert.Len(t, getter.calls, 2)
	assert.Nil(t, state.ContinuationToken)
	assert.Equal(t, Millis(1700000003000), state.LastTimestamp)
}
