package futures

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krakensync/pkg/core"
)

func TestTickers_Extract(t *testing.T) {
	getter := &fakeGetter{pages: []core.Record{
		payload(t, `{"result":"success","tickers":[{"symbol":"PI_XBTUSD","last":37000.5},{"symbol":"PF_ETHUSD"},"junk"]}`),
	}}
	ex := NewTickers(getter)

	records := drain(t, ex, &CursorState{})

	assert.Equal(t, []string{"PI_XBTUSD", "PF_ETHUSD"}, fieldValues(records, "symbol"))
	assert.Equal(t, `{"last":37000.5,"symbol":"PI_XBTUSD"}`, records[0][core.FieldRawData])
	assert.NotContains(t, records[0], core.FieldCursorTimestampMs)
	require.Len(t, getter.calls, 1)
	assert.Equal(t, PathTickers, getter.calls[0].path)
	assert.False(t, getter.calls[0].private)
	assert.Empty(t, getter.calls[0].params)
	assert.Equal(t, core.DispositionReplace, ex.Resource().Disposition())
}

func TestOpenPositions_RequiresAuth(t *testing.T) {
	_, err := NewOpenPositions(&fakeGetter{})
	assert.ErrorIs(t, err, core.ErrNoCredentials)
}

func TestOpenPositions_Extract(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"camel case", `{"openPositions":[{"symbol":"PI_XBTUSD","size":1}]}`},
		{"lower case", `{"openpositions":[{"symbol":"PI_XBTUSD","size":1}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getter := &fakeGetter{authenticated: true, pages: []core.Record{payload(t, tt.body)}}
			ex, err := NewOpenPositions(getter)
			require.NoError(t, err)

			records := drain(t, ex, nil)

			require.Len(t, records, 1)
			assert.Equal(t, "PI_XBTUSD", records[0]["symbol"])
			assert.True(t, getter.calls[0].private)
			assert.Equal(t, PathOpenPositions, getter.calls[0].path)
		})
	}
}

func TestOpenPositions_PermissionDeniedIsEmpty(t *testing.T) {
	getter := &fakeGetter{authenticated: true}
	ex, err := NewOpenPositions(getter)
	require.NoError(t, err)

	assert.Empty(t, drain(t, ex, nil))
}

func TestSnapshot_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	getter := &fakeGetter{errs: map[int]error{0: boom}}

	var got error
	for _, err := range NewTickers(getter).Extract(context.Background(), nil) {
		got = err
	}
	assert.ErrorIs(t, got, boom)
}

func TestNew(t *testing.T) {
	getter := &fakeGetter{authenticated: true}
	for _, r := range core.AllResources {
		ex, err := New(r, getter)
		require.NoError(t, err, r)
		assert.Equal(t, r, ex.Resource())
	}

	_, err := New(core.Resource("balances"), getter)
	assert.ErrorIs(t, err, core.ErrUnknownResource)

	anonymous := &fakeGetter{}
	_, err = New(core.ResourceExecutions, anonymous)
	assert.NoError(t, err)
	_, err = New(core.ResourceAccountLog, anonymous)
	assert.True(t, core.IsConfigError(err))
}

func TestParseStartTimestamp(t *testing.T) {
	ms, err := ParseStartTimestamp("2024-01-15T10:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1705314600000), ms)

	ms, err = ParseStartTimestamp("")
	require.NoError(t, err)
	assert.Zero(t, ms)

	_, err = ParseStartTimestamp("last tuesday")
	assert.True(t, core.IsConfigError(err))
}
