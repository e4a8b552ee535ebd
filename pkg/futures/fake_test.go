package futures

import (
	"context"
	"maps"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"

	"krakensync/pkg/core"
)

var testJSON = sonic.Config{UseNumber: true}.Froze()

type fakeCall struct {
	path    string
	params  core.Params
	private bool
}

// fakeGetter replays canned payloads in order and records every call.
type fakeGetter struct {
	pages         []core.Record
	errs          map[int]error
	authenticated bool
	calls         []fakeCall
}

func (f *fakeGetter) Get(_ context.Context, req *core.Request) (core.Record, error) {
	i := len(f.calls)
	f.calls = append(f.calls, fakeCall{path: req.Path, params: maps.Clone(req.Query), private: req.Private})
	if err := f.errs[i]; err != nil {
		return nil, err
	}
	if i >= len(f.pages) {
		return core.Record{}, nil
	}
	return f.pages[i], nil
}

func (f *fakeGetter) Authenticated() bool {
	return f.authenticated
}

func payload(t *testing.T, body string) core.Record {
	t.Helper()
	var out core.Record
	require.NoError(t, testJSON.UnmarshalFromString(body, &out))
	return out
}

func drain(t *testing.T, ex Extractor, state *CursorState) []core.Record {
	t.Helper()
	var out []core.Record
	for record, err := range ex.Extract(context.Background(), state) {
		require.NoError(t, err)
		out = append(out, record)
	}
	return out
}

func fieldValues(records []core.Record, key string) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		s, _ := r.StringField(key)
		out = append(out, s)
	}
	return out
}
