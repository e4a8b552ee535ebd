package core

import (
	"fmt"
	"maps"
	"net/url"
	"strconv"
)

// Params holds query parameters. Nil values are dropped when encoding.
type Params map[string]any

// Request describes one logical GET against the exchange.
type Request struct {
	Path    string `json:"path"`
	Query   Params `json:"query,omitempty"`
	Private bool   `json:"private"`
}

// NewRequest returns a public request for path with no query.
func NewRequest(path string) *Request {
	return &Request{
		Path:  path,
		Query: make(Params),
	}
}

func (r *Request) SetQuery(key string, value any) *Request {
	if r.Query == nil {
		r.Query = make(Params)
	}
	r.Query[key] = value
	return r
}

func (r *Request) SetQueryParams(params Params) *Request {
	if r.Query == nil {
		r.Query = make(Params)
	}
	maps.Copy(r.Query, params)
	return r
}

func (r *Request) SetPrivate(private bool) *Request {
	r.Private = private
	return r
}

// QueryString returns the query encoded with keys sorted and nil values
// removed. The same string is sent on the wire and fed to the signer.
func (r *Request) QueryString() string {
	return EncodeParams(r.Query)
}

// EncodeParams URL-encodes params in key order, skipping nil values.
func EncodeParams(params Params) string {
	values := url.Values{}
	for k, v := range params {
		s, ok := paramString(v)
		if !ok {
			continue
		}
		values.Set(k, s)
	}
	return values.Encode()
}

func paramString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case *string:
		if val == nil {
			return "", false
		}
		return *val, true
	case *int64:
		if val == nil {
			return "", false
		}
		return strconv.FormatInt(*val, 10), true
	case string:
		return val, true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return fmt.Sprintf("%v", val), true
	}
}
