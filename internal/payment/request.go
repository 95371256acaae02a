package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// maxCallbackBody bounds how much of a callback body is read.
const maxCallbackBody = 1 << 20

// CallbackRequest is an inbound provider callback or browser return,
// decoupled from the HTTP framework that received it.
type CallbackRequest struct {
	Method  string
	Query   url.Values
	Header  http.Header
	Body    map[string]any
	RawBody []byte
}

// ParseCallbackRequest reads r into a CallbackRequest. JSON bodies are decoded
// with numbers preserved; anything else is treated as a url-encoded form.
func ParseCallbackRequest(r *http.Request) (*CallbackRequest, error) {
	cr := &CallbackRequest{
		Method: strings.ToUpper(r.Method),
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   map[string]any{},
	}
	if r.Body == nil {
		return cr, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		return nil, fmt.Errorf("read callback body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	cr.RawBody = raw

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return cr, nil
	}
	if strings.Contains(r.Header.Get("Content-Type"), "json") || trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&cr.Body); err != nil {
			return nil, fmt.Errorf("decode callback json: %w", err)
		}
		return cr, nil
	}
	form, err := url.ParseQuery(string(trimmed))
	if err != nil {
		return nil, fmt.Errorf("decode callback form: %w", err)
	}
	for k, v := range form {
		if len(v) > 0 {
			cr.Body[k] = v[0]
		}
	}
	return cr, nil
}

// IsReturn reports whether this is a browser return rather than a server callback.
func (r *CallbackRequest) IsReturn() bool {
	return r.Method == http.MethodGet
}

// Payload merges query parameters and body fields; body fields win.
func (r *CallbackRequest) Payload() map[string]any {
	out := make(map[string]any, len(r.Query)+len(r.Body))
	for k, v := range r.Query {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	for k, v := range r.Body {
		out[k] = v
	}
	return out
}

// Input looks key up in the body, then the query string. Dotted keys
// descend into nested objects and arrays.
func (r *CallbackRequest) Input(key string) string {
	if v := stringAt(r.Body, key); v != "" {
		return v
	}
	return r.Query.Get(key)
}

// QueryValue returns a query string parameter only.
func (r *CallbackRequest) QueryValue(key string) string {
	return r.Query.Get(key)
}

// Has reports whether key is present in the body or the query string.
func (r *CallbackRequest) Has(key string) bool {
	if _, ok := lookup(r.Body, key); ok {
		return true
	}
	return r.Query.Has(key)
}

// lookup walks a dotted path such as "data.object.id" or "purchase_units.0.reference_id".
func lookup(m map[string]any, path string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m[path]; ok {
		return v, true
	}
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// stringAt returns the value at path rendered as a string, or "".
func stringAt(m map[string]any, path string) string {
	v, ok := lookup(m, path)
	if !ok {
		return ""
	}
	return toString(v)
}

// firstString returns the first non-empty value among paths.
func firstString(m map[string]any, paths ...string) string {
	for _, p := range paths {
		if v := stringAt(m, p); v != "" {
			return v
		}
	}
	return ""
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		if t {
			return "1"
		}
		return "0"
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// truthy interprets loosely typed boolean flags such as "1", "true" or true.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	}
	switch strings.ToLower(strings.TrimSpace(toString(v))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// decodeObject unmarshals a provider response body into a generic map.
func decodeObject(body []byte) map[string]any {
	out := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return map[string]any{}
	}
	return out
}

// copyMap returns a shallow copy of m, never nil.
func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
