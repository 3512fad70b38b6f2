package neo

import (
	"encoding/json"
	"math"
)

// Payload is a decoded vendor JSON object. Nothing in it is trusted: every
// accessor tolerates missing keys and unexpected types and falls back to a
// default instead of failing.
type Payload map[string]any

const statusContainerKey = "lastKnownState"

// StatusContainer returns the object holding the status sections. The
// latest-status endpoint nests them under "lastKnownState"; snapshots
// taken from other endpoints carry them at the root.
func (p Payload) StatusContainer() (Payload, error) {
	if p == nil {
		return nil, &MalformedPayloadError{Reason: "status payload is empty"}
	}
	v, ok := p[statusContainerKey]
	if !ok {
		return p, nil
	}
	container, ok := asPayload(v)
	if !ok {
		return nil, &MalformedPayloadError{Reason: statusContainerKey + " is not an object"}
	}
	return container, nil
}

// Object returns the nested object under key, or an empty Payload.
func (p Payload) Object(key string) Payload {
	if v, ok := asPayload(p[key]); ok {
		return v
	}
	return Payload{}
}

func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

func (p Payload) String(key, def string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return def
}

// OptString returns nil when key is absent or not a string.
func (p Payload) OptString(key string) *string {
	if s, ok := p[key].(string); ok {
		return &s
	}
	return nil
}

func (p Payload) Bool(key string, def bool) bool {
	if b, ok := p[key].(bool); ok {
		return b
	}
	return def
}

// Float returns nil when key is absent or not numeric.
func (p Payload) Float(key string) *float64 {
	if f, ok := asFloat(p[key]); ok {
		return &f
	}
	return nil
}

// Int returns nil when key is absent, not numeric, or not integral.
func (p Payload) Int(key string) *int {
	f, ok := asFloat(p[key])
	if !ok || f != math.Trunc(f) {
		return nil
	}
	i := int(f)
	return &i
}

// Objects returns the array under key. Entries that are not objects are
// kept as nil so that positions still line up with the vendor's indices.
func (p Payload) Objects(key string) []Payload {
	list, _ := p[key].([]any)
	out := make([]Payload, len(list))
	for i, v := range list {
		if obj, ok := asPayload(v); ok {
			out[i] = obj
		}
	}
	return out
}

// Bools returns the array under key with non-boolean entries read as false.
func (p Payload) Bools(key string) []bool {
	list, _ := p[key].([]any)
	out := make([]bool, len(list))
	for i, v := range list {
		out[i], _ = v.(bool)
	}
	return out
}

// Ints returns the array under key, or ok=false if any entry is not an
// integral number.
func (p Payload) Ints(key string) (out []int, ok bool) {
	list, isList := p[key].([]any)
	if !isList {
		return nil, false
	}
	out = make([]int, len(list))
	for i, v := range list {
		f, isNum := asFloat(v)
		if !isNum || f != math.Trunc(f) {
			return nil, false
		}
		out[i] = int(f)
	}
	return out, true
}

func asPayload(v any) (Payload, bool) {
	switch obj := v.(type) {
	case Payload:
		return obj, obj != nil
	case map[string]any:
		return Payload(obj), obj != nil
	}
	return nil, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
