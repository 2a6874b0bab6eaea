// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package submissions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Values is an insertion-ordered mapping of field key to scalar value
// (string, float64, bool or nil). Form answers and location attributes use
// it so that re-encoding keeps the order in which questions were answered.
type Values struct {
	keys []string
	vals map[string]any
}

// NewValues builds Values from alternating key, value pairs.
func NewValues(kv ...any) Values {
	var v Values
	for i := 0; i+1 < len(kv); i += 2 {
		k, _ := kv[i].(string)
		v.Set(k, kv[i+1])
	}
	return v
}

// Len returns the number of keys.
func (v Values) Len() int { return len(v.keys) }

// Keys returns keys in insertion order.
func (v Values) Keys() []string { return slices.Clone(v.keys) }

// Get returns the value stored under key.
func (v Values) Get(key string) (any, bool) {
	val, ok := v.vals[key]
	return val, ok
}

// Set stores a scalar under key, keeping the original position of an
// existing key. Integers are normalized to float64.
func (v *Values) Set(key string, val any) {
	if v.vals == nil {
		v.vals = make(map[string]any)
	}
	if _, ok := v.vals[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.vals[key] = normalizeScalar(val)
}

// Delete removes key.
func (v *Values) Delete(key string) {
	if _, ok := v.vals[key]; !ok {
		return
	}
	delete(v.vals, key)
	v.keys = slices.DeleteFunc(v.keys, func(k string) bool { return k == key })
}

// Map returns an unordered copy.
func (v Values) Map() map[string]any {
	out := make(map[string]any, len(v.keys))
	for k, val := range v.vals {
		out[k] = val
	}
	return out
}

// Equal reports whether both hold the same keys in the same order with the
// same values.
func (v Values) Equal(o Values) bool {
	if !slices.Equal(v.keys, o.keys) {
		return false
	}
	for _, k := range v.keys {
		if v.vals[k] != o.vals[k] {
			return false
		}
	}
	return true
}

func normalizeScalar(val any) any {
	switch x := val.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	}
	return val
}

func isScalar(val any) bool {
	switch val.(type) {
	case nil, string, float64, bool:
		return true
	}
	return false
}

// MarshalJSON writes an object with keys in insertion order.
func (v Values) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range v.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(v.vals[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, keeping key order. Nested objects and
// arrays are rejected.
func (v *Values) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*v = Values{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("values: expected object, got %v", tok)
	}

	out := Values{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("values: expected key, got %v", kt)
		}
		vt, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := vt.(json.Delim); ok {
			return fmt.Errorf("values: field %q holds %v, only scalars are allowed", key, d)
		}
		out.Set(key, vt)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*v = out
	return nil
}
