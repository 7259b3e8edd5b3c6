package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Well-known row keys. The backend owns the schema, so code must not assume
// these are the only keys present; matching on the UDM/raw-field keys is by
// substring because the backend prefixes them with display decorations.
const (
	KeyUDMField     = "UDM Field Name"
	KeyRawLogField  = "RawLog Field Name"
	KeyReasoning    = "LLM Reasoning"
	KeyPredicted    = "Predicted Keys"
	KeyConfidence   = "Confidence Score"
	OverrideMessage = "Manually overridden by user"
)

// Row is one mapping result with backend-defined keys. Key order is preserved
// from the wire so derived columns are stable within a generation.
type Row struct {
	keys   []string
	values map[string]any
}

// NewRow returns an empty row.
func NewRow() Row {
	return Row{values: map[string]any{}}
}

// Set stores a value, appending the key if it is new.
func (r *Row) Set(key string, value any) {
	if r.values == nil {
		r.values = map[string]any{}
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value for key and whether it is present.
func (r Row) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Equal reports whether two rows carry the same keys in the same order with
// values that render to the same text.
func (r Row) Equal(o Row) bool {
	if len(r.keys) != len(o.keys) {
		return false
	}
	for i, k := range r.keys {
		if o.keys[i] != k {
			return false
		}
		if stringValue(r.values[k]) != stringValue(o.values[k]) {
			return false
		}
	}
	return true
}

// Cell renders the value stored under key as display text, matching the
// delimited export's formatting.
func (r Row) Cell(key string) string {
	v, _ := r.Get(key)
	return stringValue(v)
}

// Keys returns the row's keys in wire order.
func (r Row) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of keys in the row.
func (r Row) Len() int {
	return len(r.keys)
}

// Clone returns an independent copy of the row. Values are shared, which is
// safe because rows are never mutated in place by the engine.
func (r Row) Clone() Row {
	out := Row{
		keys:   make([]string, len(r.keys)),
		values: make(map[string]any, len(r.values)),
	}
	copy(out.keys, r.keys)
	for k, v := range r.values {
		out.values[k] = v
	}
	return out
}

// KeyContaining returns the first key whose name contains sub, in wire order.
func (r Row) KeyContaining(sub string) (string, bool) {
	for _, k := range r.keys {
		if strings.Contains(k, sub) {
			return k, true
		}
	}
	return "", false
}

// UDMField returns the row's UDM field value, or "" when unmapped.
func (r Row) UDMField() string {
	if k, ok := r.KeyContaining(KeyUDMField); ok {
		return stringValue(r.values[k])
	}
	return ""
}

// RawLogField returns the row's raw-log field value. A missing or null value
// means the UDM field has no direct source in the sample.
func (r Row) RawLogField() string {
	if k, ok := r.KeyContaining(KeyRawLogField); ok {
		return stringValue(r.values[k])
	}
	return ""
}

// Reasoning returns the automated (or override sentinel) reasoning text.
func (r Row) Reasoning() string {
	return stringValue(r.values[KeyReasoning])
}

// Confidence returns the row's integer confidence score. ok is false when the
// row carries no parseable score.
func (r Row) Confidence() (int, bool) {
	k, found := r.KeyContaining("Confidence")
	if !found {
		return 0, false
	}
	switch v := r.values[k].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return int(f), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Prediction is one suggested alternative for a row's UDM field.
type Prediction struct {
	UDMField  string
	Reasoning string
}

// PredictedKeys parses the row's top suggestions, preserving order. Rows
// without suggestions (including overridden rows) return nil.
func (r Row) PredictedKeys() []Prediction {
	raw, ok := r.values[KeyPredicted]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []Prediction
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var p Prediction
		for k, v := range m {
			lk := strings.ToLower(k)
			switch {
			case strings.Contains(lk, "reason"):
				p.Reasoning = stringValue(v)
			case strings.Contains(lk, "udm") || strings.Contains(lk, "field"):
				p.UDMField = stringValue(v)
			}
		}
		if p.UDMField != "" {
			out = append(out, p)
		}
	}
	return out
}

// UnmarshalJSON decodes a JSON object preserving key order.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("mapping row: expected JSON object, got %v", tok)
	}
	*r = NewRow()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("mapping row: non-string key %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		r.Set(key, value)
	}
	// consume closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON encodes the row in key order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.values[k])
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

// stringValue renders a cell for display and export. Missing and null values
// become the empty string, never the literal "null".
func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
