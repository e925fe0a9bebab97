// Package scalar implements the tagged value type used to carry
// heterogeneous sensor and command data through the control plane.
package scalar

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind identifies which variant a Scalar holds.
type Kind int

const (
	KindNum Kind = iota
	KindBool
	KindText
	KindJSON
)

// Scalar is a tagged union over the value shapes field controllers and
// operator edits produce: numbers, booleans, free text, and arbitrary
// JSON blobs. Algorithms receive Scalar values and choose their own
// coercion via ParseSafeNumber / ParseSafeBoolean.
type Scalar struct {
	kind Kind
	num  float64
	b    bool
	text string
	json interface{}
}

func Num(f float64) Scalar  { return Scalar{kind: KindNum, num: f} }
func Bool(b bool) Scalar    { return Scalar{kind: KindBool, b: b} }
func Text(s string) Scalar  { return Scalar{kind: KindText, text: s} }
func JSON(v interface{}) Scalar { return Scalar{kind: KindJSON, json: v} }

func (s Scalar) Kind() Kind { return s.kind }

// FromAny wraps a loosely-typed value (as decoded from JSON or a
// time-series read) into the appropriate Scalar variant.
func FromAny(v interface{}) Scalar {
	switch t := v.(type) {
	case float64:
		return Num(t)
	case float32:
		return Num(float64(t))
	case int:
		return Num(float64(t))
	case int64:
		return Num(float64(t))
	case bool:
		return Bool(t)
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			return Bool(true)
		case "false":
			return Bool(false)
		default:
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return Num(f)
			}
			return Text(t)
		}
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return Num(f)
		}
		return Text(t.String())
	case nil:
		return Text("")
	default:
		return JSON(v)
	}
}

// ParseSafeNumber coerces a Scalar to float64, falling back to
// fallback when the value cannot be interpreted as a number.
func ParseSafeNumber(s Scalar, fallback float64) float64 {
	switch s.kind {
	case KindNum:
		return s.num
	case KindBool:
		if s.b {
			return 1
		}
		return 0
	case KindText:
		if f, err := strconv.ParseFloat(strings.TrimSpace(s.text), 64); err == nil {
			return f
		}
		return fallback
	default:
		return fallback
	}
}

// ParseSafeBoolean coerces a Scalar to bool, falling back to fallback
// when the value cannot be interpreted as a boolean. Accepts the two
// conventions downstream schemas use: 1.0/0.0 and "true"/"false".
func ParseSafeBoolean(s Scalar, fallback bool) bool {
	switch s.kind {
	case KindBool:
		return s.b
	case KindNum:
		return s.num != 0
	case KindText:
		switch strings.ToLower(strings.TrimSpace(s.text)) {
		case "true", "1":
			return true
		case "false", "0":
			return false
		default:
			return fallback
		}
	default:
		return fallback
	}
}

// AsText returns a best-effort string representation, used for audit
// logging where the original type doesn't matter.
func (s Scalar) AsText() string {
	switch s.kind {
	case KindNum:
		return strconv.FormatFloat(s.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(s.b)
	case KindText:
		return s.text
	default:
		b, _ := json.Marshal(s.json)
		return string(b)
	}
}

// MarshalJSON implements json.Marshaler, emitting the underlying value
// directly rather than the tagged wrapper.
func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case KindNum:
		return json.Marshal(s.num)
	case KindBool:
		return json.Marshal(s.b)
	case KindText:
		return json.Marshal(s.text)
	default:
		return json.Marshal(s.json)
	}
}

// UnmarshalJSON implements json.Unmarshaler by delegating to FromAny.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	var v interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*s = FromAny(v)
	return nil
}
