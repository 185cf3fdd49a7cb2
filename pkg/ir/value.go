package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is the schemaless tagged-union type used for IRStep.Params and
// IRStep.Constraints: the spec's "dynamic typing / free-form config" at
// the edges resolves to this type internally rather than a bare
// map[string]interface{}, so callers can inspect what kind of value a
// key holds without a type assertion.
type Value struct {
	kind kind
	str  string
	num  json.Number
	b    bool
	list []Value
	obj  map[string]Value
}

type kind int

const (
	KindNull kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

func Null() Value                   { return Value{kind: KindNull} }
func String(s string) Value         { return Value{kind: KindString, str: s} }
func Bool(b bool) Value             { return Value{kind: KindBool, b: b} }
func Int(n int64) Value             { return Value{kind: KindNumber, num: json.Number(fmt.Sprintf("%d", n))} }
func Number(n json.Number) Value    { return Value{kind: KindNumber, num: n} }
func List(vs []Value) Value         { return Value{kind: KindList, list: vs} }
func Map(m map[string]Value) Value  { return Value{kind: KindMap, obj: m} }

func (v Value) Kind() kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	n, err := v.num.Int64()
	return n, err == nil
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.obj, true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// Contains reports whether a map-kind value has the given key
// (case-sensitive).
func (v Value) Contains(key string) bool {
	if v.kind != KindMap {
		return false
	}
	_, ok := v.obj[key]
	return ok
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if v.num == "" {
			return []byte("0"), nil
		}
		return []byte(v.num.String()), nil
	case KindBool:
		if v.b {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := elem.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindMap:
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("ir: unknown Value kind %d", v.kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromInterface(raw)
	return nil
}

func fromInterface(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case json.Number:
		return Number(t)
	case []interface{}:
		out := make([]Value, len(t))
		for i, elem := range t {
			out[i] = fromInterface(elem)
		}
		return List(out)
	case map[string]interface{}:
		out := make(map[string]Value, len(t))
		for k, elem := range t {
			out[k] = fromInterface(elem)
		}
		return Map(out)
	default:
		return Null()
	}
}

// String renders a debug/grep-friendly representation; never used for
// hashing (canonicalize.JCS marshals Value via MarshalJSON directly).
func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return "<invalid>"
	}
	return string(b)
}
