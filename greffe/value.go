package greffe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind enumerates the JSON shapes an extracted value can take.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "unknown"
}

// Value is the extracted payload of a record: a closed, serializable sum
// over the JSON shapes. Numbers are carried as json.Number so that a value
// loaded from disk re-serializes with the exact digits it was stored with,
// which the record digest depends on. The zero Value is JSON null.
type Value struct {
	kind Kind
	str  string
	num  json.Number
	b    bool
	arr  []Value
	obj  map[string]Value
}

// NullValue returns the JSON null value.
func NullValue() Value { return Value{} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue wraps a number in its textual form.
func NumberValue(n json.Number) Value { return Value{kind: KindNumber, num: n} }

// IntValue wraps an integer.
func IntValue(i int64) Value {
	return Value{kind: KindNumber, num: json.Number(fmt.Sprintf("%d", i))}
}

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// ArrayValue wraps a sequence of values.
func ArrayValue(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// ObjectValue wraps a map of values. The map is used as given; callers must
// not mutate it afterwards.
func ObjectValue(fields map[string]Value) Value { return Value{kind: KindObject, obj: fields} }

// ParseValue decodes arbitrary JSON into a Value.
func ParseValue(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

// Kind reports the shape of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is JSON null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Text returns the underlying string for KindString values, and the
// compact JSON rendition for everything else. Display helper; the digest
// never goes through here.
func (v Value) Text() string {
	if v.kind == KindString {
		return v.str
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}

// MarshalJSON writes the value back out as plain JSON. Object keys are
// emitted sorted so the in-memory construction order never shows through.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) write(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		appendQuoted(buf, v.str)
	case KindNumber:
		if v.num == "" {
			buf.WriteString("0")
			return nil
		}
		buf.WriteString(v.num.String())
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.write(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			appendQuoted(buf, k)
			buf.WriteByte(':')
			if err := v.obj[k].write(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("greffe: cannot serialize value kind %d", v.kind)
	}
	return nil
}

// UnmarshalJSON decodes any JSON into the tagged form. Numbers are kept
// textual (UseNumber) to survive round trips digit for digit.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("greffe: decode value: %w", err)
	}
	parsed, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(x), nil
	case json.Number:
		return NumberValue(x), nil
	case bool:
		return BoolValue(x), nil
	case []any:
		items := make([]Value, len(x))
		for i, e := range x {
			v, err := fromAny(e)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{kind: KindArray, arr: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(x))
		for k, e := range x {
			v, err := fromAny(e)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Value{kind: KindObject, obj: fields}, nil
	}
	return Value{}, fmt.Errorf("greffe: unsupported value type %T", raw)
}
