package greffe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalJSON re-encodes a JSON document into its canonical form: object
// keys sorted lexicographically at every nesting level, no whitespace,
// numbers kept in their original textual form, no HTML escaping. Two
// serializations of structurally identical content always come out byte
// identical, which is what makes the record digest deterministic.
func canonicalJSON(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("greffe: canonicalize: %w", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(x.String())
	case string:
		appendQuoted(buf, x)
	case []any:
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
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
			if err := writeCanonical(buf, x[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("greffe: cannot canonicalize %T", v)
	}
	return nil
}

// appendQuoted writes s as a JSON string without HTML escaping, so URLs in
// the canonical form stay legible.
func appendQuoted(buf *bytes.Buffer, s string) {
	var scratch bytes.Buffer
	enc := json.NewEncoder(&scratch)
	enc.SetEscapeHTML(false)
	enc.Encode(s)
	b := scratch.Bytes()
	// Encode appends a newline; drop it.
	buf.Write(b[:len(b)-1])
}
