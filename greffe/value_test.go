package greffe

import (
	"encoding/json"
	"testing"
)

func TestValue_RoundTripPreservesDigits(t *testing.T) {
	// WHAT: A number survives decode and re-encode digit for digit.
	// WHY: The digest is computed over the textual form; 12.50 and 12.5
	// are different bytes even though they are the same number.
	v, err := ParseValue([]byte(`12.50`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != "12.50" {
		t.Errorf("got %s, want 12.50", out)
	}
}

func TestValue_ZeroValueIsNull(t *testing.T) {
	// WHAT: The zero Value serializes as JSON null.
	// WHY: An absent extracted value must never decode as "" or 0.
	var v Value
	if !v.IsNull() {
		t.Error("zero value should be null")
	}
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != "null" {
		t.Errorf("got %s, want null", out)
	}
}

func TestValue_Kinds(t *testing.T) {
	// WHAT: ParseValue tags each JSON shape with its kind.
	// WHY: Callers branch on the kind to interpret the payload.
	cases := []struct {
		input string
		want  Kind
	}{
		{`null`, KindNull},
		{`"hello"`, KindString},
		{`42`, KindNumber},
		{`true`, KindBool},
		{`[1,2]`, KindArray},
		{`{"a":1}`, KindObject},
	}
	for _, tc := range cases {
		v, err := ParseValue([]byte(tc.input))
		if err != nil {
			t.Fatalf("parse %s: %v", tc.input, err)
		}
		if v.Kind() != tc.want {
			t.Errorf("ParseValue(%s).Kind() = %v, want %v", tc.input, v.Kind(), tc.want)
		}
	}
}

func TestValue_MarshalSortsObjectKeys(t *testing.T) {
	// WHAT: Object keys come out sorted regardless of construction order.
	// WHY: Map iteration order must never leak into stored bytes.
	v := ObjectValue(map[string]Value{
		"zeta":  IntValue(1),
		"alpha": IntValue(2),
		"mid":   IntValue(3),
	})
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"alpha":2,"mid":3,"zeta":1}`
	if string(out) != want {
		t.Errorf("got %s, want %s", out, want)
	}
}

func TestValue_NestedRoundTrip(t *testing.T) {
	// WHAT: A nested document round-trips to its sorted compact form.
	// WHY: Extracted values are frequently objects with arrays inside.
	in := []byte(`{"price": "12.50", "tags": ["a", "b"], "stock": {"count": 3, "available": true}}`)
	v, err := ParseValue(in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"price":"12.50","stock":{"available":true,"count":3},"tags":["a","b"]}`
	if string(out) != want {
		t.Errorf("got %s, want %s", out, want)
	}
}

func TestValue_Text(t *testing.T) {
	// WHAT: Text returns the bare string for strings and compact JSON
	// for everything else.
	// WHY: Reports and logs need a human-readable rendition.
	if got := StringValue("42.00 EUR").Text(); got != "42.00 EUR" {
		t.Errorf("string text: got %q", got)
	}
	if got := ArrayValue(IntValue(1), IntValue(2)).Text(); got != "[1,2]" {
		t.Errorf("array text: got %q", got)
	}
	if got := NullValue().Text(); got != "null" {
		t.Errorf("null text: got %q", got)
	}
}
