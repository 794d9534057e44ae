package greffe

import (
	"strings"
	"testing"
	"time"
)

func testRecord() Record {
	return Record{
		ID:          "ev_0001",
		ChainID:     "price-watch",
		SourceURL:   "https://shop.example.com/item/42",
		ExtractedAt: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		ExtractedValue: ObjectValue(map[string]Value{
			"price":    StringValue("12.50"),
			"currency": StringValue("EUR"),
		}),
		Anchors: []Anchor{
			BuildAnchor("#price > span", "/html/body/div[1]/span", "12.50 EUR", &BoundingBox{X: 10, Y: 20, Width: 80, Height: 16}),
		},
		PreviousHash: GenesisSentinel,
	}
}

func TestHashRecord_Deterministic(t *testing.T) {
	// WHAT: Hashing the same record twice yields the same lowercase hex.
	// WHY: A digest that drifts between runs can never be verified.
	r := testRecord()
	h1, err := hashRecord(&r, r.PreviousHash)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := hashRecord(&r, r.PreviousHash)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("digest not stable: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("digest length: got %d, want 64", len(h1))
	}
	if h1 != strings.ToLower(h1) {
		t.Error("digest must be lowercase hex")
	}
}

func TestHashRecord_IgnoresValueConstructionOrder(t *testing.T) {
	// WHAT: Two records whose object values were built in different map
	// order hash identically.
	// WHY: Canonicalization, not construction order, defines the bytes.
	a := testRecord()
	b := testRecord()
	b.ExtractedValue = ObjectValue(map[string]Value{
		"currency": StringValue("EUR"),
		"price":    StringValue("12.50"),
	})
	ha, err := hashRecord(&a, a.PreviousHash)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hb, err := hashRecord(&b, b.PreviousHash)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if ha != hb {
		t.Errorf("equivalent records hash differently: %s vs %s", ha, hb)
	}
}

func TestHashRecord_SensitiveToEveryField(t *testing.T) {
	// WHAT: Changing any covered field changes the digest.
	// WHY: The digest is the tamper seal; an uncovered field is a field
	// an attacker may rewrite for free.
	base := testRecord()
	baseHash, err := hashRecord(&base, base.PreviousHash)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	mutations := map[string]func(*Record){
		"id":         func(r *Record) { r.ID = "ev_0002" },
		"chain_id":   func(r *Record) { r.ChainID = "other-chain" },
		"source_url": func(r *Record) { r.SourceURL = "https://evil.example.com" },
		"extracted_at": func(r *Record) {
			r.ExtractedAt = r.ExtractedAt.Add(time.Second)
		},
		"extracted_value": func(r *Record) { r.ExtractedValue = StringValue("99.99") },
		"anchors": func(r *Record) {
			r.Anchors = []Anchor{BuildAnchor("#other", "", "", nil)}
		},
		"screenshot": func(r *Record) {
			r.Screenshot = &ScreenshotMeta{Hash: "abc", Path: "screenshots/x.png", Format: FormatPNG}
		},
		"previous_hash": func(r *Record) {
			r.PreviousHash = strings.Repeat("ab", 32)
		},
	}

	for name, mutate := range mutations {
		r := testRecord()
		mutate(&r)
		h, err := hashRecord(&r, r.PreviousHash)
		if err != nil {
			t.Fatalf("%s: hash: %v", name, err)
		}
		if h == baseHash {
			t.Errorf("%s: mutation did not change the digest", name)
		}
	}
}

func TestHashRecord_ExcludesRecordHash(t *testing.T) {
	// WHAT: The stored RecordHash field does not feed its own digest.
	// WHY: The digest must be computable before the field is set.
	r := testRecord()
	before, err := hashRecord(&r, r.PreviousHash)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	r.RecordHash = before
	after, err := hashRecord(&r, r.PreviousHash)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if before != after {
		t.Error("setting RecordHash must not change the digest")
	}
}

func TestVerifyRecord(t *testing.T) {
	// WHAT: verifyRecord accepts an untouched record and rejects a
	// tampered one.
	// WHY: This check is the per-record half of chain verification.
	r := testRecord()
	h, err := hashRecord(&r, r.PreviousHash)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	r.RecordHash = h

	ok, err := verifyRecord(&r)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Error("untouched record should verify")
	}

	r.ExtractedValue = StringValue("tampered")
	ok, err = verifyRecord(&r)
	if err != nil {
		t.Fatalf("verify tampered: %v", err)
	}
	if ok {
		t.Error("tampered record should not verify")
	}
}
