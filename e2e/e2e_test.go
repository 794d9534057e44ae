// Package e2e drives the evidence stack end to end: vault, chain service,
// snapshot capturer, inspector, connectivity router and report renderer
// wired together the way cmd/constat wires them.
package e2e

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/constat/greffe"
	"github.com/hazyhaar/constat/snapshot"
	"github.com/hazyhaar/constat/vault"
)

// evidenceStack is the collaborator set a running service holds.
type evidenceStack struct {
	root   string
	store  *vault.Vault
	chains *greffe.Service
	shots  *snapshot.Capturer
}

func newEvidenceStack(t *testing.T) *evidenceStack {
	t.Helper()
	root := t.TempDir()
	store, err := vault.New(root)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	chains, err := greffe.New(store, nil)
	if err != nil {
		t.Fatalf("chain service: %v", err)
	}
	shots, err := snapshot.New(store, nil)
	if err != nil {
		t.Fatalf("capturer: %v", err)
	}
	return &evidenceStack{root: root, store: store, chains: chains, shots: shots}
}

// pngHeader builds the fixed prefix of a PNG file, enough for dimension
// parsing: signature, IHDR length and tag, width, height.
func pngHeader(width, height uint32) []byte {
	b := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	b = append(b, 0, 0, 0, 13)
	b = append(b, 'I', 'H', 'D', 'R')
	b = binary.BigEndian.AppendUint32(b, width)
	b = binary.BigEndian.AppendUint32(b, height)
	b = append(b, 8, 2, 0, 0, 0)
	return b
}

func appendPrices(t *testing.T, stack *evidenceStack, chainID string, prices []string, withShots bool) {
	t.Helper()
	ctx := context.Background()
	for i, price := range prices {
		in := greffe.AppendInput{
			SourceURL: "https://shop.example.com/widget",
			Value:     greffe.StringValue(price),
			Anchors:   []greffe.Anchor{greffe.BuildAnchor("#price", "/html/body/div/span", price, nil)},
		}
		if withShots {
			meta, err := stack.shots.Finalize(ctx, chainID, pngHeader(1280, 800), greffe.FormatPNG)
			if err != nil {
				t.Fatalf("finalize %d: %v", i, err)
			}
			in.Screenshot = meta
		}
		if _, err := stack.chains.Append(ctx, chainID, in); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func TestE2E_ChainLifecycle(t *testing.T) {
	// WHAT: Create, five appends with screenshots, verify, export, then
	// verify the export file offline.
	// WHY: This is the production write sequence; every layer has to agree
	// on the same bytes for the offline check to hold.
	stack := newEvidenceStack(t)
	ctx := context.Background()

	if _, err := stack.chains.Create(ctx, "price-watch"); err != nil {
		t.Fatalf("create: %v", err)
	}
	appendPrices(t, stack, "price-watch",
		[]string{"EUR 49.99", "EUR 47.50", "EUR 44.99", "EUR 42.25", "EUR 39.00"}, true)

	ch, err := stack.chains.Get(ctx, "price-watch")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ch.Length != 5 || len(ch.Records) != 5 {
		t.Fatalf("length: got %d (%d records), want 5", ch.Length, len(ch.Records))
	}
	if ch.HeadHash != ch.Records[4].RecordHash {
		t.Errorf("head hash does not match the last record")
	}
	if ch.GenesisHash != ch.Records[0].RecordHash {
		t.Errorf("genesis hash does not match the first record")
	}
	for _, rec := range ch.Records {
		if rec.Screenshot == nil {
			t.Fatalf("record %s has no screenshot", rec.ID)
		}
		if rec.Screenshot.Width != 1280 || rec.Screenshot.Height != 800 {
			t.Errorf("screenshot geometry: got %dx%d", rec.Screenshot.Width, rec.Screenshot.Height)
		}
		if _, err := stack.store.Read(rec.Screenshot.Path); err != nil {
			t.Errorf("screenshot %s not readable: %v", rec.Screenshot.Path, err)
		}
	}

	res, err := stack.chains.Verify(ctx, "price-watch")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid || res.Records != 5 || res.BrokenAt != -1 {
		t.Fatalf("verify result: %+v", res)
	}

	exportPath, err := stack.chains.Export(ctx, "price-watch")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	fileRes, err := greffe.VerifyFile(filepath.Join(stack.root, exportPath))
	if err != nil {
		t.Fatalf("verify file: %v", err)
	}
	if !fileRes.Valid || fileRes.Records != 5 {
		t.Errorf("offline verify: %+v", fileRes)
	}
}

func TestE2E_TamperDetection(t *testing.T) {
	// WHAT: Overwriting records[2].record_hash in the stored chain breaks
	// verification at index 2; so does editing a value inside an export.
	// WHY: Tamper evidence is the product. The break must surface at the
	// exact record through the online and the offline path alike.
	stack := newEvidenceStack(t)
	ctx := context.Background()

	if _, err := stack.chains.Create(ctx, "audit-trail"); err != nil {
		t.Fatalf("create: %v", err)
	}
	appendPrices(t, stack, "audit-trail",
		[]string{"EUR 49.99", "EUR 47.50", "EUR 44.99", "EUR 42.25", "EUR 39.00"}, false)

	exportPath, err := stack.chains.Export(ctx, "audit-trail")
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	// Tamper with the stored chain.
	raw, err := stack.store.Read("chains/audit-trail.json")
	if err != nil {
		t.Fatalf("read chain: %v", err)
	}
	var stored greffe.Chain
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("decode chain: %v", err)
	}
	stored.Records[2].RecordHash = strings.Repeat("f", 64)
	tampered, err := json.Marshal(&stored)
	if err != nil {
		t.Fatalf("encode chain: %v", err)
	}
	if err := stack.store.Write("chains/audit-trail.json", tampered); err != nil {
		t.Fatalf("write chain: %v", err)
	}

	res, err := stack.chains.Verify(ctx, "audit-trail")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Valid {
		t.Fatal("tampered chain verified as valid")
	}
	if res.BrokenAt != 2 {
		t.Errorf("broken_at: got %d, want 2", res.BrokenAt)
	}
	if res.Reason != greffe.ReasonHashMismatch {
		t.Errorf("reason: got %q, want %q", res.Reason, greffe.ReasonHashMismatch)
	}

	// An edited value inside the export must fail the offline check at the
	// same record.
	exportAbs := filepath.Join(stack.root, exportPath)
	data, err := os.ReadFile(exportAbs)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	edited := strings.Replace(string(data), "EUR 44.99", "EUR 14.99", 1)
	if edited == string(data) {
		t.Fatal("export does not contain the target value")
	}
	if err := os.WriteFile(exportAbs, []byte(edited), 0o644); err != nil {
		t.Fatalf("write export: %v", err)
	}
	fileRes, err := greffe.VerifyFile(exportAbs)
	if err != nil {
		t.Fatalf("verify file: %v", err)
	}
	if fileRes.Valid {
		t.Fatal("tampered export verified as valid")
	}
	if fileRes.BrokenAt != 2 || fileRes.Reason != greffe.ReasonHashMismatch {
		t.Errorf("offline break: %+v", fileRes)
	}
}
