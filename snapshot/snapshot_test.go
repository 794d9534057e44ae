package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/constat/greffe"
	"github.com/hazyhaar/constat/vault"
)

// pngHeader builds the fixed prefix of a PNG file: 8-byte signature, IHDR
// chunk length and tag, then width and height.
func pngHeader(width, height uint32) []byte {
	b := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	b = append(b, 0, 0, 0, 13)
	b = append(b, 'I', 'H', 'D', 'R')
	b = binary.BigEndian.AppendUint32(b, width)
	b = binary.BigEndian.AppendUint32(b, height)
	b = append(b, 8, 2, 0, 0, 0)
	return b
}

// jpegHeader builds SOI, an APP0 segment, a DHT segment (which a naive
// scanner could mistake for a frame marker) and then a SOF0 with the given
// geometry.
func jpegHeader(width, height uint16) []byte {
	b := []byte{0xFF, 0xD8}
	b = append(b, 0xFF, 0xE0, 0x00, 0x10)
	b = append(b, make([]byte, 14)...)
	b = append(b, 0xFF, 0xC4, 0x00, 0x04, 0x00, 0x00)
	b = append(b, 0xFF, 0xC0, 0x00, 0x11, 0x08)
	b = binary.BigEndian.AppendUint16(b, height)
	b = binary.BigEndian.AppendUint16(b, width)
	b = append(b, 0x03)
	return b
}

func setupCapturer(t *testing.T) (*Capturer, *vault.Vault) {
	t.Helper()
	v, err := vault.New(t.TempDir())
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	c, err := New(v, nil, WithNameGenerator(func() string { return "shot1" }))
	if err != nil {
		t.Fatalf("new capturer: %v", err)
	}
	return c, v
}

func TestParseDimensions_PNG(t *testing.T) {
	// WHAT: Width and height come from the IHDR fixed offsets 16 and 20.
	// WHY: 800x600 encoded as 0x320/0x258 is the canonical header case.
	w, h := ParseDimensions(pngHeader(800, 600), greffe.FormatPNG)
	if w != 800 || h != 600 {
		t.Errorf("got %dx%d, want 800x600", w, h)
	}
}

func TestParseDimensions_PNGTooShort(t *testing.T) {
	// WHAT: A buffer under 24 bytes parses as 0,0.
	// WHY: Truncation is a degrade, never a crash or an error.
	w, h := ParseDimensions(pngHeader(800, 600)[:23], greffe.FormatPNG)
	if w != 0 || h != 0 {
		t.Errorf("got %dx%d, want 0x0", w, h)
	}
	if w, h := ParseDimensions(nil, greffe.FormatPNG); w != 0 || h != 0 {
		t.Errorf("nil buffer: got %dx%d, want 0x0", w, h)
	}
}

func TestParseDimensions_JPEG(t *testing.T) {
	// WHAT: The marker walk skips APP0 and DHT and reads geometry from the
	// first SOF segment.
	// WHY: 0xC4 sits inside the SOF numeric range but is a Huffman table;
	// misreading it would yield garbage dimensions on most real files.
	w, h := ParseDimensions(jpegHeader(1280, 720), greffe.FormatJPEG)
	if w != 1280 || h != 720 {
		t.Errorf("got %dx%d, want 1280x720", w, h)
	}
}

func TestParseDimensions_JPEGProgressive(t *testing.T) {
	// WHAT: SOF2 (0xC2, progressive) counts as a frame marker.
	// WHY: The accepted range is 0xC0..0xCF minus 0xC4 and 0xC8.
	b := jpegHeader(640, 480)
	b[27] = 0xC2
	w, h := ParseDimensions(b, greffe.FormatJPEG)
	if w != 640 || h != 480 {
		t.Errorf("got %dx%d, want 640x480", w, h)
	}
}

func TestParseDimensions_JPEGNoSOF(t *testing.T) {
	// WHAT: A stream that ends before any SOF marker parses as 0,0.
	// WHY: No-SOF is one of the named degrade conditions.
	b := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x04, 0x00, 0x00}
	if w, h := ParseDimensions(b, greffe.FormatJPEG); w != 0 || h != 0 {
		t.Errorf("got %dx%d, want 0x0", w, h)
	}
}

func TestParseDimensions_JPEGCorruptMarker(t *testing.T) {
	// WHAT: A byte that is not 0xFF where a marker must start parses 0,0.
	// WHY: Random bytes must never be read as geometry.
	b := []byte{0xFF, 0xD8, 0x00, 0xC0, 0x00, 0x11, 0x08, 0x01, 0x00, 0x02, 0x00}
	if w, h := ParseDimensions(b, greffe.FormatJPEG); w != 0 || h != 0 {
		t.Errorf("got %dx%d, want 0x0", w, h)
	}
}

func TestParseDimensions_JPEGTruncatedSOF(t *testing.T) {
	// WHAT: A SOF marker whose geometry bytes are cut off parses as 0,0.
	// WHY: The walk must bounds-check before every read.
	b := jpegHeader(1280, 720)
	if w, h := ParseDimensions(b[:30], greffe.FormatJPEG); w != 0 || h != 0 {
		t.Errorf("got %dx%d, want 0x0", w, h)
	}
}

func TestCapturer_Finalize(t *testing.T) {
	// WHAT: Finalize hashes the raw bytes, stores them under the chain's
	// namespace and fills in every metadata field.
	// WHY: The metadata is what gets sealed into the record digest.
	c, v := setupCapturer(t)
	raw := pngHeader(800, 600)

	meta, err := c.Finalize(context.Background(), "price-watch", raw, greffe.FormatPNG)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	wantSum := sha256.Sum256(raw)
	if meta.Hash != hex.EncodeToString(wantSum[:]) {
		t.Errorf("hash: got %q", meta.Hash)
	}
	if meta.Path != "screenshots/price-watch/shot1.png" {
		t.Errorf("path: got %q", meta.Path)
	}
	if meta.Width != 800 || meta.Height != 600 {
		t.Errorf("dimensions: got %dx%d, want 800x600", meta.Width, meta.Height)
	}
	if meta.Format != greffe.FormatPNG {
		t.Errorf("format: got %q", meta.Format)
	}
	if meta.CapturedAt.IsZero() {
		t.Error("captured_at should be set")
	}

	stored, err := v.Read(meta.Path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(stored, raw) {
		t.Error("stored bytes must be the raw bytes, unre-encoded")
	}
}

func TestCapturer_FinalizeJPEGExtension(t *testing.T) {
	// WHAT: jpeg format stores with a .jpg extension.
	// WHY: The extension is derived from the declared format, not sniffed.
	c, _ := setupCapturer(t)
	meta, err := c.Finalize(context.Background(), "c", jpegHeader(10, 10), greffe.FormatJPEG)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !strings.HasSuffix(meta.Path, ".jpg") {
		t.Errorf("path: got %q, want .jpg suffix", meta.Path)
	}
}

func TestCapturer_FinalizeUnparsableStillSucceeds(t *testing.T) {
	// WHAT: Bytes whose header cannot be parsed still finalize, with 0,0.
	// WHY: An unpersisted screenshot is lost evidence; unknown dimensions
	// are only missing metadata.
	c, v := setupCapturer(t)
	meta, err := c.Finalize(context.Background(), "c", []byte{0x01, 0x02}, greffe.FormatPNG)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if meta.Width != 0 || meta.Height != 0 {
		t.Errorf("dimensions: got %dx%d, want 0x0", meta.Width, meta.Height)
	}
	if _, err := v.Read(meta.Path); err != nil {
		t.Errorf("bytes should be persisted anyway: %v", err)
	}
}

func TestCapturer_FinalizeUnsupportedFormat(t *testing.T) {
	// WHAT: A format other than png or jpeg is refused up front.
	// WHY: The extension and parser dispatch both key off the format.
	c, _ := setupCapturer(t)
	_, err := c.Finalize(context.Background(), "c", []byte{1}, "webp")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrUnsupportedFormat", err)
	}
}

type failStore struct{}

func (failStore) Write(string, []byte) error { return errors.New("disk full") }

func TestCapturer_FinalizePersistFailure(t *testing.T) {
	// WHAT: A storage failure fails the whole finalize.
	// WHY: Metadata pointing at bytes that were never written would be
	// fabricated evidence.
	c, err := New(failStore{}, nil)
	if err != nil {
		t.Fatalf("new capturer: %v", err)
	}
	if _, err := c.Finalize(context.Background(), "c", pngHeader(1, 1), greffe.FormatPNG); err == nil {
		t.Error("expected persist error to propagate")
	}
}

func TestCapturer_FinalizeRejectsBadChainID(t *testing.T) {
	// WHAT: Path-shaped chain ids are rejected before writing.
	// WHY: The chain id becomes a directory name under the root.
	c, _ := setupCapturer(t)
	if _, err := c.Finalize(context.Background(), "../outside", pngHeader(1, 1), greffe.FormatPNG); err == nil {
		t.Error("expected error for traversal id")
	}
}
