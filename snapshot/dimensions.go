package snapshot

import (
	"encoding/binary"

	"github.com/hazyhaar/constat/greffe"
)

// ParseDimensions reads width and height straight from the image header
// bytes, without decoding the image. Any failure (truncated buffer, no SOF
// marker, unexpected byte where a marker should be) yields 0,0; dimensions
// are diagnostic metadata, never a correctness gate.
func ParseDimensions(raw []byte, format string) (width, height int) {
	switch format {
	case greffe.FormatPNG:
		return pngDimensions(raw)
	case greffe.FormatJPEG:
		return jpegDimensions(raw)
	}
	return 0, 0
}

// pngDimensions reads the IHDR chunk's fixed layout: width as a big-endian
// 32-bit integer at offset 16, height at offset 20. No chunk checksum
// validation.
func pngDimensions(raw []byte) (int, int) {
	if len(raw) < 24 {
		return 0, 0
	}
	w := binary.BigEndian.Uint32(raw[16:20])
	h := binary.BigEndian.Uint32(raw[20:24])
	return int(w), int(h)
}

// jpegDimensions walks the marker segments from offset 2 until a
// Start-Of-Frame marker (0xFFC0..0xFFCF except 0xFFC4 and 0xFFC8), whose
// payload carries height at marker offset 5 and width at offset 7, both
// big-endian 16-bit. Non-SOF segments are skipped by their declared length.
func jpegDimensions(raw []byte) (int, int) {
	off := 2
	for off+1 < len(raw) {
		if raw[off] != 0xFF {
			return 0, 0
		}
		m := raw[off+1]
		if m >= 0xC0 && m <= 0xCF && m != 0xC4 && m != 0xC8 {
			if off+9 > len(raw) {
				return 0, 0
			}
			h := binary.BigEndian.Uint16(raw[off+5 : off+7])
			w := binary.BigEndian.Uint16(raw[off+7 : off+9])
			return int(w), int(h)
		}
		if off+4 > len(raw) {
			return 0, 0
		}
		segLen := int(binary.BigEndian.Uint16(raw[off+2 : off+4]))
		off += 2 + segLen
	}
	return 0, 0
}
