package greffe

import (
	"fmt"
	"time"
)

// GenesisSentinel is the previous_hash of every chain's first record: an
// all-zero 256-bit value in hex. It never changes. Do not confuse it with
// Chain.GenesisHash, which holds the sentinel only until the first append
// and the first record's own hash afterwards.
const GenesisSentinel = "0000000000000000000000000000000000000000000000000000000000000000"

// Anchor tiers, in descending stability order.
const (
	TierCSS   = "css"
	TierXPath = "xpath"
	TierText  = "text-content"
)

// Screenshot formats.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

// BoundingBox is an element's viewport geometry at capture time.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Anchor is a redundant locator for re-finding extracted content in a
// document. Three tiers exist because any single locator strategy breaks
// under page restructuring; PrimaryTier records which one to try first.
type Anchor struct {
	CSSSelector string       `json:"css_selector"`
	XPath       string       `json:"xpath"`
	TextContent string       `json:"text_content"`
	PrimaryTier string       `json:"primary_tier"`
	BoundingBox *BoundingBox `json:"bounding_box"`
}

// ScreenshotMeta is the integrity record for a captured image. Width and
// height are parsed from the image's own header bytes and are 0,0 when that
// parse failed; the hash and stored bytes are still good evidence.
type ScreenshotMeta struct {
	Hash       string    `json:"hash"`
	Path       string    `json:"path"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"captured_at"`
	Format     string    `json:"format"`
}

// Record is one provable fact: a value extracted from a source at a time,
// anchored in the source document, hash-linked to its predecessor.
// Immutable once constructed; RecordHash covers every other field including
// PreviousHash, so any later edit makes recomputation disagree.
type Record struct {
	ID             string          `json:"id"`
	ChainID        string          `json:"chain_id"`
	SourceURL      string          `json:"source_url"`
	ExtractedAt    time.Time       `json:"extracted_at"`
	ExtractedValue Value           `json:"extracted_value"`
	Anchors        []Anchor        `json:"anchors"`
	Screenshot     *ScreenshotMeta `json:"screenshot"`
	RecordHash     string          `json:"record_hash"`
	PreviousHash   string          `json:"previous_hash"`
}

// Chain is the append-only ledger for one run or subject. Records are only
// ever appended, never edited, deleted or reordered. GenesisHash means
// "the hash that begins this chain's content": the sentinel while empty,
// the first record's hash from the first append on.
type Chain struct {
	ChainID     string    `json:"chainId"`
	CreatedAt   time.Time `json:"createdAt"`
	Records     []Record  `json:"records"`
	GenesisHash string    `json:"genesisHash"`
	HeadHash    string    `json:"headHash"`
	Length      int       `json:"length"`
}

// Head returns the hash of the most recently appended record, or the
// sentinel for an empty chain.
func (c *Chain) Head() string {
	if len(c.Records) == 0 {
		return GenesisSentinel
	}
	return c.Records[len(c.Records)-1].RecordHash
}

// Verification outcome reasons.
const (
	ReasonLinkMismatch = "link mismatch"
	ReasonHashMismatch = "hash mismatch"
)

// VerificationResult reports a chain walk. A broken chain is an expected,
// reportable condition, so it travels as data rather than as an error.
type VerificationResult struct {
	Valid    bool   `json:"valid"`
	Records  int    `json:"records"`
	BrokenAt int    `json:"broken_at"`
	Reason   string `json:"reason"`
}

// String renders the result the way operators see it.
func (r *VerificationResult) String() string {
	if r.Valid {
		return fmt.Sprintf("chain valid (%d records)", r.Records)
	}
	return fmt.Sprintf("chain broken at record %d: %s", r.BrokenAt, r.Reason)
}
