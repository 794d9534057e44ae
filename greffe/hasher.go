package greffe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// digestInput is the exact field set the record digest covers. previous_hash
// is part of the input on purpose: without it a record could be relinked to
// a different predecessor undetected, which is the tamper the chain exists
// to catch. No field may ever be dropped from this struct.
type digestInput struct {
	ID             string          `json:"id"`
	ChainID        string          `json:"chain_id"`
	SourceURL      string          `json:"source_url"`
	ExtractedAt    time.Time       `json:"extracted_at"`
	ExtractedValue Value           `json:"extracted_value"`
	Anchors        []Anchor        `json:"anchors"`
	Screenshot     *ScreenshotMeta `json:"screenshot"`
	PreviousHash   string          `json:"previous_hash"`
}

// hashRecord computes the SHA-256 digest of the record's logical content
// linked to previousHash, over the canonical JSON form, as lowercase hex.
func hashRecord(r *Record, previousHash string) (string, error) {
	in := digestInput{
		ID:             r.ID,
		ChainID:        r.ChainID,
		SourceURL:      r.SourceURL,
		ExtractedAt:    r.ExtractedAt,
		ExtractedValue: r.ExtractedValue,
		Anchors:        r.Anchors,
		Screenshot:     r.Screenshot,
		PreviousHash:   previousHash,
	}
	data, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("greffe: marshal record for digest: %w", err)
	}
	canon, err := canonicalJSON(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// verifyRecord recomputes the digest from the record's own stored fields,
// including its own stored PreviousHash, and reports whether it matches the
// stored RecordHash. Never mutates the record.
func verifyRecord(r *Record) (bool, error) {
	h, err := hashRecord(r, r.PreviousHash)
	if err != nil {
		return false, err
	}
	return h == r.RecordHash, nil
}
