// Package snapshot turns raw screenshot bytes from a capture channel into
// verifiable evidence: a content digest, header-parsed dimensions, and a
// uniquely named file under the evidence root.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/constat/garde"
	"github.com/hazyhaar/constat/greffe"
	"github.com/hazyhaar/constat/idgen"
)

const screenshotsDir = "screenshots"

// ErrUnsupportedFormat is returned by Finalize for a format other than
// png or jpeg.
var ErrUnsupportedFormat = errors.New("snapshot: unsupported image format")

// Storage persists image bytes. *vault.Vault satisfies this.
type Storage interface {
	Write(rel string, data []byte) error
}

// Capturer finalizes screenshots. Stateless apart from its collaborators;
// every call writes a new uniquely named file and never overwrites.
type Capturer struct {
	store   Storage
	logger  *slog.Logger
	newName idgen.Generator
}

// New creates a Capturer over the given store.
func New(store Storage, logger *slog.Logger, opts ...Option) (*Capturer, error) {
	if store == nil {
		return nil, errors.New("snapshot: nil storage")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Capturer{
		store:   store,
		logger:  logger,
		newName: idgen.Timestamped(idgen.NanoID(8)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Option configures a Capturer during creation.
type Option func(*Capturer)

// WithNameGenerator overrides the screenshot file name generator.
func WithNameGenerator(gen idgen.Generator) Option {
	return func(c *Capturer) { c.newName = gen }
}

// Finalize hashes raw exactly as received, parses width and height from the
// format's own header bytes, stores the bytes under the chain's screenshot
// namespace and returns the assembled metadata.
//
// A failed dimension parse degrades to 0,0 and is not an error; a failed
// write fails the whole operation. A screenshot with unknown dimensions is
// still evidence, an unpersisted one is not.
func (c *Capturer) Finalize(ctx context.Context, chainID string, raw []byte, format string) (*greffe.ScreenshotMeta, error) {
	if err := garde.ValidateIdentifier(chainID); err != nil {
		return nil, fmt.Errorf("snapshot: chain id: %w", err)
	}
	var ext string
	switch format {
	case greffe.FormatPNG:
		ext = ".png"
	case greffe.FormatJPEG:
		ext = ".jpg"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	sum := sha256.Sum256(raw)
	width, height := ParseDimensions(raw, format)
	if width == 0 && height == 0 {
		c.logger.Warn("snapshot: dimension parse failed, storing as 0x0",
			"chain_id", chainID, "format", format, "bytes", len(raw))
	}

	rel := screenshotsDir + "/" + chainID + "/" + c.newName() + ext
	if err := c.store.Write(rel, raw); err != nil {
		return nil, fmt.Errorf("snapshot: persist %s: %w", rel, err)
	}

	meta := &greffe.ScreenshotMeta{
		Hash:       hex.EncodeToString(sum[:]),
		Path:       rel,
		Width:      width,
		Height:     height,
		CapturedAt: time.Now().UTC(),
		Format:     format,
	}
	c.logger.Debug("snapshot: finalized",
		"chain_id", chainID, "path", rel, "width", width, "height", height)
	return meta, nil
}
