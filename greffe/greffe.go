// Package greffe implements the tamper-evidence chain: an append-only,
// hash-linked ledger of evidence records proving that a piece of extracted
// data came from a specific source at a specific time.
//
// The package owns the record and chain data model, canonical record
// hashing, the append-only link discipline, full-chain verification and
// export. Persistence goes through the Storage collaborator; a chain is
// either in its pre-append or post-append state from any observer's point
// of view, mediated by the store's atomic write guarantee. The package does
// no locking of its own: same-chain appends are serialized by the store's
// per-path lock, and operations on different chains are independent.
package greffe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/constat/audit"
	"github.com/hazyhaar/constat/garde"
	"github.com/hazyhaar/constat/idgen"
	"github.com/hazyhaar/constat/kit"
)

// Vault namespaces. Chains, screenshots and exports never share a path.
const (
	chainsDir  = "chains"
	exportsDir = "exports"
)

// Storage is the persistence collaborator: atomic reads and writes with
// mutual exclusion per path. Read reports an absent path with an error
// wrapping fs.ErrNotExist. Update must hold the path's lock across the
// whole read-modify-write cycle and must return the callback's error
// unwrapped. *vault.Vault satisfies this.
type Storage interface {
	Read(rel string) ([]byte, error)
	Write(rel string, data []byte) error
	Update(rel string, fn func(old []byte, found bool) ([]byte, error)) error
	List(relDir string) ([]string, error)
}

// Service owns the per-chain record sequences. All chain mutation in the
// process goes through exactly one Service instance; nothing else may
// persist a chain.
type Service struct {
	store  Storage
	logger *slog.Logger
	audit  audit.Logger    // optional audit trail
	newID  idgen.Generator // record ids
	stamp  idgen.Generator // export file names
}

// New creates a chain Service over the given store.
func New(store Storage, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("greffe: nil storage")
	}
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{
		store:  store,
		logger: logger,
		newID:  idgen.Prefixed("ev_", idgen.UUIDv7()),
		stamp:  idgen.Timestamped(idgen.NanoID(6)),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithAudit sets the audit logger for data-modifying operations.
func WithAudit(a audit.Logger) ServiceOption {
	return func(svc *Service) { svc.audit = a }
}

// WithIDGenerator overrides the record id generator.
func WithIDGenerator(gen idgen.Generator) ServiceOption {
	return func(svc *Service) { svc.newID = gen }
}

// Create initializes an empty chain and persists it. The genesis hash and
// head hash both start at the sentinel. Fails with ErrChainExists when the
// id is taken; the existence check runs under the chain's path lock, so
// two concurrent Creates cannot both win.
func (svc *Service) Create(ctx context.Context, chainID string) (*Chain, error) {
	if err := garde.ValidateIdentifier(chainID); err != nil {
		return nil, fmt.Errorf("greffe: chain id: %w", err)
	}

	ch := &Chain{
		ChainID:     chainID,
		CreatedAt:   time.Now().UTC(),
		Records:     []Record{},
		GenesisHash: GenesisSentinel,
		HeadHash:    GenesisSentinel,
		Length:      0,
	}
	data, err := json.Marshal(ch)
	if err != nil {
		return nil, fmt.Errorf("greffe: encode chain: %w", err)
	}

	err = svc.store.Update(chainPath(chainID), func(_ []byte, found bool) ([]byte, error) {
		if found {
			return nil, fmt.Errorf("%w: %s", ErrChainExists, chainID)
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, ErrChainExists) {
			return nil, err
		}
		return nil, fmt.Errorf("greffe: create chain: %w", err)
	}

	svc.logger.Info("greffe: chain created", "chain_id", chainID)
	svc.auditLog(ctx, chainID, "chain_create", fmt.Sprintf(`{"chain_id":%q}`, chainID))
	return ch, nil
}

// AppendInput carries the caller-supplied fields of a new record. Anchors
// come pre-built (see BuildAnchor); the screenshot, when present, comes
// finalized from the capturer.
type AppendInput struct {
	SourceURL  string          `json:"source_url"`
	Value      Value           `json:"extracted_value"`
	Anchors    []Anchor        `json:"anchors"`
	Screenshot *ScreenshotMeta `json:"screenshot"`
}

// Append adds one record to the end of the chain. The record links to the
// current head, gets a fresh id and timestamp, and its digest is computed
// over all of its content. The whole operation runs under the chain's path
// lock and either fully completes or leaves the chain exactly as it was.
// On the first append the chain's genesis hash is overwritten with the new
// record's hash.
func (svc *Service) Append(ctx context.Context, chainID string, in AppendInput) (*Record, error) {
	if err := garde.ValidateIdentifier(chainID); err != nil {
		return nil, fmt.Errorf("greffe: chain id: %w", err)
	}
	if len(in.Anchors) == 0 {
		return nil, ErrNoAnchors
	}

	var rec *Record
	err := svc.store.Update(chainPath(chainID), func(old []byte, found bool) ([]byte, error) {
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
		}
		var ch Chain
		if err := json.Unmarshal(old, &ch); err != nil {
			return nil, fmt.Errorf("greffe: decode chain: %w", err)
		}

		r := Record{
			ID:             svc.newID(),
			ChainID:        chainID,
			SourceURL:      in.SourceURL,
			ExtractedAt:    time.Now().UTC(),
			ExtractedValue: in.Value,
			Anchors:        in.Anchors,
			Screenshot:     in.Screenshot,
			PreviousHash:   ch.HeadHash,
		}
		h, err := hashRecord(&r, r.PreviousHash)
		if err != nil {
			return nil, err
		}
		r.RecordHash = h

		ch.Records = append(ch.Records, r)
		ch.HeadHash = h
		ch.Length = len(ch.Records)
		if ch.Length == 1 {
			// From here on the genesis hash names the chain's first record.
			// The sentinel lives on only as records[0].previous_hash.
			ch.GenesisHash = h
		}

		rec = &r
		updated, err := json.Marshal(&ch)
		if err != nil {
			return nil, fmt.Errorf("greffe: encode chain: %w", err)
		}
		return updated, nil
	})
	if err != nil {
		if errors.Is(err, ErrChainNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("greffe: append: %w", err)
	}

	svc.logger.Debug("greffe: record appended",
		"chain_id", chainID, "record_id", rec.ID, "source_url", rec.SourceURL)
	svc.auditLog(ctx, chainID, "evidence_append",
		fmt.Sprintf(`{"chain_id":%q,"record_id":%q,"source_url":%q}`, chainID, rec.ID, rec.SourceURL))
	return rec, nil
}

// Get loads a chain. Returns (nil, nil) when the chain does not exist; an
// absent chain is an answer, not an error.
func (svc *Service) Get(ctx context.Context, chainID string) (*Chain, error) {
	if err := garde.ValidateIdentifier(chainID); err != nil {
		return nil, fmt.Errorf("greffe: chain id: %w", err)
	}
	data, err := svc.store.Read(chainPath(chainID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("greffe: load chain: %w", err)
	}
	var ch Chain
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("greffe: decode chain: %w", err)
	}
	return &ch, nil
}

// Verify walks the chain's records in order, checking each link and each
// record digest. Read-only; the stored chain is never touched. A broken
// chain comes back as a result, not an error.
func (svc *Service) Verify(ctx context.Context, chainID string) (*VerificationResult, error) {
	ch, err := svc.Get(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
	}
	res := VerifyChain(ch)
	svc.logger.Debug("greffe: chain verified", "chain_id", chainID, "result", res.String())
	return res, nil
}

// Export serializes the entire chain to a standalone timestamp-named file
// under the exports namespace and returns its vault-relative path. The file
// is self-contained: an independent verifier needs nothing else.
func (svc *Service) Export(ctx context.Context, chainID string) (string, error) {
	ch, err := svc.Get(ctx, chainID)
	if err != nil {
		return "", err
	}
	if ch == nil {
		return "", fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
	}

	data, err := json.MarshalIndent(ch, "", "  ")
	if err != nil {
		return "", fmt.Errorf("greffe: encode export: %w", err)
	}
	rel := exportsDir + "/" + chainID + "_" + svc.stamp() + ".json"
	if err := svc.store.Write(rel, data); err != nil {
		return "", fmt.Errorf("greffe: write export: %w", err)
	}

	svc.logger.Info("greffe: chain exported", "chain_id", chainID, "path", rel)
	svc.auditLog(ctx, chainID, "chain_export", fmt.Sprintf(`{"chain_id":%q,"path":%q}`, chainID, rel))
	return rel, nil
}

// List enumerates all persisted chain ids, sorted. An evidence root with no
// chains yet yields an empty list, never an error.
func (svc *Service) List(ctx context.Context) ([]string, error) {
	names, err := svc.store.List(chainsDir)
	if err != nil {
		return nil, fmt.Errorf("greffe: list chains: %w", err)
	}
	ids := make([]string, 0, len(names))
	for _, name := range names {
		id, ok := strings.CutSuffix(name, ".json")
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// auditLog emits an async audit entry if an audit logger is configured.
func (svc *Service) auditLog(ctx context.Context, chainID, action, params string) {
	if svc.audit == nil {
		return
	}
	svc.audit.LogAsync(&audit.Entry{
		Action:     action,
		ChainID:    chainID,
		UserID:     kit.GetUserID(ctx),
		Transport:  kit.GetTransport(ctx),
		RequestID:  kit.GetRequestID(ctx),
		Parameters: params,
	})
}

func chainPath(chainID string) string {
	return chainsDir + "/" + chainID + ".json"
}
