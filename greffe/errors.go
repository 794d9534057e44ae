package greffe

import "errors"

var (
	// ErrChainExists is returned by Create when the chain id is taken.
	ErrChainExists = errors.New("greffe: chain already exists")

	// ErrChainNotFound is returned by Append, Verify and Export for a chain
	// id with no persisted representation. Get returns (nil, nil) instead.
	ErrChainNotFound = errors.New("greffe: chain not found")

	// ErrNoAnchors is returned by Append when the input carries no anchor.
	// Every record needs at least one way to re-locate its content.
	ErrNoAnchors = errors.New("greffe: record needs at least one anchor")
)
