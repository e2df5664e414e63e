// Package ledger implements append-only hash-chained event logs, one chain
// per stream (a capture session or a user project).
//
// Each entry commits to its predecessor:
//
//	hash = SHA-256(prev_hash "|" timestamp "|" canonical(payload))
//
// The first entry of a stream uses SentinelHash as its prev_hash. Replay
// recomputes every link from the sentinel and reports the first entry that
// diverges.
//
// Two Store implementations are provided:
//   - MemoryStore: in-process, for tests and single-node development.
//   - PostgresStore: durable; appends are serialised per stream with a
//     transaction-scoped advisory lock.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// SentinelHash is the prev_hash of the genesis entry of every stream.
const SentinelHash = "0"

var (
	// ErrTipMoved is returned by Store.Append when the stream's tip no longer
	// matches the caller's expected tip hash.
	ErrTipMoved = errors.New("ledger: chain tip moved")

	// ErrPrevMismatch marks an entry whose prev_hash does not equal the hash
	// of the entry before it.
	ErrPrevMismatch = errors.New("prev hash mismatch")

	// ErrHashMismatch marks an entry whose stored hash does not equal the
	// recomputed hash over its own fields.
	ErrHashMismatch = errors.New("hash mismatch")

	// ErrEmpty is returned by Replay for a stream with no entries.
	ErrEmpty = errors.New("ledger: no entries")
)

// Store is the per-stream persistence interface for hash chains.
type Store interface {
	// Tip returns the most recent entry of the stream, or nil when the
	// stream has no entries.
	Tip(ctx context.Context, streamID string) (*Entry, error)

	// Append commits e at the next sequence index of e.StreamID, but only if
	// the stream's current tip hash equals expectedTip (SentinelHash for an
	// empty stream). Otherwise it returns ErrTipMoved and writes nothing.
	// On success e.Seq is set.
	Append(ctx context.Context, expectedTip string, e *Entry) error

	// ReadAll returns a snapshot of the stream's entries in sequence order.
	ReadAll(ctx context.Context, streamID string) ([]*Entry, error)
}

// ChainError reports where a replay diverged.
type ChainError struct {
	Index int
	Err   error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("entry %d: %v", e.Index, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }

// TipHash returns the hash new entries must link to: the tip's hash, or
// SentinelHash when tip is nil.
func TipHash(tip *Entry) string {
	if tip == nil {
		return SentinelHash
	}
	return tip.Hash
}

// Replay walks entries from the sentinel and recomputes every link. It
// returns nil for an intact chain, ErrEmpty for no entries and a
// *ChainError (wrapping ErrPrevMismatch or ErrHashMismatch) at the first
// divergent entry.
func Replay(entries []*Entry) error {
	if len(entries) == 0 {
		return ErrEmpty
	}
	prev := SentinelHash
	for i, e := range entries {
		if e.PrevHash != prev {
			return &ChainError{Index: i, Err: ErrPrevMismatch}
		}
		if e.Hash != e.ComputeHash() {
			return &ChainError{Index: i, Err: ErrHashMismatch}
		}
		prev = e.Hash
	}
	return nil
}
