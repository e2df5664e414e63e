package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entry is one committed record of a stream's chain.
type Entry struct {
	StreamID  string    `json:"stream_id"`
	Seq       int       `json:"sequence_index"`
	Kind      string    `json:"event_type"` // composition.create, render.start, render.finish, GENESIS, ...
	Payload   string    `json:"event_json"` // canonical encoding of the event payload
	Timestamp string    `json:"timestamp"`  // as supplied by the client; part of the hash input
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// ComputeHash recomputes the entry's hash from its prev_hash, timestamp and
// stored canonical payload.
func (e *Entry) ComputeHash() string {
	return ComputeHash(e.PrevHash, e.Timestamp, []byte(e.Payload))
}

// ComputeHash returns the hex SHA-256 of prevHash|timestamp|payload, where
// payload is already canonically encoded.
func ComputeHash(prevHash, timestamp string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte{'|'})
	h.Write([]byte(timestamp))
	h.Write([]byte{'|'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Sum returns the hex SHA-256 digest of data. Artifact content hashes use
// the same digest.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
