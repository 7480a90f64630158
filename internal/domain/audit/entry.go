// Package audit defines the hash-chained audit entry for capability
// invocations. Each entry links to its predecessor through a SHA-256
// hash, making any retroactive edit detectable.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ZeroHash is the previous_hash sentinel of the first entry in a chain.
var ZeroHash = strings.Repeat("0", 64)

// Entry is one immutable audit record. The entry hash is computed over
// the canonical JSON form of the entry with EntryHash itself empty, so
// the hash is reproducible from the persisted fields.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Decision  string         `json:"decision"`
	Reason    string         `json:"reason,omitempty"`
	Result    string         `json:"result,omitempty"`
	PrevHash  string         `json:"previous_hash"`
	EntryHash string         `json:"entry_hash"`
}

// ComputeHash returns the SHA-256 hex digest of the entry's canonical
// form. The EntryHash field does not participate in its own hash.
func (e *Entry) ComputeHash() string {
	clone := *e
	clone.EntryHash = ""
	data, _ := json.Marshal(&clone)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Seal fills in EntryHash from the current field values.
func (e *Entry) Seal() {
	e.EntryHash = e.ComputeHash()
}

// Verify reports whether EntryHash matches the entry's fields.
func (e *Entry) Verify() bool {
	return e.EntryHash != "" && e.EntryHash == e.ComputeHash()
}

// VerifyChain checks an ordered entry sequence: the first entry must link
// to the zero sentinel, every later entry to its predecessor's hash, and
// every entry hash must be reproducible from its fields.
func VerifyChain(entries []Entry) error {
	prev := ZeroHash
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != prev {
			return fmt.Errorf("entry %d: previous_hash %s does not link to %s", i, e.PrevHash, prev)
		}
		if !e.Verify() {
			return fmt.Errorf("entry %d: entry_hash does not match fields", i)
		}
		prev = e.EntryHash
	}
	return nil
}
