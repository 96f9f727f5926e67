package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LogEntry represents a single settlement journal entry
type LogEntry struct {
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
	Signature    string `json:"signature,omitempty"`
}

// ChainLogger provides a tamper-proof journal using hash chaining. The
// engine appends one entry per applied or quarantined batch.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	entries      []*LogEntry
}

// NewChainLogger creates a new ChainLogger initialized with a zero hash.
func NewChainLogger() *ChainLogger {
	return &ChainLogger{
		previousHash: strings.Repeat("0", 64),
	}
}

// Append adds a new journal entry to the chain.
func (c *ChainLogger) Append(payload string) *LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &LogEntry{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}

	hashInput := fmt.Sprintf("%s|%s|%s", entry.PreviousHash, entry.Timestamp, entry.Payload)
	hash := sha256.Sum256([]byte(hashInput))
	entry.Hash = hex.EncodeToString(hash[:])

	c.previousHash = entry.Hash
	c.entries = append(c.entries, entry)
	return entry
}

// BatchApplied journals an applied batch.
func (c *ChainLogger) BatchApplied(market string, batchID uint64, merkleRoot [32]byte, fee uint64) *LogEntry {
	return c.Append(fmt.Sprintf("applied market=%s batch=%d root=%s fee=%d",
		market, batchID, hex.EncodeToString(merkleRoot[:]), fee))
}

// BatchQuarantined journals a rejected batch.
func (c *ChainLogger) BatchQuarantined(market string, batchID uint64, guard string) *LogEntry {
	return c.Append(fmt.Sprintf("quarantined market=%s batch=%d guard=%s", market, batchID, guard))
}

// Entries returns a snapshot of the journal.
func (c *ChainLogger) Entries() []*LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// VerifyChain revalidates the logger's own journal against its hash chain.
func (c *ChainLogger) VerifyChain() error {
	if !VerifyChain(c.Entries()) {
		return fmt.Errorf("journal hash chain broken")
	}
	return nil
}

// VerifyChain checks if a slice of entries forms a valid hash chain.
func VerifyChain(entries []*LogEntry) bool {
	if len(entries) == 0 {
		return true
	}

	for i, entry := range entries {
		var prevHash string
		if i == 0 {
			prevHash = entry.PreviousHash
		} else {
			prevHash = entries[i-1].Hash
			if entry.PreviousHash != prevHash {
				return false
			}
		}

		hashInput := fmt.Sprintf("%s|%s|%s", prevHash, entry.Timestamp, entry.Payload)
		hash := sha256.Sum256([]byte(hashInput))
		computedHash := hex.EncodeToString(hash[:])

		if computedHash != entry.Hash {
			return false
		}
	}
	return true
}
