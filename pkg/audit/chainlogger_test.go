package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainLoggerLinksEntries(t *testing.T) {
	logger := NewChainLogger()

	e1 := logger.BatchApplied("alpha", 1, [32]byte{0xaa}, 30)
	e2 := logger.BatchQuarantined("alpha", 2, "Solvency")
	e3 := logger.BatchApplied("alpha", 3, [32]byte{0xbb}, 12)

	chain := []*LogEntry{e1, e2, e3}
	assert.True(t, VerifyChain(chain))
	require.NoError(t, logger.VerifyChain())

	assert.Equal(t, e1.Hash, e2.PreviousHash)
	assert.Equal(t, e2.Hash, e3.PreviousHash)
	assert.Contains(t, e2.Payload, "guard=Solvency")
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	logger := NewChainLogger()
	e1 := logger.BatchApplied("alpha", 1, [32]byte{}, 0)
	e2 := logger.BatchApplied("alpha", 2, [32]byte{}, 0)
	e3 := logger.BatchApplied("alpha", 3, [32]byte{}, 0)
	chain := []*LogEntry{e1, e2, e3}

	original := e2.Payload
	e2.Payload = "applied market=alpha batch=2 root=00 fee=999999"
	assert.False(t, VerifyChain(chain), "rewritten payload must break the chain")
	e2.Payload = original

	originalHash := e2.Hash
	e2.Hash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	assert.False(t, VerifyChain(chain), "rewritten hash must break the chain")
	e2.Hash = originalHash

	e3.PreviousHash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	assert.False(t, VerifyChain(chain), "broken link must fail verification")
}

func TestEntriesReturnsSnapshot(t *testing.T) {
	logger := NewChainLogger()
	logger.BatchApplied("alpha", 1, [32]byte{}, 0)

	entries := logger.Entries()
	require.Len(t, entries, 1)

	logger.BatchApplied("alpha", 2, [32]byte{}, 0)
	assert.Len(t, entries, 1, "snapshot must not grow with the journal")
	assert.Len(t, logger.Entries(), 2)
}

func TestVerifyChainEmptyIsValid(t *testing.T) {
	assert.True(t, VerifyChain(nil))
	require.NoError(t, NewChainLogger().VerifyChain())
}
