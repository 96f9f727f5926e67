package chain

import (
	"fmt"
	"time"

	"github.com/example/netsettle/internal/netting"
)

// BatchState tracks a settlement through the on-chain lifecycle. There is no
// partial-application state: a transaction fully applies or fully fails.
type BatchState string

const (
	StatePending   BatchState = "PENDING"
	StateApplied   BatchState = "APPLIED"
	StateFinalized BatchState = "FINALIZED"
)

// AllowedTransitions defines the valid lifecycle edges.
func AllowedTransitions() map[BatchState][]BatchState {
	return map[BatchState][]BatchState{
		StatePending:   {StateApplied},
		StateApplied:   {StateFinalized},
		StateFinalized: {},
	}
}

// GuardCode names the settlement guard that rejected a transaction.
type GuardCode string

const (
	GuardUnauthorized GuardCode = "Unauthorized"
	GuardReplay       GuardCode = "Replay"
	GuardConservation GuardCode = "Conservation"
	GuardOwnership    GuardCode = "Ownership"
	GuardSolvency     GuardCode = "Solvency"
	GuardFeeCap       GuardCode = "FeeCap"
	GuardReentrancy   GuardCode = "Reentrancy"
	GuardMalformed    GuardCode = "Malformed"
)

// RejectionError is an on-chain guard failure. It aborts the whole
// transaction with zero side effects and must not be retried verbatim; the
// same guard would fail again.
type RejectionError struct {
	Guard   GuardCode
	Market  string
	BatchID uint64
	Detail  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("settlement rejected by %s guard (market %s, batch %d): %s",
		e.Guard, e.Market, e.BatchID, e.Detail)
}

// InvalidTransitionError reports a lifecycle edge outside AllowedTransitions.
type InvalidTransitionError struct {
	From    BatchState
	To      BatchState
	BatchID uint64
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid batch state transition %s -> %s for batch %d", e.From, e.To, e.BatchID)
}

// Ledger is a wallet's per-market balance, owned and mutated only by the
// state machine.
type Ledger struct {
	Available int64
	Locked    int64
}

// SettlementTx is the single atomic transaction consuming one batch.
type SettlementTx struct {
	BatchID    uint64
	Market     string
	MerkleRoot [32]byte
	BatchHash  [32]byte

	Items     []netting.SettledItem
	Deltas    []netting.CashDelta
	Royalties []netting.RoyaltyPayout
	Fee       uint64

	// Payload is the exact signed byte encoding; Signature is the
	// settlement authority's ed25519 signature over it.
	Payload   []byte
	Signature []byte
}

// Event is emitted after a batch applies, consumed externally by indexers.
type Event struct {
	BatchID    uint64
	Market     string
	MerkleRoot [32]byte
	NumWallets int
	NumItems   int
	TotalFee   uint64
	Timestamp  time.Time
}
