package chain

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/netsettle/internal/batch"
	"github.com/example/netsettle/internal/intent"
	"github.com/example/netsettle/internal/netting"
)

type testChain struct {
	sm   *StateMachine
	priv ed25519.PrivateKey
}

func newTestChain(t *testing.T, opts ...Option) *testChain {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &testChain{sm: New(pub, "treasury", opts...), priv: priv}
}

// signedTx builds a settlement transaction whose payload encodes the given
// effects and is signed by the test authority. The guards re-encode the
// structured fields against the payload, so the encoding must be the real
// one.
func (tc *testChain) signedTx(batchID uint64, deltas []netting.CashDelta, items []netting.SettledItem, fee uint64) *SettlementTx {
	payload := batch.EncodePayload(batchID, [32]byte{}, items, deltas, nil, fee)
	return &SettlementTx{
		BatchID:   batchID,
		Market:    "alpha",
		Items:     items,
		Deltas:    deltas,
		Fee:       fee,
		Payload:   payload,
		Signature: ed25519.Sign(tc.priv, payload),
	}
}

func TestApplyMovesBalancesAndCollectsFee(t *testing.T) {
	tc := newTestChain(t)
	tc.sm.Fund("alpha", "buyer", 1000)

	tx := tc.signedTx(1, []netting.CashDelta{
		{Wallet: "buyer", Delta: -1000},
		{Wallet: "seller", Delta: 970},
	}, nil, 30)

	ev, err := tc.sm.Apply(tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev.BatchID)
	assert.Equal(t, 2, ev.NumWallets)

	assert.Equal(t, int64(0), tc.sm.Balance("alpha", "buyer"))
	assert.Equal(t, int64(970), tc.sm.Balance("alpha", "seller"))
	assert.Equal(t, int64(30), tc.sm.Balance("alpha", "treasury"))
	assert.Equal(t, uint64(1), tc.sm.LastApplied("alpha"))
	assert.Equal(t, StateApplied, tc.sm.State("alpha", 1))
}

func TestApplyRejectsForeignSignature(t *testing.T) {
	tc := newTestChain(t)
	_, stranger, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tx := tc.signedTx(1, nil, nil, 0)
	tx.Signature = ed25519.Sign(stranger, tx.Payload)

	_, err = tc.sm.Apply(tx)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, GuardUnauthorized, rej.Guard)
}

func TestApplyRejectsEffectsNotCoveredBySignature(t *testing.T) {
	tc := newTestChain(t)
	tc.sm.Fund("alpha", "victim", 1000)

	// A validly signed transaction whose delta list was swapped after
	// signing must not move a single unit.
	tx := tc.signedTx(1, []netting.CashDelta{
		{Wallet: "victim", Delta: -10}, {Wallet: "other", Delta: 10},
	}, nil, 0)
	tx.Deltas = []netting.CashDelta{
		{Wallet: "victim", Delta: -1000}, {Wallet: "attacker", Delta: 1000},
	}

	_, err := tc.sm.Apply(tx)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, GuardUnauthorized, rej.Guard)

	assert.Equal(t, int64(1000), tc.sm.Balance("alpha", "victim"))
	assert.Equal(t, int64(0), tc.sm.Balance("alpha", "attacker"))
	assert.Equal(t, uint64(0), tc.sm.LastApplied("alpha"))

	// The same holds for a fee bumped after signing.
	bumped := tc.signedTx(1, []netting.CashDelta{
		{Wallet: "victim", Delta: -10}, {Wallet: "other", Delta: 10},
	}, nil, 0)
	bumped.Fee = 500
	_, err = tc.sm.Apply(bumped)
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, GuardUnauthorized, rej.Guard)
	assert.Equal(t, int64(0), tc.sm.Balance("alpha", "treasury"))
}

func TestApplyRejectsReplayedBatch(t *testing.T) {
	tc := newTestChain(t)
	tc.sm.Fund("alpha", "a", 100)

	deltas := []netting.CashDelta{{Wallet: "a", Delta: -10}, {Wallet: "b", Delta: 10}}
	_, err := tc.sm.Apply(tc.signedTx(42, deltas, nil, 0))
	require.NoError(t, err)

	// The same batch id, exactly as originally submitted, must bounce off
	// the replay guard without touching any balance.
	_, err = tc.sm.Apply(tc.signedTx(42, deltas, nil, 0))
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, GuardReplay, rej.Guard)

	assert.Equal(t, int64(90), tc.sm.Balance("alpha", "a"))
	assert.Equal(t, int64(10), tc.sm.Balance("alpha", "b"))
	assert.Equal(t, uint64(42), tc.sm.LastApplied("alpha"))

	// Lower ids are stale too.
	_, err = tc.sm.Apply(tc.signedTx(7, deltas, nil, 0))
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, GuardReplay, rej.Guard)
}

func TestApplyRejectsConservationBreach(t *testing.T) {
	tc := newTestChain(t)
	tc.sm.Fund("alpha", "a", 1000)

	// Sum of deltas plus fee is +500, far beyond the per-row tolerance.
	tx := tc.signedTx(1, []netting.CashDelta{
		{Wallet: "a", Delta: -100},
		{Wallet: "b", Delta: 600},
	}, nil, 0)

	_, err := tc.sm.Apply(tx)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, GuardConservation, rej.Guard)
	assert.Equal(t, int64(1000), tc.sm.Balance("alpha", "a"))
}

func TestApplyRejectsInsolventDebitWithoutSideEffects(t *testing.T) {
	tc := newTestChain(t)
	tc.sm.Fund("alpha", "rich", 1000)
	tc.sm.Fund("alpha", "poor", 50)
	tc.sm.Escrow("alpha", 9, "rich", 1)

	tx := tc.signedTx(1, []netting.CashDelta{
		{Wallet: "rich", Delta: -200},
		{Wallet: "poor", Delta: -100}, // only 50 available
		{Wallet: "lucky", Delta: 300},
	}, []netting.SettledItem{
		{ItemID: 9, Owner: "lucky", Quantity: 1, Sale: intent.SaleFixedPrice},
	}, 0)

	_, err := tc.sm.Apply(tx)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, GuardSolvency, rej.Guard)

	// One insolvent wallet voids the whole batch: no balance moved, no
	// custody changed, and the batch id stays available.
	assert.Equal(t, int64(1000), tc.sm.Balance("alpha", "rich"))
	assert.Equal(t, int64(50), tc.sm.Balance("alpha", "poor"))
	assert.Equal(t, int64(0), tc.sm.Balance("alpha", "lucky"))
	owner, ok := tc.sm.ItemOwner("alpha", 9)
	require.True(t, ok)
	assert.Equal(t, "rich", owner)
	assert.Equal(t, uint64(0), tc.sm.LastApplied("alpha"))
	assert.Equal(t, StatePending, tc.sm.State("alpha", 1))
}

func TestApplyRejectsFeeAboveHalfOfPrice(t *testing.T) {
	tc := newTestChain(t)
	tc.sm.Fund("alpha", "buyer", 10_000)

	tx := tc.signedTx(1, []netting.CashDelta{
		{Wallet: "buyer", Delta: -1000},
		{Wallet: "seller", Delta: 399},
	}, []netting.SettledItem{
		{ItemID: 1, Owner: "buyer", Quantity: 1, GrossPrice: 1000, FeePaid: 601},
	}, 601)

	_, err := tc.sm.Apply(tx)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, GuardFeeCap, rej.Guard)
	assert.Equal(t, int64(10_000), tc.sm.Balance("alpha", "buyer"))
}

func TestApplyRejectsDuplicateItemAssignment(t *testing.T) {
	tc := newTestChain(t)

	tx := tc.signedTx(1, nil, []netting.SettledItem{
		{ItemID: 4, Owner: "a", Quantity: 1},
		{ItemID: 4, Owner: "b", Quantity: 1},
	}, 0)

	_, err := tc.sm.Apply(tx)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, GuardOwnership, rej.Guard)
}

func TestApplyRejectsOwnerlessItem(t *testing.T) {
	tc := newTestChain(t)

	tx := tc.signedTx(1, nil, []netting.SettledItem{{ItemID: 4, Quantity: 1}}, 0)

	_, err := tc.sm.Apply(tx)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, GuardOwnership, rej.Guard)
}

func TestRejectionReleasesSettlingFlag(t *testing.T) {
	tc := newTestChain(t)
	tc.sm.Fund("alpha", "a", 100)

	deltas := []netting.CashDelta{{Wallet: "a", Delta: -10}, {Wallet: "b", Delta: 10}}

	bad := tc.signedTx(1, deltas, nil, 0)
	bad.Signature = nil
	_, err := tc.sm.Apply(bad)
	require.Error(t, err)

	// The in-flight flag must not stay latched after a rejection.
	_, err = tc.sm.Apply(tc.signedTx(1, deltas, nil, 0))
	require.NoError(t, err)
}

func TestOperatorFloatCoversDecoyDebits(t *testing.T) {
	tc := newTestChain(t, WithOperatorFloat([]string{"ghost1", "ghost2"}, 500))

	// Decoy wallets were never funded through the deposit path, yet their
	// debits clear solvency on a brand-new market.
	tx := tc.signedTx(1, []netting.CashDelta{
		{Wallet: "ghost1", Delta: -400},
		{Wallet: "ghost2", Delta: 400},
	}, nil, 0)

	_, err := tc.sm.Apply(tx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), tc.sm.Balance("alpha", "ghost1"))
	assert.Equal(t, int64(900), tc.sm.Balance("alpha", "ghost2"))
}

func TestApplyItemKinds(t *testing.T) {
	tc := newTestChain(t)
	tc.sm.Escrow("alpha", 1, "seller", 10)
	tc.sm.Escrow("alpha", 2, "seller", 3)

	tx := tc.signedTx(1, nil, []netting.SettledItem{
		{ItemID: 1, Owner: "buyer", Quantity: 4, Sale: intent.SaleFixedPrice},
		{ItemID: 2, Owner: "bidder", Quantity: 3, Sale: intent.SaleAuction},
		{ItemID: 3, Owner: "minter", Quantity: 1, Sale: intent.SaleCompressed},
	}, 0)

	_, err := tc.sm.Apply(tx)
	require.NoError(t, err)

	for itemID, want := range map[uint64]string{1: "buyer", 2: "bidder", 3: "minter"} {
		owner, ok := tc.sm.ItemOwner("alpha", itemID)
		require.True(t, ok)
		assert.Equal(t, want, owner, "item %d", itemID)
	}
}

func TestFinalizeRequiresAppliedBatch(t *testing.T) {
	tc := newTestChain(t)
	tc.sm.Fund("alpha", "a", 100)

	// Never-applied batches cannot finalize.
	err := tc.sm.Finalize("alpha", 5)
	var bad *InvalidTransitionError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, StatePending, bad.From)

	_, err = tc.sm.Apply(tc.signedTx(5, []netting.CashDelta{
		{Wallet: "a", Delta: -1}, {Wallet: "b", Delta: 1},
	}, nil, 0))
	require.NoError(t, err)

	require.NoError(t, tc.sm.Finalize("alpha", 5))
	assert.Equal(t, StateFinalized, tc.sm.State("alpha", 5))

	// Finalized is terminal.
	err = tc.sm.Finalize("alpha", 5)
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, StateFinalized, bad.From)
}

func TestEventSinkReceivesAppliedBatches(t *testing.T) {
	var events []Event
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tc := newTestChain(t,
		WithEventSink(func(ev Event) { events = append(events, ev) }),
		WithClock(func() time.Time { return ts }),
	)
	tc.sm.Fund("alpha", "a", 100)

	_, err := tc.sm.Apply(tc.signedTx(1, []netting.CashDelta{
		{Wallet: "a", Delta: -20}, {Wallet: "b", Delta: 17},
	}, nil, 3))
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, uint64(1), events[0].BatchID)
	assert.Equal(t, uint64(3), events[0].TotalFee)
	assert.Equal(t, ts, events[0].Timestamp)
}
