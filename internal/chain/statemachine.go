package chain

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/example/netsettle/internal/batch"
	"github.com/example/netsettle/internal/intent"
	"github.com/example/netsettle/internal/netting"
)

type holding struct {
	Owner    string
	Quantity uint64
}

// marketState is the per-market settlement surface. Every field is guarded
// by the market mutex; the settling flag additionally rejects any transaction
// that arrives while another is mid-flight on the same market.
type marketState struct {
	mu          sync.Mutex
	ledgers     map[string]*Ledger
	holdings    map[uint64]*holding
	batches     map[uint64]BatchState
	lastApplied uint64
	settling    bool
}

// StateMachine validates and applies settlement transactions. A transaction
// either passes every guard and applies in full, or fails one guard and
// leaves no trace beyond the rejection.
type StateMachine struct {
	mu          sync.Mutex
	authority   ed25519.PublicKey
	treasury    string
	markets     map[string]*marketState
	onEvent     func(Event)
	now         func() time.Time
	floatAddrs  []string
	floatAmount uint64
}

// Option configures a StateMachine.
type Option func(*StateMachine)

// WithEventSink registers a callback invoked after each applied batch. The
// callback runs inside the market lock and must not re-enter the machine.
func WithEventSink(fn func(Event)) Option {
	return func(sm *StateMachine) { sm.onEvent = fn }
}

// WithClock overrides the event timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(sm *StateMachine) { sm.now = now }
}

// WithOperatorFloat pre-funds the operator's ghost addresses in every
// market, so decoy debits always clear the solvency guard.
func WithOperatorFloat(addresses []string, amount uint64) Option {
	return func(sm *StateMachine) {
		sm.floatAddrs = append([]string(nil), addresses...)
		sm.floatAmount = amount
	}
}

// New builds a state machine trusting the given settlement authority key.
// Fees collected by applied batches are credited to the treasury wallet.
func New(authority ed25519.PublicKey, treasury string, opts ...Option) *StateMachine {
	sm := &StateMachine{
		authority: authority,
		treasury:  treasury,
		markets:   make(map[string]*marketState),
		now:       time.Now,
	}
	for _, o := range opts {
		o(sm)
	}
	return sm
}

func (sm *StateMachine) market(name string) *marketState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ms, ok := sm.markets[name]
	if !ok {
		ms = &marketState{
			ledgers:  make(map[string]*Ledger),
			holdings: make(map[uint64]*holding),
			batches:  make(map[uint64]BatchState),
		}
		for _, addr := range sm.floatAddrs {
			ms.ledgers[addr] = &Ledger{Available: int64(sm.floatAmount)}
		}
		sm.markets[name] = ms
	}
	return ms
}

// Fund credits a wallet's available balance outside settlement, the deposit
// path. Ghost pool addresses are funded through here before they can appear
// on the debit side of a batch.
func (sm *StateMachine) Fund(market, wallet string, amount uint64) {
	ms := sm.market(market)
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.ledger(wallet).Available += int64(amount)
}

// Escrow places an item under chain custody for its current owner. Settled
// sales release custody to the final buyer.
func (sm *StateMachine) Escrow(market string, itemID uint64, owner string, quantity uint64) {
	ms := sm.market(market)
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.holdings[itemID] = &holding{Owner: owner, Quantity: quantity}
}

func (ms *marketState) ledger(wallet string) *Ledger {
	l, ok := ms.ledgers[wallet]
	if !ok {
		l = &Ledger{}
		ms.ledgers[wallet] = l
	}
	return l
}

// Apply runs the guard sequence and, if every guard passes, applies the
// transaction's effects atomically. Guards run strictly before any mutation.
func (sm *StateMachine) Apply(tx *SettlementTx) (*Event, error) {
	if tx == nil || tx.Market == "" {
		return nil, &RejectionError{Guard: GuardMalformed, Detail: "empty transaction"}
	}
	ms := sm.market(tx.Market)

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.settling {
		return nil, &RejectionError{Guard: GuardReentrancy, Market: tx.Market, BatchID: tx.BatchID,
			Detail: "another settlement is in flight on this market"}
	}
	ms.settling = true
	defer func() { ms.settling = false }()

	if err := sm.checkGuards(ms, tx); err != nil {
		return nil, err
	}

	// All guards passed; effects below cannot fail.
	for _, d := range tx.Deltas {
		ms.ledger(d.Wallet).Available += d.Delta
	}
	for i := range tx.Items {
		ms.applyItem(&tx.Items[i])
	}
	if tx.Fee > 0 {
		ms.ledger(sm.treasury).Available += int64(tx.Fee)
	}
	ms.lastApplied = tx.BatchID
	ms.batches[tx.BatchID] = StateApplied

	ev := Event{
		BatchID:    tx.BatchID,
		Market:     tx.Market,
		MerkleRoot: tx.MerkleRoot,
		NumWallets: len(tx.Deltas),
		NumItems:   len(tx.Items),
		TotalFee:   tx.Fee,
		Timestamp:  sm.now(),
	}
	if sm.onEvent != nil {
		sm.onEvent(ev)
	}
	return &ev, nil
}

func (sm *StateMachine) checkGuards(ms *marketState, tx *SettlementTx) error {
	reject := func(g GuardCode, format string, args ...any) error {
		return &RejectionError{Guard: g, Market: tx.Market, BatchID: tx.BatchID,
			Detail: fmt.Sprintf(format, args...)}
	}

	if len(sm.authority) != ed25519.PublicKeySize ||
		!ed25519.Verify(sm.authority, tx.Payload, tx.Signature) {
		return reject(GuardUnauthorized, "payload not signed by settlement authority")
	}

	// The signature covers the payload bytes; the effects below read the
	// structured fields. Re-encoding and comparing closes the gap, so a
	// transaction cannot pair a validly signed payload with foreign deltas.
	encoded := batch.EncodePayload(tx.BatchID, tx.MerkleRoot, tx.Items, tx.Deltas, tx.Royalties, tx.Fee)
	if !bytes.Equal(tx.Payload, encoded) {
		return reject(GuardUnauthorized, "transaction fields do not match the signed payload")
	}

	if tx.BatchID <= ms.lastApplied {
		return reject(GuardReplay, "batch id %d already applied (last %d)", tx.BatchID, ms.lastApplied)
	}

	// Conservation tolerates one unit of rounding per wallet row.
	var sum int64
	for _, d := range tx.Deltas {
		sum += d.Delta
	}
	sum += int64(tx.Fee)
	tolerance := int64(len(tx.Deltas))
	if sum > tolerance || sum < -tolerance {
		return reject(GuardConservation, "delta sum %d exceeds tolerance %d", sum, tolerance)
	}

	seenItems := make(map[uint64]struct{}, len(tx.Items))
	for _, it := range tx.Items {
		if it.Owner == "" {
			return reject(GuardOwnership, "item %d has no owner", it.ItemID)
		}
		if _, dup := seenItems[it.ItemID]; dup {
			return reject(GuardOwnership, "item %d assigned twice", it.ItemID)
		}
		seenItems[it.ItemID] = struct{}{}
	}

	for _, d := range tx.Deltas {
		if d.Delta >= 0 {
			continue
		}
		if ms.ledger(d.Wallet).Available+d.Delta < 0 {
			return reject(GuardSolvency, "wallet %s has %d available, delta %d",
				d.Wallet, ms.ledger(d.Wallet).Available, d.Delta)
		}
	}

	for _, it := range tx.Items {
		if it.GrossPrice > 0 && it.FeePaid > it.GrossPrice/2 {
			return reject(GuardFeeCap, "item %d fee %d exceeds half of price %d",
				it.ItemID, it.FeePaid, it.GrossPrice)
		}
	}

	return nil
}

// applyItem releases custody of a settled item to its final owner. The
// settlement kind selects the release semantics.
func (ms *marketState) applyItem(it *netting.SettledItem) {
	switch it.Sale {
	case intent.SaleFixedPrice:
		if h, ok := ms.holdings[it.ItemID]; ok {
			h.Owner = it.Owner
			if it.Quantity > 0 && it.Quantity < h.Quantity {
				h.Quantity = it.Quantity
			}
			return
		}
		ms.holdings[it.ItemID] = &holding{Owner: it.Owner, Quantity: it.Quantity}
	case intent.SaleAuction:
		// Auction escrow always releases whole; partial fills do not exist.
		ms.holdings[it.ItemID] = &holding{Owner: it.Owner, Quantity: max(it.Quantity, 1)}
	case intent.SaleCompressed:
		h, ok := ms.holdings[it.ItemID]
		if !ok {
			h = &holding{Quantity: it.Quantity}
			ms.holdings[it.ItemID] = h
		}
		h.Owner = it.Owner
	default:
		ms.holdings[it.ItemID] = &holding{Owner: it.Owner, Quantity: it.Quantity}
	}
}

// Finalize marks an applied batch irreversible.
func (sm *StateMachine) Finalize(market string, batchID uint64) error {
	ms := sm.market(market)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	from, ok := ms.batches[batchID]
	if !ok {
		from = StatePending
	}
	if from != StateApplied {
		return &InvalidTransitionError{From: from, To: StateFinalized, BatchID: batchID}
	}
	ms.batches[batchID] = StateFinalized
	return nil
}

// Balance returns a wallet's available balance on a market.
func (sm *StateMachine) Balance(market, wallet string) int64 {
	ms := sm.market(market)
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if l, ok := ms.ledgers[wallet]; ok {
		return l.Available
	}
	return 0
}

// ItemOwner reports the current custody owner of an item, if tracked.
func (sm *StateMachine) ItemOwner(market string, itemID uint64) (string, bool) {
	ms := sm.market(market)
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if h, ok := ms.holdings[itemID]; ok {
		return h.Owner, true
	}
	return "", false
}

// LastApplied returns the highest applied batch id for a market.
func (sm *StateMachine) LastApplied(market string) uint64 {
	ms := sm.market(market)
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.lastApplied
}

// State returns the lifecycle state of a batch, StatePending if unseen.
func (sm *StateMachine) State(market string, batchID uint64) BatchState {
	ms := sm.market(market)
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if s, ok := ms.batches[batchID]; ok {
		return s
	}
	return StatePending
}
