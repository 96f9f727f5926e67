package batch

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/example/netsettle/internal/ghost"
	"github.com/example/netsettle/internal/merkle"
	"github.com/example/netsettle/internal/netting"
)

// ErrSizeExceeded is returned when a batch would overflow the host ledger's
// per-transaction entry ceiling. The caller must split the pending pool
// instead.
type ErrSizeExceeded struct {
	Entries int
	Limit   int
}

func (e *ErrSizeExceeded) Error() string {
	return fmt.Sprintf("batch: %d entries exceed the ledger ceiling of %d", e.Entries, e.Limit)
}

// Batch is an immutable unit of settlement: the merged (real + ghost) entry
// set, its Merkle commitment, and the fee owed to the treasury. After Build
// returns, nothing in it may change; retries re-submit the same content
// under the same id.
type Batch struct {
	ID     uint64
	Market string

	Deltas    []netting.CashDelta
	Items     []netting.SettledItem
	Royalties []netting.RoyaltyPayout
	Fee       uint64

	RealWallets  int
	GhostWallets int
	AnonymitySet int

	IntentIDs []uint64
	CreatedAt time.Time

	MerkleRoot [32]byte
	Hash       [32]byte

	tree *merkle.Tree
}

// Build freezes a netted, ghost-injected result into a batch. Entry order
// is already deterministic (both lists arrive sorted), so the root and hash
// are reproducible by any independent auditor holding the same intent set.
func Build(id uint64, res *netting.Result, inj *ghost.Injection, maxEntries int, now time.Time) (*Batch, error) {
	entries := len(inj.Deltas) + len(inj.Items)
	if maxEntries > 0 && entries > maxEntries {
		return nil, &ErrSizeExceeded{Entries: entries, Limit: maxEntries}
	}

	b := &Batch{
		ID:           id,
		Market:       res.Market,
		Deltas:       inj.Deltas,
		Items:        inj.Items,
		Royalties:    res.Royalties,
		Fee:          res.Fee,
		RealWallets:  inj.RealWallets,
		GhostWallets: inj.GhostWallets,
		AnonymitySet: inj.AnonymitySet,
		IntentIDs:    res.IntentIDs,
		CreatedAt:    now,
	}

	tree, err := merkle.New(b.Leaves())
	if err != nil {
		return nil, fmt.Errorf("batch %d: %w", id, err)
	}
	b.tree = tree
	b.MerkleRoot = tree.Root()
	b.Hash = b.computeHash()
	return b, nil
}

// Leaves returns the hashed leaf list: cash deltas first, then items, each
// under its own leaf tag.
func (b *Batch) Leaves() [][32]byte {
	leaves := make([][32]byte, 0, len(b.Deltas)+len(b.Items))
	for _, d := range b.Deltas {
		leaves = append(leaves, merkle.HashLeaf(encodeDelta(d)))
	}
	for _, it := range b.Items {
		leaves = append(leaves, merkle.HashLeaf(encodeItem(it)))
	}
	return leaves
}

// ProofForDelta returns the inclusion proof for the i-th cash delta.
func (b *Batch) ProofForDelta(i int) (*merkle.Proof, error) {
	return b.tree.ProofFor(i)
}

// ProofForItem returns the inclusion proof for the i-th settled item.
func (b *Batch) ProofForItem(i int) (*merkle.Proof, error) {
	return b.tree.ProofFor(len(b.Deltas) + i)
}

// EncodePayload produces the bit-exact little-endian settlement payload.
func (b *Batch) EncodePayload() []byte {
	return EncodePayload(b.ID, b.MerkleRoot, b.Items, b.Deltas, b.Royalties, b.Fee)
}

// EncodePayload assembles the settlement payload: batch id, merkle root,
// items, cash deltas, royalty distribution, fee. The on-chain program
// decodes exactly this layout, so any change here is a wire-format break.
// The chain re-runs this encoding to bind a transaction's structured fields
// to its signed bytes.
func EncodePayload(id uint64, root [32]byte, items []netting.SettledItem,
	deltas []netting.CashDelta, royalties []netting.RoyaltyPayout, fee uint64) []byte {
	buf := make([]byte, 0, 64+40*len(deltas)+64*len(items))

	buf = appendUint64(buf, id)
	buf = append(buf, root[:]...)

	buf = appendUint32(buf, uint32(len(items)))
	for _, it := range items {
		buf = encodeItemInto(buf, it)
	}

	buf = appendUint32(buf, uint32(len(deltas)))
	for _, d := range deltas {
		buf = encodeDeltaInto(buf, d)
	}

	buf = appendUint32(buf, uint32(len(royalties)))
	for _, r := range royalties {
		buf = appendString(buf, r.Recipient)
		buf = appendUint64(buf, r.Amount)
	}

	buf = appendUint64(buf, fee)
	return buf
}

func (b *Batch) computeHash() [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("netsettle/batch/v1"))
	h.Write(b.EncodePayload())
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DeltaLeaf computes the Merkle leaf for a cash delta, letting a wallet
// verify its own inclusion proof from the disclosed delta alone.
func DeltaLeaf(d netting.CashDelta) [32]byte {
	return merkle.HashLeaf(encodeDelta(d))
}

// ItemLeaf computes the Merkle leaf for a settled item.
func ItemLeaf(it netting.SettledItem) [32]byte {
	return merkle.HashLeaf(encodeItem(it))
}

func encodeDelta(d netting.CashDelta) []byte {
	return encodeDeltaInto(make([]byte, 0, 40), d)
}

func encodeDeltaInto(buf []byte, d netting.CashDelta) []byte {
	buf = append(buf, 'C')
	buf = appendString(buf, d.Wallet)
	buf = appendUint64(buf, uint64(d.Delta))
	return buf
}

func encodeItem(it netting.SettledItem) []byte {
	return encodeItemInto(make([]byte, 0, 64), it)
}

func encodeItemInto(buf []byte, it netting.SettledItem) []byte {
	buf = append(buf, 'I')
	buf = appendUint64(buf, it.ItemID)
	buf = appendString(buf, it.Owner)
	buf = appendUint64(buf, it.Quantity)
	buf = append(buf, byte(it.Sale))
	buf = appendUint64(buf, it.GrossPrice)
	buf = appendUint64(buf, it.FeePaid)
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}
