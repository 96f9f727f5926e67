package batch

import (
	"encoding/binary"
	"fmt"

	"github.com/example/netsettle/internal/intent"
	"github.com/example/netsettle/internal/netting"
)

// Decoded is the parsed form of a settlement payload, enough to rebuild the
// batch's Merkle tree from an archived copy.
type Decoded struct {
	ID         uint64
	MerkleRoot [32]byte
	Items      []netting.SettledItem
	Deltas     []netting.CashDelta
	Royalties  []netting.RoyaltyPayout
	Fee        uint64
}

// DecodePayload parses a payload produced by EncodePayload.
func DecodePayload(payload []byte) (*Decoded, error) {
	r := &payloadReader{buf: payload}
	d := &Decoded{}

	d.ID = r.uint64()
	r.bytes(d.MerkleRoot[:])

	nItems := r.uint32()
	for i := uint32(0); i < nItems && r.err == nil; i++ {
		if tag := r.byte(); tag != 'I' {
			return nil, fmt.Errorf("decode payload: item %d has tag %q", i, tag)
		}
		d.Items = append(d.Items, netting.SettledItem{
			ItemID:     r.uint64(),
			Owner:      r.string(),
			Quantity:   r.uint64(),
			Sale:       intent.SaleKind(r.byte()),
			GrossPrice: r.uint64(),
			FeePaid:    r.uint64(),
		})
	}

	nDeltas := r.uint32()
	for i := uint32(0); i < nDeltas && r.err == nil; i++ {
		if tag := r.byte(); tag != 'C' {
			return nil, fmt.Errorf("decode payload: delta %d has tag %q", i, tag)
		}
		d.Deltas = append(d.Deltas, netting.CashDelta{
			Wallet: r.string(),
			Delta:  int64(r.uint64()),
		})
	}

	nRoyalties := r.uint32()
	for i := uint32(0); i < nRoyalties && r.err == nil; i++ {
		d.Royalties = append(d.Royalties, netting.RoyaltyPayout{
			Recipient: r.string(),
			Amount:    r.uint64(),
		})
	}

	d.Fee = r.uint64()
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(r.buf) {
		return nil, fmt.Errorf("decode payload: %d trailing bytes", len(r.buf)-r.off)
	}
	return d, nil
}

// payloadReader walks the payload; the first truncation latches in err and
// every later read returns zero.
type payloadReader struct {
	buf []byte
	off int
	err error
}

func (r *payloadReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("decode payload: truncated at offset %d", r.off)
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *payloadReader) byte() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *payloadReader) uint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *payloadReader) uint64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *payloadReader) string() string {
	n := r.uint32()
	return string(r.take(int(n)))
}

func (r *payloadReader) bytes(dst []byte) {
	if b := r.take(len(dst)); b != nil {
		copy(dst, b)
	}
}
