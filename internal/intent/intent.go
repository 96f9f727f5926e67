package intent

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"
)

// Kind discriminates the transfer carried by an intent.
type Kind uint8

const (
	// KindCash moves a cash amount from sender to recipient.
	KindCash Kind = 0
	// KindItem moves an item (escrowed quantity) from sender to recipient.
	KindItem Kind = 1
)

// SaleKind mirrors the listing kinds of the host marketplace.
type SaleKind uint8

const (
	SaleFixedPrice SaleKind = 0
	SaleAuction    SaleKind = 1
	SaleCompressed SaleKind = 2
)

// GhostItemBase is the start of the item id range reserved for decoy
// entries. Real intents naming an id at or above it are rejected at
// validation, so a decoy can never collide with a real listing.
const GhostItemBase = uint64(1) << 62

// Intent is a signed, off-chain request to move cash or an item. It is
// immutable once accepted; ID is assigned by the engine intake sequence and
// doubles as the deterministic netting order.
type Intent struct {
	ID        uint64
	Market    string
	Sender    string
	Recipient string

	Kind   Kind
	Amount int64 // cash units, KindCash only

	ItemID     uint64 // KindItem only
	Quantity   uint64
	GrossPrice uint64 // sale price in cash units; 0 for a plain transfer
	Creator    string // royalty recipient; empty when no royalty applies
	RoyaltyBps uint16
	Sale       SaleKind

	Nonce      uint64
	SessionKey string // hex-encoded ed25519 public key
	Signature  []byte

	CreatedAt time.Time
	TTL       time.Duration
}

// Volume is the cash volume this intent counts against the session budget.
func (in *Intent) Volume() int64 {
	if in.Kind == KindCash {
		return in.Amount
	}
	return int64(in.GrossPrice)
}

// Expired reports whether the intent outlived its TTL at the given time.
func (in *Intent) Expired(now time.Time) bool {
	return in.TTL > 0 && now.Sub(in.CreatedAt) >= in.TTL
}

// SigningBytes produces the canonical digest a client signs: keccak-256 over
// the little-endian encoding of every field except the signature and the
// engine-assigned ID. The encoding must never change shape between releases,
// otherwise previously issued signatures stop verifying.
func (in *Intent) SigningBytes() []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("netsettle/intent/v1"))

	writeString(h, in.Market)
	writeString(h, in.Sender)
	writeString(h, in.Recipient)
	h.Write([]byte{byte(in.Kind)})
	writeUint64(h, uint64(in.Amount))
	writeUint64(h, in.ItemID)
	writeUint64(h, in.Quantity)
	writeUint64(h, in.GrossPrice)
	writeString(h, in.Creator)
	writeUint16(h, in.RoyaltyBps)
	h.Write([]byte{byte(in.Sale)})
	writeUint64(h, in.Nonce)
	writeString(h, in.SessionKey)
	writeUint64(h, uint64(in.CreatedAt.Unix()))
	writeUint64(h, uint64(in.TTL/time.Second))

	return h.Sum(nil)
}

// Sign signs the canonical digest with the given private key and attaches
// the signature. The session public key must match the private key.
func (in *Intent) Sign(priv ed25519.PrivateKey) {
	in.Signature = ed25519.Sign(priv, in.SigningBytes())
}

// VerifySignature checks the attached signature against the session key.
func (in *Intent) VerifySignature() error {
	pub, err := hex.DecodeString(in.SessionKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("malformed session key %q", in.SessionKey)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), in.SigningBytes(), in.Signature) {
		return fmt.Errorf("signature does not verify against session key")
	}
	return nil
}

func writeString(h interface{ Write([]byte) (int, error) }, s string) {
	writeUint64(h, uint64(len(s)))
	h.Write([]byte(s))
}

func writeUint64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

func writeUint16(h interface{ Write([]byte) (int, error) }, v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	h.Write(buf[:])
}
