package intent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/netsettle/internal/replay"
)

// RejectCode classifies validator rejections. These surface synchronously to
// the client and carry no on-chain cost.
type RejectCode string

const (
	RejectBadSignature   RejectCode = "BadSignature"
	RejectNonceReused    RejectCode = "NonceReused"
	RejectVolumeExceeded RejectCode = "VolumeExceeded"
	RejectExpired        RejectCode = "Expired"
	RejectMalformed      RejectCode = "Malformed"
)

// Rejection is a typed validation failure with zero side effects.
type Rejection struct {
	Code   RejectCode
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("intent rejected (%s): %s", r.Code, r.Detail)
}

func reject(code RejectCode, format string, args ...interface{}) *Rejection {
	return &Rejection{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Validator checks raw intents against signature, session budget, TTL and
// durable replay state before they may enter the pending pool.
type Validator struct {
	store replay.Store
	now   func() time.Time
}

// NewValidator creates a validator over the given replay store.
func NewValidator(store replay.Store) *Validator {
	return &Validator{store: store, now: time.Now}
}

// Validate runs every check for a single intent. On success the nonce is
// reserved and the session volume committed; on any failure nothing durable
// changes. Returns *Rejection for client errors, other errors for
// infrastructure failures.
func (v *Validator) Validate(ctx context.Context, in *Intent) error {
	if err := v.checkShape(in); err != nil {
		return err
	}

	now := v.now()
	if in.Expired(now) {
		return reject(RejectExpired, "intent older than its ttl of %s", in.TTL)
	}

	if err := in.VerifySignature(); err != nil {
		return reject(RejectBadSignature, "%v", err)
	}

	session, err := v.store.Session(ctx, in.SessionKey)
	if err != nil {
		if errors.Is(err, replay.ErrSessionUnknown) {
			return reject(RejectBadSignature, "no session registered for key")
		}
		return fmt.Errorf("session lookup: %w", err)
	}
	if session.Expired(now) {
		return reject(RejectExpired, "session key expired at %s", session.ExpiresAt)
	}

	// Nonce reservation is the single atomic compare-and-set that closes the
	// validate-then-reserve race. Everything after it must either succeed or
	// compensate by releasing the reservation.
	if err := v.store.ReserveNonce(ctx, in.SessionKey, in.Nonce); err != nil {
		if errors.Is(err, replay.ErrNonceReused) {
			return reject(RejectNonceReused, "nonce %d already used", in.Nonce)
		}
		return fmt.Errorf("nonce reservation: %w", err)
	}

	if _, err := v.store.AddVolume(ctx, in.SessionKey, in.Volume()); err != nil {
		if relErr := v.store.ReleaseNonce(ctx, in.SessionKey, in.Nonce); relErr != nil {
			return fmt.Errorf("volume check failed (%v) and nonce release failed: %w", err, relErr)
		}
		if errors.Is(err, replay.ErrVolumeExceeded) {
			return reject(RejectVolumeExceeded, "intent volume %d exceeds remaining session budget", in.Volume())
		}
		return fmt.Errorf("volume increment: %w", err)
	}

	return nil
}

func (v *Validator) checkShape(in *Intent) error {
	if in.Market == "" || in.Sender == "" || in.Recipient == "" {
		return reject(RejectMalformed, "market, sender and recipient are required")
	}
	if in.Sender == in.Recipient {
		return reject(RejectMalformed, "sender and recipient must differ")
	}
	switch in.Kind {
	case KindCash:
		if in.Amount <= 0 {
			return reject(RejectMalformed, "cash amount must be positive")
		}
	case KindItem:
		if in.Quantity == 0 {
			return reject(RejectMalformed, "item quantity must be positive")
		}
		if in.ItemID >= GhostItemBase {
			return reject(RejectMalformed, "item id %d is in the reserved decoy range", in.ItemID)
		}
		if in.RoyaltyBps > 10000 {
			return reject(RejectMalformed, "royalty bps %d out of range", in.RoyaltyBps)
		}
		if in.RoyaltyBps > 0 && in.Creator == "" {
			return reject(RejectMalformed, "royalty requires a creator address")
		}
	default:
		return reject(RejectMalformed, "unknown intent kind %d", in.Kind)
	}
	if len(in.Signature) == 0 {
		return reject(RejectBadSignature, "missing signature")
	}
	return nil
}
