package replay

import (
	"context"
	"errors"
	"time"
)

// Store is the durable replay-protection state consumed by the intent
// validator: per-session nonce reservations and volume counters. It is kept
// behind a narrow interface so the engine can scale horizontally and survive
// restarts without re-admitting a spent nonce.
type Store interface {
	// Session returns the budget state for a session key.
	Session(ctx context.Context, sessionKey string) (*SessionState, error)

	// ReserveNonce atomically records a nonce for a session key. It returns
	// ErrNonceReused if the nonce was ever reserved before. The reservation
	// must be a single compare-and-set so two concurrent submissions of the
	// same nonce cannot both pass.
	ReserveNonce(ctx context.Context, sessionKey string, nonce uint64) error

	// ReleaseNonce removes a reservation. Used only to compensate when a
	// later validation step fails after the nonce was already reserved.
	ReleaseNonce(ctx context.Context, sessionKey string, nonce uint64) error

	// AddVolume atomically increments the session's used volume and returns
	// the new total, or ErrVolumeExceeded (without incrementing) if the
	// session budget would be exceeded.
	AddVolume(ctx context.Context, sessionKey string, amount int64) (int64, error)

	// PutSession registers or refreshes a session budget. Session issuance
	// itself is an external concern; this exists so the owning service can
	// provision budgets through the same store.
	PutSession(ctx context.Context, sessionKey string, state *SessionState) error
}

// SessionState is the durable budget attached to a session key.
type SessionState struct {
	ExpiresAt   time.Time
	VolumeLimit int64
	VolumeUsed  int64
}

// Expired reports whether the session is past its expiry at the given time.
func (s *SessionState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

var (
	// ErrNonceReused is returned when a nonce was already reserved for the
	// session key.
	ErrNonceReused = errors.New("replay: nonce already used")

	// ErrVolumeExceeded is returned when an increment would push the session
	// past its volume budget.
	ErrVolumeExceeded = errors.New("replay: session volume limit exceeded")

	// ErrSessionUnknown is returned for a session key with no stored budget.
	ErrSessionUnknown = errors.New("replay: unknown session key")
)
