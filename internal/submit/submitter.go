package submit

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/example/netsettle/internal/batch"
	"github.com/example/netsettle/internal/chain"
	"github.com/example/netsettle/internal/metrics"
	"github.com/example/netsettle/pkg/logger"
)

// ChainClient is the submission surface of the settlement chain. LocalClient
// satisfies it in-process; a transport-backed client satisfies it remotely.
type ChainClient interface {
	Submit(ctx context.Context, tx *chain.SettlementTx) (*chain.Event, error)
	LastApplied(ctx context.Context, market string) (uint64, error)
}

// TransientError marks a submission failure worth retrying: network faults,
// congestion, timeouts. Guard rejections are never transient.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient submission failure: %v", e.Cause)
}
func (e *TransientError) Unwrap() error { return e.Cause }

// Config tunes the retry schedule.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig matches the settlement deadline budget: a handful of
// attempts inside a few seconds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Submitter signs compressed batches with the settlement authority key and
// drives them onto the chain.
type Submitter struct {
	client ChainClient
	key    ed25519.PrivateKey
	cfg    Config
	sleep  func(context.Context, time.Duration) error
}

// New builds a Submitter around a chain client and the authority key.
func New(client ChainClient, key ed25519.PrivateKey, cfg Config) *Submitter {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Submitter{client: client, key: key, cfg: cfg, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BuildTx signs the batch payload and shapes the settlement transaction.
func (s *Submitter) BuildTx(b *batch.Batch) *chain.SettlementTx {
	payload := b.EncodePayload()
	return &chain.SettlementTx{
		BatchID:    b.ID,
		Market:     b.Market,
		MerkleRoot: b.MerkleRoot,
		BatchHash:  b.Hash,
		Items:      b.Items,
		Deltas:     b.Deltas,
		Royalties:  b.Royalties,
		Fee:        b.Fee,
		Payload:    payload,
		Signature:  ed25519.Sign(s.key, payload),
	}
}

// Submit pushes a batch to the chain, retrying transient failures with
// exponential backoff. A guard rejection returns immediately: retrying a
// rejected batch would hit the same guard. After an ambiguous outcome (a
// timeout mid-submit) the chain is re-queried before resubmitting, so a
// batch that actually landed is not sent twice.
func (s *Submitter) Submit(ctx context.Context, b *batch.Batch) (*chain.Event, error) {
	tx := s.BuildTx(b)
	log := logger.WithBatch(b.Market, b.ID)

	backoff := s.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			applied, err := s.client.LastApplied(ctx, b.Market)
			if err == nil && applied >= b.ID {
				log.Info("batch already applied, skipping resubmission")
				return nil, nil
			}
		}

		ev, err := s.client.Submit(ctx, tx)
		if err == nil {
			return ev, nil
		}

		var rej *chain.RejectionError
		if errors.As(err, &rej) {
			log.WithField("guard", string(rej.Guard)).Warn("settlement rejected on chain")
			return nil, err
		}

		var transient *TransientError
		if !errors.As(err, &transient) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("submit batch %d: %w", b.ID, err)
		}

		lastErr = err
		metrics.SubmissionRetried()
		log.WithError(err).WithField("attempt", attempt).Warn("submission failed, backing off")

		if attempt == s.cfg.MaxAttempts {
			break
		}
		if err := s.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
	return nil, fmt.Errorf("submit batch %d: attempts exhausted: %w", b.ID, lastErr)
}
