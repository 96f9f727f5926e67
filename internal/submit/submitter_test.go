package submit

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/netsettle/internal/batch"
	"github.com/example/netsettle/internal/chain"
	"github.com/example/netsettle/internal/netting"
)

// fakeClient scripts the chain's responses per attempt.
type fakeClient struct {
	submitErrs  []error
	submits     int
	lastApplied uint64
	lastQueries int
}

func (f *fakeClient) Submit(ctx context.Context, tx *chain.SettlementTx) (*chain.Event, error) {
	f.submits++
	if f.submits <= len(f.submitErrs) && f.submitErrs[f.submits-1] != nil {
		return nil, f.submitErrs[f.submits-1]
	}
	return &chain.Event{BatchID: tx.BatchID, Market: tx.Market}, nil
}

func (f *fakeClient) LastApplied(ctx context.Context, market string) (uint64, error) {
	f.lastQueries++
	return f.lastApplied, nil
}

func testBatch() *batch.Batch {
	return &batch.Batch{
		ID:     9,
		Market: "alpha",
		Deltas: []netting.CashDelta{
			{Wallet: "a", Delta: -100},
			{Wallet: "b", Delta: 100},
		},
	}
}

func newTestSubmitter(t *testing.T, client ChainClient) (*Submitter, *[]time.Duration) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	s := New(client, priv, Config{
		MaxAttempts:    4,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     300 * time.Millisecond,
	})
	var slept []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return s, &slept
}

func TestBuildTxSignsPayload(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s := New(&fakeClient{}, priv, DefaultConfig())

	b := testBatch()
	tx := s.BuildTx(b)

	assert.Equal(t, b.ID, tx.BatchID)
	assert.Equal(t, b.Market, tx.Market)
	assert.Equal(t, b.EncodePayload(), tx.Payload)
	pub := priv.Public().(ed25519.PublicKey)
	assert.True(t, ed25519.Verify(pub, tx.Payload, tx.Signature))
}

func TestSubmitSucceedsFirstAttempt(t *testing.T) {
	client := &fakeClient{}
	s, slept := newTestSubmitter(t, client)

	ev, err := s.Submit(context.Background(), testBatch())
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, uint64(9), ev.BatchID)
	assert.Equal(t, 1, client.submits)
	assert.Empty(t, *slept)
	assert.Zero(t, client.lastQueries, "no ambiguity check before the first attempt")
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	client := &fakeClient{submitErrs: []error{
		&TransientError{Cause: errors.New("connection reset")},
		&TransientError{Cause: errors.New("congested")},
		nil,
	}}
	s, slept := newTestSubmitter(t, client)

	ev, err := s.Submit(context.Background(), testBatch())
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, 3, client.submits)
	// Backoff doubles, capped at the configured maximum.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestSubmitNeverRetriesGuardRejection(t *testing.T) {
	rejection := &chain.RejectionError{Guard: chain.GuardSolvency, Market: "alpha", BatchID: 9}
	client := &fakeClient{submitErrs: []error{rejection}}
	s, slept := newTestSubmitter(t, client)

	ev, err := s.Submit(context.Background(), testBatch())
	require.Nil(t, ev)
	var rej *chain.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, chain.GuardSolvency, rej.Guard)
	assert.Equal(t, 1, client.submits)
	assert.Empty(t, *slept)
}

func TestSubmitSkipsResubmitWhenAlreadyApplied(t *testing.T) {
	// First attempt times out ambiguously; the chain actually applied it.
	client := &fakeClient{
		submitErrs:  []error{context.DeadlineExceeded},
		lastApplied: 9,
	}
	s, _ := newTestSubmitter(t, client)

	ev, err := s.Submit(context.Background(), testBatch())
	require.NoError(t, err)
	assert.Nil(t, ev, "an already-applied batch yields no new event")
	assert.Equal(t, 1, client.submits)
	assert.Equal(t, 1, client.lastQueries)
}

func TestSubmitExhaustsAttempts(t *testing.T) {
	cause := &TransientError{Cause: errors.New("chain unreachable")}
	client := &fakeClient{submitErrs: []error{cause, cause, cause, cause}}
	s, slept := newTestSubmitter(t, client)

	ev, err := s.Submit(context.Background(), testBatch())
	require.Nil(t, ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempts exhausted")
	assert.Equal(t, 4, client.submits)
	assert.Len(t, *slept, 3)
}

func TestSubmitStopsOnPermanentError(t *testing.T) {
	client := &fakeClient{submitErrs: []error{errors.New("malformed transaction")}}
	s, slept := newTestSubmitter(t, client)

	_, err := s.Submit(context.Background(), testBatch())
	require.Error(t, err)
	assert.Equal(t, 1, client.submits)
	assert.Empty(t, *slept)
}

func TestLocalClientAppliesToStateMachine(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sm := chain.New(pub, "treasury")
	sm.Fund("alpha", "a", 500)

	s := New(NewLocalClient(sm), priv, DefaultConfig())
	b := testBatch()
	b.Fee = 0

	ev, err := s.Submit(context.Background(), b)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, int64(400), sm.Balance("alpha", "a"))
	assert.Equal(t, int64(100), sm.Balance("alpha", "b"))
	assert.Equal(t, uint64(9), sm.LastApplied("alpha"))
}
