package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/netsettle/internal/archive"
	"github.com/example/netsettle/internal/batch"
	"github.com/example/netsettle/internal/chain"
	"github.com/example/netsettle/internal/ghost"
	"github.com/example/netsettle/internal/intent"
	"github.com/example/netsettle/internal/merkle"
	"github.com/example/netsettle/internal/metrics"
	"github.com/example/netsettle/internal/netting"
	"github.com/example/netsettle/internal/submit"
	"github.com/example/netsettle/pkg/audit"
	"github.com/example/netsettle/pkg/logger"
)

// ErrAlreadyFlushed is returned by Cancel when the intent has left the
// pending pool. Once an intent is inside a built batch it cannot be
// withdrawn; only the whole batch can fail.
var ErrAlreadyFlushed = errors.New("intent already flushed into a batch")

// ErrUnknownIntent is returned by Cancel for an id the market never saw.
var ErrUnknownIntent = errors.New("intent not found")

// proofRetention is how many recent batches keep their Merkle trees in
// memory for inclusion proofs. Older proofs are rebuilt from the archive.
const proofRetention = 8

// Config tunes the engine.
type Config struct {
	MarketFeeBps  uint16
	Scheduler     batch.SchedulerConfig
	FlushInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MarketFeeBps:  0,
		Scheduler:     batch.DefaultSchedulerConfig(),
		FlushInterval: 50 * time.Millisecond,
	}
}

// Engine drives the settlement pipeline: intents are validated into
// per-market pending pools, the scheduler decides when to flush, and a
// flush nets, ghost-injects, compresses and submits one or more batches.
// Markets settle independently; within a market, batches are strictly
// sequential.
type Engine struct {
	cfg       Config
	validator *intent.Validator
	netter    *netting.Engine
	injector  *ghost.Injector
	submitter *submit.Submitter
	archive   archive.Store
	journal   *audit.ChainLogger
	now       func() time.Time

	nextIntentID atomic.Uint64

	mu      sync.Mutex
	markets map[string]*pipeline
}

// pipeline is the per-market settlement lane. The pool mutex guards the
// pending set; flushMu serializes flushes so a market never has two batches
// in flight.
type pipeline struct {
	name string

	mu        sync.Mutex
	pending   []*intent.Intent
	admitted  map[uint64]bool
	recycled  map[uint64]bool
	scheduler *batch.Scheduler

	flushMu     sync.Mutex
	nextBatchID uint64
	recent      []*batch.Batch
}

// New wires the engine. The archive seeds each market's batch id sequence,
// so restarts never reuse an id the chain has seen.
func New(cfg Config, validator *intent.Validator, pool ghost.AddressPool,
	submitter *submit.Submitter, store archive.Store, journal *audit.ChainLogger) *Engine {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Engine{
		cfg:       cfg,
		validator: validator,
		netter:    netting.NewEngine(cfg.MarketFeeBps),
		injector:  ghost.NewInjector(pool),
		submitter: submitter,
		archive:   store,
		journal:   journal,
		now:       time.Now,
		markets:   make(map[string]*pipeline),
	}
}

func (e *Engine) pipeline(market string) *pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.markets[market]
	if !ok {
		p = &pipeline{
			name:      market,
			admitted:  make(map[uint64]bool),
			recycled:  make(map[uint64]bool),
			scheduler: batch.NewScheduler(e.cfg.Scheduler),
		}
		e.markets[market] = p
	}
	return p
}

// Submit validates an intent and admits it into its market's pending pool.
// The returned id is the engine-assigned intake sequence number, which also
// fixes the intent's netting order.
func (e *Engine) Submit(ctx context.Context, in *intent.Intent) (uint64, error) {
	if err := e.validator.Validate(ctx, in); err != nil {
		return 0, err
	}

	in.ID = e.nextIntentID.Add(1)
	p := e.pipeline(in.Market)

	p.mu.Lock()
	p.pending = append(p.pending, in)
	p.admitted[in.ID] = true
	p.scheduler.Observe(1, e.now())
	pending := len(p.pending)
	p.mu.Unlock()

	metrics.IntentAccepted()
	logger.WithMarket(in.Market).WithField("intent_id", in.ID).
		WithField("pending", pending).Debug("intent accepted")
	return in.ID, nil
}

// Cancel withdraws a pending intent. Intents already flushed into a batch
// cannot be cancelled; ids this market never admitted, including cancelled
// ones and ids from other markets, report as unknown.
func (e *Engine) Cancel(ctx context.Context, market string, intentID uint64) error {
	p := e.pipeline(market)
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, in := range p.pending {
		if in.ID == intentID {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			delete(p.admitted, intentID)
			return nil
		}
	}
	if p.admitted[intentID] {
		return ErrAlreadyFlushed
	}
	return ErrUnknownIntent
}

// Pending reports the pending pool depth for a market.
func (e *Engine) Pending(market string) int {
	p := e.pipeline(market)
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Run drives the flush loop until the context ends. A final flush drains
// whatever is still pending on shutdown.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.flushAll(drainCtx, true)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			e.flushAll(ctx, false)
		}
	}
}

func (e *Engine) flushAll(ctx context.Context, force bool) {
	e.mu.Lock()
	names := make([]string, 0, len(e.markets))
	for name := range e.markets {
		names = append(names, name)
	}
	e.mu.Unlock()

	for _, name := range names {
		p := e.pipeline(name)
		p.mu.Lock()
		due := force && len(p.pending) > 0 || p.scheduler.ShouldFlush(len(p.pending), e.now())
		p.mu.Unlock()
		if !due {
			continue
		}
		if err := e.Flush(ctx, name); err != nil {
			logger.WithMarket(name).WithError(err).Error("flush failed")
		}
	}
}

// Flush drains the market's pending pool into one or more batches and
// submits them in sequence. If the pool exceeds the ledger entry ceiling it
// is split; each slice settles as its own batch.
func (e *Engine) Flush(ctx context.Context, market string) error {
	p := e.pipeline(market)

	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	if p.nextBatchID == 0 {
		last, err := e.archive.LastBatchID(ctx, market)
		if err != nil {
			return fmt.Errorf("recover batch sequence for %s: %w", market, err)
		}
		p.nextBatchID = last + 1
	}

	p.mu.Lock()
	pool := p.pending
	p.pending = nil
	p.scheduler.MarkFlushed(e.now())
	p.mu.Unlock()

	if len(pool) == 0 {
		return nil
	}

	// The entry ceiling counts netted deltas plus items plus decoys, which
	// is only known after netting. Slices start at the ceiling in intents
	// and halve until the built batch fits.
	size := p.scheduler.MaxEntries()
	for len(pool) > 0 {
		if size > len(pool) {
			size = len(pool)
		}
		slice := pool[:size]
		err := e.settleSlice(ctx, p, slice)

		var oversize *batch.ErrSizeExceeded
		if errors.As(err, &oversize) {
			if size > 1 {
				size /= 2
				continue
			}
			// A single intent overflows the ceiling on its own, so
			// re-queueing it can never make progress.
			logger.WithMarket(market).WithError(err).
				WithField("intent_id", slice[0].ID).
				Error("dropping intent that overflows the ledger ceiling alone")
			e.journal.BatchQuarantined(market, p.nextBatchID, "Oversize")
			metrics.BatchQuarantined("Oversize")
			p.nextBatchID++
			pool = pool[1:]
			size = p.scheduler.MaxEntries()
			continue
		}
		if err != nil {
			// Unsettled intents go back to the pool intact.
			p.mu.Lock()
			p.pending = append(append([]*intent.Intent{}, pool...), p.pending...)
			p.mu.Unlock()
			return err
		}
		pool = pool[size:]
	}
	return nil
}

// settleSlice runs one slice of intents through net -> inject -> build ->
// submit. Chain rejections quarantine the batch; transient failures bubble
// up with the slice returned to the pool.
func (e *Engine) settleSlice(ctx context.Context, p *pipeline, slice []*intent.Intent) error {
	start := e.now()
	log := logger.WithBatch(p.name, p.nextBatchID)

	res, err := e.netter.Net(p.name, slice)
	if err != nil {
		e.rejectNetting(p, slice, err)
		return nil
	}

	inj, err := e.injector.Inject(ctx, res)
	if err != nil {
		return fmt.Errorf("ghost injection: %w", err)
	}

	b, err := batch.Build(p.nextBatchID, res, inj, p.scheduler.MaxEntries(), e.now())
	if err != nil {
		return fmt.Errorf("build batch: %w", err)
	}

	ev, err := e.submitter.Submit(ctx, b)
	if err != nil {
		var rej *chain.RejectionError
		if errors.As(err, &rej) {
			e.quarantine(ctx, p, b, slice, rej)
			return nil
		}
		return fmt.Errorf("submit: %w", err)
	}

	p.nextBatchID++
	p.recent = append(p.recent, b)
	if len(p.recent) > proofRetention {
		p.recent = p.recent[1:]
	}

	appliedAt := e.now()
	if ev != nil {
		appliedAt = ev.Timestamp
	}
	rec := &archive.Record{
		BatchID:      b.ID,
		Market:       b.Market,
		MerkleRoot:   b.MerkleRoot[:],
		BatchHash:    b.Hash[:],
		Payload:      b.EncodePayload(),
		NumWallets:   len(b.Deltas),
		NumItems:     len(b.Items),
		AnonymitySet: b.AnonymitySet,
		Fee:          b.Fee,
		CreatedAt:    b.CreatedAt,
		AppliedAt:    appliedAt,
	}
	if err := e.archive.SaveBatch(ctx, rec); err != nil {
		// The chain applied the batch; the archive write must not undo it.
		log.WithError(err).Error("archive write failed for applied batch")
	}

	e.journal.BatchApplied(b.Market, b.ID, b.MerkleRoot, b.Fee)
	metrics.BatchFlushed(len(b.Deltas)+len(b.Items), b.AnonymitySet)
	metrics.SettlementObserved(e.now().Sub(start))
	log.WithField("wallets", len(b.Deltas)).WithField("items", len(b.Items)).
		WithField("anonymity_set", b.AnonymitySet).Info("batch settled")
	return nil
}

// rejectNetting handles a netting invariant failure. The failed batch is
// discarded, but the innocent intents batched with the offender return to
// the pending pool; only the intent the netter blames is dropped. When no
// single intent is to blame, the whole slice gets the one-shot recycle
// treatment instead.
func (e *Engine) rejectNetting(p *pipeline, slice []*intent.Intent, err error) {
	log := logger.WithBatch(p.name, p.nextBatchID)
	log.WithError(err).Error("netting failed")

	e.journal.BatchQuarantined(p.name, p.nextBatchID, "Netting")
	metrics.BatchQuarantined("Netting")
	p.nextBatchID++

	var nerr *netting.Error
	offender := uint64(0)
	if errors.As(err, &nerr) {
		offender = nerr.IntentID
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, in := range slice {
		if offender != 0 {
			if in.ID == offender {
				log.WithField("intent_id", in.ID).Warn("dropping intent that failed netting")
				continue
			}
			p.pending = append(p.pending, in)
			continue
		}
		if p.recycled[in.ID] {
			continue
		}
		p.recycled[in.ID] = true
		p.pending = append(p.pending, in)
	}
}

// quarantine records a chain-rejected batch and recycles its real intents
// once. An intent whose recycled batch is rejected again is dropped; at that
// point the fault is in the intent set, not in transient state.
func (e *Engine) quarantine(ctx context.Context, p *pipeline, b *batch.Batch, slice []*intent.Intent, rej *chain.RejectionError) {
	log := logger.WithBatch(p.name, b.ID)
	log.WithField("guard", string(rej.Guard)).Warn("batch quarantined")

	qrec := &archive.QuarantineRecord{
		BatchID:       b.ID,
		Market:        b.Market,
		Guard:         string(rej.Guard),
		Detail:        rej.Detail,
		Payload:       b.EncodePayload(),
		QuarantinedAt: e.now(),
	}
	if err := e.archive.Quarantine(ctx, qrec); err != nil {
		log.WithError(err).Error("quarantine write failed")
	}
	e.journal.BatchQuarantined(b.Market, b.ID, string(rej.Guard))
	metrics.BatchQuarantined(string(rej.Guard))

	// The rejected id is burned; the next attempt uses a fresh one.
	p.nextBatchID++

	p.mu.Lock()
	defer p.mu.Unlock()
	recycled, dropped := 0, 0
	for _, in := range slice {
		if p.recycled[in.ID] {
			dropped++
			continue
		}
		p.recycled[in.ID] = true
		p.pending = append(p.pending, in)
		recycled++
	}
	if dropped > 0 {
		log.WithField("dropped", dropped).Warn("dropping intents rejected twice")
	}
	if recycled > 0 {
		log.WithField("recycled", recycled).Info("recycled intents into pending pool")
	}
}

// Proof returns the inclusion proof for a wallet's cash delta in a batch,
// together with the batch's Merkle root. Recent batches answer from memory;
// older ones are rebuilt from the archived payload.
func (e *Engine) Proof(ctx context.Context, market string, batchID uint64, wallet string) (*merkle.Proof, [32]byte, error) {
	p := e.pipeline(market)

	p.flushMu.Lock()
	var retained *batch.Batch
	for _, b := range p.recent {
		if b.ID == batchID {
			retained = b
			break
		}
	}
	p.flushMu.Unlock()

	if retained == nil {
		return e.proofFromArchive(ctx, market, batchID, wallet)
	}
	for i, d := range retained.Deltas {
		if d.Wallet == wallet {
			proof, err := retained.ProofForDelta(i)
			if err != nil {
				return nil, [32]byte{}, err
			}
			return proof, retained.MerkleRoot, nil
		}
	}
	return nil, [32]byte{}, fmt.Errorf("wallet %s not in batch %d", wallet, batchID)
}

// proofFromArchive rebuilds a batch's Merkle tree from the archived payload
// and proves against it. The rebuilt tree reproduces the published root, so
// the proof verifies exactly like one served from memory.
func (e *Engine) proofFromArchive(ctx context.Context, market string, batchID uint64, wallet string) (*merkle.Proof, [32]byte, error) {
	rec, err := e.archive.GetBatch(ctx, market, batchID)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("batch %d not retained or archived for market %s: %w", batchID, market, err)
	}
	dec, err := batch.DecodePayload(rec.Payload)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("rebuild batch %d: %w", batchID, err)
	}

	leaves := make([][32]byte, 0, len(dec.Deltas)+len(dec.Items))
	for _, d := range dec.Deltas {
		leaves = append(leaves, batch.DeltaLeaf(d))
	}
	for _, it := range dec.Items {
		leaves = append(leaves, batch.ItemLeaf(it))
	}
	tree, err := merkle.New(leaves)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("rebuild batch %d: %w", batchID, err)
	}

	for i, d := range dec.Deltas {
		if d.Wallet == wallet {
			proof, err := tree.ProofFor(i)
			if err != nil {
				return nil, [32]byte{}, err
			}
			return proof, tree.Root(), nil
		}
	}
	return nil, [32]byte{}, fmt.Errorf("wallet %s not in batch %d", wallet, batchID)
}

// Journal exposes the settlement journal.
func (e *Engine) Journal() *audit.ChainLogger {
	return e.journal
}
