package archive

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process archive for tests and single-node runs.
type MemoryStore struct {
	mu          sync.Mutex
	batches     map[string]map[uint64]*Record
	quarantined map[string][]*QuarantineRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches:     make(map[string]map[uint64]*Record),
		quarantined: make(map[string][]*QuarantineRecord),
	}
}

func (ms *MemoryStore) SaveBatch(ctx context.Context, rec *Record) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	byID, ok := ms.batches[rec.Market]
	if !ok {
		byID = make(map[uint64]*Record)
		ms.batches[rec.Market] = byID
	}
	for id := range byID {
		if rec.BatchID <= id {
			return fmt.Errorf("batch %d already archived for market %s", rec.BatchID, rec.Market)
		}
	}
	cp := *rec
	byID[rec.BatchID] = &cp
	return nil
}

func (ms *MemoryStore) Quarantine(ctx context.Context, rec *QuarantineRecord) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := *rec
	ms.quarantined[rec.Market] = append(ms.quarantined[rec.Market], &cp)
	return nil
}

func (ms *MemoryStore) LastBatchID(ctx context.Context, market string) (uint64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var last uint64
	for id := range ms.batches[market] {
		if id > last {
			last = id
		}
	}
	return last, nil
}

func (ms *MemoryStore) GetBatch(ctx context.Context, market string, batchID uint64) (*Record, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if rec, ok := ms.batches[market][batchID]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, fmt.Errorf("batch %d not found for market %s", batchID, market)
}

// Quarantined returns the quarantine log for a market, for inspection.
func (ms *MemoryStore) Quarantined(market string) []*QuarantineRecord {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]*QuarantineRecord, len(ms.quarantined[market]))
	copy(out, ms.quarantined[market])
	return out
}
