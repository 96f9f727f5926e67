package archive

import (
	"context"
	"time"
)

// Record is a durably archived batch, written after the chain applies it.
type Record struct {
	BatchID      uint64
	Market       string
	MerkleRoot   []byte
	BatchHash    []byte
	Payload      []byte
	NumWallets   int
	NumItems     int
	AnonymitySet int
	Fee          uint64
	CreatedAt    time.Time
	AppliedAt    time.Time
}

// QuarantineRecord is a rejected batch preserved for operator review.
type QuarantineRecord struct {
	BatchID       uint64
	Market        string
	Guard         string
	Detail        string
	Payload       []byte
	QuarantinedAt time.Time
}

// Store persists the batch history. The engine recovers its batch id
// sequence from LastBatchID on restart.
type Store interface {
	SaveBatch(ctx context.Context, rec *Record) error
	Quarantine(ctx context.Context, rec *QuarantineRecord) error
	LastBatchID(ctx context.Context, market string) (uint64, error)
	GetBatch(ctx context.Context, market string, batchID uint64) (*Record, error)
}
