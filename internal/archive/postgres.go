package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore archives batches in PostgreSQL.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL archive.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

// Migrate applies the archive schema.
func (ps *PostgresStore) Migrate(ctx context.Context) error {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := ps.Pool.Exec(queryCtx, `
		CREATE TABLE IF NOT EXISTS batches (
			batch_id      BIGINT NOT NULL,
			market        TEXT NOT NULL,
			merkle_root   BYTEA NOT NULL,
			batch_hash    BYTEA NOT NULL,
			payload       BYTEA NOT NULL,
			num_wallets   INT NOT NULL,
			num_items     INT NOT NULL,
			anonymity_set INT NOT NULL,
			fee           BIGINT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			applied_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (market, batch_id)
		);
		CREATE TABLE IF NOT EXISTS quarantined_batches (
			batch_id       BIGINT NOT NULL,
			market         TEXT NOT NULL,
			guard          TEXT NOT NULL,
			detail         TEXT NOT NULL,
			payload        BYTEA NOT NULL,
			quarantined_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (market, batch_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to apply archive schema: %w", err)
	}
	return nil
}

// SaveBatch archives an applied batch with transaction safety.
func (ps *PostgresStore) SaveBatch(ctx context.Context, rec *Record) error {
	const maxRetries = 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := ps.saveBatchWithRetry(ctx, rec)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "40001" {
				// Serialization failure, retry
				if attempt == maxRetries-1 {
					return fmt.Errorf("failed to archive batch after %d retries due to serialization failure: %w", maxRetries, err)
				}
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("failed to archive batch: %w", err)
		}
		break
	}

	return nil
}

// saveBatchWithRetry handles the actual insert with SERIALIZABLE isolation.
func (ps *PostgresStore) saveBatchWithRetry(ctx context.Context, rec *Record) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := ps.Pool.Acquire(queryCtx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	// The archive is append-only; monotone batch ids per market keep it so.
	var last uint64
	err = tx.QueryRow(queryCtx,
		"SELECT COALESCE(MAX(batch_id), 0) FROM batches WHERE market = $1 FOR UPDATE",
		rec.Market).Scan(&last)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to check batch sequence: %w", err)
	}
	if rec.BatchID <= last {
		return fmt.Errorf("batch %d already archived for market %s (last %d)", rec.BatchID, rec.Market, last)
	}

	_, err = tx.Exec(queryCtx, `
		INSERT INTO batches (
			batch_id, market, merkle_root, batch_hash, payload,
			num_wallets, num_items, anonymity_set, fee, created_at, applied_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.BatchID, rec.Market, rec.MerkleRoot, rec.BatchHash, rec.Payload,
		rec.NumWallets, rec.NumItems, rec.AnonymitySet, rec.Fee, rec.CreatedAt, rec.AppliedAt)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	if err := tx.Commit(queryCtx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Quarantine stores a rejected batch for operator review.
func (ps *PostgresStore) Quarantine(ctx context.Context, rec *QuarantineRecord) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := ps.Pool.Exec(queryCtx, `
		INSERT INTO quarantined_batches (batch_id, market, guard, detail, payload, quarantined_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market, batch_id) DO NOTHING
	`, rec.BatchID, rec.Market, rec.Guard, rec.Detail, rec.Payload, rec.QuarantinedAt)
	if err != nil {
		return fmt.Errorf("failed to quarantine batch: %w", err)
	}
	return nil
}

// LastBatchID returns the highest archived batch id for a market.
func (ps *PostgresStore) LastBatchID(ctx context.Context, market string) (uint64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var last uint64
	err := ps.Pool.QueryRow(queryCtx,
		"SELECT COALESCE(MAX(batch_id), 0) FROM batches WHERE market = $1",
		market).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("failed to get last batch id: %w", err)
	}
	return last, nil
}

// GetBatch retrieves an archived batch.
func (ps *PostgresStore) GetBatch(ctx context.Context, market string, batchID uint64) (*Record, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var rec Record
	err := ps.Pool.QueryRow(queryCtx, `
		SELECT batch_id, market, merkle_root, batch_hash, payload,
		       num_wallets, num_items, anonymity_set, fee, created_at, applied_at
		FROM batches
		WHERE market = $1 AND batch_id = $2
	`, market, batchID).Scan(
		&rec.BatchID, &rec.Market, &rec.MerkleRoot, &rec.BatchHash, &rec.Payload,
		&rec.NumWallets, &rec.NumItems, &rec.AnonymitySet, &rec.Fee, &rec.CreatedAt, &rec.AppliedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("batch %d not found for market %s", batchID, market)
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &rec, nil
}

// Close closes the PostgreSQL pool.
func (ps *PostgresStore) Close() {
	ps.Pool.Close()
}
