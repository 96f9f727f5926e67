package vault

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/netsettle/internal/crypto"
)

// ErrPoolExhausted reports that the current epoch cannot cover a lease.
type ErrPoolExhausted struct {
	Requested int
	Available int
	Epoch     uint64
}

func (e *ErrPoolExhausted) Error() string {
	return fmt.Sprintf("ghost pool exhausted: requested %d, %d available in epoch %d",
		e.Requested, e.Available, e.Epoch)
}

// Pool manages the ghost address inventory. Addresses are pre-minted ed25519
// keys; the public half is the wallet address, the seed is sealed at rest.
// Addresses are grouped into epochs and the pool only leases from the
// current epoch, so a rotation retires every address minted before it.
type Pool struct {
	db        *sql.DB
	encryptor *crypto.AEADEncryptor
	now       func() time.Time
}

// NewPool creates a ghost pool over an open sqlite handle.
func NewPool(db *sql.DB, encryptor *crypto.AEADEncryptor) *Pool {
	return &Pool{
		db:        db,
		encryptor: encryptor,
		now:       time.Now,
	}
}

// Open opens the pool database at path and applies the schema.
func Open(ctx context.Context, path string, encryptor *crypto.AEADEncryptor) (*Pool, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool database: %w", err)
	}
	p := NewPool(db, encryptor)
	if err := p.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// Migrate applies the pool schema.
func (p *Pool) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS ghost_addresses (
			address        TEXT PRIMARY KEY,
			epoch          INTEGER NOT NULL,
			seed_ciphertext BLOB NOT NULL,
			encrypted_key  BLOB NOT NULL,
			nonce          BLOB NOT NULL,
			key_id         TEXT NOT NULL,
			created_at     TIMESTAMP NOT NULL,
			leased_at      TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_ghost_epoch ON ghost_addresses(epoch, leased_at);
		CREATE TABLE IF NOT EXISTS pool_meta (
			name  TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);
		INSERT OR IGNORE INTO pool_meta (name, value) VALUES ('epoch', 0);
	`
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply pool schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (p *Pool) Close() error {
	return p.db.Close()
}

// CurrentEpoch returns the active epoch number.
func (p *Pool) CurrentEpoch(ctx context.Context) (uint64, error) {
	var epoch uint64
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM pool_meta WHERE name = 'epoch'`).Scan(&epoch)
	if err != nil {
		return 0, fmt.Errorf("failed to read pool epoch: %w", err)
	}
	return epoch, nil
}

// RotateEpoch advances the epoch and mints count fresh addresses under it.
// Addresses from prior epochs are never leased again.
func (p *Pool) RotateEpoch(ctx context.Context, count int) (uint64, error) {
	if count <= 0 {
		return 0, errors.New("rotation count must be positive")
	}

	keyID, err := p.encryptor.KeyID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve sealing key: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var epoch uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT value FROM pool_meta WHERE name = 'epoch'`).Scan(&epoch); err != nil {
		return 0, fmt.Errorf("failed to read pool epoch: %w", err)
	}
	epoch++

	now := p.now()
	for i := 0; i < count; i++ {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return 0, fmt.Errorf("failed to generate ghost key: %w", err)
		}
		address := hex.EncodeToString(pub)

		// The address binds the sealed seed to its row.
		enc, err := p.encryptor.Encrypt(ctx, priv.Seed(), keyID, []byte(address))
		if err != nil {
			return 0, fmt.Errorf("failed to seal ghost seed: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ghost_addresses (address, epoch, seed_ciphertext, encrypted_key, nonce, key_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			address, epoch, enc.Ciphertext, enc.EncryptedDataKey, enc.Nonce, enc.KeyID, now); err != nil {
			return 0, fmt.Errorf("failed to insert ghost address: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pool_meta SET value = ? WHERE name = 'epoch'`, epoch); err != nil {
		return 0, fmt.Errorf("failed to advance pool epoch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rotation: %w", err)
	}
	return epoch, nil
}

// LeaseAddresses hands out n addresses from the current epoch, least
// recently leased first so reuse spreads evenly across the pool.
func (p *Pool) LeaseAddresses(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	epoch, err := p.CurrentEpoch(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT address FROM ghost_addresses
		WHERE epoch = ?
		ORDER BY leased_at IS NOT NULL, leased_at, created_at
		LIMIT ?`, epoch, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query ghost addresses: %w", err)
	}
	defer rows.Close()

	addresses := make([]string, 0, n)
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan ghost address: %w", err)
		}
		addresses = append(addresses, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ghost addresses: %w", err)
	}

	if len(addresses) < n {
		return nil, &ErrPoolExhausted{Requested: n, Available: len(addresses), Epoch: epoch}
	}

	now := p.now()
	for _, addr := range addresses {
		if _, err := p.db.ExecContext(ctx,
			`UPDATE ghost_addresses SET leased_at = ? WHERE address = ?`, now, addr); err != nil {
			return nil, fmt.Errorf("failed to mark lease: %w", err)
		}
	}
	return addresses, nil
}

// Addresses lists every address in the current epoch, for operator float
// provisioning.
func (p *Pool) Addresses(ctx context.Context) ([]string, error) {
	epoch, err := p.CurrentEpoch(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT address FROM ghost_addresses WHERE epoch = ? ORDER BY created_at`, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to list ghost addresses: %w", err)
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan ghost address: %w", err)
		}
		addresses = append(addresses, addr)
	}
	return addresses, rows.Err()
}

// Seed unseals the signing seed for a ghost address.
func (p *Pool) Seed(ctx context.Context, address string) (ed25519.PrivateKey, error) {
	var ciphertext, encryptedKey, nonce []byte
	var keyID string
	err := p.db.QueryRowContext(ctx, `
		SELECT seed_ciphertext, encrypted_key, nonce, key_id
		FROM ghost_addresses WHERE address = ?`, address).
		Scan(&ciphertext, &encryptedKey, &nonce, &keyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ghost address not found: %s", address)
		}
		return nil, fmt.Errorf("failed to load ghost seed: %w", err)
	}

	seed, err := p.encryptor.Decrypt(ctx, &crypto.EncryptedData{
		Ciphertext:       ciphertext,
		EncryptedDataKey: encryptedKey,
		Nonce:            nonce,
		KeyID:            keyID,
		AdditionalData:   []byte(address),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unseal ghost seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("unsealed seed has wrong length %d", len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
