package crypto

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// KMS defines the interface for key management operations.
type KMS interface {
	GenerateDataKey(ctx context.Context, keyID string) (plaintext, ciphertext []byte, err error)
	Decrypt(ctx context.Context, ciphertext []byte, keyID string) ([]byte, error)
	GetKeyID(ctx context.Context) (string, error)
}

// FileBasedKMSConfig holds configuration for the file-backed KMS.
type FileBasedKMSConfig struct {
	KeyStorePath string
	ActiveKeyID  string
}

// FileBasedKMS implements KMS with master keys persisted to local files.
// Data keys are wrapped with XOR against the master key; a deployment
// fronted by a real KMS swaps this implementation behind the interface.
type FileBasedKMS struct {
	keyStorePath string
	activeKeyID  string
	keys         map[string][]byte
	mu           sync.RWMutex
}

// NewFileBasedKMS creates a file-based KMS, loading any keys already on disk.
func NewFileBasedKMS(cfg FileBasedKMSConfig) (*FileBasedKMS, error) {
	if cfg.ActiveKeyID == "" {
		cfg.ActiveKeyID = "ghost-seed-key-1"
	}
	kms := &FileBasedKMS{
		keyStorePath: cfg.KeyStorePath,
		activeKeyID:  cfg.ActiveKeyID,
		keys:         make(map[string][]byte),
	}

	if err := os.MkdirAll(cfg.KeyStorePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key store directory: %w", err)
	}
	if err := kms.loadKeys(); err != nil {
		return nil, err
	}

	return kms, nil
}

func (f *FileBasedKMS) loadKeys() error {
	entries, err := os.ReadDir(f.keyStorePath)
	if err != nil {
		return fmt.Errorf("failed to read key store: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".key" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(f.keyStorePath, e.Name()))
		if err != nil {
			return fmt.Errorf("failed to read key file %s: %w", e.Name(), err)
		}
		key, err := hex.DecodeString(string(raw))
		if err != nil {
			return fmt.Errorf("corrupt key file %s: %w", e.Name(), err)
		}
		keyID := e.Name()[:len(e.Name())-len(".key")]
		f.keys[keyID] = key
	}
	return nil
}

// GenerateDataKey generates a data key and wraps it with the master key.
func (f *FileBasedKMS) GenerateDataKey(ctx context.Context, keyID string) (plaintext, ciphertext []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	masterKey, exists := f.keys[keyID]
	if !exists {
		if keyID == "" {
			return nil, nil, errors.New("key ID must not be empty")
		}
		masterKey = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, masterKey); err != nil {
			return nil, nil, fmt.Errorf("failed to generate master key: %w", err)
		}
		f.keys[keyID] = masterKey

		if err := f.persistKey(keyID, masterKey); err != nil {
			return nil, nil, fmt.Errorf("failed to persist master key: %w", err)
		}
	}

	plaintext = make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, plaintext); err != nil {
		return nil, nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	ciphertext = xorWrap(plaintext, masterKey)
	return plaintext, ciphertext, nil
}

// Decrypt unwraps an encrypted data key using the master key.
func (f *FileBasedKMS) Decrypt(ctx context.Context, ciphertext []byte, keyID string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	masterKey, exists := f.keys[keyID]
	if !exists {
		return nil, fmt.Errorf("master key not found for key ID: %s", keyID)
	}

	return xorWrap(ciphertext, masterKey), nil
}

// GetKeyID returns the active master key identifier.
func (f *FileBasedKMS) GetKeyID(ctx context.Context) (string, error) {
	return f.activeKeyID, nil
}

// persistKey writes a master key to disk.
func (f *FileBasedKMS) persistKey(keyID string, key []byte) error {
	filename := filepath.Join(f.keyStorePath, keyID+".key")
	hexKey := hex.EncodeToString(key)
	return os.WriteFile(filename, []byte(hexKey), 0600)
}

// MemoryKMS keeps master keys in memory only, for tests.
type MemoryKMS struct {
	activeKeyID string
	keys        map[string][]byte
	mu          sync.Mutex
}

// NewMemoryKMS creates an in-memory KMS with one active key.
func NewMemoryKMS(activeKeyID string) *MemoryKMS {
	return &MemoryKMS{
		activeKeyID: activeKeyID,
		keys:        make(map[string][]byte),
	}
}

func (m *MemoryKMS) GenerateDataKey(ctx context.Context, keyID string) (plaintext, ciphertext []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	masterKey, exists := m.keys[keyID]
	if !exists {
		masterKey = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, masterKey); err != nil {
			return nil, nil, fmt.Errorf("failed to generate master key: %w", err)
		}
		m.keys[keyID] = masterKey
	}

	plaintext = make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, plaintext); err != nil {
		return nil, nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return plaintext, xorWrap(plaintext, masterKey), nil
}

func (m *MemoryKMS) Decrypt(ctx context.Context, ciphertext []byte, keyID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	masterKey, exists := m.keys[keyID]
	if !exists {
		return nil, fmt.Errorf("master key not found for key ID: %s", keyID)
	}
	return xorWrap(ciphertext, masterKey), nil
}

func (m *MemoryKMS) GetKeyID(ctx context.Context) (string, error) {
	return m.activeKeyID, nil
}

// xorWrap wraps a data key against the master key.
func xorWrap(data, key []byte) []byte {
	result := make([]byte, len(data))
	for i := range data {
		result[i] = data[i] ^ key[i%len(key)]
	}
	return result
}
