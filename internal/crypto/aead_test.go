package crypto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEADEncryptDecryptRoundTrip(t *testing.T) {
	enc := NewAEADEncryptor(NewMemoryKMS("seed-key-1"))
	ctx := context.Background()

	plaintext := []byte("ghost signing seed material")
	aad := []byte("a1b2c3d4")

	data, err := enc.Encrypt(ctx, plaintext, "seed-key-1", aad)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, data.Ciphertext)
	assert.Len(t, data.Nonce, 12)
	assert.Equal(t, "seed-key-1", data.KeyID)

	got, err := enc.Decrypt(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestAEADDecryptFailsOnTamperedCiphertext(t *testing.T) {
	enc := NewAEADEncryptor(NewMemoryKMS("seed-key-1"))
	ctx := context.Background()

	data, err := enc.Encrypt(ctx, []byte("ghost signing seed material"), "seed-key-1", nil)
	require.NoError(t, err)

	data.Ciphertext[0] ^= 0x01
	_, err = enc.Decrypt(ctx, data)
	require.Error(t, err)
}

func TestAEADDecryptFailsOnWrongAdditionalData(t *testing.T) {
	enc := NewAEADEncryptor(NewMemoryKMS("seed-key-1"))
	ctx := context.Background()

	data, err := enc.Encrypt(ctx, []byte("ghost signing seed material"), "seed-key-1", []byte("addr-1"))
	require.NoError(t, err)

	// A seed sealed for one address must not unseal under another.
	data.AdditionalData = []byte("addr-2")
	_, err = enc.Decrypt(ctx, data)
	require.Error(t, err)
}

func TestAEADNoncesAreUnique(t *testing.T) {
	enc := NewAEADEncryptor(NewMemoryKMS("seed-key-1"))
	ctx := context.Background()

	a, err := enc.Encrypt(ctx, []byte("same plaintext"), "seed-key-1", nil)
	require.NoError(t, err)
	b, err := enc.Encrypt(ctx, []byte("same plaintext"), "seed-key-1", nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestAEADKeyIDTracksKMS(t *testing.T) {
	enc := NewAEADEncryptor(NewMemoryKMS("seed-key-7"))

	id, err := enc.KeyID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "seed-key-7", id)
}
