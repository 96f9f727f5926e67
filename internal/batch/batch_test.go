package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/netsettle/internal/ghost"
	"github.com/example/netsettle/internal/merkle"
	"github.com/example/netsettle/internal/netting"
)

func sampleInputs() (*netting.Result, *ghost.Injection) {
	res := &netting.Result{
		Market: "alpha",
		Deltas: []netting.CashDelta{
			{Wallet: "walletA", Delta: -500},
			{Wallet: "walletB", Delta: 500},
		},
		Items: []netting.SettledItem{
			{ItemID: 7, Owner: "walletB", Quantity: 1, GrossPrice: 500, FeePaid: 2},
		},
		Royalties: []netting.RoyaltyPayout{{Recipient: "creator", Amount: 10}},
		Fee:       2,
		Wallets:   []string{"walletA", "walletB"},
		IntentIDs: []uint64{1, 2},
	}
	inj := &ghost.Injection{
		Deltas: append([]netting.CashDelta{
			{Wallet: "ghost1", Delta: -70},
			{Wallet: "ghost2", Delta: 70},
		}, res.Deltas...),
		Items:        res.Items,
		RealWallets:  2,
		GhostWallets: 2,
		AnonymitySet: 4,
	}
	return res, inj
}

func TestBuildIsDeterministic(t *testing.T) {
	now := time.Unix(1700000000, 0)

	res, inj := sampleInputs()
	a, err := Build(42, res, inj, 512, now)
	require.NoError(t, err)

	res2, inj2 := sampleInputs()
	b, err := Build(42, res2, inj2, 512, now)
	require.NoError(t, err)

	assert.Equal(t, a.MerkleRoot, b.MerkleRoot)
	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, a.EncodePayload(), b.EncodePayload())
}

func TestBuildHashCoversContent(t *testing.T) {
	now := time.Unix(1700000000, 0)

	res, inj := sampleInputs()
	a, err := Build(42, res, inj, 512, now)
	require.NoError(t, err)

	res2, inj2 := sampleInputs()
	inj2.Deltas[0].Delta = -71
	b, err := Build(42, res2, inj2, 512, now)
	require.NoError(t, err)

	assert.NotEqual(t, a.MerkleRoot, b.MerkleRoot)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestBuildEnforcesEntryCeiling(t *testing.T) {
	res, inj := sampleInputs()

	_, err := Build(1, res, inj, 4, time.Now())
	require.Error(t, err)

	var sizeErr *ErrSizeExceeded
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, 5, sizeErr.Entries)
	assert.Equal(t, 4, sizeErr.Limit)
}

func TestProofsVerifyAgainstRoot(t *testing.T) {
	res, inj := sampleInputs()
	b, err := Build(1, res, inj, 512, time.Now())
	require.NoError(t, err)

	leaves := b.Leaves()
	for i := range b.Deltas {
		proof, err := b.ProofForDelta(i)
		require.NoError(t, err)
		assert.True(t, merkle.Verify(leaves[i], proof, b.MerkleRoot))
	}
	for i := range b.Items {
		proof, err := b.ProofForItem(i)
		require.NoError(t, err)
		assert.True(t, merkle.Verify(leaves[len(b.Deltas)+i], proof, b.MerkleRoot))
	}
}

func TestPayloadCarriesIDRootAndFee(t *testing.T) {
	res, inj := sampleInputs()
	b, err := Build(77, res, inj, 512, time.Now())
	require.NoError(t, err)

	payload := b.EncodePayload()
	require.Greater(t, len(payload), 40)

	// Batch id leads, little endian; root follows.
	assert.Equal(t, byte(77), payload[0])
	assert.Equal(t, b.MerkleRoot[:], payload[8:40])
}

func TestDecodePayloadRecoversBatchContent(t *testing.T) {
	res, inj := sampleInputs()
	b, err := Build(77, res, inj, 512, time.Now())
	require.NoError(t, err)

	dec, err := DecodePayload(b.EncodePayload())
	require.NoError(t, err)

	assert.Equal(t, b.ID, dec.ID)
	assert.Equal(t, b.MerkleRoot, dec.MerkleRoot)
	assert.Equal(t, b.Deltas, dec.Deltas)
	assert.Equal(t, b.Items, dec.Items)
	assert.Equal(t, b.Royalties, dec.Royalties)
	assert.Equal(t, b.Fee, dec.Fee)
}

func TestDecodePayloadRejectsTruncation(t *testing.T) {
	res, inj := sampleInputs()
	b, err := Build(77, res, inj, 512, time.Now())
	require.NoError(t, err)
	payload := b.EncodePayload()

	_, err = DecodePayload(payload[:len(payload)-3])
	require.Error(t, err)

	_, err = DecodePayload(append(payload, 0))
	require.Error(t, err)
}
