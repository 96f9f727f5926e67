package ghost

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/netsettle/internal/intent"
	"github.com/example/netsettle/internal/netting"
)

type stubPool struct {
	leased int
	limit  int
}

func (p *stubPool) LeaseAddresses(ctx context.Context, n int) ([]string, error) {
	if p.limit > 0 && n > p.limit {
		return nil, fmt.Errorf("pool exhausted: requested %d, have %d", n, p.limit)
	}
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("ghost%03d", p.leased+i)
	}
	p.leased += n
	return addrs, nil
}

func resultWithWallets(n int) *netting.Result {
	res := &netting.Result{Market: "alpha"}
	for i := 0; i < n; i++ {
		w := fmt.Sprintf("real%03d", i)
		res.Wallets = append(res.Wallets, w)
		res.Deltas = append(res.Deltas, netting.CashDelta{Wallet: w, Delta: int64(100 + i)})
	}
	return res
}

func TestGhostCountFloors(t *testing.T) {
	cases := []struct {
		real int
		want int
	}{
		{0, 10},
		{1, 10},
		{5, 10},
		{9, 10},
		{10, 10},
		{33, 10},
		{34, 11},
		{100, 30},
		{500, 150},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, GhostCount(tc.real), "real=%d", tc.real)
	}
}

func TestInjectSmallBatchMeetsAnonymityFloor(t *testing.T) {
	inj := NewInjector(&stubPool{})

	out, err := inj.Inject(context.Background(), resultWithWallets(5))
	require.NoError(t, err)

	assert.Equal(t, 5, out.RealWallets)
	assert.GreaterOrEqual(t, out.GhostWallets, 10)
	assert.Equal(t, out.RealWallets+out.GhostWallets, out.AnonymitySet)
	assert.GreaterOrEqual(t, out.AnonymitySet, 15)
}

func TestInjectLargeBatchUsesRatio(t *testing.T) {
	inj := NewInjector(&stubPool{})

	out, err := inj.Inject(context.Background(), resultWithWallets(100))
	require.NoError(t, err)

	assert.Equal(t, 30, out.GhostWallets)
	assert.Equal(t, 130, out.AnonymitySet)
}

func TestInjectGhostDeltasSumToZero(t *testing.T) {
	inj := NewInjector(&stubPool{})
	res := resultWithWallets(8)

	out, err := inj.Inject(context.Background(), res)
	require.NoError(t, err)

	real := make(map[string]int64)
	for _, d := range res.Deltas {
		real[d.Wallet] = d.Delta
	}

	var ghostSum int64
	ghosts := 0
	for _, d := range out.Deltas {
		if _, ok := real[d.Wallet]; ok {
			continue
		}
		ghostSum += d.Delta
		ghosts++
		assert.NotZero(t, d.Delta, "a zero ghost delta is trivially distinguishable")
	}
	assert.Equal(t, out.GhostWallets, ghosts)
	assert.Zero(t, ghostSum, "ghost chain must be closed")
}

func TestInjectNeverDebitsRealWallets(t *testing.T) {
	inj := NewInjector(&stubPool{})
	res := resultWithWallets(6)

	out, err := inj.Inject(context.Background(), res)
	require.NoError(t, err)

	real := make(map[string]int64)
	for _, d := range res.Deltas {
		real[d.Wallet] = d.Delta
	}
	for _, d := range out.Deltas {
		if want, ok := real[d.Wallet]; ok {
			assert.Equal(t, want, d.Delta, "real deltas must pass through unchanged")
		}
	}
}

func TestInjectGhostItemsUseReservedRange(t *testing.T) {
	inj := NewInjector(&stubPool{})
	res := resultWithWallets(40)
	res.Items = append(res.Items, netting.SettledItem{ItemID: 99, Owner: "real000", Quantity: 1})

	out, err := inj.Inject(context.Background(), res)
	require.NoError(t, err)

	ghostItems := 0
	for _, it := range out.Items {
		if it.ItemID == 99 {
			continue
		}
		assert.GreaterOrEqual(t, it.ItemID, intent.GhostItemBase, "ghost items must stay in the reserved id range")
		ghostItems++
	}
	assert.Greater(t, ghostItems, 0)
}

func TestInjectPoolShortfallFailsBatch(t *testing.T) {
	inj := NewInjector(&stubPool{limit: 3})

	_, err := inj.Inject(context.Background(), resultWithWallets(5))
	require.Error(t, err, "a batch must never settle below the anonymity floor")
}
