package ghost

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/example/netsettle/internal/intent"
	"github.com/example/netsettle/internal/netting"
)

// AddressPool supplies operator-controlled ghost addresses. The pool is
// bounded and owned by an external vault; the injector only leases from it.
type AddressPool interface {
	LeaseAddresses(ctx context.Context, n int) ([]string, error)
}

// Injection is a netted batch content with decoys blended in. Deltas and
// Items are re-sorted after the merge so ghost entries are structurally
// indistinguishable from real ones.
type Injection struct {
	Deltas []netting.CashDelta
	Items  []netting.SettledItem

	RealWallets  int
	GhostWallets int
	// AnonymitySet is the effective anonymity-set size, RealWallets +
	// GhostWallets. It is exposed as a number precisely so tests and
	// operators can verify the privacy floor instead of trusting it.
	AnonymitySet int
}

// GhostCount returns the decoy wallet count for a batch with the given
// number of real participants. Small batches have weak natural cover and
// get maximal camouflage; large batches already provide cover, so the ratio
// drops to control cost.
func GhostCount(realWallets int) int {
	if realWallets <= 0 {
		return 10
	}
	ratio := realWallets // ratio 1.0 below the floor
	if realWallets >= 10 {
		ratio = (realWallets*3 + 9) / 10 // 0.3, rounded up
	}
	if ratio < 10 {
		return 10
	}
	return ratio
}

// Injector blends synthetic transfers into netted batches.
type Injector struct {
	pool AddressPool
}

// NewInjector creates an injector over the given address pool.
func NewInjector(pool AddressPool) *Injector {
	return &Injector{pool: pool}
}

// Inject leases ghost addresses and adds decoy entries to the netted
// result. Ghost cash forms a closed chain across the leased addresses, so
// the decoys sum to zero and never debit a real user; ghost items settle in
// the reserved id range between operator addresses.
func (inj *Injector) Inject(ctx context.Context, res *netting.Result) (*Injection, error) {
	count := GhostCount(len(res.Wallets))

	addrs, err := inj.pool.LeaseAddresses(ctx, count)
	if err != nil {
		return nil, fmt.Errorf("ghost injection for market %s: %w", res.Market, err)
	}
	if len(addrs) < count {
		return nil, fmt.Errorf("ghost injection for market %s: pool returned %d of %d addresses", res.Market, len(addrs), count)
	}

	deltas := append([]netting.CashDelta{}, res.Deltas...)
	deltas = append(deltas, ghostChain(addrs)...)
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].Wallet < deltas[j].Wallet })

	items := append([]netting.SettledItem{}, res.Items...)
	items = append(items, ghostItems(addrs)...)
	sort.Slice(items, func(i, j int) bool { return items[i].ItemID < items[j].ItemID })

	return &Injection{
		Deltas:       deltas,
		Items:        items,
		RealWallets:  len(res.Wallets),
		GhostWallets: count,
		AnonymitySet: len(res.Wallets) + count,
	}, nil
}

// ghostChain produces one nonzero delta per address that sums to zero:
// address i pays a random amount to address i+1 along a closed chain.
func ghostChain(addrs []string) []netting.CashDelta {
	if len(addrs) < 2 {
		return nil
	}

	amounts := make([]int64, len(addrs))
	for i := range amounts {
		// Strictly increasing amounts keep every hop nonzero. The random
		// component stays below the step so ordering is preserved.
		amounts[i] = int64(1000 + i*70000 + int(randUint16()))
	}

	deltas := make([]netting.CashDelta, 0, len(addrs))
	prev := int64(0)
	for i, addr := range addrs {
		var flow int64
		if i < len(addrs)-1 {
			flow = amounts[i]
		}
		deltas = append(deltas, netting.CashDelta{Wallet: addr, Delta: prev - flow})
		prev = flow
	}
	return deltas
}

// ghostItems settles one decoy item per four ghost wallets, owned by a
// leased address, using the reserved id range.
func ghostItems(addrs []string) []netting.SettledItem {
	n := len(addrs) / 4
	items := make([]netting.SettledItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, netting.SettledItem{
			ItemID:   intent.GhostItemBase | randUint48(),
			Owner:    addrs[i],
			Quantity: 1,
			Sale:     intent.SaleFixedPrice,
		})
	}
	return items
}

func randUint16() uint16 {
	var buf [2]byte
	rand.Read(buf[:])
	return binary.LittleEndian.Uint16(buf[:])
}

func randUint48() uint64 {
	var buf [8]byte
	rand.Read(buf[:])
	return binary.LittleEndian.Uint64(buf[:]) & ((1 << 48) - 1)
}
