package netting

import (
	"fmt"
	"sort"

	"github.com/example/netsettle/internal/intent"
)

// Fee constants, in basis points of gross sale price. The protocol keeps
// 25 bps and passes 5 bps to the item creator when one is set.
const (
	ProtocolFeeBps  = 30
	CreatorShareBps = 5
	MaxTotalFeeBps  = 5000 // combined fees may never exceed half the gross
	BpsDenominator  = 10000

	// MinCreatorPayout is the smallest royalty-plus-share credit worth
	// settling. Anything under it folds into the treasury fee instead of
	// producing a dust delta for the creator wallet.
	MinCreatorPayout = 100
)

// CashDelta is a wallet's net signed balance change inside one batch.
type CashDelta struct {
	Wallet string
	Delta  int64
}

// SettledItem is an item's final ownership inside one batch. GrossPrice and
// FeePaid carry the last sale's economics so the on-chain fee-cap guard can
// re-check them without replaying the batch.
type SettledItem struct {
	ItemID     uint64
	Owner      string
	Quantity   uint64
	Sale       intent.SaleKind
	GrossPrice uint64
	FeePaid    uint64
}

// RoyaltyPayout attributes the royalty portion of the cash deltas to its
// recipient; the credit itself flows through Deltas so conservation stays
// exact.
type RoyaltyPayout struct {
	Recipient string
	Amount    uint64
}

// Result is the netted form of a pending set for one market.
type Result struct {
	Market    string
	Deltas    []CashDelta     // sorted by wallet, zero deltas elided
	Items     []SettledItem   // sorted by item id
	Royalties []RoyaltyPayout // sorted by recipient
	Fee       uint64          // protocol + market fee owed to the treasury
	Wallets   []string        // real participant wallets, sorted
	IntentIDs []uint64        // consumed intents, ascending
}

// Error is a fatal netting invariant violation. The batch it belongs to is
// discarded; IntentID names the intent that caused it so the caller can drop
// it and return the rest of the set to the pending pool. Zero means the
// fault cannot be pinned on a single intent.
type Error struct {
	Market   string
	IntentID uint64
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("netting failed for market %s: %s", e.Market, e.Reason)
}

// Engine reduces a validated intent set to net cash deltas and final item
// owners. It is stateless; identical input sets produce identical results
// regardless of arrival interleaving.
type Engine struct {
	marketFeeBps uint16
}

// NewEngine creates a netting engine with the market's fee schedule.
func NewEngine(marketFeeBps uint16) *Engine {
	return &Engine{marketFeeBps: marketFeeBps}
}

// Net processes the pending set at flush time. Cash and items net
// separately; items never net against cash. Intents are processed in
// ascending id order, which is also the same-item tie-break: the last write
// wins and intermediate custody hops are elided from the output.
func (e *Engine) Net(market string, intents []*intent.Intent) (*Result, error) {
	sorted := make([]*intent.Intent, len(intents))
	copy(sorted, intents)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	deltas := make(map[string]int64)
	items := make(map[uint64]*SettledItem)
	royalties := make(map[string]uint64)
	ids := make([]uint64, 0, len(sorted))
	var totalFee uint64

	for _, in := range sorted {
		if in.Market != market {
			return nil, &Error{Market: market, IntentID: in.ID, Reason: fmt.Sprintf("intent %d belongs to market %s", in.ID, in.Market)}
		}
		ids = append(ids, in.ID)

		switch in.Kind {
		case intent.KindCash:
			// A single pass of signed summation nets every 2-cycle and
			// n-cycle implicitly; only the final per-wallet sum settles.
			deltas[in.Sender] -= in.Amount
			deltas[in.Recipient] += in.Amount

		case intent.KindItem:
			fee, feePaid, err := e.applySale(in, deltas, royalties)
			if err != nil {
				return nil, err
			}
			totalFee += fee

			items[in.ItemID] = &SettledItem{
				ItemID:     in.ItemID,
				Owner:      in.Recipient,
				Quantity:   in.Quantity,
				Sale:       in.Sale,
				GrossPrice: in.GrossPrice,
				FeePaid:    feePaid,
			}

		default:
			return nil, &Error{Market: market, IntentID: in.ID, Reason: fmt.Sprintf("intent %d has unknown kind %d", in.ID, in.Kind)}
		}
	}

	for id, item := range items {
		if item.Owner == "" {
			return nil, &Error{Market: market, Reason: fmt.Sprintf("item %d left without an owner", id)}
		}
	}

	return &Result{
		Market:    market,
		Deltas:    sortedDeltas(deltas),
		Items:     sortedItems(items),
		Royalties: sortedRoyalties(royalties),
		Fee:       totalFee,
		Wallets:   sortedWallets(deltas, items),
		IntentIDs: ids,
	}, nil
}

// applySale books the cash legs of an itemized sale: buyer debited the gross
// price, seller credited net of all fees, creator credited royalty plus the
// protocol creator share. Returns the treasury fee portion and the total fee
// the sale paid.
func (e *Engine) applySale(in *intent.Intent, deltas map[string]int64, royalties map[string]uint64) (uint64, uint64, error) {
	if in.GrossPrice == 0 {
		return 0, 0, nil // plain transfer, no cash legs
	}

	gross := in.GrossPrice
	protocolFee := gross * ProtocolFeeBps / BpsDenominator
	marketFee := gross * uint64(e.marketFeeBps) / BpsDenominator
	royalty := gross * uint64(in.RoyaltyBps) / BpsDenominator

	var creatorShare uint64
	if in.Creator != "" {
		creatorShare = gross * CreatorShareBps / BpsDenominator
		if creatorShare > protocolFee {
			creatorShare = protocolFee
		}
	}
	treasuryFee := protocolFee - creatorShare + marketFee

	if dust := creatorShare + royalty; dust > 0 && dust < MinCreatorPayout {
		treasuryFee += dust
		creatorShare, royalty = 0, 0
	}

	total := treasuryFee + creatorShare + royalty
	if total > gross*MaxTotalFeeBps/BpsDenominator {
		return 0, 0, &Error{Market: in.Market, IntentID: in.ID, Reason: fmt.Sprintf("fees %d exceed cap on gross %d for item %d", total, gross, in.ItemID)}
	}

	deltas[in.Recipient] -= int64(gross)
	deltas[in.Sender] += int64(gross - total)
	if creatorShare+royalty > 0 {
		deltas[in.Creator] += int64(creatorShare + royalty)
		royalties[in.Creator] += creatorShare + royalty
	}

	return treasuryFee, total, nil
}

func sortedDeltas(deltas map[string]int64) []CashDelta {
	out := make([]CashDelta, 0, len(deltas))
	for wallet, delta := range deltas {
		if delta == 0 {
			continue // fully netted, nothing to settle
		}
		out = append(out, CashDelta{Wallet: wallet, Delta: delta})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out
}

func sortedItems(items map[uint64]*SettledItem) []SettledItem {
	out := make([]SettledItem, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

func sortedRoyalties(royalties map[string]uint64) []RoyaltyPayout {
	out := make([]RoyaltyPayout, 0, len(royalties))
	for recipient, amount := range royalties {
		if amount == 0 {
			continue
		}
		out = append(out, RoyaltyPayout{Recipient: recipient, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Recipient < out[j].Recipient })
	return out
}

func sortedWallets(deltas map[string]int64, items map[uint64]*SettledItem) []string {
	seen := make(map[string]struct{})
	for wallet, delta := range deltas {
		if delta != 0 {
			seen[wallet] = struct{}{}
		}
	}
	for _, item := range items {
		seen[item.Owner] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for wallet := range seen {
		out = append(out, wallet)
	}
	sort.Strings(out)
	return out
}
