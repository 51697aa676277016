package scan

import (
	"slices"

	"github.com/mrz1836/sybilscan/internal/chain/eth"
)

// DefaultSybilThreshold is the number of distinct tracked wallets that must
// share a counterparty before it counts as sybil evidence.
const DefaultSybilThreshold = 2

// Counterparty returns the other side of tx as seen from wallet. Contract
// creations resolve to the created contract. ok is false for
// self-transactions and records without a usable counterparty.
func Counterparty(wallet string, tx eth.Transaction) (string, bool) {
	other := tx.From
	if eth.SameAddress(tx.From, wallet) {
		other = tx.Receiver()
	}
	if other == "" || eth.SameAddress(other, wallet) {
		return "", false
	}
	return other, true
}

// Aggregator builds the counterparty index across tracked wallets.
// It is not safe for concurrent use; wallets are added by a single goroutine.
type Aggregator struct {
	threshold int

	// counterparty -> tracked wallets, in insertion order
	index   map[string][]string
	members map[string]map[string]struct{}
	// counterparty -> position of first appearance
	rank map[string]int
	// wallet -> distinct counterparties in first-seen order
	perWallet map[string][]string
}

// NewAggregator creates an empty index. Thresholds below DefaultSybilThreshold
// are raised to it, since a single wallet cannot share a counterparty.
func NewAggregator(threshold int) *Aggregator {
	return &Aggregator{
		threshold: max(threshold, DefaultSybilThreshold),
		index:     make(map[string][]string),
		members:   make(map[string]map[string]struct{}),
		rank:      make(map[string]int),
		perWallet: make(map[string][]string),
	}
}

// Threshold returns the effective threshold.
func (a *Aggregator) Threshold() int {
	return a.threshold
}

// Add records the counterparties of wallet's transactions in order.
// Adding the same wallet again only records counterparties not yet linked to it.
func (a *Aggregator) Add(wallet string, txs []eth.Transaction) {
	if _, ok := a.perWallet[wallet]; !ok {
		a.perWallet[wallet] = nil
	}

	for _, tx := range txs {
		c, ok := Counterparty(wallet, tx)
		if !ok {
			continue
		}

		if _, seen := a.rank[c]; !seen {
			a.rank[c] = len(a.rank)
			a.members[c] = make(map[string]struct{})
		}
		if _, linked := a.members[c][wallet]; linked {
			continue
		}
		a.members[c][wallet] = struct{}{}
		a.index[c] = append(a.index[c], wallet)
		a.perWallet[wallet] = append(a.perWallet[wallet], c)
	}
}

// Wallets returns the tracked wallets that transacted with counterparty.
func (a *Aggregator) Wallets(counterparty string) []string {
	return slices.Clone(a.index[counterparty])
}

// Counterparties returns the distinct counterparties of wallet in first-seen order.
func (a *Aggregator) Counterparties(wallet string) []string {
	return slices.Clone(a.perWallet[wallet])
}

// Evidence returns the counterparties of wallet shared by at least threshold
// tracked wallets, in global first-seen order.
func (a *Aggregator) Evidence(wallet string) []string {
	var out []string
	for _, c := range a.perWallet[wallet] {
		if len(a.index[c]) >= a.threshold {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(x, y string) int {
		return a.rank[x] - a.rank[y]
	})
	return out
}

// SharedCounterparties returns every counterparty meeting the threshold, in
// global first-seen order.
func (a *Aggregator) SharedCounterparties() []SharedCounterparty {
	var out []SharedCounterparty
	for c, wallets := range a.index {
		if len(wallets) >= a.threshold {
			out = append(out, SharedCounterparty{Address: c, Wallets: slices.Clone(wallets)})
		}
	}
	slices.SortFunc(out, func(x, y SharedCounterparty) int {
		return a.rank[x.Address] - a.rank[y.Address]
	})
	return out
}
