package scan

import (
	"time"

	"github.com/mrz1836/sybilscan/internal/chain/eth"
)

// FetchStatus records whether a wallet's history was fetched completely.
type FetchStatus string

// Fetch statuses.
const (
	FetchComplete   FetchStatus = "complete"
	FetchIncomplete FetchStatus = "incomplete"
)

// WalletResult is the outcome for one tracked wallet.
type WalletResult struct {
	Address string
	Status  FetchStatus
	// Err is the fetch error of an incomplete wallet.
	Err error

	TxCount      int
	Transactions []eth.Transaction
	FailedTxs    []eth.Transaction
	Malformed    int

	// Counterparties in first-seen order.
	Counterparties []string
	// SybilEvidence lists shared counterparties in global first-seen order.
	SybilEvidence []string
}

// Complete reports whether the full history was fetched.
func (r *WalletResult) Complete() bool {
	return r.Status == FetchComplete
}

// FailedCount returns the number of failed transactions.
func (r *WalletResult) FailedCount() int {
	return len(r.FailedTxs)
}

// IsSybilSuspect reports whether the wallet shares at least one counterparty
// with another tracked wallet.
func (r *WalletResult) IsSybilSuspect() bool {
	return len(r.SybilEvidence) > 0
}

// SharedCounterparty is a counterparty seen by at least threshold tracked wallets.
type SharedCounterparty struct {
	Address string
	// Wallets in the order they were added.
	Wallets []string
}

// Report is the result of one scan run.
type Report struct {
	Wallets              []*WalletResult
	SharedCounterparties []SharedCounterparty
	Threshold            int
	StartedAt            time.Time
	FinishedAt           time.Time
}

// Suspects returns the wallets flagged as sybil suspects, in input order.
func (r *Report) Suspects() []*WalletResult {
	var out []*WalletResult
	for _, w := range r.Wallets {
		if w.IsSybilSuspect() {
			out = append(out, w)
		}
	}
	return out
}

// Incomplete returns the wallets whose history could not be fetched.
func (r *Report) Incomplete() []*WalletResult {
	var out []*WalletResult
	for _, w := range r.Wallets {
		if !w.Complete() {
			out = append(out, w)
		}
	}
	return out
}

// Totals sums transaction counts over all wallets.
func (r *Report) Totals() (txs, failed, malformed int) {
	for _, w := range r.Wallets {
		txs += w.TxCount
		failed += w.FailedCount()
		malformed += w.Malformed
	}
	return txs, failed, malformed
}

// Duration returns the wall-clock time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
