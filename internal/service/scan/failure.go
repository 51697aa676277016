package scan

import "github.com/mrz1836/sybilscan/internal/chain/eth"

// IsFailed reports whether the explorer marked the transaction as failed.
// Transactions with an unknown status are not failed.
func IsFailed(tx eth.Transaction) bool {
	return tx.Status == eth.StatusFailed
}

// FailedTransactions returns the failed transactions in their original order.
func FailedTransactions(txs []eth.Transaction) []eth.Transaction {
	var failed []eth.Transaction
	for _, tx := range txs {
		if IsFailed(tx) {
			failed = append(failed, tx)
		}
	}
	return failed
}
