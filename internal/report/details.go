package report

import (
	"cmp"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mrz1836/sybilscan/internal/chain/eth"
	"github.com/mrz1836/sybilscan/internal/fileutil"
	"github.com/mrz1836/sybilscan/internal/service/scan"
	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

// Detail report file names.
const (
	FailedTransactionsFile   = "interrupted_transactions.csv"
	SharedCounterpartiesFile = "potential_sybil_addresses.csv"
	AllTransactionsFile      = "all_transactions.csv"
)

//nolint:gochecknoglobals // Fixed file formats
var (
	transactionHeader = []string{
		"wallet", "hash", "from", "to", "contract_address",
		"value_eth", "status", "block_number", "timestamp",
	}
	sharedHeader = []string{"address", "wallet_count", "wallets"}
)

// WriteDetails writes the detail CSV files into dir and returns their paths.
func WriteDetails(dir string, r *scan.Report) ([]string, error) {
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, scanerr.WithDetails(scanerr.WithCause(scanerr.ErrReportWrite, err), map[string]string{"path": dir})
	}

	files := []struct {
		name string
		fn   func(io.Writer, *scan.Report) error
	}{
		{FailedTransactionsFile, WriteFailedTransactions},
		{SharedCounterpartiesFile, WriteSharedCounterparties},
		{AllTransactionsFile, WriteAllTransactions},
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		err := fileutil.WriteAtomicFunc(path, fileutil.ReportPerm, func(w io.Writer) error {
			return f.fn(w, r)
		})
		if err != nil {
			return paths, scanerr.WithDetails(scanerr.WithCause(scanerr.ErrReportWrite, err), map[string]string{"path": path})
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteFailedTransactions writes every failed transaction, grouped by wallet in input order.
func WriteFailedTransactions(w io.Writer, r *scan.Report) error {
	var rows [][]string
	for _, wallet := range r.Wallets {
		for _, tx := range wallet.FailedTxs {
			rows = append(rows, transactionRow(wallet.Address, tx))
		}
	}
	return writeRecords(w, transactionHeader, rows)
}

// WriteAllTransactions writes every fetched transaction, grouped by wallet in input order.
func WriteAllTransactions(w io.Writer, r *scan.Report) error {
	var rows [][]string
	for _, wallet := range r.Wallets {
		for _, tx := range wallet.Transactions {
			rows = append(rows, transactionRow(wallet.Address, tx))
		}
	}
	return writeRecords(w, transactionHeader, rows)
}

// WriteSharedCounterparties writes the shared counterparties, most connected first.
// Ties keep first-seen order.
func WriteSharedCounterparties(w io.Writer, r *scan.Report) error {
	shared := slices.Clone(r.SharedCounterparties)
	slices.SortStableFunc(shared, func(a, b scan.SharedCounterparty) int {
		return cmp.Compare(len(b.Wallets), len(a.Wallets))
	})

	rows := make([][]string, 0, len(shared))
	for _, s := range shared {
		rows = append(rows, []string{
			s.Address,
			strconv.Itoa(len(s.Wallets)),
			strings.Join(s.Wallets, EvidenceDelimiter),
		})
	}
	return writeRecords(w, sharedHeader, rows)
}

func transactionRow(wallet string, tx eth.Transaction) []string {
	ts := ""
	if !tx.Timestamp.IsZero() {
		ts = tx.Timestamp.UTC().Format(time.RFC3339)
	}
	return []string{
		wallet,
		tx.Hash,
		tx.From,
		tx.To,
		tx.ContractAddress,
		tx.ValueEther(),
		string(tx.Status),
		strconv.FormatUint(tx.BlockNumber, 10),
		ts,
	}
}
