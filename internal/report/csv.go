// Package report renders scan results to the console, to the summary CSV and
// to the optional detail CSV files.
package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/mrz1836/sybilscan/internal/fileutil"
	"github.com/mrz1836/sybilscan/internal/service/scan"
	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

// EvidenceDelimiter joins multiple addresses inside one CSV field.
const EvidenceDelimiter = ";"

// Header is the summary CSV header. Column order is stable.
//
//nolint:gochecknoglobals // Fixed file format
var Header = []string{
	"address",
	"tx_count",
	"failed_tx_count",
	"is_sybil_suspect",
	"sybil_evidence_addresses",
	"fetch_status",
}

// Row returns the summary CSV row of one wallet. Incomplete wallets report
// zero counts since partial histories are discarded.
func Row(w *scan.WalletResult) []string {
	return []string{
		w.Address,
		strconv.Itoa(w.TxCount),
		strconv.Itoa(w.FailedCount()),
		strconv.FormatBool(w.IsSybilSuspect()),
		strings.Join(w.SybilEvidence, EvidenceDelimiter),
		string(w.Status),
	}
}

// WriteCSV writes the summary CSV, one row per tracked wallet in input order.
func WriteCSV(w io.Writer, r *scan.Report) error {
	rows := make([][]string, 0, len(r.Wallets))
	for _, wallet := range r.Wallets {
		rows = append(rows, Row(wallet))
	}
	return writeRecords(w, Header, rows)
}

// WriteCSVFile writes the summary CSV to path, replacing any existing file.
func WriteCSVFile(path string, r *scan.Report) error {
	err := fileutil.WriteAtomicFunc(path, fileutil.ReportPerm, func(w io.Writer) error {
		return WriteCSV(w, r)
	})
	if err != nil {
		return scanerr.WithDetails(scanerr.WithCause(scanerr.ErrReportWrite, err), map[string]string{"path": path})
	}
	return nil
}

func writeRecords(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}
