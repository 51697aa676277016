package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mrz1836/sybilscan/internal/chain/eth"
	"github.com/mrz1836/sybilscan/internal/output"
	"github.com/mrz1836/sybilscan/internal/service/scan"
	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

// Wallet outcome phrases shown on the console.
const (
	MsgFetchFailed = "could not fetch transactions"
	MsgNoFailures  = "no failed transactions found"
)

// ConsoleOptions controls the text rendering.
type ConsoleOptions struct {
	Palette *output.Palette
	// Verbose adds counterparty counts and fetch error details.
	Verbose bool
}

// RenderText writes the human readable report.
func RenderText(w io.Writer, r *scan.Report, opts ConsoleOptions) error {
	p := opts.Palette
	if p == nil {
		p = output.NewPalette(false)
	}

	var sb strings.Builder

	wallets := output.NewTable("WALLET", "TXS", "FAILED", "SYBIL", "RESULT")
	for _, wr := range r.Wallets {
		wallets.AddRow(
			eth.ChecksumAddress(wr.Address),
			txCountCell(wr),
			failedCountCell(wr),
			suspectCell(p, wr),
			outcomeCell(p, wr, opts.Verbose),
		)
	}
	sb.WriteString(wallets.String())

	writeFailedSection(&sb, p, r)
	writeSharedSection(&sb, p, r)
	if opts.Verbose {
		writeCounterpartySection(&sb, r)
	}
	writeSummary(&sb, p, r)

	_, err := io.WriteString(w, sb.String())
	return err
}

func txCountCell(wr *scan.WalletResult) string {
	if !wr.Complete() {
		return "-"
	}
	return strconv.Itoa(wr.TxCount)
}

func failedCountCell(wr *scan.WalletResult) string {
	if !wr.Complete() {
		return "-"
	}
	return strconv.Itoa(wr.FailedCount())
}

func suspectCell(p *output.Palette, wr *scan.WalletResult) string {
	if !wr.IsSybilSuspect() {
		return "no"
	}
	return p.Bad(fmt.Sprintf("yes (%d)", len(wr.SybilEvidence)))
}

func outcomeCell(p *output.Palette, wr *scan.WalletResult, verbose bool) string {
	switch {
	case !wr.Complete():
		msg := MsgFetchFailed + ": " + scanerr.Code(wr.Err)
		if verbose && wr.Err != nil {
			msg = MsgFetchFailed + ": " + wr.Err.Error()
		}
		return p.Bad(msg)
	case wr.FailedCount() > 0:
		return p.Warn(fmt.Sprintf("%d failed transaction(s)", wr.FailedCount()))
	default:
		msg := MsgNoFailures
		if wr.Malformed > 0 {
			msg += fmt.Sprintf(" (%d malformed records skipped)", wr.Malformed)
		}
		return p.Good(msg)
	}
}

func writeFailedSection(sb *strings.Builder, p *output.Palette, r *scan.Report) {
	for _, wr := range r.Wallets {
		if wr.FailedCount() == 0 {
			continue
		}
		fmt.Fprintf(sb, "\n%s %s\n", p.Bold("Failed transactions of"), eth.ChecksumAddress(wr.Address))
		t := output.NewTable("HASH", "TO", "VALUE (ETH)", "BLOCK", "TIME")
		for _, tx := range wr.FailedTxs {
			ts := ""
			if !tx.Timestamp.IsZero() {
				ts = tx.Timestamp.UTC().Format(time.RFC3339)
			}
			t.AddRow(tx.Hash, eth.ChecksumAddress(tx.Receiver()), tx.ValueEther(), strconv.FormatUint(tx.BlockNumber, 10), ts)
		}
		sb.WriteString(t.String())
	}
}

func writeSharedSection(sb *strings.Builder, p *output.Palette, r *scan.Report) {
	if len(r.SharedCounterparties) == 0 {
		fmt.Fprintf(sb, "\n%s\n", p.Good("No potential sybil addresses found with the given threshold."))
		return
	}

	fmt.Fprintf(sb, "\n%s\n", p.Bold(fmt.Sprintf(
		"Potential sybil addresses (interacted with >= %d tracked wallets):", r.Threshold)))
	t := output.NewTable("COUNTERPARTY", "WALLETS", "TRACKED WALLETS")
	for _, s := range r.SharedCounterparties {
		display := make([]string, len(s.Wallets))
		for i, wallet := range s.Wallets {
			display[i] = eth.ChecksumAddress(wallet)
		}
		t.AddRow(eth.ChecksumAddress(s.Address), strconv.Itoa(len(s.Wallets)), strings.Join(display, ", "))
	}
	sb.WriteString(t.String())
}

func writeCounterpartySection(sb *strings.Builder, r *scan.Report) {
	sb.WriteString("\nCounterparties per wallet:\n")
	t := output.NewTable("WALLET", "COUNTERPARTIES", "SHARED")
	t.SetNoHeader(true)
	for _, wr := range r.Wallets {
		t.AddRow(eth.ChecksumAddress(wr.Address), strconv.Itoa(len(wr.Counterparties)), strconv.Itoa(len(wr.SybilEvidence)))
	}
	sb.WriteString(t.String())
}

func writeSummary(sb *strings.Builder, p *output.Palette, r *scan.Report) {
	txs, failed, malformed := r.Totals()
	incomplete := len(r.Incomplete())

	line := fmt.Sprintf("Scanned %d wallets: %d transactions, %d failed, %d sybil suspects",
		len(r.Wallets), txs, failed, len(r.Suspects()))
	if malformed > 0 {
		line += fmt.Sprintf(", %d malformed records skipped", malformed)
	}
	sb.WriteString("\n" + line + "\n")

	if incomplete > 0 {
		fmt.Fprintf(sb, "%s\n", p.Warn(fmt.Sprintf("%d wallet(s) incomplete: %s", incomplete, MsgFetchFailed)))
	}
}

// jsonWallet is the JSON form of one wallet result.
type jsonWallet struct {
	Address        string   `json:"address"`
	FetchStatus    string   `json:"fetch_status"`
	Error          string   `json:"error,omitempty"`
	TxCount        int      `json:"tx_count"`
	FailedTxCount  int      `json:"failed_tx_count"`
	FailedTxHashes []string `json:"failed_tx_hashes"`
	Malformed      int      `json:"malformed_records"`
	IsSybilSuspect bool     `json:"is_sybil_suspect"`
	SybilEvidence  []string `json:"sybil_evidence_addresses"`
	Counterparties int      `json:"counterparty_count"`
}

type jsonShared struct {
	Address string   `json:"address"`
	Wallets []string `json:"wallets"`
}

type jsonReport struct {
	Threshold            int          `json:"sybil_threshold"`
	Wallets              []jsonWallet `json:"wallets"`
	SharedCounterparties []jsonShared `json:"shared_counterparties"`
	StartedAt            time.Time    `json:"started_at"`
	DurationMs           int64        `json:"duration_ms"`
}

// RenderJSON writes the report as JSON.
func RenderJSON(w io.Writer, r *scan.Report) error {
	out := jsonReport{
		Threshold:            r.Threshold,
		Wallets:              make([]jsonWallet, 0, len(r.Wallets)),
		SharedCounterparties: make([]jsonShared, 0, len(r.SharedCounterparties)),
		StartedAt:            r.StartedAt.UTC(),
		DurationMs:           r.Duration().Milliseconds(),
	}

	for _, wr := range r.Wallets {
		jw := jsonWallet{
			Address:        wr.Address,
			FetchStatus:    string(wr.Status),
			TxCount:        wr.TxCount,
			FailedTxCount:  wr.FailedCount(),
			FailedTxHashes: make([]string, 0, wr.FailedCount()),
			Malformed:      wr.Malformed,
			IsSybilSuspect: wr.IsSybilSuspect(),
			SybilEvidence:  append([]string{}, wr.SybilEvidence...),
			Counterparties: len(wr.Counterparties),
		}
		if wr.Err != nil {
			jw.Error = wr.Err.Error()
		}
		for _, tx := range wr.FailedTxs {
			jw.FailedTxHashes = append(jw.FailedTxHashes, tx.Hash)
		}
		out.Wallets = append(out.Wallets, jw)
	}

	for _, s := range r.SharedCounterparties {
		out.SharedCounterparties = append(out.SharedCounterparties, jsonShared{Address: s.Address, Wallets: s.Wallets})
	}

	return output.WriteJSON(w, out)
}
