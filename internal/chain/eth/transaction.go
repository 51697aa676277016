package eth

import (
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// EtherDecimals is the number of decimal places between wei and ETH.
const EtherDecimals = 18

// Status is the explorer-reported execution outcome of a transaction.
type Status string

// Transaction statuses.
const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	// StatusUnknown is used when the explorer omits both status fields.
	StatusUnknown Status = "unknown"
)

// ParseStatus derives a Status from Etherscan's isError and txreceipt_status fields.
// Either field reporting an error wins; blank or unrecognised values yield StatusUnknown.
func ParseStatus(isError, receiptStatus string) Status {
	isError = strings.TrimSpace(isError)
	receiptStatus = strings.TrimSpace(receiptStatus)

	if isError == "1" || receiptStatus == "0" {
		return StatusFailed
	}
	if isError == "0" || receiptStatus == "1" {
		return StatusSuccess
	}
	return StatusUnknown
}

// Transaction is a single normal transaction as reported by the explorer.
// Addresses are normalized to lower case. Values are never mutated after fetch.
type Transaction struct {
	Hash            string
	From            string
	To              string // empty for contract creation
	ContractAddress string // set for contract creation
	Value           *uint256.Int
	BlockNumber     uint64
	Timestamp       time.Time
	Status          Status
}

// Receiver returns the receiving side of the transaction, falling back to the
// created contract when To is empty.
func (t Transaction) Receiver() string {
	if t.To != "" {
		return t.To
	}
	return t.ContractAddress
}

// ValueEther formats the transferred value in ETH.
func (t Transaction) ValueEther() string {
	return FormatUnits(t.Value, EtherDecimals)
}

// History is the fully materialized transaction list of one address.
type History struct {
	Address      string
	Transactions []Transaction
	Malformed    int // records skipped because required fields were missing
	Pages        int // explorer requests that returned data or an end signal
}

// FormatUnits converts an integer amount to a decimal string with the given decimal places.
// Trailing zeros after the decimal point are removed.
// For example, 1500000000000000000 with 18 decimals returns "1.5".
func FormatUnits(amount *uint256.Int, decimalPlaces int) string {
	if amount == nil || amount.IsZero() {
		return "0"
	}

	str := amount.Dec()

	// Pad with leading zeros if necessary
	for len(str) <= decimalPlaces {
		str = "0" + str
	}

	decimalPos := len(str) - decimalPlaces
	intPart, fracPart := str[:decimalPos], strings.TrimRight(str[decimalPos:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}
