// Package eth holds the Ethereum address and transaction model used by the scanner.
package eth

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

// IsValidAddress checks if the address is a valid Ethereum address format.
// This validates the format (40 hex chars with 0x prefix) but does not validate checksum.
func IsValidAddress(address string) bool {
	if len(address) != 2*common.AddressLength+2 {
		return false
	}
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return false
	}
	return common.IsHexAddress(address)
}

// NormalizeAddress trims whitespace, adds a missing 0x prefix, validates the
// result and returns it lower-cased. Lower case is the canonical form used for
// every comparison, map key and report row.
func NormalizeAddress(address string) (string, error) {
	addr := strings.TrimSpace(address)
	if addr != "" && !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		addr = "0x" + addr
	}

	if !IsValidAddress(addr) {
		return "", scanerr.WithDetails(scanerr.ErrInvalidAddress, map[string]string{
			"address": address,
		})
	}

	return "0x" + strings.ToLower(addr[2:]), nil
}

// ChecksumAddress returns the EIP-55 form of an address for display.
// Invalid input is returned unchanged.
func ChecksumAddress(address string) string {
	if !IsValidAddress(address) {
		return address
	}
	return common.HexToAddress(address).Hex()
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
