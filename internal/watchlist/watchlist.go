// Package watchlist loads the list of tracked wallet addresses.
//
// The file format is one address per line. Blank lines and lines starting
// with '#' are ignored, and anything after a '#' or a ',' is treated as an
// annotation. Addresses are normalized to lower case and deduplicated while
// keeping the order of first appearance.
package watchlist

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/mrz1836/sybilscan/internal/chain/eth"
	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

const (
	// CommentMarker starts a comment, either on its own line or after an address.
	CommentMarker = "#"

	// LookalikeDistance is the largest edit distance between two tracked
	// addresses that is reported as a probable typo.
	LookalikeDistance = 2

	// lookalikeScanLimit bounds the pairwise lookalike comparison.
	lookalikeScanLimit = 2000
)

// InvalidLine is a non-empty line that did not hold a valid address.
type InvalidLine struct {
	Line int
	Text string
}

// Lookalike is a pair of tracked addresses that differ by only a few characters.
type Lookalike struct {
	First    string
	Second   string
	Distance int
}

// List is the parsed wallet list.
type List struct {
	Addresses  []string
	Duplicates int
	Invalid    []InvalidLine
	Lookalikes []Lookalike
}

// Len returns the number of tracked addresses.
func (l *List) Len() int {
	return len(l.Addresses)
}

// Load reads and parses the wallet list at path.
func Load(path string) (*List, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is the user supplied wallet list
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, scanerr.WithDetails(scanerr.ErrWatchlistNotFound, map[string]string{"path": path})
		}
		return nil, scanerr.Wrap(scanerr.WithCause(scanerr.ErrInvalidInput, err), "opening wallet list")
	}
	defer func() { _ = f.Close() }()

	list, err := Parse(f)
	if err != nil {
		return nil, scanerr.Wrap(err, "reading %s", path)
	}
	return list, nil
}

// Parse reads a wallet list from r. It fails only when r cannot be read or
// holds no valid address; invalid lines are collected and skipped.
func Parse(r io.Reader) (*List, error) {
	list := &List{}
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		entry := extractEntry(scanner.Text())
		if entry == "" {
			continue
		}

		addr, err := eth.NormalizeAddress(entry)
		if err != nil {
			list.Invalid = append(list.Invalid, InvalidLine{Line: lineNo, Text: entry})
			continue
		}

		if _, dup := seen[addr]; dup {
			list.Duplicates++
			continue
		}
		seen[addr] = struct{}{}
		list.Addresses = append(list.Addresses, addr)
	}
	if err := scanner.Err(); err != nil {
		return nil, scanerr.WithCause(scanerr.ErrInvalidInput, err)
	}

	if len(list.Addresses) == 0 {
		return nil, scanerr.WithDetails(scanerr.ErrEmptyWatchlist, map[string]string{
			"invalid_lines": strconv.Itoa(len(list.Invalid)),
		})
	}

	list.Lookalikes = FindLookalikes(list.Addresses, LookalikeDistance)
	return list, nil
}

// extractEntry strips comments and annotations from a line.
func extractEntry(line string) string {
	if i := strings.Index(line, CommentMarker); i >= 0 {
		line = line[:i]
	}
	if i := strings.IndexByte(line, ','); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// FindLookalikes returns pairs of normalized addresses whose hex bodies are
// within maxDistance edits of each other, in list order. Lists longer than
// an internal limit are not compared.
func FindLookalikes(addresses []string, maxDistance int) []Lookalike {
	if maxDistance <= 0 || len(addresses) > lookalikeScanLimit {
		return nil
	}

	var out []Lookalike
	for i := 0; i < len(addresses); i++ {
		for j := i + 1; j < len(addresses); j++ {
			d := levenshtein.ComputeDistance(body(addresses[i]), body(addresses[j]))
			if d <= maxDistance {
				out = append(out, Lookalike{First: addresses[i], Second: addresses[j], Distance: d})
			}
		}
	}
	return out
}

func body(addr string) string {
	return strings.TrimPrefix(addr, "0x")
}
