package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/mrz1836/sybilscan/internal/chain"
	"github.com/mrz1836/sybilscan/internal/chain/eth"
	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

// txRecord is one entry of the txlist result. Every field is a string on the wire.
type txRecord struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	IsError         string `json:"isError"`
	ReceiptStatus   string `json:"txreceipt_status"`
}

// toTransaction validates a record and converts it. Records without a hash,
// a valid sender, a block number or a timestamp are malformed.
func (r txRecord) toTransaction() (eth.Transaction, error) {
	hash := strings.ToLower(strings.TrimSpace(r.Hash))
	if hash == "" {
		return eth.Transaction{}, malformed("hash", r.Hash)
	}

	from, err := eth.NormalizeAddress(r.From)
	if err != nil {
		return eth.Transaction{}, malformed("from", r.From)
	}

	to := ""
	if strings.TrimSpace(r.To) != "" {
		if to, err = eth.NormalizeAddress(r.To); err != nil {
			return eth.Transaction{}, malformed("to", r.To)
		}
	}

	contract := ""
	if strings.TrimSpace(r.ContractAddress) != "" {
		if contract, err = eth.NormalizeAddress(r.ContractAddress); err != nil {
			return eth.Transaction{}, malformed("contractAddress", r.ContractAddress)
		}
	}

	block, err := strconv.ParseUint(strings.TrimSpace(r.BlockNumber), 10, 64)
	if err != nil {
		return eth.Transaction{}, malformed("blockNumber", r.BlockNumber)
	}

	secs, err := strconv.ParseInt(strings.TrimSpace(r.TimeStamp), 10, 64)
	if err != nil {
		return eth.Transaction{}, malformed("timeStamp", r.TimeStamp)
	}

	value := new(uint256.Int)
	if raw := strings.TrimSpace(r.Value); raw != "" {
		if value, err = uint256.FromDecimal(raw); err != nil {
			return eth.Transaction{}, malformed("value", r.Value)
		}
	}

	return eth.Transaction{
		Hash:            hash,
		From:            from,
		To:              to,
		ContractAddress: contract,
		Value:           value,
		BlockNumber:     block,
		Timestamp:       time.Unix(secs, 0).UTC(),
		Status:          eth.ParseStatus(r.IsError, r.ReceiptStatus),
	}, nil
}

func malformed(field, value string) error {
	return scanerr.WithDetails(scanerr.ErrMalformedRecord, map[string]string{
		"field": field,
		"value": truncateBody(value, 80),
	})
}

// Page is one decoded txlist response.
type Page struct {
	Number       int
	StartBlock   uint64
	Transactions []eth.Transaction
	Malformed    int
}

// Pager walks the txlist pages of one address in ascending block order.
// When the page window reaches MaxResultWindow it restarts at page 1 from the
// last block seen, skipping the transactions of that block already returned.
// A failed Next leaves the pager unchanged, so the same page can be requested again.
type Pager struct {
	client  *Client
	address string

	page       int
	startBlock uint64
	done       bool

	// Hashes of the highest block seen in the current window.
	topBlock       uint64
	topBlockHashes map[string]struct{}
	// Hashes already returned for the block the current window starts at.
	boundary map[string]struct{}
}

// NewPager creates a pager for an already normalized address.
func (c *Client) NewPager(address string) *Pager {
	p := &Pager{client: c, address: address}
	p.Reset()
	return p
}

// Reset rewinds the pager to the first page.
func (p *Pager) Reset() {
	p.page = 1
	p.startBlock = p.client.startBlock
	p.done = false
	p.topBlock = 0
	p.topBlockHashes = make(map[string]struct{})
	p.boundary = make(map[string]struct{})
}

// Done reports whether the last page has been returned.
func (p *Pager) Done() bool {
	return p.done
}

// Next fetches the next page. It returns an empty page once Done is true.
func (p *Pager) Next(ctx context.Context) (*Page, error) {
	if p.done {
		return &Page{Number: p.page, StartBlock: p.startBlock}, nil
	}

	c := p.client
	result, err := chain.RetryWithPolicy(ctx, c.policy, func(ctx context.Context) (json.RawMessage, error) {
		return c.doRequest(ctx, p.params())
	}, func(ev chain.RetryEvent) {
		c.metrics.RecordRetry(string(ev.Kind))
		c.logger.Debug("etherscan: %s page %d retry %d (%s) in %s: %v",
			p.address, p.page, ev.Attempt, ev.Kind, ev.Delay, ev.Err)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching page %d from block %d: %w", p.page, p.startBlock, err)
	}

	page := &Page{Number: p.page, StartBlock: p.startBlock}
	if result == nil {
		c.logger.Debug("etherscan: %s page %d: no transactions", p.address, p.page)
		p.done = true
		return page, nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(result, &records); err != nil {
		return nil, scanerr.WithDetails(scanerr.ErrAPI, map[string]string{
			"result": truncateBody(string(result), 256),
		})
	}

	for _, raw := range records {
		var rec txRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			page.Malformed++
			continue
		}
		tx, err := rec.toTransaction()
		if err != nil {
			c.logger.Debug("etherscan: %s: skipping record: %v", p.address, err)
			page.Malformed++
			continue
		}
		p.trackBlock(tx)
		if _, seen := p.boundary[tx.Hash]; seen && tx.BlockNumber == p.startBlock {
			continue
		}
		page.Transactions = append(page.Transactions, tx)
	}

	c.logger.Debug("etherscan: %s page %d from block %d: %d records, %d malformed",
		p.address, p.page, p.startBlock, len(records), page.Malformed)

	if err := p.advance(len(records)); err != nil {
		return nil, err
	}
	return page, nil
}

// advance moves to the next page after a successful response of n records.
func (p *Pager) advance(n int) error {
	size := p.client.pageSize
	if n < size {
		p.done = true
		return nil
	}

	if (p.page+1)*size <= MaxResultWindow {
		p.page++
		return nil
	}

	// Result window exhausted: continue from the highest block seen.
	if p.topBlock <= p.startBlock {
		p.done = true
		return scanerr.WithDetails(scanerr.ErrAPI, map[string]string{
			"address": p.address,
			"block":   strconv.FormatUint(p.startBlock, 10),
			"reason":  "result window exhausted within a single block",
		})
	}

	p.startBlock = p.topBlock
	p.page = 1
	p.boundary = p.topBlockHashes
	p.topBlockHashes = make(map[string]struct{})
	return nil
}

func (p *Pager) trackBlock(tx eth.Transaction) {
	switch {
	case tx.BlockNumber > p.topBlock:
		p.topBlock = tx.BlockNumber
		p.topBlockHashes = map[string]struct{}{tx.Hash: {}}
	case tx.BlockNumber == p.topBlock:
		p.topBlockHashes[tx.Hash] = struct{}{}
	}
}

func (p *Pager) params() url.Values {
	c := p.client
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "txlist")
	params.Set("address", p.address)
	params.Set("startblock", strconv.FormatUint(p.startBlock, 10))
	params.Set("endblock", strconv.FormatUint(c.endBlock, 10))
	params.Set("page", strconv.Itoa(p.page))
	params.Set("offset", strconv.Itoa(c.pageSize))
	params.Set("sort", "asc")
	return params
}

// FetchHistory retrieves the complete normal transaction history of an address,
// in the order returned by Etherscan. On error no partial history is returned.
func (c *Client) FetchHistory(ctx context.Context, address string) (*eth.History, error) {
	addr, err := eth.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	history := &eth.History{Address: addr}
	pager := c.NewPager(addr)
	for !pager.Done() {
		page, err := pager.Next(ctx)
		if err != nil {
			return nil, err
		}
		history.Pages++
		history.Transactions = append(history.Transactions, page.Transactions...)
		history.Malformed += page.Malformed
	}

	c.logger.Debug("etherscan: %s: %d transactions in %d pages", addr, len(history.Transactions), history.Pages)
	return history, nil
}
