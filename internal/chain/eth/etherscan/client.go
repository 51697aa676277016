// Package etherscan provides an Etherscan API client for transaction history queries.
package etherscan

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mrz1836/sybilscan/internal/chain"
	"github.com/mrz1836/sybilscan/internal/metrics"
	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

const (
	// DefaultBaseURL is the Etherscan API v2 base URL.
	DefaultBaseURL = "https://api.etherscan.io/v2"

	// DefaultChainID is the Ethereum mainnet chain ID for the Etherscan v2 API.
	DefaultChainID = "1"

	// DefaultPageSize is the number of records requested per page.
	DefaultPageSize = 1000

	// MaxResultWindow is the largest page*offset product Etherscan serves for one query.
	MaxResultWindow = 10000

	// DefaultEndBlock is the open upper bound Etherscan accepts for endblock.
	DefaultEndBlock uint64 = 99999999

	// httpTimeout is the default HTTP request timeout.
	httpTimeout = 30 * time.Second

	// maxResponseBody is the maximum response body size to read (16 MB).
	// A full txlist page of 10000 records is several megabytes.
	maxResponseBody = 16 << 20

	// endpoint is the rate limiter key shared by every request of a run.
	endpoint = "etherscan"
)

// noTransactionsMessage is the status "0" message Etherscan uses for an empty result.
const noTransactionsMessage = "no transactions found"

// apiResponse represents the standard Etherscan API response.
// Result is an array of records on success and a string on error.
type apiResponse struct {
	Status  string          `json:"status"`  // "1" for success, "0" for error or empty
	Message string          `json:"message"` // "OK" or error message
	Result  json.RawMessage `json:"result"`
}

// Logger is the logging surface used by the client.
type Logger interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Client is an Etherscan API client for transaction history queries.
// It is safe for concurrent use; the rate limiter is shared by all callers.
type Client struct {
	apiKey      string
	baseURL     string
	chainID     string
	pageSize    int
	startBlock  uint64
	endBlock    uint64
	httpClient  *http.Client
	rateLimiter *chain.RateLimiter
	policy      chain.BackoffPolicy
	logger      Logger
	metrics     *metrics.Metrics
}

// ClientOptions configures the Etherscan client.
type ClientOptions struct {
	// BaseURL overrides the default Etherscan API URL (useful for testing).
	BaseURL string
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
	// Timeout overrides the per-request timeout of the default HTTP client.
	Timeout time.Duration
	// ChainID overrides the default chain ID (default "1" for Ethereum mainnet).
	ChainID string
	// PageSize overrides the records requested per page. Clamped to MaxResultWindow.
	PageSize int
	// StartBlock and EndBlock bound the block range queried. EndBlock 0 means DefaultEndBlock.
	StartBlock uint64
	EndBlock   uint64
	// RateLimiter overrides the default 5 req/s limiter.
	RateLimiter *chain.RateLimiter
	// Policy overrides the default retry budgets.
	Policy *chain.BackoffPolicy
	// Logger receives request and retry diagnostics.
	Logger Logger
	// Metrics records request outcomes and retries. May be nil.
	Metrics *metrics.Metrics
}

// NewClient creates a new Etherscan API client.
func NewClient(apiKey string, opts *ClientOptions) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, scanerr.ErrAPIKeyRequired
	}

	c := &Client{
		apiKey:   apiKey,
		baseURL:  DefaultBaseURL,
		chainID:  DefaultChainID,
		pageSize: DefaultPageSize,
		endBlock: DefaultEndBlock,
		httpClient: &http.Client{
			Timeout: httpTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		rateLimiter: chain.DefaultRateLimiter(),
		policy:      chain.DefaultBackoffPolicy(),
		logger:      nopLogger{},
	}

	if opts != nil {
		if opts.BaseURL != "" {
			c.baseURL = strings.TrimRight(opts.BaseURL, "/")
		}
		if opts.HTTPClient != nil {
			c.httpClient = opts.HTTPClient
		} else if opts.Timeout > 0 {
			c.httpClient.Timeout = opts.Timeout
		}
		if opts.ChainID != "" {
			c.chainID = opts.ChainID
		}
		if opts.PageSize > 0 {
			c.pageSize = min(opts.PageSize, MaxResultWindow)
		}
		c.startBlock = opts.StartBlock
		if opts.EndBlock > 0 {
			c.endBlock = opts.EndBlock
		}
		if c.startBlock > c.endBlock {
			return nil, scanerr.WithDetails(scanerr.ErrConfig, map[string]string{
				"start_block": strconv.FormatUint(c.startBlock, 10),
				"end_block":   strconv.FormatUint(c.endBlock, 10),
			})
		}
		if opts.RateLimiter != nil {
			c.rateLimiter = opts.RateLimiter
		}
		if opts.Policy != nil {
			c.policy = *opts.Policy
		}
		if opts.Logger != nil {
			c.logger = opts.Logger
		}
		c.metrics = opts.Metrics
	}

	return c, nil
}

// PageSize returns the number of records requested per page.
func (c *Client) PageSize() int {
	return c.pageSize
}

// doRequest performs an HTTP GET request to the Etherscan API.
// It returns the raw result of a status "1" response, or nil when Etherscan
// reports that there are no transactions.
func (c *Client) doRequest(ctx context.Context, params url.Values) (json.RawMessage, error) {
	// Rate limit
	if err := c.rateLimiter.Wait(ctx, endpoint); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	result, err := c.send(ctx, params)
	c.metrics.RecordAPICall(time.Since(start), err)
	return result, err
}

func (c *Client) send(ctx context.Context, params url.Values) (json.RawMessage, error) {
	// Etherscan v2 API requires chainid and apikey on every request
	params.Set("chainid", c.chainID)
	params.Set("apikey", c.apiKey)

	reqURL := fmt.Sprintf("%s/api?%s", c.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", c.redact(err))
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq) //nolint:gosec // G704: URL is constructed from validated config, not user input
	if err != nil {
		return nil, scanerr.WithCause(scanerr.ErrNetwork, c.redact(err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, scanerr.WithCause(scanerr.ErrNetwork, fmt.Errorf("reading response: %w", err))
	}

	// Handle HTTP-level rate limiting
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, scanerr.WithDetails(scanerr.ErrRateLimited, map[string]string{
			"status": strconv.Itoa(resp.StatusCode),
		})
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := scanerr.WithDetails(scanerr.ErrAPI, map[string]string{
			"status": strconv.Itoa(resp.StatusCode),
			"body":   truncateBody(string(body), 512),
		})
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, chain.WrapRetryable(apiErr)
		}
		return nil, apiErr
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		// Gateways occasionally answer 200 with an HTML error page.
		return nil, chain.WrapRetryable(scanerr.WithDetails(scanerr.ErrAPI, map[string]string{
			"parse": err.Error(),
			"body":  truncateBody(string(body), 256),
		}))
	}

	if apiResp.Status == "1" {
		return apiResp.Result, nil
	}

	// Etherscan returns status "0" both for errors and for an empty result.
	message := resultText(apiResp.Result)
	if strings.HasPrefix(strings.ToLower(apiResp.Message), noTransactionsMessage) {
		return nil, nil
	}
	if isRateLimitMessage(message) || isRateLimitMessage(apiResp.Message) {
		return nil, scanerr.WithDetails(scanerr.ErrRateLimited, map[string]string{
			"result": truncateBody(message, 256),
		})
	}
	return nil, scanerr.WithDetails(scanerr.ErrAPI, map[string]string{
		"message": apiResp.Message,
		"result":  truncateBody(message, 256),
	})
}

// redact removes the API key from errors that embed the request URL.
func (c *Client) redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = strings.ReplaceAll(urlErr.URL, c.apiKey, "REDACTED")
	}
	return err
}

// resultText decodes a string result, falling back to the raw JSON.
func resultText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func isRateLimitMessage(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "rate limit") || strings.Contains(s, "too many requests")
}

// truncateBody truncates a string to maxLen characters.
func truncateBody(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
