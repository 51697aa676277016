package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/sybilscan/internal/chain"
	"github.com/mrz1836/sybilscan/internal/metrics"
	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

const testWallet = "0x742d35cc6634c0532925a3b844bc454e4438f44e"

// fastPolicy retries without sleeping.
func fastPolicy() *chain.BackoffPolicy {
	return &chain.BackoffPolicy{
		RateLimit: chain.RetryConfig{MaxAttempts: 3},
		Transient: chain.RetryConfig{MaxAttempts: 2},
	}
}

func newTestClient(t *testing.T, baseURL string, opts *ClientOptions) *Client {
	t.Helper()
	if opts == nil {
		opts = &ClientOptions{}
	}
	opts.BaseURL = baseURL
	if opts.Policy == nil {
		opts.Policy = fastPolicy()
	}
	if opts.RateLimiter == nil {
		opts.RateLimiter = chain.NewRateLimiter(0, 0)
	}
	client, err := NewClient("test-key", opts)
	require.NoError(t, err)
	return client
}

func record(i int, block uint64) map[string]string {
	return map[string]string{
		"blockNumber":      strconv.FormatUint(block, 10),
		"timeStamp":        strconv.Itoa(1700000000 + i),
		"hash":             fmt.Sprintf("0x%064x", i),
		"from":             testWallet,
		"to":               fmt.Sprintf("0x%040x", i+1),
		"value":            "1000000000000000000",
		"contractAddress":  "",
		"isError":          "0",
		"txreceipt_status": "1",
	}
}

func writeRecords(t *testing.T, w http.ResponseWriter, records []map[string]string) {
	t.Helper()
	if len(records) == 0 {
		writeJSON(t, w, map[string]any{"status": "0", "message": "No transactions found", "result": []any{}})
		return
	}
	writeJSON(t, w, map[string]any{"status": "1", "message": "OK", "result": records})
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	t.Run("creates client with valid API key", func(t *testing.T) {
		t.Parallel()
		client, err := NewClient("test-key", nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultBaseURL, client.baseURL)
		assert.Equal(t, DefaultChainID, client.chainID)
		assert.Equal(t, DefaultPageSize, client.PageSize())
		assert.Equal(t, DefaultEndBlock, client.endBlock)
	})

	t.Run("returns error for empty API key", func(t *testing.T) {
		t.Parallel()
		_, err := NewClient("  ", nil)
		require.ErrorIs(t, err, scanerr.ErrAPIKeyRequired)
		assert.Equal(t, scanerr.ExitAuth, scanerr.ExitCode(err))
	})

	t.Run("applies options", func(t *testing.T) {
		t.Parallel()
		httpClient := &http.Client{Timeout: 5 * time.Second}
		client, err := NewClient("test-key", &ClientOptions{
			BaseURL:    "https://custom.api/",
			HTTPClient: httpClient,
			ChainID:    "137",
			PageSize:   250,
			StartBlock: 10,
			EndBlock:   20,
		})
		require.NoError(t, err)
		assert.Equal(t, "https://custom.api", client.baseURL)
		assert.Equal(t, httpClient, client.httpClient)
		assert.Equal(t, "137", client.chainID)
		assert.Equal(t, 250, client.PageSize())
		assert.Equal(t, uint64(10), client.startBlock)
		assert.Equal(t, uint64(20), client.endBlock)
	})

	t.Run("clamps page size to result window", func(t *testing.T) {
		t.Parallel()
		client, err := NewClient("test-key", &ClientOptions{PageSize: 50000})
		require.NoError(t, err)
		assert.Equal(t, MaxResultWindow, client.PageSize())
	})

	t.Run("rejects inverted block range", func(t *testing.T) {
		t.Parallel()
		_, err := NewClient("test-key", &ClientOptions{StartBlock: 30, EndBlock: 20})
		require.ErrorIs(t, err, scanerr.ErrConfig)
	})
}

func TestFetchHistory_requestParameters(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api", r.URL.Path)
		assert.Equal(t, "account", q.Get("module"))
		assert.Equal(t, "txlist", q.Get("action"))
		assert.Equal(t, testWallet, q.Get("address"))
		assert.Equal(t, "0", q.Get("startblock"))
		assert.Equal(t, "99999999", q.Get("endblock"))
		assert.Equal(t, "1", q.Get("page"))
		assert.Equal(t, "100", q.Get("offset"))
		assert.Equal(t, "asc", q.Get("sort"))
		assert.Equal(t, "1", q.Get("chainid"))
		assert.Equal(t, "test-key", q.Get("apikey"))
		writeRecords(t, w, []map[string]string{record(0, 100)})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, &ClientOptions{PageSize: 100})
	history, err := client.FetchHistory(context.Background(), "0x742d35Cc6634C0532925a3b844Bc454e4438f44e")
	require.NoError(t, err)

	assert.Equal(t, testWallet, history.Address)
	require.Len(t, history.Transactions, 1)
	tx := history.Transactions[0]
	assert.Equal(t, fmt.Sprintf("0x%064x", 0), tx.Hash)
	assert.Equal(t, testWallet, tx.From)
	assert.Equal(t, fmt.Sprintf("0x%040x", 1), tx.To)
	assert.Equal(t, uint64(100), tx.BlockNumber)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), tx.Timestamp)
	assert.Equal(t, "1", tx.ValueEther())
	assert.Equal(t, 1, history.Pages)
}

func TestFetchHistory_fullPageThenEmpty(t *testing.T) {
	t.Parallel()

	const pageSize = 5
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Query().Get("page") != "1" {
			writeRecords(t, w, nil)
			return
		}
		records := make([]map[string]string, pageSize)
		for i := range records {
			records[i] = record(i, uint64(100+i))
		}
		writeRecords(t, w, records)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, &ClientOptions{PageSize: pageSize})
	history, err := client.FetchHistory(context.Background(), testWallet)
	require.NoError(t, err)

	assert.Len(t, history.Transactions, pageSize)
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, 2, history.Pages)
}

func TestFetchHistory_concatenatesPagesInOrder(t *testing.T) {
	t.Parallel()

	const pageSize = 3
	const total = 7
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		assert.NoError(t, err)
		var records []map[string]string
		for i := (page - 1) * pageSize; i < min(page*pageSize, total); i++ {
			records = append(records, record(i, uint64(100+i)))
		}
		writeRecords(t, w, records)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, &ClientOptions{PageSize: pageSize})
	history, err := client.FetchHistory(context.Background(), testWallet)
	require.NoError(t, err)

	require.Len(t, history.Transactions, total)
	for i, tx := range history.Transactions {
		assert.Equal(t, fmt.Sprintf("0x%064x", i), tx.Hash)
	}
	assert.Equal(t, 3, history.Pages)
}

func TestFetchHistory_noTransactions(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		writeRecords(t, w, nil)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	history, err := client.FetchHistory(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Empty(t, history.Transactions)
	assert.Equal(t, int32(1), requests.Load())
}

func TestFetchHistory_resultWindowContinuation(t *testing.T) {
	t.Parallel()

	// Two transactions per block; the server enforces the result window.
	const total = 10001
	const pageSize = 4000
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		q := r.URL.Query()
		page, _ := strconv.Atoi(q.Get("page"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		startBlock, _ := strconv.Atoi(q.Get("startblock"))
		if page*offset > MaxResultWindow {
			writeJSON(t, w, map[string]any{"status": "0", "message": "NOTOK", "result": "Result window is too large"})
			return
		}
		var matching []map[string]string
		for i := 0; i < total; i++ {
			if i/2 >= startBlock {
				matching = append(matching, record(i, uint64(i/2)))
			}
		}
		lo := min((page-1)*offset, len(matching))
		hi := min(page*offset, len(matching))
		writeRecords(t, w, matching[lo:hi])
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, &ClientOptions{PageSize: pageSize})
	history, err := client.FetchHistory(context.Background(), testWallet)
	require.NoError(t, err)

	require.Len(t, history.Transactions, total)
	for i, tx := range history.Transactions {
		require.Equal(t, fmt.Sprintf("0x%064x", i), tx.Hash)
	}
	assert.Equal(t, int32(3), requests.Load())
}

func TestFetchHistory_windowStuckInOneBlock(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		records := make([]map[string]string, MaxResultWindow)
		for i := range records {
			records[i] = record(i, 7)
		}
		writeRecords(t, w, records)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, &ClientOptions{PageSize: MaxResultWindow, StartBlock: 7})
	_, err := client.FetchHistory(context.Background(), testWallet)
	require.ErrorIs(t, err, scanerr.ErrAPI)
}

func TestFetchHistory_rateLimited(t *testing.T) {
	t.Parallel()

	t.Run("exhausts retries on HTTP 429", func(t *testing.T) {
		t.Parallel()
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		m := metrics.New()
		client := newTestClient(t, server.URL, &ClientOptions{Metrics: m})
		history, err := client.FetchHistory(context.Background(), testWallet)
		require.Error(t, err)
		assert.Nil(t, history)
		require.ErrorIs(t, err, scanerr.ErrRateLimited)
		assert.NotErrorIs(t, err, scanerr.ErrAPI)
		assert.Equal(t, int32(3), requests.Load())
		assert.Equal(t, int64(2), m.Snapshot().RetriesTotal)
		assert.Equal(t, int64(3), m.Snapshot().APIErrorsTotal)
	})

	t.Run("recovers after status 0 rate limit message", func(t *testing.T) {
		t.Parallel()
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if requests.Add(1) == 1 {
				writeJSON(t, w, map[string]any{"status": "0", "message": "NOTOK", "result": "Max rate limit reached"})
				return
			}
			writeRecords(t, w, []map[string]string{record(0, 1)})
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, nil)
		history, err := client.FetchHistory(context.Background(), testWallet)
		require.NoError(t, err)
		assert.Len(t, history.Transactions, 1)
		assert.Equal(t, int32(2), requests.Load())
	})

	t.Run("throttling does not consume transient budget", func(t *testing.T) {
		t.Parallel()
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			switch requests.Add(1) {
			case 1, 2:
				w.WriteHeader(http.StatusTooManyRequests)
			case 3:
				w.WriteHeader(http.StatusBadGateway)
			default:
				writeRecords(t, w, nil)
			}
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, nil)
		_, err := client.FetchHistory(context.Background(), testWallet)
		require.NoError(t, err)
		assert.Equal(t, int32(4), requests.Load())
	})
}

func TestFetchHistory_apiErrors(t *testing.T) {
	t.Parallel()

	t.Run("server error is retried", func(t *testing.T) {
		t.Parallel()
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if requests.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeRecords(t, w, nil)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, nil)
		_, err := client.FetchHistory(context.Background(), testWallet)
		require.NoError(t, err)
		assert.Equal(t, int32(2), requests.Load())
	})

	t.Run("client error is not retried", func(t *testing.T) {
		t.Parallel()
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("forbidden"))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, nil)
		_, err := client.FetchHistory(context.Background(), testWallet)
		require.ErrorIs(t, err, scanerr.ErrAPI)

		var se *scanerr.ScanError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "403", se.Details["status"])
		assert.Equal(t, int32(1), requests.Load())
	})

	t.Run("status 0 error is not retried", func(t *testing.T) {
		t.Parallel()
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			requests.Add(1)
			writeJSON(t, w, map[string]any{"status": "0", "message": "NOTOK", "result": "Invalid API Key"})
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, nil)
		_, err := client.FetchHistory(context.Background(), testWallet)
		require.ErrorIs(t, err, scanerr.ErrAPI)
		assert.Contains(t, err.Error(), "Invalid API Key")
		assert.Equal(t, int32(1), requests.Load())
	})

	t.Run("non JSON body exhausts transient retries", func(t *testing.T) {
		t.Parallel()
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			requests.Add(1)
			_, _ = w.Write([]byte("<html>bad gateway</html>"))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, nil)
		_, err := client.FetchHistory(context.Background(), testWallet)
		require.ErrorIs(t, err, scanerr.ErrAPI)
		assert.Equal(t, int32(2), requests.Load())
	})

	t.Run("invalid address fails before any request", func(t *testing.T) {
		t.Parallel()
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
			requests.Add(1)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, nil)
		_, err := client.FetchHistory(context.Background(), "0x1234")
		require.ErrorIs(t, err, scanerr.ErrInvalidAddress)
		assert.Equal(t, int32(0), requests.Load())
	})
}

func TestFetchHistory_networkErrorRedactsKey(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client, err := NewClient("super-secret-key", &ClientOptions{
		BaseURL:     baseURL,
		Policy:      fastPolicy(),
		RateLimiter: chain.NewRateLimiter(0, 0),
	})
	require.NoError(t, err)

	_, err = client.FetchHistory(context.Background(), testWallet)
	require.ErrorIs(t, err, scanerr.ErrNetwork)
	assert.NotContains(t, err.Error(), "super-secret-key")
}

func TestFetchHistory_contextCanceled(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	slow := &chain.BackoffPolicy{
		RateLimit: chain.RetryConfig{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour},
		Transient: chain.RetryConfig{MaxAttempts: 1},
	}
	client := newTestClient(t, server.URL, &ClientOptions{Policy: slow})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.FetchHistory(ctx, testWallet)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchHistory_malformedRecords(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		good := record(0, 5)
		noHash := record(1, 5)
		noHash["hash"] = ""
		badFrom := record(2, 5)
		badFrom["from"] = "nobody"
		badBlock := record(3, 5)
		badBlock["blockNumber"] = "latest"
		creation := record(4, 6)
		creation["to"] = ""
		creation["contractAddress"] = "0x00000000000000000000000000000000000000cc"
		failed := record(5, 7)
		failed["isError"] = "1"

		writeJSON(t, w, map[string]any{
			"status":  "1",
			"message": "OK",
			"result":  []any{good, noHash, badFrom, badBlock, creation, failed, "not an object"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	history, err := client.FetchHistory(context.Background(), testWallet)
	require.NoError(t, err)

	assert.Equal(t, 4, history.Malformed)
	require.Len(t, history.Transactions, 3)
	assert.Empty(t, history.Transactions[1].To)
	assert.Equal(t, "0x00000000000000000000000000000000000000cc", history.Transactions[1].Receiver())
	assert.Equal(t, "failed", string(history.Transactions[2].Status))
}

func TestPager_Reset(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		writeRecords(t, w, []map[string]string{record(0, 1)})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	pager := client.NewPager(testWallet)

	page, err := pager.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, page.Transactions, 1)
	assert.True(t, pager.Done())

	page, err = pager.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, page.Transactions)
	assert.Equal(t, int32(1), requests.Load())

	pager.Reset()
	assert.False(t, pager.Done())
	page, err = pager.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, page.Transactions, 1)
	assert.Equal(t, int32(2), requests.Load())
}

func TestTruncateBody(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short", truncateBody("short", 10))
	assert.Equal(t, "abc...", truncateBody("abcdef", 3))
}
