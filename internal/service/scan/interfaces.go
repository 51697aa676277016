package scan

import (
	"context"

	"github.com/mrz1836/sybilscan/internal/chain/eth"
)

// HistoryFetcher retrieves the complete transaction history of one address.
// Implementations must be safe for concurrent use.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, address string) (*eth.History, error)
}

// Logger is the logging surface used by the service.
type Logger interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

// ProgressFunc is called once per wallet when its fetch finishes.
// Calls are serialized.
type ProgressFunc func(done, total int, address string, err error)
