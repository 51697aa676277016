// Package scan fetches the histories of tracked wallets and derives failed
// transaction counts and sybil evidence from them.
package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrz1836/sybilscan/internal/chain/eth"
	"github.com/mrz1836/sybilscan/internal/metrics"
)

// DefaultConcurrency is the number of wallets fetched in parallel. Sequential by default.
const DefaultConcurrency = 1

// Config holds the configuration for the scan service.
type Config struct {
	Fetcher        HistoryFetcher
	Concurrency    int
	SybilThreshold int
	// RunTimeout bounds the whole run. Wallets not fetched in time are incomplete.
	RunTimeout time.Duration
	Logger     Logger
	Metrics    *metrics.Metrics
	Progress   ProgressFunc
}

// Service runs scans over a list of tracked wallets.
type Service struct {
	fetcher     HistoryFetcher
	concurrency int
	threshold   int
	runTimeout  time.Duration
	logger      Logger
	metrics     *metrics.Metrics
	progress    ProgressFunc
}

// NewService creates a new scan service.
func NewService(cfg *Config) *Service {
	s := &Service{
		fetcher:     cfg.Fetcher,
		concurrency: cfg.Concurrency,
		threshold:   max(cfg.SybilThreshold, DefaultSybilThreshold),
		runTimeout:  cfg.RunTimeout,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		progress:    cfg.Progress,
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	if s.logger == nil {
		s.logger = nopLogger{}
	}
	return s
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// fetchOutcome is the per-wallet slot filled by a fetch worker.
type fetchOutcome struct {
	history *eth.History
	err     error
}

// Run fetches every address and builds the report. Addresses are expected to
// be normalized; repeated addresses are scanned once. Fetch failures never
// abort the run; they mark the wallet incomplete. Run only fails when ctx is
// canceled by the caller.
func (s *Service) Run(ctx context.Context, addresses []string) (*Report, error) {
	report := &Report{Threshold: s.threshold, StartedAt: time.Now()}
	addresses = dedupe(addresses)

	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	outcomes := s.fetchAll(runCtx, addresses)

	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return nil, err
	}

	// Merge in input order so the index and evidence order are deterministic.
	agg := NewAggregator(s.threshold)
	for i, addr := range addresses {
		res := &WalletResult{Address: addr, Status: FetchComplete}
		out := outcomes[i]
		if out.err != nil {
			res.Status = FetchIncomplete
			res.Err = out.err
		} else {
			res.TxCount = len(out.history.Transactions)
			res.Transactions = out.history.Transactions
			res.FailedTxs = FailedTransactions(out.history.Transactions)
			res.Malformed = out.history.Malformed
			agg.Add(addr, out.history.Transactions)
		}
		report.Wallets = append(report.Wallets, res)
	}

	for _, res := range report.Wallets {
		res.Counterparties = agg.Counterparties(res.Address)
		res.SybilEvidence = agg.Evidence(res.Address)
		s.metrics.RecordWallet(string(res.Status), res.TxCount, res.FailedCount(), res.Malformed)
	}
	report.SharedCounterparties = agg.SharedCounterparties()
	s.metrics.SetSuspects(len(report.Suspects()))

	report.FinishedAt = time.Now()
	s.logger.Debug("scan: %d wallets, %d incomplete, %d suspects, %d shared counterparties in %s",
		len(report.Wallets), len(report.Incomplete()), len(report.Suspects()),
		len(report.SharedCounterparties), report.Duration())

	return report, nil
}

// fetchAll fetches every address with bounded concurrency. Each worker writes
// only its own slot.
func (s *Service) fetchAll(ctx context.Context, addresses []string) []fetchOutcome {
	outcomes := make([]fetchOutcome, len(addresses))

	var (
		mu   sync.Mutex
		done int
	)
	notify := func(addr string, err error) {
		if s.progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		done++
		s.progress(done, len(addresses), addr, err)
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for i, addr := range addresses {
		if err := ctx.Err(); err != nil {
			outcomes[i].err = err
			notify(addr, err)
			continue
		}

		g.Go(func() error {
			history, err := s.fetcher.FetchHistory(ctx, addr)
			if err == nil && history == nil {
				history = &eth.History{Address: addr}
			}
			outcomes[i] = fetchOutcome{history: history, err: err}

			if err != nil {
				s.logger.Error("scan: %s: fetch failed: %v", addr, err)
			} else {
				s.logger.Debug("scan: %s: %d transactions, %d malformed", addr, len(history.Transactions), history.Malformed)
			}
			notify(addr, err)
			return nil
		})
	}

	_ = g.Wait()
	return outcomes
}

func dedupe(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
