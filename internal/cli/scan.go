package cli

import (
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mrz1836/sybilscan/internal/chain"
	"github.com/mrz1836/sybilscan/internal/chain/eth"
	"github.com/mrz1836/sybilscan/internal/chain/eth/etherscan"
	"github.com/mrz1836/sybilscan/internal/config"
	"github.com/mrz1836/sybilscan/internal/metrics"
	"github.com/mrz1836/sybilscan/internal/output"
	"github.com/mrz1836/sybilscan/internal/report"
	"github.com/mrz1836/sybilscan/internal/service/scan"
	"github.com/mrz1836/sybilscan/internal/watchlist"
	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

// DefaultReportPath is the CSV written when --out is not given.
const DefaultReportPath = "report.csv"

// scanOptions holds the flags of the scan command.
type scanOptions struct {
	wallets     string
	out         string
	apiKey      string
	detailsDir  string
	metricsFile string
	pageSize    int
	retries     int
	concurrency int
	threshold   int
	startBlock  uint64
	endBlock    uint64
	timeout     time.Duration
	noColor     bool
}

// newScanCmd builds the scan command with its own flag set.
func newScanCmd() *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a wallet list for failed transactions and shared counterparties",
		Long: `Fetch the complete normal-transaction history of every wallet in the list,
count failed transactions and flag wallets that share counterparties with
other tracked wallets.

Wallets whose history cannot be fetched are reported as incomplete; the scan
still succeeds. A CSV report with one row per wallet is written to --out,
replacing any existing file.`,
		Example: `  sybilscan scan --wallets wallets.txt
  sybilscan scan --wallets wallets.txt --out report.csv --sybil-threshold 3
  sybilscan scan --wallets wallets.txt --concurrency 4 --timeout 10m --details-dir reports
  sybilscan scan --wallets wallets.txt -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.wallets, "wallets", "w", "", "file with one wallet address per line (required)")
	f.StringVar(&opts.out, "out", DefaultReportPath, "CSV report path")
	f.StringVar(&opts.apiKey, "api-key", "", "Etherscan API key (overrides config and environment)")
	f.IntVar(&opts.pageSize, "page-size", etherscan.DefaultPageSize, "transactions requested per page (max 10000)")
	f.IntVar(&opts.retries, "retries", 0, "attempts per request for transient failures")
	f.IntVar(&opts.concurrency, "concurrency", scan.DefaultConcurrency, "wallets fetched in parallel")
	f.IntVar(&opts.threshold, "sybil-threshold", scan.DefaultSybilThreshold, "tracked wallets a counterparty must touch to be shared (min 2)")
	f.Uint64Var(&opts.startBlock, "start-block", 0, "first block to include")
	f.Uint64Var(&opts.endBlock, "end-block", 0, "last block to include (default: latest)")
	f.DurationVar(&opts.timeout, "timeout", 0, "bound the whole run; unfinished wallets are reported incomplete (0 disables)")
	f.StringVar(&opts.detailsDir, "details-dir", "", "also write per-transaction and shared-counterparty CSVs to this directory")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write run metrics in Prometheus text format to this file")
	f.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	return cmd
}

// apply overrides config values with the flags that were set explicitly.
func (o *scanOptions) apply(flags *pflag.FlagSet, c *config.Config) {
	if flags.Changed("api-key") {
		c.Etherscan.APIKey = o.apiKey
	}
	if flags.Changed("page-size") {
		c.Scan.PageSize = o.pageSize
	}
	if flags.Changed("retries") {
		c.Scan.MaxRetries = o.retries
	}
	if flags.Changed("concurrency") {
		c.Scan.Concurrency = o.concurrency
	}
	if flags.Changed("sybil-threshold") {
		c.Scan.SybilThreshold = o.threshold
	}
	if flags.Changed("start-block") {
		c.Scan.StartBlock = o.startBlock
	}
	if flags.Changed("end-block") {
		c.Scan.EndBlock = o.endBlock
	}
}

// runTimeout returns the run timeout, preferring --timeout over the config.
func (o *scanOptions) runTimeout(flags *pflag.FlagSet, c *config.Config) (time.Duration, error) {
	if !flags.Changed("timeout") {
		return c.RunTimeout(), nil
	}
	if o.timeout < 0 {
		return 0, scanerr.WithDetails(scanerr.ErrInvalidInput, map[string]string{
			"flag":  "timeout",
			"value": o.timeout.String(),
		})
	}
	return o.timeout, nil
}

//nolint:gocognit,gocyclo // Command orchestration is sequential setup and output steps
func runScan(cmd *cobra.Command, opts *scanOptions) error {
	cc := GetCmdContext(cmd)
	if cc == nil {
		cc = NewCommandContext(config.Defaults(), config.NullLogger(), output.NewFormatter(output.FormatText, cmd.OutOrStdout()))
	}
	log := cc.Log
	if log == nil {
		log = config.NullLogger()
	}
	stderr := cmd.ErrOrStderr()
	textMode := !cc.Fmt.IsJSON()

	c := *cc.Cfg
	opts.apply(cmd.Flags(), &c)
	if err := c.Validate(); err != nil {
		return err
	}
	runTimeout, err := opts.runTimeout(cmd.Flags(), &c)
	if err != nil {
		return err
	}

	if opts.wallets == "" {
		return scanerr.WithSuggestion(
			scanerr.WithDetails(scanerr.ErrInvalidInput, map[string]string{"flag": "wallets"}),
			"pass the wallet list with --wallets <file>",
		)
	}
	list, err := watchlist.Load(opts.wallets)
	if err != nil {
		return err
	}
	reportListIssues(stderr, log, list, textMode)

	if c.Etherscan.APIKey == "" {
		return scanerr.WithSuggestion(scanerr.ErrAPIKeyRequired,
			"set "+config.EnvEtherscanAPIKey+", add etherscan.api_key to the config file or pass --api-key")
	}

	m := metrics.New()
	policy := c.BackoffPolicy()
	client, err := etherscan.NewClient(c.Etherscan.APIKey, &etherscan.ClientOptions{
		BaseURL:     c.Etherscan.BaseURL,
		ChainID:     c.Etherscan.ChainID,
		Timeout:     c.RequestTimeout(),
		PageSize:    c.Scan.PageSize,
		StartBlock:  c.Scan.StartBlock,
		EndBlock:    c.Scan.EndBlock,
		RateLimiter: chain.NewRateLimiter(c.Etherscan.RatePerSecond, c.Etherscan.Burst),
		Policy:      &policy,
		Logger:      log,
		Metrics:     m,
	})
	if err != nil {
		return err
	}

	var progress scan.ProgressFunc
	if textMode {
		progress = func(done, total int, address string, fetchErr error) {
			status := "done"
			if fetchErr != nil {
				status = report.MsgFetchFailed
			}
			output.Infof(stderr, "[%d/%d] %s %s", done, total, eth.ChecksumAddress(address), status)
		}
	}

	svc := scan.NewService(&scan.Config{
		Fetcher:        client,
		Concurrency:    c.Scan.Concurrency,
		SybilThreshold: c.Scan.SybilThreshold,
		RunTimeout:     runTimeout,
		Logger:         log,
		Metrics:        m,
		Progress:       progress,
	})

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("scanning %d wallets on chain %s (page size %d, concurrency %d, threshold %d)",
		list.Len(), c.Etherscan.ChainID, c.Scan.PageSize, c.Scan.Concurrency, c.Scan.SybilThreshold)

	r, err := svc.Run(ctx, list.Addresses)
	if err != nil {
		return scanerr.Wrap(err, "scan interrupted")
	}

	w := cc.Fmt.Writer()
	if textMode {
		palette := output.NewPalette(colorEnabled(c.Output.Color, opts.noColor))
		err = report.RenderText(w, r, report.ConsoleOptions{Palette: palette, Verbose: c.Output.Verbose})
	} else {
		err = report.RenderJSON(w, r)
	}
	if err != nil {
		return err
	}

	if err := report.WriteCSVFile(opts.out, r); err != nil {
		return err
	}
	log.Info("report written to %s", opts.out)
	if textMode {
		output.Successf(stderr, "Report written to %s", opts.out)
	}

	if opts.detailsDir != "" {
		paths, err := report.WriteDetails(opts.detailsDir, r)
		if err != nil {
			return err
		}
		for _, p := range paths {
			log.Info("detail report written to %s", p)
			if textMode {
				output.Successf(stderr, "Detail report written to %s", p)
			}
		}
	}

	if opts.metricsFile != "" {
		if err := m.WriteTextfile(opts.metricsFile); err != nil {
			return err
		}
	}

	snap := m.Snapshot()
	log.Info("scan finished in %s: %d API calls, %d errors, %d retries, avg latency %.1fms",
		r.Duration().Round(time.Millisecond), snap.APICallsTotal, snap.APIErrorsTotal, snap.RetriesTotal, m.APILatencyAvgMs())

	return nil
}

// reportListIssues surfaces skipped lines, duplicates and probable typos in the wallet list.
func reportListIssues(w io.Writer, log *config.Logger, list *watchlist.List, textMode bool) {
	for _, inv := range list.Invalid {
		log.Error("wallet list line %d skipped: %q is not an address", inv.Line, inv.Text)
		if textMode {
			output.Warnf(w, "line %d skipped: %q is not a valid address", inv.Line, inv.Text)
		}
	}
	if list.Duplicates > 0 {
		log.Info("%d duplicate addresses ignored", list.Duplicates)
		if textMode {
			output.Warnf(w, "%d duplicate address(es) ignored", list.Duplicates)
		}
	}
	for _, l := range list.Lookalikes {
		log.Info("lookalike addresses %s and %s (distance %d)", l.First, l.Second, l.Distance)
		if textMode {
			output.Warnf(w, "%s and %s differ by %d character(s); check for a typo",
				eth.ChecksumAddress(l.First), eth.ChecksumAddress(l.Second), l.Distance)
		}
	}
}

// colorEnabled resolves output.color (auto, always, never) and --no-color.
func colorEnabled(setting string, noColor bool) bool {
	switch setting {
	case "never":
		return false
	case "always":
		return !noColor
	default:
		return output.ColorEnabled(noColor)
	}
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	scanCmd := newScanCmd()
	scanCmd.GroupID = groupScan
	rootCmd.AddCommand(scanCmd)
}
