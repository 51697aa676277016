// Package cli implements the sybilscan command-line interface.
//
// This package uses global variables to manage CLI state, which is the standard
// pattern for Cobra-based CLI applications. The globals are initialized in
// PersistentPreRunE and cleaned up in PersistentPostRun.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level state
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mrz1836/sybilscan/internal/config"
	"github.com/mrz1836/sybilscan/internal/output"
	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

// dotEnvFile is loaded from the working directory before the environment is read.
const dotEnvFile = ".env"

// Command group IDs for the root help output.
const (
	groupScan   = "scan"
	groupConfig = "config"
)

// BuildInfo carries version metadata injected at build time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

var (
	// Global flags
	homeDir      string
	outputFormat string
	verbose      bool

	// Global state initialized in PersistentPreRunE
	cfg       *config.Config
	logger    *config.Logger
	formatter *output.Formatter
	cmdCtx    *CommandContext

	buildInfo BuildInfo
	helpOnce  sync.Once
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sybilscan",
	Short: "Flag failed transactions and sybil-like wallets",
	Long: `sybilscan fetches the transaction history of a list of Ethereum wallets
from Etherscan, flags wallets with failed transactions and cross-references
counterparties to find wallets that share them (a heuristic for coordinated
or sybil behavior).

Results are printed as a table and written to a CSV report.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := initGlobals(cmd.ErrOrStderr()); err != nil {
			return err
		}
		SetCmdContext(cmd, cmdCtx)
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		cleanup()
	},
}

// Execute runs the root command.
func Execute(info BuildInfo) error {
	buildInfo = info
	rootCmd.Version = formatVersion(info)
	helpOnce.Do(func() { walkCommands(rootCmd, enrichParentLong) })

	err := rootCmd.Execute()
	if err != nil {
		formatErr(os.Stderr, err)
		return err
	}
	return nil
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	return scanerr.ExitCode(err)
}

// formatVersion renders build metadata, filling unknown fields.
func formatVersion(info BuildInfo) string {
	v, commit, date := info.Version, info.Commit, info.Date
	if v == "" {
		v = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	if date == "" {
		date = "unknown"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", v, commit, date)
}

// formatErr prints an error in the active output format.
func formatErr(w io.Writer, err error) {
	format := output.FormatText
	if formatter != nil {
		format = formatter.Format()
	}
	_ = output.FormatError(w, err, format)
}

// initGlobals initializes global configuration, logger, and formatter.
// Precedence is defaults < config file < environment < flags.
func initGlobals(stderr io.Writer) error {
	if err := config.LoadDotEnv(dotEnvFile); err != nil {
		return err
	}

	home := homeDir
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		home = config.DefaultHome()
	}

	loaded, err := config.Load(config.Path(home))
	switch {
	case errors.Is(err, scanerr.ErrConfigNotFound):
		loaded = config.Defaults()
		loaded.Home = home
	case err != nil:
		return scanerr.WithSuggestion(err, "fix the file or recreate it with 'sybilscan config init --force'")
	}
	cfg = loaded

	if err := config.ApplyEnvironment(cfg); err != nil {
		return err
	}

	if homeDir != "" {
		cfg.Home = homeDir
	}
	if verbose {
		cfg.Output.Verbose = true
		cfg.Logging.Level = config.LogLevelDebug.String()
	}
	if outputFormat != "" && outputFormat != string(output.FormatAuto) {
		cfg.Output.DefaultFormat = outputFormat
	}

	logger, err = config.NewLogger(config.ParseLogLevel(cfg.Logging.Level), cfg.LogFile())
	if err != nil {
		// The scan still runs without a log file.
		logger = config.NullLogger()
		if verbose {
			logger.SetLevel(config.LogLevelDebug)
		}
	}
	if verbose {
		logger.SetMirror(stderr)
	}

	explicit := output.ParseFormat(cfg.Output.DefaultFormat)
	formatter = output.NewFormatter(output.DetectFormat(os.Stdout, explicit), os.Stdout)

	cmdCtx = NewCommandContext(cfg, logger, formatter)
	return nil
}

// cleanup releases resources.
func cleanup() {
	if logger != nil {
		_ = logger.Close()
	}
}

// Config returns the global configuration.
func Config() *config.Config {
	return cfg
}

// Logger returns the global logger.
func Logger() *config.Logger {
	return logger
}

// Context returns the global command context.
func Context() *CommandContext {
	return cmdCtx
}

// Formatter returns the global output formatter.
func Formatter() *output.Formatter {
	return formatter
}

// out is a helper for CLI output that ignores write errors (standard pattern for CLI tools).
//
//nolint:errcheck // CLI output writes to stdout are intentionally unchecked
func out(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}

// outln is a helper for CLI output with newline.
//
//nolint:errcheck // CLI output writes to stdout are intentionally unchecked
func outln(w io.Writer, args ...any) {
	fmt.Fprintln(w, args...)
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for flag registration
func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupScan, Title: "Scanning:"},
		&cobra.Group{ID: groupConfig, Title: "Configuration:"},
	)
	rootCmd.SetCompletionCommandGroupID(groupConfig)
	rootCmd.SetHelpCommandGroupID(groupConfig)

	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "sybilscan data directory (default: ~/.sybilscan)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "auto", "output format: text, json, auto")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging to stderr")
}
