package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/sybilscan/internal/config"
	"github.com/mrz1836/sybilscan/internal/output"
	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

// errTestRandom is used for testing non-scan error handling.
var errTestRandom = scanerr.New("TEST_ERROR", "some random error")

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		name string
		info BuildInfo
		want string
	}{
		{"all fields populated", BuildInfo{Version: "v1.2.3", Commit: "abc1234", Date: "2024-01-15"}, "v1.2.3 (commit: abc1234, built: 2024-01-15)"},
		{"all fields empty", BuildInfo{}, "dev (commit: unknown, built: unknown)"},
		{"only version empty", BuildInfo{Commit: "def5678", Date: "2024-02-20"}, "dev (commit: def5678, built: 2024-02-20)"},
		{"only commit empty", BuildInfo{Version: "v2.0.0", Date: "2024-03-25"}, "v2.0.0 (commit: unknown, built: 2024-03-25)"},
		{"only date empty", BuildInfo{Version: "v3.0.0", Commit: "ghi9012"}, "v3.0.0 (commit: ghi9012, built: unknown)"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, formatVersion(tc.info))
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error returns success", nil, scanerr.ExitSuccess},
		{"general error", scanerr.ErrGeneral, scanerr.ExitGeneral},
		{"invalid input", scanerr.ErrInvalidInput, scanerr.ExitInput},
		{"missing api key", scanerr.ErrAPIKeyRequired, scanerr.ExitAuth},
		{"missing wallet list", scanerr.ErrWatchlistNotFound, scanerr.ExitNotFound},
		{"config not found", scanerr.ErrConfigNotFound, scanerr.ExitNotFound},
		{"non-scan error returns general", errTestRandom, scanerr.ExitGeneral},
		{"wrapped error preserves exit code", scanerr.Wrap(scanerr.ErrAPIKeyRequired, "setup"), scanerr.ExitAuth},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}

// saveGlobals saves all package-level globals and returns a restore function.
func saveGlobals(t *testing.T) func() {
	t.Helper()
	origCfg := cfg
	origLogger := logger
	origFormatter := formatter
	origCmdCtx := cmdCtx
	origHomeDir := homeDir
	origOutputFormat := outputFormat
	origVerbose := verbose
	origBuild := buildInfo
	return func() {
		cfg = origCfg
		logger = origLogger
		formatter = origFormatter
		cmdCtx = origCmdCtx
		homeDir = origHomeDir
		outputFormat = origOutputFormat
		verbose = origVerbose
		buildInfo = origBuild
	}
}

// isolateEnv clears the variables initGlobals reads.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		config.EnvHome, config.EnvAPIKey, config.EnvEtherscanAPIKey, config.EnvEtherscanURL,
		config.EnvChainID, config.EnvOutputFormat, config.EnvVerbose, config.EnvLogLevel,
		config.EnvConcurrency,
	} {
		t.Setenv(name, "")
	}
}

// TestGlobalGetters is not parallel: it mutates package-level globals.
func TestGlobalGetters(t *testing.T) {
	defer saveGlobals(t)()

	testCfg := config.Defaults()
	testLogger := config.NullLogger()
	testFmt := output.NewFormatter(output.FormatText, nil)
	testCtx := &CommandContext{Cfg: testCfg}

	cfg = testCfg
	logger = testLogger
	formatter = testFmt
	cmdCtx = testCtx

	assert.Equal(t, testCfg, Config())
	assert.Equal(t, testLogger, Logger())
	assert.Equal(t, testFmt, Formatter())
	assert.Equal(t, testCtx, Context())
}

func TestCleanup(t *testing.T) {
	defer saveGlobals(t)()

	logger = nil
	assert.NotPanics(t, func() { cleanup() })

	logger = config.NullLogger()
	assert.NotPanics(t, func() { cleanup() })
}

func TestFormatErr(t *testing.T) {
	defer saveGlobals(t)()

	var buf bytes.Buffer
	formatter = nil
	formatErr(&buf, scanerr.WithSuggestion(scanerr.ErrAPIKeyRequired, "pass --api-key"))
	assert.Contains(t, buf.String(), "Error: ")
	assert.Contains(t, buf.String(), "Suggestion: pass --api-key")

	buf.Reset()
	formatter = output.NewFormatter(output.FormatJSON, nil)
	formatErr(&buf, scanerr.ErrInvalidInput)
	assert.Contains(t, buf.String(), `"code": "INVALID_INPUT"`)
}

func TestInitGlobals_DefaultConfig(t *testing.T) { //nolint:paralleltest // mutates globals and env
	defer saveGlobals(t)()
	isolateEnv(t)

	home := t.TempDir()
	homeDir = home
	outputFormat = "auto"
	verbose = false

	require.NoError(t, initGlobals(&bytes.Buffer{}))
	defer cleanup()

	require.NotNil(t, cfg)
	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, 2, cfg.Scan.SybilThreshold)
	require.NotNil(t, cmdCtx)
	assert.Equal(t, cfg, cmdCtx.Cfg)
	assert.NotEqual(t, output.FormatAuto, formatter.Format())
}

func TestInitGlobals_VerboseMirrorsToStderr(t *testing.T) { //nolint:paralleltest // mutates globals and env
	defer saveGlobals(t)()
	isolateEnv(t)

	homeDir = t.TempDir()
	outputFormat = "auto"
	verbose = true

	var stderr bytes.Buffer
	require.NoError(t, initGlobals(&stderr))
	defer cleanup()

	assert.True(t, cfg.Output.Verbose)
	assert.Equal(t, config.LogLevelDebug, logger.Level())
	logger.Debug("probe %d", 7)
	assert.Contains(t, stderr.String(), "[DEBUG] probe 7")

	_, err := os.Stat(filepath.Join(homeDir, "sybilscan.log"))
	require.NoError(t, err)
}

func TestInitGlobals_OutputFormatFlag(t *testing.T) { //nolint:paralleltest // mutates globals and env
	defer saveGlobals(t)()
	isolateEnv(t)

	homeDir = t.TempDir()
	outputFormat = "json"
	verbose = false

	require.NoError(t, initGlobals(&bytes.Buffer{}))
	defer cleanup()
	assert.Equal(t, output.FormatJSON, formatter.Format())
}

func TestInitGlobals_PrecedenceFileEnv(t *testing.T) { //nolint:paralleltest // mutates globals and env
	defer saveGlobals(t)()
	isolateEnv(t)

	home := t.TempDir()
	fileCfg := config.Defaults()
	fileCfg.Etherscan.ChainID = "10"
	fileCfg.Scan.SybilThreshold = 5
	fileCfg.Logging.Level = "off"
	require.NoError(t, config.Save(fileCfg, config.Path(home)))

	t.Setenv(config.EnvChainID, "8453")
	homeDir = home
	outputFormat = "auto"
	verbose = false

	require.NoError(t, initGlobals(&bytes.Buffer{}))
	defer cleanup()

	assert.Equal(t, 5, cfg.Scan.SybilThreshold, "file overrides defaults")
	assert.Equal(t, "8453", cfg.Etherscan.ChainID, "environment overrides file")
}

func TestInitGlobals_InvalidConfigFile(t *testing.T) { //nolint:paralleltest // mutates globals and env
	defer saveGlobals(t)()
	isolateEnv(t)

	home := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(home), []byte("scan: [oops"), 0o600))
	homeDir = home

	err := initGlobals(&bytes.Buffer{})
	require.ErrorIs(t, err, scanerr.ErrConfigInvalid)
	assert.Equal(t, scanerr.ExitInput, ExitCode(err))
}

func TestInitGlobals_EnvHome(t *testing.T) { //nolint:paralleltest // mutates globals and env
	defer saveGlobals(t)()
	isolateEnv(t)

	home := t.TempDir()
	t.Setenv(config.EnvHome, home)
	homeDir = ""
	outputFormat = "auto"
	verbose = false

	require.NoError(t, initGlobals(&bytes.Buffer{}))
	defer cleanup()
	assert.Equal(t, home, cfg.Home)
}
