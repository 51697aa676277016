package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/sybilscan/internal/config"
	"github.com/mrz1836/sybilscan/internal/output"
	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

// setupTestEnv points the global config at a temporary home.
func setupTestEnv(t *testing.T) string {
	t.Helper()
	restore := saveGlobals(t)
	t.Cleanup(restore)

	home := t.TempDir()
	cfg = config.Defaults()
	cfg.Home = home
	cfg.Etherscan.APIKey = "ABCDEFGH12345678"
	formatter = output.NewFormatter(output.FormatText, nil)

	origForce := configForce
	t.Cleanup(func() { configForce = origForce })
	configForce = false
	return home
}

// newConfigTestCmd creates a cobra.Command for config run* testing with output capture.
func newConfigTestCmd() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	return cmd, &buf
}

func TestGetConfigValue(t *testing.T) {
	t.Parallel()
	c := config.Defaults()
	c.Scan.SybilThreshold = 3

	tests := []struct {
		path string
		want string
	}{
		{"version", "1"},
		{"etherscan.chain_id", "1"},
		{"etherscan.base_url", "https://api.etherscan.io/v2"},
		{"scan.sybil_threshold", "3"},
		{"scan.concurrency", "1"},
		{"output.verbose", "false"},
		{"logging.level", "error"},
	}
	for _, tt := range tests {
		got, err := getConfigValue(c, tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}

	section, err := getConfigValue(c, "logging")
	require.NoError(t, err)
	assert.Contains(t, section, "level: error")
}

func TestGetConfigValue_UnknownPath(t *testing.T) {
	t.Parallel()
	for _, path := range []string{"nope", "scan.nope", "scan.page_size.deeper", ""} {
		_, err := getConfigValue(config.Defaults(), path)
		require.ErrorIs(t, err, scanerr.ErrInvalidInput, path)
	}
}

func TestSetConfigValue(t *testing.T) {
	t.Parallel()
	orig := config.Defaults()

	updated, err := setConfigValue(orig, "scan.sybil_threshold", "4")
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Scan.SybilThreshold)
	assert.Equal(t, 2, orig.Scan.SybilThreshold, "input is not modified")

	updated, err = setConfigValue(orig, "etherscan.chain_id", "8453")
	require.NoError(t, err)
	assert.Equal(t, "8453", updated.Etherscan.ChainID)

	updated, err = setConfigValue(orig, "output.verbose", "true")
	require.NoError(t, err)
	assert.True(t, updated.Output.Verbose)

	updated, err = setConfigValue(orig, "etherscan.api_key", "KEY123")
	require.NoError(t, err)
	assert.Equal(t, "KEY123", updated.Etherscan.APIKey)
}

func TestSetConfigValue_Errors(t *testing.T) {
	t.Parallel()
	_, err := setConfigValue(config.Defaults(), "scan.unknown", "1")
	require.ErrorIs(t, err, scanerr.ErrInvalidInput)

	_, err = setConfigValue(config.Defaults(), "scan", "1")
	require.ErrorIs(t, err, scanerr.ErrInvalidInput)

	_, err = setConfigValue(config.Defaults(), "scan.page_size", "many")
	require.ErrorIs(t, err, scanerr.ErrInvalidInput)
}

func TestRunConfigInit(t *testing.T) { //nolint:paralleltest // mutates globals
	home := setupTestEnv(t)

	cmd, buf := newConfigTestCmd()
	require.NoError(t, runConfigInit(cmd, nil))
	assert.Contains(t, buf.String(), "Configuration initialized")

	loaded, err := config.Load(config.Path(home))
	require.NoError(t, err)
	assert.Equal(t, home, loaded.Home)
	assert.Empty(t, loaded.Etherscan.APIKey, "init writes defaults, not the effective key")

	cmd, _ = newConfigTestCmd()
	err = runConfigInit(cmd, nil)
	require.ErrorIs(t, err, scanerr.ErrInvalidInput)

	configForce = true
	cmd, buf = newConfigTestCmd()
	require.NoError(t, runConfigInit(cmd, nil))
	assert.Contains(t, buf.String(), "Configuration initialized")
}

func TestRunConfigShow_TextMasksKey(t *testing.T) { //nolint:paralleltest // mutates globals
	setupTestEnv(t)

	cmd, buf := newConfigTestCmd()
	require.NoError(t, runConfigShow(cmd, nil))

	result := buf.String()
	assert.Contains(t, result, "sybil_threshold: 2")
	assert.Contains(t, result, "************5678")
	assert.NotContains(t, result, "ABCDEFGH12345678")
	assert.Equal(t, "ABCDEFGH12345678", cfg.Etherscan.APIKey, "global config is untouched")
}

func TestRunConfigShow_JSON(t *testing.T) { //nolint:paralleltest // mutates globals
	setupTestEnv(t)
	formatter = output.NewFormatter(output.FormatJSON, nil)

	cmd, buf := newConfigTestCmd()
	require.NoError(t, runConfigShow(cmd, nil))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	scanSection, ok := decoded["scan"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 2, scanSection["sybil_threshold"], 0)
	etherscanSection, ok := decoded["etherscan"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "************5678", etherscanSection["api_key"])
}

func TestRunConfigGet(t *testing.T) { //nolint:paralleltest // mutates globals
	home := setupTestEnv(t)

	cmd, buf := newConfigTestCmd()
	require.NoError(t, runConfigGet(cmd, []string{"home"}))
	assert.Equal(t, home+"\n", buf.String())

	cmd, _ = newConfigTestCmd()
	require.Error(t, runConfigGet(cmd, []string{"missing.key"}))
}

func TestRunConfigSet(t *testing.T) { //nolint:paralleltest // mutates globals
	home := setupTestEnv(t)

	cmd, buf := newConfigTestCmd()
	require.NoError(t, runConfigSet(cmd, []string{"scan.sybil_threshold", "3"}))
	assert.Contains(t, buf.String(), "Set scan.sybil_threshold = 3")

	loaded, err := config.Load(config.Path(home))
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Scan.SybilThreshold)

	info, err := os.Stat(config.Path(home))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRunConfigSet_RejectsInvalidValue(t *testing.T) { //nolint:paralleltest // mutates globals
	home := setupTestEnv(t)

	cmd, _ := newConfigTestCmd()
	err := runConfigSet(cmd, []string{"scan.sybil_threshold", "1"})
	require.ErrorIs(t, err, scanerr.ErrConfig)

	_, statErr := os.Stat(config.Path(home))
	assert.True(t, os.IsNotExist(statErr), "nothing is saved on validation failure")
}
