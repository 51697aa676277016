package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/sybilscan/internal/config"
	"github.com/mrz1836/sybilscan/internal/output"
	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

// configCmd is the parent command for configuration operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: groupConfig,
	Short:   "Manage configuration",
	Long:    `View and modify sybilscan configuration settings stored in ~/.sybilscan/config.yaml.`,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	Long: `Create a default configuration file in the sybilscan home directory.

An existing file is only replaced when --force is given.`,
	Example: `  sybilscan config init
  sybilscan config init --force`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the effective configuration after the config file, environment
variables and global flags are applied. The API key is masked.`,
	Example: `  sybilscan config show
  sybilscan config show -o json`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Get a configuration value",
	Long:  `Print one effective configuration value. The path uses dot notation matching the YAML keys.`,
	Example: `  sybilscan config get scan.sybil_threshold
  sybilscan config get etherscan.chain_id`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configSetCmd = &cobra.Command{
	Use:   "set <path> <value>",
	Short: "Set a configuration value",
	Long: `Update one value in the configuration file. The path uses dot notation
matching the YAML keys. The resulting configuration is validated before it is saved.`,
	Example: `  sybilscan config set scan.sybil_threshold 3
  sybilscan config set etherscan.chain_id 8453
  sybilscan config set logging.level debug`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var configForce bool

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite existing configuration")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	configPath := config.Path(cfg.Home)

	if _, err := os.Stat(configPath); err == nil && !configForce {
		return scanerr.WithSuggestion(
			scanerr.WithDetails(scanerr.ErrInvalidInput, map[string]string{"path": configPath}),
			"configuration already exists; use --force to overwrite",
		)
	}

	defaults := config.Defaults()
	defaults.Home = cfg.Home
	if err := config.Save(defaults, configPath); err != nil {
		return scanerr.Wrap(err, "writing config file")
	}

	w := cmd.OutOrStdout()
	out(w, "Configuration initialized at %s\n", configPath)
	outln(w)
	outln(w, "Edit this file to configure:")
	outln(w, "  - etherscan.api_key: your Etherscan API key (or set "+config.EnvEtherscanAPIKey+")")
	outln(w, "  - etherscan.chain_id: chain to scan (1 for Ethereum mainnet)")
	outln(w, "  - scan.sybil_threshold: tracked wallets a counterparty must touch")
	outln(w, "  - logging.level: log level (off/error/info/debug)")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	masked := *cfg
	masked.Etherscan.APIKey = cfg.MaskedAPIKey()

	w := cmd.OutOrStdout()
	if formatter != nil && formatter.IsJSON() {
		tree, err := configTree(&masked)
		if err != nil {
			return err
		}
		return output.WriteJSON(w, tree)
	}

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return err
	}
	out(w, "# %s\n", config.Path(cfg.Home))
	_, err = w.Write(data)
	return err
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	value, err := getConfigValue(cfg, args[0])
	if err != nil {
		return err
	}
	outln(cmd.OutOrStdout(), value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	path, value := args[0], args[1]
	configPath := config.Path(cfg.Home)

	current, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}

	updated, err := setConfigValue(current, path, value)
	if err != nil {
		return err
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	if err := config.Save(updated, configPath); err != nil {
		return scanerr.Wrap(err, "saving config")
	}

	out(cmd.OutOrStdout(), "Set %s = %s\n", path, value)
	return nil
}

// configTree converts the config into nested maps keyed by YAML names.
func configTree(c *config.Config) (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// configNode encodes c as a YAML mapping node.
func configNode(c *config.Config) (*yaml.Node, error) {
	var root yaml.Node
	if err := root.Encode(c); err != nil {
		return nil, err
	}
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		return root.Content[0], nil
	}
	return &root, nil
}

// lookupNode walks a dot-separated path through mapping nodes.
func lookupNode(root *yaml.Node, path string) (*yaml.Node, error) {
	unknown := scanerr.WithSuggestion(
		scanerr.WithDetails(scanerr.ErrInvalidInput, map[string]string{"key": path}),
		"run 'sybilscan config show' to list the available keys",
	)

	node := root
	for _, part := range strings.Split(path, ".") {
		if node.Kind != yaml.MappingNode {
			return nil, unknown
		}
		var next *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == part {
				next = node.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil, unknown
		}
		node = next
	}
	return node, nil
}

// getConfigValue returns the value at path. Sections are rendered as YAML.
func getConfigValue(c *config.Config, path string) (string, error) {
	root, err := configNode(c)
	if err != nil {
		return "", err
	}
	node, err := lookupNode(root, path)
	if err != nil {
		return "", err
	}
	if node.Kind == yaml.ScalarNode {
		return node.Value, nil
	}
	data, err := yaml.Marshal(node)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// setConfigValue returns a copy of c with the scalar at path replaced by value.
func setConfigValue(c *config.Config, path, value string) (*config.Config, error) {
	root, err := configNode(c)
	if err != nil {
		return nil, err
	}
	node, err := lookupNode(root, path)
	if err != nil {
		return nil, err
	}
	if node.Kind != yaml.ScalarNode {
		return nil, scanerr.WithDetails(scanerr.ErrInvalidInput, map[string]string{
			"key":    path,
			"reason": "is a section, set one of its keys instead",
		})
	}

	node.Value = value
	node.Tag = ""
	node.Style = 0

	updated := config.Defaults()
	if err := root.Decode(updated); err != nil {
		return nil, scanerr.WithDetails(scanerr.ErrInvalidInput, map[string]string{
			"key":    path,
			"value":  value,
			"reason": fmt.Sprintf("wrong type: %v", err),
		})
	}
	return updated, nil
}
