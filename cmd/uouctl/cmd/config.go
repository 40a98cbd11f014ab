package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Rohianon/uou/cmd/uouctl/internal/output"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
	Long:  "View and modify CLI configuration.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Available keys:
  api_url   - calendar service URL (default: http://localhost:8080)
  format    - default output format: table, json (default: table)
  per_page  - accounts per page for 'accounts list' (default: 50)`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

var configKeys = []string{"api_url", "format", "per_page"}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	settings := make(map[string]any, len(configKeys))
	pairs := make([][]string, 0, len(configKeys))
	for _, k := range configKeys {
		settings[k] = viper.Get(k)
		pairs = append(pairs, []string{k, viper.GetString(k)})
	}

	if getFormat() == "json" {
		return output.JSON(settings)
	}

	output.Header("Configuration")
	fmt.Println()
	output.KeyValue(pairs)

	if viper.ConfigFileUsed() != "" {
		fmt.Println()
		output.Info("Config file: " + viper.ConfigFileUsed())
	}
	return nil
}

// validateSetting checks a value before it is written to the config file.
func validateSetting(key, value string) error {
	switch key {
	case "api_url":
		if value == "" {
			return fmt.Errorf("api_url must not be empty")
		}
	case "format":
		if value != "table" && value != "json" {
			return fmt.Errorf("format must be 'table' or 'json'")
		}
	case "per_page":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > 200 {
			return fmt.Errorf("per_page must be a number between 1 and 200")
		}
	default:
		return fmt.Errorf("unknown config key %q, valid keys: api_url, format, per_page", key)
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	if err := validateSetting(key, value); err != nil {
		return err
	}

	viper.Set(key, value)

	dir, err := configDir()
	if err != nil {
		return fmt.Errorf("could not find home directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(filepath.Join(dir, "config.yaml")); err != nil {
		return fmt.Errorf("could not save config: %w", err)
	}

	output.Success(fmt.Sprintf("Set %s = %s", key, value))
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	dir, err := configDir()
	if err != nil {
		return fmt.Errorf("could not find home directory: %w", err)
	}
	configFile := filepath.Join(dir, "config.yaml")

	if getFormat() == "json" {
		return output.JSON(map[string]string{
			"config_file": configFile,
			"config_dir":  dir,
		})
	}

	fmt.Println(configFile)
	return nil
}
