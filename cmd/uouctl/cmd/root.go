package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Rohianon/uou/cmd/uouctl/internal/auth"
	"github.com/Rohianon/uou/cmd/uouctl/internal/client"
)

var (
	cfgFile string
	format  string

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
)

var errNotLoggedIn = errors.New("not logged in, run 'uouctl auth login' first")

var rootCmd = &cobra.Command{
	Use:   "uouctl",
	Short: "uouctl - operate the uou calendar service",
	Long: titleStyle.Render("uouctl - uou calendar service CLI") + `

Connect calendar accounts, inspect sync state and trigger maintenance
from your terminal.

Get started:
  uouctl auth login          Save an API token
  uouctl methods             List supported auth methods
  uouctl auth connect        Connect an account through OAuth
  uouctl accounts list       List connected accounts
  uouctl --help              Show all commands`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.uou/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", "table", "output format: table, json")

	viper.BindPFlag("format", rootCmd.PersistentFlags().Lookup("format"))
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".uou"), nil
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDir()
		if err != nil {
			printError(err)
			os.Exit(1)
		}

		if err := os.MkdirAll(dir, 0700); err != nil {
			printError(fmt.Errorf("creating config dir: %w", err))
		}

		viper.AddConfigPath(dir)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetDefault("api_url", "http://localhost:8080")
	viper.SetDefault("format", "table")
	viper.SetDefault("per_page", 50)

	viper.SetEnvPrefix("UOUCTL")
	viper.AutomaticEnv()

	// A missing config file is fine; defaults apply.
	_ = viper.ReadInConfig()
}

func getFormat() string {
	if format != "" && format != "table" {
		return format
	}
	return viper.GetString("format")
}

// authedClient returns an API client carrying the saved token.
func authedClient() (*client.Client, error) {
	token := auth.GetToken()
	if token == "" {
		return nil, errNotLoggedIn
	}
	c := client.New()
	c.SetToken(token)
	return c, nil
}

func printError(err error) {
	fmt.Fprintln(os.Stderr, lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗ ")+err.Error())
}
