package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Rohianon/uou/cmd/uouctl/internal/auth"
	"github.com/Rohianon/uou/cmd/uouctl/internal/output"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
	Long:  "Manage the CLI's API token and connect calendar accounts.",
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save an API token",
	Long:  "Save an organization API token. The token is read from --token or prompted for.",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved API token",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var codeCmd = &cobra.Command{
	Use:   "code",
	Short: "Create an auth code",
	Long:  "Create a single-use auth code that starts one account connection.",
	Args:  cobra.NoArgs,
	RunE:  runCode,
}

var connectCmd = &cobra.Command{
	Use:   "connect METHOD",
	Short: "Print the URL that connects an account through OAuth",
	Long: `Create an auth code and print the URL a browser opens to connect an
account with an OAuth method such as GOOGLE_OAUTH or MS_OAUTH.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var submitCmd = &cobra.Command{
	Use:   "submit METHOD",
	Short: "Connect an account with directly submitted credentials",
	Long: `Connect an account with a direct-submission method.

Examples:
  uouctl auth submit EWS --data email=ops@contoso.com
  uouctl auth submit GOOGLE_SA --key-file key.json`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var subaccountCmd = &cobra.Command{
	Use:   "subaccount SERVICE_ACCOUNT_ID",
	Short: "Connect an account through a service account",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubaccount,
}

var (
	tokenFlag       string
	redirectURIFlag string
	authCodeFlag    string
	dataFlag        map[string]string
	keyFileFlag     string
	emailFlag       string
	nameFlag        string
)

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(statusCmd)
	authCmd.AddCommand(codeCmd)
	authCmd.AddCommand(connectCmd)
	authCmd.AddCommand(submitCmd)
	authCmd.AddCommand(subaccountCmd)

	loginCmd.Flags().StringVarP(&tokenFlag, "token", "t", "", "API token")

	codeCmd.Flags().StringVar(&redirectURIFlag, "redirect-uri", "", "where the browser lands after an OAuth flow")
	connectCmd.Flags().StringVar(&redirectURIFlag, "redirect-uri", "", "where the browser lands after an OAuth flow")

	submitCmd.Flags().StringVar(&authCodeFlag, "code", "", "auth code (created when empty)")
	submitCmd.Flags().StringToStringVarP(&dataFlag, "data", "d", nil, "credential field as key=value (repeatable)")
	submitCmd.Flags().StringVar(&keyFileFlag, "key-file", "", "Google service account key file")

	subaccountCmd.Flags().StringVarP(&emailFlag, "email", "e", "", "mailbox to connect")
	subaccountCmd.Flags().StringVarP(&nameFlag, "name", "n", "", "display name")
	subaccountCmd.MarkFlagRequired("email")
}

func runLogin(cmd *cobra.Command, args []string) error {
	token := strings.TrimSpace(tokenFlag)
	if token == "" {
		token = promptSecret("API token")
	}

	stored, err := auth.FromToken(token)
	if err != nil {
		return err
	}
	if stored.Expired(time.Now()) {
		return fmt.Errorf("token expired at %s", stored.ExpiresAt.Format(time.RFC3339))
	}

	if err := auth.Save(stored); err != nil {
		return fmt.Errorf("could not save credentials: %w", err)
	}

	output.Success("Logged in")
	fmt.Println()
	output.KeyValue(statusPairs(stored))
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := auth.Clear(); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	output.Success("Logged out")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	stored, err := auth.Load()
	if err != nil {
		return fmt.Errorf("failed to read auth: %w", err)
	}

	if stored == nil || stored.Token == "" {
		if getFormat() == "json" {
			return output.JSON(map[string]any{"logged_in": false})
		}
		output.Info("Not logged in")
		output.Info("Run 'uouctl auth login' to login")
		return nil
	}

	expired := stored.Expired(time.Now())
	if getFormat() == "json" {
		return output.JSON(map[string]any{
			"logged_in":  !expired,
			"org_id":     stored.OrgID,
			"subject":    stored.Subject,
			"expires_at": stored.ExpiresAt,
			"expired":    expired,
		})
	}

	if expired {
		output.Warning("Token expired")
		output.Info("Run 'uouctl auth login' with a new token")
		return nil
	}

	output.Success("Logged in")
	fmt.Println()
	output.KeyValue(statusPairs(stored))
	return nil
}

func statusPairs(stored *auth.StoredAuth) [][]string {
	expires := "never"
	if !stored.ExpiresAt.IsZero() {
		expires = stored.ExpiresAt.Format(time.RFC3339)
	}
	return [][]string{
		{"Org", stored.OrgID},
		{"Subject", stored.Subject},
		{"Expires", expires},
	}
}

func runCode(cmd *cobra.Command, args []string) error {
	c, err := authedClient()
	if err != nil {
		return err
	}

	resp, err := c.CreateAuthCode(redirectURIFlag)
	if err != nil {
		return err
	}

	if getFormat() == "json" {
		return output.JSON(resp)
	}
	output.KeyValue([][]string{
		{"Code", resp.Code},
		{"Expires", resp.ExpiresAt.Format(time.RFC3339)},
	})
	return nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	c, err := authedClient()
	if err != nil {
		return err
	}

	resp, err := c.CreateAuthCode(redirectURIFlag)
	if err != nil {
		return err
	}
	link := c.ConnectURL(args[0], resp.Code)

	if getFormat() == "json" {
		return output.JSON(map[string]any{"code": resp.Code, "url": link, "expires_at": resp.ExpiresAt})
	}
	output.Info("Open this URL in a browser before " + resp.ExpiresAt.Format(time.Kitchen) + ":")
	fmt.Println(link)
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	c, err := authedClient()
	if err != nil {
		return err
	}

	method := strings.ToUpper(args[0])
	data, err := submissionData(method)
	if err != nil {
		return err
	}

	code := authCodeFlag
	if code == "" {
		resp, err := c.CreateAuthCode("")
		if err != nil {
			return err
		}
		code = resp.Code
	}

	result, err := c.Submit(method, code, data)
	if err != nil {
		return err
	}

	if getFormat() == "json" {
		return output.JSON(result)
	}
	output.Success("Connected")
	output.KeyValue([][]string{
		{"Type", result.IDType},
		{"ID", result.ID},
	})
	return nil
}

// submissionData collects the credential fields for a direct submission.
// Secrets that were not passed as flags are prompted for.
func submissionData(method string) (map[string]string, error) {
	data := make(map[string]string, len(dataFlag)+2)
	for k, v := range dataFlag {
		data[k] = v
	}

	if keyFileFlag != "" {
		key, err := os.ReadFile(keyFileFlag)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		data["service_account_key"] = string(key)
	}

	if method == "EWS" {
		if data["email"] == "" {
			data["email"] = prompt("Email")
		}
		if data["password"] == "" {
			data["password"] = promptSecret("Password")
		}
	}
	return data, nil
}

func runSubaccount(cmd *cobra.Command, args []string) error {
	c, err := authedClient()
	if err != nil {
		return err
	}

	resp, err := c.AuthSubaccount(args[0], emailFlag, nameFlag)
	if err != nil {
		return err
	}

	if getFormat() == "json" {
		return output.JSON(resp)
	}
	output.Success("Sub-account connected")
	output.KeyValue([][]string{{"Account ID", resp.AccountID}})
	return nil
}

func prompt(label string) string {
	fmt.Printf("%s: ", label)
	reader := bufio.NewReader(os.Stdin)
	text, _ := reader.ReadString('\n')
	return strings.TrimSpace(text)
}

func promptSecret(label string) string {
	fmt.Printf("%s: ", label)
	bytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(bytes))
}
