package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rohianon/uou/cmd/uouctl/internal/auth"
	"github.com/Rohianon/uou/cmd/uouctl/internal/output"
	apiauth "github.com/Rohianon/uou/pkg/auth"
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Mint an API token for an organization",
	Long: `Mint an organization API token with the service's signing secret.

The secret is read from UOU_AUTH_JWT_SECRET or prompted for. Pass --save to
log in with the new token.`,
	Args: cobra.NoArgs,
	RunE: runIssue,
}

var (
	orgFlag     string
	subjectFlag string
	ttlFlag     time.Duration
	saveFlag    bool
)

func init() {
	authCmd.AddCommand(issueCmd)

	issueCmd.Flags().StringVar(&orgFlag, "org", "", "organization id")
	issueCmd.Flags().StringVar(&subjectFlag, "subject", "uouctl", "who the token is for")
	issueCmd.Flags().DurationVar(&ttlFlag, "ttl", 24*time.Hour, "token lifetime")
	issueCmd.Flags().BoolVar(&saveFlag, "save", false, "save the token as the CLI login")
	issueCmd.MarkFlagRequired("org")
}

func runIssue(cmd *cobra.Command, args []string) error {
	secret := os.Getenv("UOU_AUTH_JWT_SECRET")
	if secret == "" {
		secret = promptSecret("Signing secret")
	}
	if secret == "" {
		return fmt.Errorf("a signing secret is required")
	}

	token, err := apiauth.NewTokenManager(&apiauth.Config{Secret: secret, TTL: ttlFlag}).Issue(orgFlag, subjectFlag)
	if err != nil {
		return err
	}

	if saveFlag {
		if err := auth.Save(&auth.StoredAuth{
			Token:     token.Token,
			OrgID:     orgFlag,
			Subject:   subjectFlag,
			ExpiresAt: token.ExpiresAt,
		}); err != nil {
			return fmt.Errorf("could not save credentials: %w", err)
		}
	}

	if getFormat() == "json" {
		return output.JSON(token)
	}
	if saveFlag {
		output.Success("Token issued and saved")
		return nil
	}
	fmt.Println(token.Token)
	return nil
}
