package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Rohianon/uou/cmd/uouctl/internal/output"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Account commands",
	Long:  "Inspect the organization's connected calendar accounts.",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connected accounts",
	Args:  cobra.NoArgs,
	RunE:  runAccountsList,
}

var (
	pageFlag    int
	perPageFlag int
)

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsListCmd)

	accountsListCmd.Flags().IntVarP(&pageFlag, "page", "p", 1, "page number")
	accountsListCmd.Flags().IntVar(&perPageFlag, "per-page", 0, "accounts per page (default from config)")
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	c, err := authedClient()
	if err != nil {
		return err
	}

	perPage := perPageFlag
	if perPage <= 0 {
		perPage = viper.GetInt("per_page")
	}

	page, err := c.ListAccounts(pageFlag, perPage)
	if err != nil {
		return err
	}

	if getFormat() == "json" {
		return output.JSON(page)
	}

	if len(page.Items) == 0 {
		output.Info("No accounts connected")
		return nil
	}

	rows := make([][]string, 0, len(page.Items))
	for _, a := range page.Items {
		via := "-"
		if a.ServiceAccountID != nil {
			via = *a.ServiceAccountID
		}
		rows = append(rows, []string{
			a.ID,
			a.Email,
			a.AuthMethod,
			output.SyncState(a.SyncState),
			via,
			a.CreatedAt.Format(time.DateOnly),
		})
	}
	output.Table([]string{"ID", "Email", "Method", "Sync", "Service Account", "Created"}, rows)

	p := page.Pagination
	output.Info(fmt.Sprintf("Page %d of %d (%d accounts)", p.Page, max(p.TotalPages, 1), p.Total))
	return nil
}
