package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Rohianon/uou/cmd/uouctl/internal/output"
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Trigger periodic maintenance tasks",
	Long:  "Schedule the periodic maintenance tasks now instead of waiting for the scheduler.",
}

var advanceActivePeriodCmd = &cobra.Command{
	Use:   "advance-active-period",
	Short: "Move every account's active period forward",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := authedClient()
		if err != nil {
			return err
		}
		if err := c.AdvanceActivePeriod(); err != nil {
			return err
		}
		output.Success("Scheduled advance-active-period")
		return nil
	},
}

var refreshExpiredTokensCmd = &cobra.Command{
	Use:   "refresh-expired-tokens",
	Short: "Refresh service account tokens that are about to expire",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := authedClient()
		if err != nil {
			return err
		}
		if err := c.RefreshExpiredTokens(); err != nil {
			return err
		}
		output.Success("Scheduled refresh-expired-tokens")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(maintenanceCmd)
	maintenanceCmd.AddCommand(advanceActivePeriodCmd)
	maintenanceCmd.AddCommand(refreshExpiredTokensCmd)
}
