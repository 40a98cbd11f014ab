package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rohianon/uou/cmd/uouctl/internal/client"
	"github.com/Rohianon/uou/cmd/uouctl/internal/output"
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Compare calendars with the sync provider",
}

var diagnosticsRunCmd = &cobra.Command{
	Use:   "run CALENDAR_ID",
	Short: "Start a diagnostics run for a calendar",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiagnosticsRun,
}

var diagnosticsGetCmd = &cobra.Command{
	Use:   "get RUN_ID",
	Short: "Show a diagnostics report",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiagnosticsGet,
}

var (
	waitFlag     bool
	timeoutFlag  time.Duration
	pollInterval = 2 * time.Second
)

func init() {
	rootCmd.AddCommand(diagnosticsCmd)
	diagnosticsCmd.AddCommand(diagnosticsRunCmd)
	diagnosticsCmd.AddCommand(diagnosticsGetCmd)

	diagnosticsRunCmd.Flags().BoolVarP(&waitFlag, "wait", "w", false, "wait for the report")
	diagnosticsRunCmd.Flags().DurationVar(&timeoutFlag, "timeout", time.Minute, "how long --wait waits")
}

func runDiagnosticsRun(cmd *cobra.Command, args []string) error {
	c, err := authedClient()
	if err != nil {
		return err
	}

	run, err := c.RunDiagnostics(args[0])
	if err != nil {
		return err
	}

	if !waitFlag {
		if getFormat() == "json" {
			return output.JSON(run)
		}
		output.Success("Diagnostics scheduled")
		output.KeyValue([][]string{{"Run ID", run.RunID}})
		output.Info("Run 'uouctl diagnostics get " + run.RunID + "' for the report")
		return nil
	}

	output.Info("Waiting for diagnostics run " + run.RunID + "...")
	deadline := time.Now().Add(timeoutFlag)
	for {
		report, err := c.GetDiagnostics(run.RunID)
		if err == nil {
			return printReport(report)
		}
		if !client.IsNotFound(err) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no report after %s, try 'uouctl diagnostics get %s' later", timeoutFlag, run.RunID)
		}
		time.Sleep(pollInterval)
	}
}

func runDiagnosticsGet(cmd *cobra.Command, args []string) error {
	c, err := authedClient()
	if err != nil {
		return err
	}

	report, err := c.GetDiagnostics(args[0])
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("report %s is not ready or has expired", args[0])
		}
		return err
	}
	return printReport(report)
}

func printReport(r *client.DiagnosticsReport) error {
	if getFormat() == "json" {
		return output.JSON(r)
	}

	output.Header("Diagnostics " + r.RunID)
	fmt.Println()
	output.KeyValue([][]string{
		{"Calendar", r.CalendarID},
		{"Account", r.AccountID},
		{"Sync state", output.SyncState(r.SyncState)},
		{"On provider", output.YesNo(r.ProviderCalendarFound)},
		{"Provider events", strconv.Itoa(r.ProviderEvents)},
		{"Local events", strconv.Itoa(r.LocalEvents)},
		{"Checked", r.CheckedAt.Format(time.RFC3339)},
	})
	fmt.Println()

	if len(r.Problems) == 0 {
		output.Success("No problems found")
		return nil
	}
	for _, p := range r.Problems {
		output.Warning(p)
	}
	return nil
}
