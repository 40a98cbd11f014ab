package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Rohianon/uou/cmd/uouctl/internal/output"
)

var methodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "List supported auth methods",
	Long:  "List every auth method the service accepts and the flow each one uses.",
	Args:  cobra.NoArgs,
	RunE:  runMethods,
}

func init() {
	rootCmd.AddCommand(methodsCmd)
}

func runMethods(cmd *cobra.Command, args []string) error {
	c, err := authedClient()
	if err != nil {
		return err
	}

	methods, err := c.ListMethods()
	if err != nil {
		return err
	}

	if getFormat() == "json" {
		return output.JSON(methods)
	}

	rows := make([][]string, 0, len(methods))
	for _, m := range methods {
		rows = append(rows, []string{m.Method, m.Provider, m.DataType, m.Flow, output.YesNo(m.ServiceAccount)})
	}
	output.Table([]string{"Method", "Provider", "Data", "Flow", "Service Account"}, rows)
	return nil
}
