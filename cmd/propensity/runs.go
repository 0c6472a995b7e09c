package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent training runs from the run ledger",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, logger, configPath)
		if err != nil {
			return err
		}
		defer a.close()
		if a.ledger == nil {
			return errors.New("run ledger disabled: set DATABASE_URL")
		}
		runs, err := a.ledger.ListRuns(ctx, runsLimit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs")
	rootCmd.AddCommand(runsCmd)
}
