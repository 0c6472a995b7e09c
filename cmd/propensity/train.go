package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run the training pipeline once",
	Long:  "Ingests, validates, transforms, trains and evaluates a model, and publishes it when it beats the production model.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, logger, configPath)
		if err != nil {
			return err
		}
		defer a.close()

		orch, err := a.orchestrator()
		if err != nil {
			return err
		}
		res, runErr := orch.Run(ctx)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summarize(res, runErr)); err != nil {
			return err
		}
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(trainCmd)
}
