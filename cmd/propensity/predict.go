package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/animus-labs/propensity/internal/prediction"
)

var recordPath string

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict the response for one vehicle record",
	Long:  "Reads a JSON vehicle record from a file (or stdin with '-') and prints the prediction of the published model.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rec, err := readRecord(recordPath)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, logger, configPath)
		if err != nil {
			return err
		}
		defer a.close()

		svc, err := a.predictionService()
		if err != nil {
			return err
		}
		label, err := svc.Predict(ctx, rec)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(predictResponse{Prediction: label, ModelKey: svc.ModelKey()})
	},
}

func readRecord(path string) (prediction.Record, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return prediction.Record{}, fmt.Errorf("open record: %w", err)
		}
		defer f.Close()
		r = f
	}
	var rec prediction.Record
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return prediction.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func init() {
	predictCmd.Flags().StringVarP(&recordPath, "record", "r", "", "Path to a JSON vehicle record, or '-' for stdin")
	if err := predictCmd.MarkFlagRequired("record"); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(predictCmd)
}
