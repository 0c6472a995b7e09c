package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/animus-labs/propensity/internal/dataset"
	"github.com/animus-labs/propensity/internal/platform/objectstore"
	"github.com/animus-labs/propensity/internal/stages"
)

var (
	genRows   int
	genSeed   uint64
	genSignal float64
	genOut    string
	genUpload string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a synthetic vehicle insurance dataset",
	Long:  "Writes a synthetic dataset with the vehicle insurance columns to a local CSV and optionally uploads it to the datasets bucket.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if genRows <= 0 {
			return fmt.Errorf("rows must be positive")
		}
		frame := dataset.SyntheticVehicles(genRows, genSeed, genSignal)
		if err := frame.WriteCSVFile(genOut); err != nil {
			return err
		}
		logger.Info("synthetic dataset written", "path", genOut, "rows", frame.Len())

		key := strings.Trim(strings.TrimSpace(genUpload), "/")
		if key == "" {
			return nil
		}
		ctx := cmd.Context()
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			return err
		}
		client, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			return err
		}
		if err := objectstore.EnsureBuckets(ctx, client, storeCfg); err != nil {
			return err
		}
		store, err := objectstore.NewMinioStoreWithClient(client)
		if err != nil {
			return err
		}
		if err := objectstore.UploadFile(ctx, store, storeCfg.BucketDatasets, key, genOut, "text/csv"); err != nil {
			return err
		}
		logger.Info("synthetic dataset uploaded", "bucket", storeCfg.BucketDatasets, "key", key,
			"source", stages.ObjectSourcePrefix+key)
		return nil
	},
}

func init() {
	generateCmd.Flags().IntVarP(&genRows, "rows", "n", 2000, "Number of rows")
	generateCmd.Flags().Uint64Var(&genSeed, "seed", 42, "Random seed")
	generateCmd.Flags().Float64Var(&genSignal, "signal", 1.0, "Strength of the label signal (0 gives random labels)")
	generateCmd.Flags().StringVarP(&genOut, "out", "o", "data/vehicles.csv", "Output CSV path")
	generateCmd.Flags().StringVar(&genUpload, "upload", "", "Datasets bucket key to upload the CSV to")
	rootCmd.AddCommand(generateCmd)
}
