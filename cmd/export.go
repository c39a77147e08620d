package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verdantly/footprint-cli/internal/export"
)

var exportFlags struct {
	product string
	out     string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a product's allocations, impacts, and aggregate to XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := export.New(st).WriteProduct(ctx, exportFlags.product, exportFlags.out); err != nil {
			return err
		}
		zap.L().Info("export written",
			zap.String("product_id", exportFlags.product),
			zap.String("path", exportFlags.out))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFlags.product, "product", "", "product id")
	exportCmd.Flags().StringVar(&exportFlags.out, "out", "", "output path (.xlsx)")
	exportCmd.MarkFlagRequired("product")
	exportCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(exportCmd)
}
