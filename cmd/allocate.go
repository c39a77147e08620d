package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verdantly/footprint-cli/internal/allocation"
	"github.com/verdantly/footprint-cli/internal/model"
)

var allocateFlags struct {
	product         string
	facility        string
	totalsID        string
	periodStart     string
	periodEnd       string
	totalVolume     float64
	totalEmissions  float64
	totalWater      float64
	totalWaste      float64
	scope1          float64
	scope2          float64
	scope3          float64
	locked          bool
	clientVolume    float64
	energyIntensive bool
	save            bool
}

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Allocate a facility's period emissions to a client product by volume share",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		start, err := time.Parse("2006-01-02", allocateFlags.periodStart)
		if err != nil {
			return eris.Wrap(err, "parse --period-start")
		}
		end, err := time.Parse("2006-01-02", allocateFlags.periodEnd)
		if err != nil {
			return eris.Wrap(err, "parse --period-end")
		}

		totals := model.FacilityPeriodTotals{
			ID:             allocateFlags.totalsID,
			FacilityID:     allocateFlags.facility,
			Period:         model.Period{Start: start, End: end},
			TotalVolume:    allocateFlags.totalVolume,
			TotalEmissions: allocateFlags.totalEmissions,
			TotalWater:     allocateFlags.totalWater,
			TotalWaste:     allocateFlags.totalWaste,
			Scope1:         allocateFlags.scope1,
			Scope2:         allocateFlags.scope2,
			Scope3:         allocateFlags.scope3,
			Locked:         allocateFlags.locked,
		}

		rec, err := allocation.New().Allocate(totals, allocation.Input{
			ProductID:                allocateFlags.product,
			ClientVolume:             allocateFlags.clientVolume,
			IsEnergyIntensiveProcess: allocateFlags.energyIntensive,
		})
		if err != nil {
			return err
		}

		if allocateFlags.save {
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.SaveAllocation(ctx, rec); err != nil {
				return err
			}
			zap.L().Info("allocation saved",
				zap.String("id", rec.ID),
				zap.String("status", string(rec.Status)),
				zap.Float64("ratio", rec.AttributionRatio))
		}

		return printJSON(rec)
	},
}

var mixCmd = &cobra.Command{
	Use:   "mix <product-id> <facility=share> [facility=share ...]",
	Short: "Set and validate a product's production mix",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		productID := args[0]

		var entries []model.ProductionMixEntry
		for _, arg := range args[1:] {
			facility, shareStr, ok := strings.Cut(arg, "=")
			if !ok {
				return eris.Errorf("malformed mix entry %q, want facility=share", arg)
			}
			share, err := strconv.ParseFloat(shareStr, 64)
			if err != nil {
				return eris.Wrapf(err, "parse share in %q", arg)
			}
			entries = append(entries, model.ProductionMixEntry{
				ProductID:  productID,
				FacilityID: facility,
				Share:      share,
			})
		}

		if err := allocation.ValidateMix(entries); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.ReplaceMix(ctx, productID, entries); err != nil {
			return err
		}
		zap.L().Info("production mix replaced",
			zap.String("product_id", productID),
			zap.Int("facilities", len(entries)))
		return nil
	},
}

func init() {
	allocateCmd.Flags().StringVar(&allocateFlags.product, "product", "", "client product id")
	allocateCmd.Flags().StringVar(&allocateFlags.facility, "facility", "", "facility id")
	allocateCmd.Flags().StringVar(&allocateFlags.totalsID, "totals-id", "", "facility period totals id")
	allocateCmd.Flags().StringVar(&allocateFlags.periodStart, "period-start", "", "period start (YYYY-MM-DD)")
	allocateCmd.Flags().StringVar(&allocateFlags.periodEnd, "period-end", "", "period end (YYYY-MM-DD)")
	allocateCmd.Flags().Float64Var(&allocateFlags.totalVolume, "total-volume", 0, "facility total production volume")
	allocateCmd.Flags().Float64Var(&allocateFlags.totalEmissions, "total-emissions", 0, "facility total emissions (kgCO2e)")
	allocateCmd.Flags().Float64Var(&allocateFlags.totalWater, "total-water", 0, "facility total water use")
	allocateCmd.Flags().Float64Var(&allocateFlags.totalWaste, "total-waste", 0, "facility total waste")
	allocateCmd.Flags().Float64Var(&allocateFlags.scope1, "scope1", 0, "reported scope 1 emissions")
	allocateCmd.Flags().Float64Var(&allocateFlags.scope2, "scope2", 0, "reported scope 2 emissions")
	allocateCmd.Flags().Float64Var(&allocateFlags.scope3, "scope3", 0, "reported scope 3 emissions")
	allocateCmd.Flags().BoolVar(&allocateFlags.locked, "locked", false, "facility totals are locked for allocation")
	allocateCmd.Flags().Float64Var(&allocateFlags.clientVolume, "client-volume", 0, "client production volume")
	allocateCmd.Flags().BoolVar(&allocateFlags.energyIntensive, "energy-intensive", false, "flag as energy-intensive process")
	allocateCmd.Flags().BoolVar(&allocateFlags.save, "save", false, "persist the allocation record")
	allocateCmd.MarkFlagRequired("product")
	allocateCmd.MarkFlagRequired("facility")
	allocateCmd.MarkFlagRequired("period-start")
	allocateCmd.MarkFlagRequired("period-end")
	rootCmd.AddCommand(allocateCmd)
	rootCmd.AddCommand(mixCmd)
}
