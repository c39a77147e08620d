package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verdantly/footprint-cli/internal/aggregate"
	"github.com/verdantly/footprint-cli/internal/refdata"
)

var aggregateFlags struct {
	product      string
	score        bool
	weightingSet string
	save         bool
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Aggregate a product's resolved impacts and optionally compute its single score",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		items, err := st.CurrentImpacts(ctx, aggregateFlags.product)
		if err != nil {
			return err
		}
		agg := aggregate.New().Aggregate(aggregateFlags.product, items)

		if aggregateFlags.score {
			sets, err := st.ListWeightingSets(ctx)
			if err != nil {
				return err
			}
			ws, err := aggregate.SelectWeightingSet(sets, aggregateFlags.weightingSet)
			if err != nil {
				return err
			}
			score := aggregate.SingleScore(agg, *ws)
			zap.L().Info("single score computed",
				zap.String("product_id", aggregateFlags.product),
				zap.String("weighting_set", ws.ID),
				zap.Float64("score", score))
		}

		if aggregateFlags.save {
			if err := st.SaveAggregatedImpact(ctx, agg); err != nil {
				return err
			}
		}

		return printJSON(agg)
	},
}

var scoreFlags struct {
	product      string
	weightingSet string
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Recompute and persist a product's weighted single score",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		items, err := st.CurrentImpacts(ctx, scoreFlags.product)
		if err != nil {
			return err
		}
		agg := aggregate.New().Aggregate(scoreFlags.product, items)

		sets, err := st.ListWeightingSets(ctx)
		if err != nil {
			return err
		}
		ws, err := aggregate.SelectWeightingSet(sets, scoreFlags.weightingSet)
		if err != nil {
			return err
		}
		score := aggregate.SingleScore(agg, *ws)

		if err := st.SaveAggregatedImpact(ctx, agg); err != nil {
			return err
		}
		zap.L().Info("single score saved",
			zap.String("product_id", scoreFlags.product),
			zap.String("weighting_set", ws.ID),
			zap.Float64("score", score))
		return printJSON(agg)
	},
}

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Manage weighting sets",
}

var weightsLoadCmd = &cobra.Command{
	Use:   "load <file.yaml>",
	Short: "Load weighting sets from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sets, err := refdata.LoadWeightingSets(args[0])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		for _, ws := range sets {
			if err := st.SaveWeightingSet(ctx, ws); err != nil {
				return err
			}
		}
		zap.L().Info("weighting sets loaded", zap.Int("count", len(sets)))
		return nil
	},
}

var weightsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored weighting sets",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		sets, err := st.ListWeightingSets(ctx)
		if err != nil {
			return err
		}
		return printJSON(sets)
	},
}

func init() {
	aggregateCmd.Flags().StringVar(&aggregateFlags.product, "product", "", "product id")
	aggregateCmd.Flags().BoolVar(&aggregateFlags.score, "score", false, "compute the weighted single score")
	aggregateCmd.Flags().StringVar(&aggregateFlags.weightingSet, "weighting-set", "", "weighting set id (default: the designated default set)")
	aggregateCmd.Flags().BoolVar(&aggregateFlags.save, "save", false, "persist the aggregate")
	aggregateCmd.MarkFlagRequired("product")
	scoreCmd.Flags().StringVar(&scoreFlags.product, "product", "", "product id")
	scoreCmd.Flags().StringVar(&scoreFlags.weightingSet, "weighting-set", "", "weighting set id (default: the designated default set)")
	scoreCmd.MarkFlagRequired("product")
	weightsCmd.AddCommand(weightsLoadCmd, weightsListCmd)
	rootCmd.AddCommand(aggregateCmd, scoreCmd, weightsCmd)
}
