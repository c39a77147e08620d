package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verdantly/footprint-cli/internal/model"
	"github.com/verdantly/footprint-cli/internal/resolver"
)

var resolveFlags struct {
	org      string
	product  string
	name     string
	category string
	quantity float64
	unit     string
	save     bool
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a material or energy input through the reference-data waterfall",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		src, err := openRefdata(ctx)
		if err != nil {
			return err
		}

		category := model.LineItemCategory(resolveFlags.category)
		if category == "" {
			rules, err := openRules()
			if err != nil {
				return err
			}
			cat, ok := rules.Categorise(resolveFlags.name)
			if !ok {
				return eris.Errorf("no category rule matches %q; pass --category", resolveFlags.name)
			}
			category = cat
		}

		imp, err := resolver.New(src).Resolve(ctx, resolver.Request{
			OrganisationID: resolveFlags.org,
			Name:           resolveFlags.name,
			Category:       category,
			Quantity:       resolveFlags.quantity,
			Unit:           resolveFlags.unit,
		})
		if err != nil {
			return err
		}

		if resolveFlags.save {
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			item := &model.MaterialLineItem{
				ProductID:      resolveFlags.product,
				OrganisationID: resolveFlags.org,
				Name:           resolveFlags.name,
				Category:       category,
				Quantity:       resolveFlags.quantity,
				Unit:           resolveFlags.unit,
			}
			if err := st.SaveLineItem(ctx, item); err != nil {
				return err
			}
			imp.LineItemID = item.ID
			if err := st.SaveResolvedImpact(ctx, imp); err != nil {
				return err
			}
			zap.L().Info("line item resolved and saved",
				zap.String("line_item_id", item.ID),
				zap.String("provenance", string(imp.Provenance)),
				zap.Int("confidence", imp.Confidence))
		}

		return printJSON(imp)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	resolveCmd.Flags().StringVar(&resolveFlags.org, "org", "", "organisation id")
	resolveCmd.Flags().StringVar(&resolveFlags.product, "product", "", "product id (required with --save)")
	resolveCmd.Flags().StringVar(&resolveFlags.name, "name", "", "material or energy input name")
	resolveCmd.Flags().StringVar(&resolveFlags.category, "category", "", "line item category (default from rule table)")
	resolveCmd.Flags().Float64Var(&resolveFlags.quantity, "quantity", 0, "quantity in --unit")
	resolveCmd.Flags().StringVar(&resolveFlags.unit, "unit", "", "quantity unit")
	resolveCmd.Flags().BoolVar(&resolveFlags.save, "save", false, "persist the line item and resolved impact")
	resolveCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(resolveCmd)
}
