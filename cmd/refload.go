package main

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verdantly/footprint-cli/internal/db"
	"github.com/verdantly/footprint-cli/internal/refdata"
)

var refloadCmd = &cobra.Command{
	Use:   "refload <factors.yaml>",
	Short: "Publish reference factor tables to the shared Postgres store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Store.Driver != "postgres" {
			return eris.New("refload requires the postgres store driver; sqlite runs read fixture files directly")
		}

		tables, err := refdata.LoadTables(args[0])
		if err != nil {
			return err
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := loadFactors(ctx, pool, tables); err != nil {
			return err
		}
		zap.L().Info("reference data published",
			zap.Int("org_factors", len(tables.OrgFactors)),
			zap.Int("proxies", len(tables.Proxies)),
			zap.Int("gov_factors", len(tables.GovFactors)))
		return nil
	},
}

// loadFactors bulk-upserts all three factor tables. Names are normalised
// on the way in; lookups match against normalised names only.
func loadFactors(ctx context.Context, pool db.Pool, tables refdata.Tables) error {
	orgRows := make([][]any, 0, len(tables.OrgFactors))
	for _, f := range tables.OrgFactors {
		values, err := json.Marshal(f.Values)
		if err != nil {
			return eris.Wrapf(err, "marshal org factor %q", f.Name)
		}
		orgRows = append(orgRows, []any{
			f.OrganisationID, refdata.Normalize(f.Name), f.Unit, f.Reference, geoOrGlobal(f.Geography), values,
		})
	}
	if _, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
		Table:        "ref_org_factors",
		Columns:      []string{"organisation_id", "name", "unit", "reference", "geography", "impact_values"},
		ConflictKeys: []string{"organisation_id", "name"},
	}, orgRows); err != nil {
		return err
	}

	proxyRows := make([][]any, 0, len(tables.Proxies))
	for _, p := range tables.Proxies {
		values, err := json.Marshal(p.Values)
		if err != nil {
			return eris.Wrapf(err, "marshal proxy %q", p.Name)
		}
		proxyRows = append(proxyRows, []any{
			refdata.Normalize(p.Name), p.Unit, p.Reference, geoOrGlobal(p.Geography), p.Quality, values,
		})
	}
	if _, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
		Table:        "ref_proxy_factors",
		Columns:      []string{"name", "unit", "reference", "geography", "quality", "impact_values"},
		ConflictKeys: []string{"name"},
	}, proxyRows); err != nil {
		return err
	}

	govRows := make([][]any, 0, len(tables.GovFactors))
	for _, g := range tables.GovFactors {
		govRows = append(govRows, []any{
			string(g.Category), g.Unit, g.Reference, geoOrGlobal(g.Geography), g.Climate,
		})
	}
	_, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
		Table:        "ref_gov_factors",
		Columns:      []string{"category", "unit", "reference", "geography", "climate"},
		ConflictKeys: []string{"category"},
	}, govRows)
	return err
}

func geoOrGlobal(geo string) string {
	if geo == "" {
		return "global"
	}
	return geo
}

func init() {
	rootCmd.AddCommand(refloadCmd)
}
