package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/verdantly/footprint-cli/internal/refdata"
	"github.com/verdantly/footprint-cli/internal/store"
)

// openStore builds the configured store backend.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := openPool(ctx)
		if err != nil {
			return nil, err
		}
		return store.NewPostgres(pool), nil
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open postgres pool")
	}
	return pool, nil
}

// openRefdata builds the factor source matching the store driver: the ref_*
// tables on postgres, the YAML fixture file otherwise.
func openRefdata(ctx context.Context) (refdata.Source, error) {
	if cfg.Store.Driver == "postgres" {
		pool, err := openPool(ctx)
		if err != nil {
			return nil, err
		}
		return refdata.NewPostgresSource(pool), nil
	}
	return refdata.NewMemorySourceFromFile(cfg.Refdata.TablesPath)
}

// openRules loads the category rule table.
func openRules() (*refdata.RuleTable, error) {
	return refdata.LoadRuleTable(cfg.Refdata.RulesPath)
}
