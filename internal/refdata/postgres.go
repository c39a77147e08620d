package refdata

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/verdantly/footprint-cli/internal/db"
	"github.com/verdantly/footprint-cli/internal/model"
)

// PostgresSource serves lookups from the shared ref_* tables. Used by
// deployments where reference data is published centrally instead of
// shipped as fixture files.
type PostgresSource struct {
	pool db.Pool
}

// NewPostgresSource creates a PostgresSource over an existing pool.
func NewPostgresSource(pool db.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

func (s *PostgresSource) OrgExact(ctx context.Context, orgID, name string) (*OrgFactor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT organisation_id, name, unit, reference, geography, impact_values
		 FROM ref_org_factors WHERE organisation_id = $1 AND name = $2`,
		orgID, name,
	)
	if err != nil {
		return nil, eris.Wrap(err, "refdata: org exact query")
	}
	factors, err := scanOrgFactors(rows)
	if err != nil {
		return nil, err
	}
	if len(factors) == 0 {
		return nil, nil
	}
	return &factors[0], nil
}

func (s *PostgresSource) OrgSubstring(ctx context.Context, orgID, name string) ([]OrgFactor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT organisation_id, name, unit, reference, geography, impact_values
		 FROM ref_org_factors
		 WHERE organisation_id = $1 AND name LIKE '%' || $2 || '%'
		 ORDER BY name`,
		orgID, name,
	)
	if err != nil {
		return nil, eris.Wrap(err, "refdata: org substring query")
	}
	return scanOrgFactors(rows)
}

func (s *PostgresSource) ProxySubstring(ctx context.Context, name string) ([]ProxyFactor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, unit, reference, geography, quality, impact_values
		 FROM ref_proxy_factors
		 WHERE name LIKE '%' || $1 || '%'
		 ORDER BY quality DESC, name`,
		name,
	)
	if err != nil {
		return nil, eris.Wrap(err, "refdata: proxy query")
	}
	defer rows.Close()

	var out []ProxyFactor
	for rows.Next() {
		var p ProxyFactor
		var values []byte
		if err := rows.Scan(&p.Name, &p.Unit, &p.Reference, &p.Geography, &p.Quality, &values); err != nil {
			return nil, eris.Wrap(err, "refdata: scan proxy factor")
		}
		if err := json.Unmarshal(values, &p.Values); err != nil {
			return nil, eris.Wrap(err, "refdata: unmarshal proxy values")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "refdata: proxy iterate")
}

func (s *PostgresSource) GovFactor(ctx context.Context, category model.LineItemCategory) (*GovFactor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT category, unit, reference, geography, climate
		 FROM ref_gov_factors WHERE category = $1`,
		string(category),
	)
	if err != nil {
		return nil, eris.Wrap(err, "refdata: gov factor query")
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, eris.Wrap(rows.Err(), "refdata: gov factor iterate")
	}
	var g GovFactor
	if err := rows.Scan(&g.Category, &g.Unit, &g.Reference, &g.Geography, &g.Climate); err != nil {
		return nil, eris.Wrap(err, "refdata: scan gov factor")
	}
	return &g, nil
}

func scanOrgFactors(rows pgx.Rows) ([]OrgFactor, error) {
	defer rows.Close()

	var out []OrgFactor
	for rows.Next() {
		var f OrgFactor
		var values []byte
		if err := rows.Scan(&f.OrganisationID, &f.Name, &f.Unit, &f.Reference, &f.Geography, &values); err != nil {
			return nil, eris.Wrap(err, "refdata: scan org factor")
		}
		if err := json.Unmarshal(values, &f.Values); err != nil {
			return nil, eris.Wrap(err, "refdata: unmarshal org values")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "refdata: org iterate")
}
