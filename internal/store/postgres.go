package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/verdantly/footprint-cli/internal/allocation"
	"github.com/verdantly/footprint-cli/internal/db"
	"github.com/verdantly/footprint-cli/internal/model"
)

// PostgresStore implements Store backed by Postgres via pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a Postgres-backed store from an existing pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS weighting_sets (
	id         TEXT PRIMARY KEY,
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	payload    JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS line_items (
	id              TEXT PRIMARY KEY,
	product_id      TEXT NOT NULL,
	organisation_id TEXT NOT NULL,
	payload         JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS resolved_impacts (
	id           TEXT PRIMARY KEY,
	line_item_id TEXT NOT NULL REFERENCES line_items(id),
	superseded   BOOLEAN NOT NULL DEFAULT FALSE,
	payload      JSONB NOT NULL,
	resolved_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS allocation_records (
	id           TEXT PRIMARY KEY,
	product_id   TEXT NOT NULL,
	facility_id  TEXT NOT NULL,
	period_start TIMESTAMPTZ NOT NULL,
	period_end   TIMESTAMPTZ NOT NULL,
	payload      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS production_mix (
	id          TEXT PRIMARY KEY,
	product_id  TEXT NOT NULL,
	facility_id TEXT NOT NULL,
	share       DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS aggregated_impacts (
	id          TEXT PRIMARY KEY,
	product_id  TEXT NOT NULL,
	has_score   BOOLEAN NOT NULL DEFAULT FALSE,
	superseded  BOOLEAN NOT NULL DEFAULT FALSE,
	payload     JSONB NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS recalc_batches (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'pending',
	metadata   JSONB NOT NULL DEFAULT '{}',
	total      INTEGER NOT NULL DEFAULT 0,
	completed  INTEGER NOT NULL DEFAULT 0,
	failed     INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS recalc_jobs (
	id            TEXT PRIMARY KEY,
	batch_id      TEXT NOT NULL REFERENCES recalc_batches(id),
	product_id    TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	priority      INTEGER NOT NULL DEFAULT 0,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	max_attempts  INTEGER NOT NULL DEFAULT 3,
	last_error    TEXT,
	next_retry_at TIMESTAMPTZ NOT NULL,
	claimed_at    TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ref_org_factors (
	organisation_id TEXT NOT NULL,
	name            TEXT NOT NULL,
	unit            TEXT NOT NULL DEFAULT '',
	reference       TEXT NOT NULL DEFAULT '',
	geography       TEXT NOT NULL DEFAULT 'global',
	impact_values   JSONB NOT NULL,
	PRIMARY KEY (organisation_id, name)
);

CREATE TABLE IF NOT EXISTS ref_proxy_factors (
	name          TEXT PRIMARY KEY,
	unit          TEXT NOT NULL DEFAULT '',
	reference     TEXT NOT NULL DEFAULT '',
	geography     TEXT NOT NULL DEFAULT 'global',
	quality       DOUBLE PRECISION NOT NULL DEFAULT 0,
	impact_values JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS ref_gov_factors (
	category  TEXT PRIMARY KEY,
	unit      TEXT NOT NULL DEFAULT '',
	reference TEXT NOT NULL DEFAULT '',
	geography TEXT NOT NULL DEFAULT 'global',
	climate   DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_line_items_product ON line_items(product_id);
CREATE INDEX IF NOT EXISTS idx_resolved_impacts_item ON resolved_impacts(line_item_id, superseded);
CREATE INDEX IF NOT EXISTS idx_allocations_pair ON allocation_records(product_id, facility_id);
CREATE INDEX IF NOT EXISTS idx_mix_product ON production_mix(product_id);
CREATE INDEX IF NOT EXISTS idx_aggregates_product ON aggregated_impacts(product_id, superseded);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON recalc_jobs(status, next_retry_at, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_batch ON recalc_jobs(batch_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Weighting sets

func (s *PostgresStore) SaveWeightingSet(ctx context.Context, ws model.WeightingSet) error {
	payload, err := json.Marshal(ws)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal weighting set")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO weighting_sets (id, is_default, payload) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET is_default = EXCLUDED.is_default, payload = EXCLUDED.payload`,
		ws.ID, ws.IsDefault, payload,
	)
	return eris.Wrapf(err, "postgres: save weighting set %s", ws.ID)
}

func (s *PostgresStore) ListWeightingSets(ctx context.Context) ([]model.WeightingSet, error) {
	rows, err := s.pool.Query(ctx, `SELECT payload FROM weighting_sets ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list weighting sets")
	}
	defer rows.Close()

	var sets []model.WeightingSet
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan weighting set")
		}
		var ws model.WeightingSet
		if err := json.Unmarshal(payload, &ws); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal weighting set")
		}
		sets = append(sets, ws)
	}
	return sets, eris.Wrap(rows.Err(), "postgres: list weighting sets iterate")
}

// Line items

func (s *PostgresStore) SaveLineItem(ctx context.Context, item *model.MaterialLineItem) error {
	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = uuid.New().String()
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	payload, err := json.Marshal(item)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal line item")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO line_items (id, product_id, organisation_id, payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		item.ID, item.ProductID, item.OrganisationID, payload, item.CreatedAt, item.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save line item %s", item.ID)
}

func (s *PostgresStore) ListLineItems(ctx context.Context, productID string) ([]model.MaterialLineItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM line_items WHERE product_id = $1 ORDER BY created_at`,
		productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list line items")
	}
	defer rows.Close()

	var items []model.MaterialLineItem
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan line item")
		}
		var item model.MaterialLineItem
		if err := json.Unmarshal(payload, &item); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal line item")
		}
		items = append(items, item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list line items iterate")
}

// Resolved impacts

func (s *PostgresStore) SaveResolvedImpact(ctx context.Context, imp *model.ResolvedImpact) error {
	if imp.ID == "" {
		imp.ID = uuid.New().String()
	}
	if imp.ResolvedAt.IsZero() {
		imp.ResolvedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(imp)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal resolved impact")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save resolved impact")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE resolved_impacts SET superseded = TRUE WHERE line_item_id = $1 AND superseded = FALSE`,
		imp.LineItemID,
	); err != nil {
		return eris.Wrap(err, "postgres: supersede resolved impact")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO resolved_impacts (id, line_item_id, superseded, payload, resolved_at)
		 VALUES ($1, $2, FALSE, $3, $4)`,
		imp.ID, imp.LineItemID, payload, imp.ResolvedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: insert resolved impact")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit resolved impact")
}

func (s *PostgresStore) CurrentImpacts(ctx context.Context, productID string) ([]model.LineItemImpact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT li.payload, ri.payload FROM line_items li
		 JOIN resolved_impacts ri ON ri.line_item_id = li.id AND ri.superseded = FALSE
		 WHERE li.product_id = $1
		 ORDER BY li.created_at`,
		productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: current impacts")
	}
	defer rows.Close()

	var out []model.LineItemImpact
	for rows.Next() {
		var itemJSON, impJSON []byte
		if err := rows.Scan(&itemJSON, &impJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan current impact")
		}
		var item model.MaterialLineItem
		if err := json.Unmarshal(itemJSON, &item); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal line item")
		}
		var imp model.ResolvedImpact
		if err := json.Unmarshal(impJSON, &imp); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal resolved impact")
		}
		out = append(out, model.LineItemImpact{
			LineItemID: item.ID,
			Quantity:   item.Quantity,
			Impact:     imp,
		})
	}
	return out, eris.Wrap(rows.Err(), "postgres: current impacts iterate")
}

// Allocation records

func (s *PostgresStore) SaveAllocation(ctx context.Context, rec *model.AllocationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal allocation")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save allocation")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT period_start, period_end FROM allocation_records
		 WHERE product_id = $1 AND facility_id = $2 AND id != $3`,
		rec.ProductID, rec.FacilityID, rec.ID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: query allocation periods")
	}
	var periods []model.Period
	for rows.Next() {
		var p model.Period
		if err := rows.Scan(&p.Start, &p.End); err != nil {
			rows.Close()
			return eris.Wrap(err, "postgres: scan allocation period")
		}
		periods = append(periods, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "postgres: iterate allocation periods")
	}
	if err := allocation.CheckOverlap(periods, rec.Period); err != nil {
		return eris.Wrapf(err, "postgres: allocation for product %s facility %s", rec.ProductID, rec.FacilityID)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO allocation_records (id, product_id, facility_id, period_start, period_end, payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.ProductID, rec.FacilityID, rec.Period.Start, rec.Period.End,
		payload, rec.CreatedAt, rec.UpdatedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: insert allocation")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit allocation")
}

func (s *PostgresStore) ListAllocations(ctx context.Context, productID string) ([]model.AllocationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM allocation_records WHERE product_id = $1 ORDER BY period_start`,
		productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list allocations")
	}
	defer rows.Close()

	var recs []model.AllocationRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan allocation")
		}
		var rec model.AllocationRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal allocation")
		}
		recs = append(recs, rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list allocations iterate")
}

// Production mix

func (s *PostgresStore) ReplaceMix(ctx context.Context, productID string, entries []model.ProductionMixEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace mix")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM production_mix WHERE product_id = $1`, productID); err != nil {
		return eris.Wrap(err, "postgres: clear mix")
	}
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO production_mix (id, product_id, facility_id, share) VALUES ($1, $2, $3, $4)`,
			e.ID, productID, e.FacilityID, e.Share,
		); err != nil {
			return eris.Wrap(err, "postgres: insert mix entry")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit mix")
}

func (s *PostgresStore) GetMix(ctx context.Context, productID string) ([]model.ProductionMixEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, facility_id, share FROM production_mix WHERE product_id = $1 ORDER BY facility_id`,
		productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get mix")
	}
	defer rows.Close()

	var entries []model.ProductionMixEntry
	for rows.Next() {
		var e model.ProductionMixEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.FacilityID, &e.Share); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mix entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: get mix iterate")
}

// Aggregated impacts

func (s *PostgresStore) SaveAggregatedImpact(ctx context.Context, agg *model.AggregatedImpact) error {
	if agg.ID == "" {
		agg.ID = uuid.New().String()
	}
	payload, err := json.Marshal(agg)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal aggregate")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save aggregate")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE aggregated_impacts SET superseded = TRUE WHERE product_id = $1 AND superseded = FALSE`,
		agg.ProductID,
	); err != nil {
		return eris.Wrap(err, "postgres: supersede aggregate")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO aggregated_impacts (id, product_id, has_score, superseded, payload, computed_at)
		 VALUES ($1, $2, $3, FALSE, $4, $5)`,
		agg.ID, agg.ProductID, agg.SingleScore != nil, payload, agg.ComputedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: insert aggregate")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit aggregate")
}

func (s *PostgresStore) CurrentAggregate(ctx context.Context, productID string) (*model.AggregatedImpact, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM aggregated_impacts WHERE product_id = $1 AND superseded = FALSE`,
		productID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: current aggregate")
	}
	var agg model.AggregatedImpact
	if err := json.Unmarshal(payload, &agg); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal aggregate")
	}
	return &agg, nil
}

// Recalculation queue

func (s *PostgresStore) SelectProducts(ctx context.Context, sel model.JobSelector) ([]string, error) {
	if len(sel.ProductIDs) > 0 {
		return sel.ProductIDs, nil
	}

	query := `SELECT DISTINCT li.product_id FROM line_items li WHERE TRUE`
	var args []any
	if sel.OrganisationID != "" {
		args = append(args, sel.OrganisationID)
		query += ` AND li.organisation_id = $1`
	}
	if sel.MissingScoreOnly {
		query += ` AND NOT EXISTS (
			SELECT 1 FROM aggregated_impacts ai
			WHERE ai.product_id = li.product_id AND ai.superseded = FALSE AND ai.has_score)`
	}
	query += ` ORDER BY li.product_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select products")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: select products iterate")
}

func (s *PostgresStore) CreateBatch(ctx context.Context, batch *model.RecalculationBatch, jobs []model.RecalculationJob) error {
	metadata, err := json.Marshal(batch.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal batch metadata")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create batch")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO recalc_batches (id, status, metadata, total, completed, failed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, 0, $5, $6)`,
		batch.ID, string(batch.Status), metadata, batch.Total, batch.CreatedAt, batch.UpdatedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: insert batch")
	}

	rows := make([][]any, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []any{
			j.ID, j.BatchID, j.ProductID, string(j.Status), j.Priority, 0, j.MaxAttempts,
			j.NextRetryAt, j.CreatedAt, j.UpdatedAt,
		})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"recalc_jobs"},
		[]string{"id", "batch_id", "product_id", "status", "priority", "attempt_count", "max_attempts",
			"next_retry_at", "created_at", "updated_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return eris.Wrap(err, "postgres: copy jobs")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit batch")
}

func (s *PostgresStore) GetBatch(ctx context.Context, id string) (*model.RecalculationBatch, error) {
	var b model.RecalculationBatch
	var metadata []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, metadata, total, completed, failed, created_at, updated_at
		 FROM recalc_batches WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.Status, &metadata, &b.Total, &b.Completed, &b.Failed, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("batch not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch %s", id)
	}
	if err := json.Unmarshal(metadata, &b.Metadata); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal batch metadata")
	}
	return &b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.RecalculationBatch, error) {
	query := `SELECT id, status, metadata, total, completed, failed, created_at, updated_at
	          FROM recalc_batches WHERE TRUE`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $1`
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var batches []model.RecalculationBatch
	for rows.Next() {
		var b model.RecalculationBatch
		var metadata []byte
		if err := rows.Scan(&b.ID, &b.Status, &metadata, &b.Total, &b.Completed, &b.Failed, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		if err := json.Unmarshal(metadata, &b.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal batch metadata")
		}
		batches = append(batches, b)
	}
	return batches, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

func (s *PostgresStore) CancelBatch(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recalc_batches SET status = $1, updated_at = now()
		 WHERE id = $2 AND status IN ($3, $4)`,
		string(model.BatchCancelled), id, string(model.BatchPending), string(model.BatchRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: cancel batch %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("batch not found: %s", id)
	}
	return nil
}

// ClaimNextJob takes the single best eligible job in one statement. FOR
// UPDATE SKIP LOCKED in the subselect lets concurrent workers claim
// disjoint rows without blocking each other.
func (s *PostgresStore) ClaimNextJob(ctx context.Context) (*model.RecalculationJob, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE recalc_jobs
		 SET status = 'processing', attempt_count = attempt_count + 1, claimed_at = now(), updated_at = now()
		 WHERE id = (
			SELECT j.id FROM recalc_jobs j
			JOIN recalc_batches b ON b.id = j.batch_id
			WHERE j.status = 'pending' AND j.next_retry_at <= now() AND b.status != 'cancelled'
			ORDER BY j.priority DESC, j.created_at ASC
			LIMIT 1
			FOR UPDATE OF j SKIP LOCKED)
		 RETURNING id, batch_id, product_id, status, priority, attempt_count, max_attempts,
		           COALESCE(last_error, ''), next_retry_at, claimed_at, created_at, updated_at`,
	)

	j, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim next job")
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE recalc_batches SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		string(model.BatchRunning), j.BatchID, string(model.BatchPending),
	); err != nil {
		return nil, eris.Wrap(err, "postgres: mark batch running")
	}
	return j, nil
}

func (s *PostgresStore) MarkJobCompleted(ctx context.Context, jobID string) error {
	return s.finishJob(ctx, jobID, string(model.JobCompleted), "", "completed")
}

func (s *PostgresStore) MarkJobFailed(ctx context.Context, jobID, lastError string) error {
	return s.finishJob(ctx, jobID, string(model.JobFailed), lastError, "failed")
}

func (s *PostgresStore) finishJob(ctx context.Context, jobID, status, lastError, counter string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin finish job")
	}
	defer tx.Rollback(ctx)

	var batchID string
	err = tx.QueryRow(ctx,
		`UPDATE recalc_jobs SET status = $1, last_error = $2, updated_at = now()
		 WHERE id = $3 AND status = 'processing'
		 RETURNING batch_id`,
		status, lastError, jobID,
	).Scan(&batchID)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Errorf("job not processing: %s", jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: finish job %s", jobID)
	}

	// counter is a column name from a fixed internal set, not user input.
	if _, err := tx.Exec(ctx,
		`UPDATE recalc_batches SET `+counter+` = `+counter+` + 1, updated_at = now() WHERE id = $1`,
		batchID,
	); err != nil {
		return eris.Wrap(err, "postgres: bump batch counter")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE recalc_batches SET status = $1, updated_at = now()
		 WHERE id = $2 AND completed + failed >= total AND status != $1`,
		string(model.BatchCompleted), batchID,
	); err != nil {
		return eris.Wrap(err, "postgres: close batch")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit finish job")
}

func (s *PostgresStore) RetryJob(ctx context.Context, jobID, lastError string, nextRetryAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recalc_jobs
		 SET status = 'pending', last_error = $1, next_retry_at = $2, claimed_at = NULL, updated_at = now()
		 WHERE id = $3 AND status = 'processing'`,
		lastError, nextRetryAt, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: retry job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) SweepStaleJobs(ctx context.Context, lease time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recalc_jobs
		 SET status = 'pending', claimed_at = NULL, next_retry_at = now(), updated_at = now()
		 WHERE status = 'processing' AND claimed_at <= now() - $1::interval`,
		lease.String(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: sweep stale jobs")
	}
	return int(tag.RowsAffected()), nil
}

func scanPgJob(row pgx.Row) (*model.RecalculationJob, error) {
	var j model.RecalculationJob
	err := row.Scan(&j.ID, &j.BatchID, &j.ProductID, &j.Status, &j.Priority,
		&j.AttemptCount, &j.MaxAttempts, &j.LastError, &j.NextRetryAt,
		&j.ClaimedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
