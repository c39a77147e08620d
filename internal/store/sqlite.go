package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/verdantly/footprint-cli/internal/allocation"
	"github.com/verdantly/footprint-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS weighting_sets (
	id         TEXT PRIMARY KEY,
	is_default INTEGER NOT NULL DEFAULT 0,
	payload    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS line_items (
	id              TEXT PRIMARY KEY,
	product_id      TEXT NOT NULL,
	organisation_id TEXT NOT NULL,
	payload         TEXT NOT NULL,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS resolved_impacts (
	id           TEXT PRIMARY KEY,
	line_item_id TEXT NOT NULL REFERENCES line_items(id),
	superseded   INTEGER NOT NULL DEFAULT 0,
	payload      TEXT NOT NULL,
	resolved_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS allocation_records (
	id           TEXT PRIMARY KEY,
	product_id   TEXT NOT NULL,
	facility_id  TEXT NOT NULL,
	period_start DATETIME NOT NULL,
	period_end   DATETIME NOT NULL,
	payload      TEXT NOT NULL,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS production_mix (
	id          TEXT PRIMARY KEY,
	product_id  TEXT NOT NULL,
	facility_id TEXT NOT NULL,
	share       REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS aggregated_impacts (
	id          TEXT PRIMARY KEY,
	product_id  TEXT NOT NULL,
	has_score   INTEGER NOT NULL DEFAULT 0,
	superseded  INTEGER NOT NULL DEFAULT 0,
	payload     TEXT NOT NULL,
	computed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS recalc_batches (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'pending',
	metadata   TEXT NOT NULL DEFAULT '{}',
	total      INTEGER NOT NULL DEFAULT 0,
	completed  INTEGER NOT NULL DEFAULT 0,
	failed     INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
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
	next_retry_at DATETIME NOT NULL,
	claimed_at    DATETIME,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_line_items_product ON line_items(product_id);
CREATE INDEX IF NOT EXISTS idx_resolved_impacts_item ON resolved_impacts(line_item_id, superseded);
CREATE INDEX IF NOT EXISTS idx_allocations_pair ON allocation_records(product_id, facility_id);
CREATE INDEX IF NOT EXISTS idx_mix_product ON production_mix(product_id);
CREATE INDEX IF NOT EXISTS idx_aggregates_product ON aggregated_impacts(product_id, superseded);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON recalc_jobs(status, next_retry_at, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_batch ON recalc_jobs(batch_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Weighting sets

func (s *SQLiteStore) SaveWeightingSet(ctx context.Context, ws model.WeightingSet) error {
	payload, err := json.Marshal(ws)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal weighting set")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO weighting_sets (id, is_default, payload) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET is_default = excluded.is_default, payload = excluded.payload`,
		ws.ID, boolToInt(ws.IsDefault), string(payload),
	)
	return eris.Wrapf(err, "sqlite: save weighting set %s", ws.ID)
}

func (s *SQLiteStore) ListWeightingSets(ctx context.Context) ([]model.WeightingSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM weighting_sets ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list weighting sets")
	}
	defer rows.Close()

	var sets []model.WeightingSet
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan weighting set")
		}
		var ws model.WeightingSet
		if err := json.Unmarshal([]byte(payload), &ws); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal weighting set")
		}
		sets = append(sets, ws)
	}
	return sets, eris.Wrap(rows.Err(), "sqlite: list weighting sets iterate")
}

// Line items

func (s *SQLiteStore) SaveLineItem(ctx context.Context, item *model.MaterialLineItem) error {
	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = uuid.New().String()
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	payload, err := json.Marshal(item)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal line item")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO line_items (id, product_id, organisation_id, payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		item.ID, item.ProductID, item.OrganisationID, string(payload), item.CreatedAt, item.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save line item %s", item.ID)
}

func (s *SQLiteStore) ListLineItems(ctx context.Context, productID string) ([]model.MaterialLineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM line_items WHERE product_id = ? ORDER BY created_at`,
		productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list line items")
	}
	defer rows.Close()

	var items []model.MaterialLineItem
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan line item")
		}
		var item model.MaterialLineItem
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal line item")
		}
		items = append(items, item)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list line items iterate")
}

// Resolved impacts

func (s *SQLiteStore) SaveResolvedImpact(ctx context.Context, imp *model.ResolvedImpact) error {
	if imp.ID == "" {
		imp.ID = uuid.New().String()
	}
	if imp.ResolvedAt.IsZero() {
		imp.ResolvedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(imp)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal resolved impact")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save resolved impact")
	}
	defer tx.Rollback()

	// Supersede the previous current record for this line item.
	if _, err := tx.ExecContext(ctx,
		`UPDATE resolved_impacts SET superseded = 1 WHERE line_item_id = ? AND superseded = 0`,
		imp.LineItemID,
	); err != nil {
		return eris.Wrap(err, "sqlite: supersede resolved impact")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO resolved_impacts (id, line_item_id, superseded, payload, resolved_at) VALUES (?, ?, 0, ?, ?)`,
		imp.ID, imp.LineItemID, string(payload), imp.ResolvedAt,
	); err != nil {
		return eris.Wrap(err, "sqlite: insert resolved impact")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit resolved impact")
}

func (s *SQLiteStore) CurrentImpacts(ctx context.Context, productID string) ([]model.LineItemImpact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT li.payload, ri.payload FROM line_items li
		 JOIN resolved_impacts ri ON ri.line_item_id = li.id AND ri.superseded = 0
		 WHERE li.product_id = ?
		 ORDER BY li.created_at`,
		productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: current impacts")
	}
	defer rows.Close()

	var out []model.LineItemImpact
	for rows.Next() {
		var itemJSON, impJSON string
		if err := rows.Scan(&itemJSON, &impJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan current impact")
		}
		var item model.MaterialLineItem
		if err := json.Unmarshal([]byte(itemJSON), &item); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal line item")
		}
		var imp model.ResolvedImpact
		if err := json.Unmarshal([]byte(impJSON), &imp); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal resolved impact")
		}
		out = append(out, model.LineItemImpact{
			LineItemID: item.ID,
			Quantity:   item.Quantity,
			Impact:     imp,
		})
	}
	return out, eris.Wrap(rows.Err(), "sqlite: current impacts iterate")
}

// Allocation records

func (s *SQLiteStore) SaveAllocation(ctx context.Context, rec *model.AllocationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal allocation")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save allocation")
	}
	defer tx.Rollback()

	// Period overlap check against existing records for the same pair.
	rows, err := tx.QueryContext(ctx,
		`SELECT period_start, period_end FROM allocation_records
		 WHERE product_id = ? AND facility_id = ? AND id != ?`,
		rec.ProductID, rec.FacilityID, rec.ID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: query allocation periods")
	}
	var periods []model.Period
	for rows.Next() {
		var p model.Period
		if err := rows.Scan(&p.Start, &p.End); err != nil {
			rows.Close()
			return eris.Wrap(err, "sqlite: scan allocation period")
		}
		periods = append(periods, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "sqlite: iterate allocation periods")
	}
	if err := allocation.CheckOverlap(periods, rec.Period); err != nil {
		return eris.Wrapf(err, "sqlite: allocation for product %s facility %s", rec.ProductID, rec.FacilityID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO allocation_records (id, product_id, facility_id, period_start, period_end, payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		rec.ID, rec.ProductID, rec.FacilityID, rec.Period.Start, rec.Period.End,
		string(payload), rec.CreatedAt, rec.UpdatedAt,
	); err != nil {
		return eris.Wrap(err, "sqlite: insert allocation")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit allocation")
}

func (s *SQLiteStore) ListAllocations(ctx context.Context, productID string) ([]model.AllocationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM allocation_records WHERE product_id = ? ORDER BY period_start`,
		productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list allocations")
	}
	defer rows.Close()

	var recs []model.AllocationRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan allocation")
		}
		var rec model.AllocationRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal allocation")
		}
		recs = append(recs, rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list allocations iterate")
}

// Production mix

func (s *SQLiteStore) ReplaceMix(ctx context.Context, productID string, entries []model.ProductionMixEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace mix")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM production_mix WHERE product_id = ?`, productID); err != nil {
		return eris.Wrap(err, "sqlite: clear mix")
	}
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO production_mix (id, product_id, facility_id, share) VALUES (?, ?, ?, ?)`,
			e.ID, productID, e.FacilityID, e.Share,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert mix entry")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit mix")
}

func (s *SQLiteStore) GetMix(ctx context.Context, productID string) ([]model.ProductionMixEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, facility_id, share FROM production_mix WHERE product_id = ? ORDER BY facility_id`,
		productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get mix")
	}
	defer rows.Close()

	var entries []model.ProductionMixEntry
	for rows.Next() {
		var e model.ProductionMixEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.FacilityID, &e.Share); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mix entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: get mix iterate")
}

// Aggregated impacts

func (s *SQLiteStore) SaveAggregatedImpact(ctx context.Context, agg *model.AggregatedImpact) error {
	if agg.ID == "" {
		agg.ID = uuid.New().String()
	}
	payload, err := json.Marshal(agg)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal aggregate")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save aggregate")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE aggregated_impacts SET superseded = 1 WHERE product_id = ? AND superseded = 0`,
		agg.ProductID,
	); err != nil {
		return eris.Wrap(err, "sqlite: supersede aggregate")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO aggregated_impacts (id, product_id, has_score, superseded, payload, computed_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		agg.ID, agg.ProductID, boolToInt(agg.SingleScore != nil), string(payload), agg.ComputedAt,
	); err != nil {
		return eris.Wrap(err, "sqlite: insert aggregate")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit aggregate")
}

func (s *SQLiteStore) CurrentAggregate(ctx context.Context, productID string) (*model.AggregatedImpact, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM aggregated_impacts WHERE product_id = ? AND superseded = 0`,
		productID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: current aggregate")
	}
	var agg model.AggregatedImpact
	if err := json.Unmarshal([]byte(payload), &agg); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal aggregate")
	}
	return &agg, nil
}

// Recalculation queue

func (s *SQLiteStore) SelectProducts(ctx context.Context, sel model.JobSelector) ([]string, error) {
	if len(sel.ProductIDs) > 0 {
		return sel.ProductIDs, nil
	}

	query := `SELECT DISTINCT li.product_id FROM line_items li WHERE 1=1`
	var args []any
	if sel.OrganisationID != "" {
		query += ` AND li.organisation_id = ?`
		args = append(args, sel.OrganisationID)
	}
	if sel.MissingScoreOnly {
		query += ` AND NOT EXISTS (
			SELECT 1 FROM aggregated_impacts ai
			WHERE ai.product_id = li.product_id AND ai.superseded = 0 AND ai.has_score = 1)`
	}
	query += ` ORDER BY li.product_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select products")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: select products iterate")
}

func (s *SQLiteStore) CreateBatch(ctx context.Context, batch *model.RecalculationBatch, jobs []model.RecalculationJob) error {
	metadata, err := json.Marshal(batch.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal batch metadata")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create batch")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO recalc_batches (id, status, metadata, total, completed, failed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, 0, ?, ?)`,
		batch.ID, string(batch.Status), string(metadata), batch.Total, batch.CreatedAt, batch.UpdatedAt,
	); err != nil {
		return eris.Wrap(err, "sqlite: insert batch")
	}
	for _, j := range jobs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recalc_jobs
			 (id, batch_id, product_id, status, priority, attempt_count, max_attempts, next_retry_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
			j.ID, j.BatchID, j.ProductID, string(j.Status), j.Priority, j.MaxAttempts,
			j.NextRetryAt, j.CreatedAt, j.UpdatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert job for product %s", j.ProductID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit batch")
}

func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*model.RecalculationBatch, error) {
	var b model.RecalculationBatch
	var metadata string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, metadata, total, completed, failed, created_at, updated_at
		 FROM recalc_batches WHERE id = ?`,
		id,
	).Scan(&b.ID, &b.Status, &metadata, &b.Total, &b.Completed, &b.Failed, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("batch not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get batch %s", id)
	}
	if err := json.Unmarshal([]byte(metadata), &b.Metadata); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal batch metadata")
	}
	return &b, nil
}

func (s *SQLiteStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.RecalculationBatch, error) {
	query := `SELECT id, status, metadata, total, completed, failed, created_at, updated_at
	          FROM recalc_batches WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close()

	var batches []model.RecalculationBatch
	for rows.Next() {
		var b model.RecalculationBatch
		var metadata string
		if err := rows.Scan(&b.ID, &b.Status, &metadata, &b.Total, &b.Completed, &b.Failed, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch")
		}
		if err := json.Unmarshal([]byte(metadata), &b.Metadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal batch metadata")
		}
		batches = append(batches, b)
	}
	return batches, eris.Wrap(rows.Err(), "sqlite: list batches iterate")
}

func (s *SQLiteStore) CancelBatch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recalc_batches SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(model.BatchCancelled), time.Now().UTC(), id,
		string(model.BatchPending), string(model.BatchRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: cancel batch %s", id)
	}
	return checkRowsAffected(res, "batch", id)
}

// ClaimNextJob takes the single best eligible job in one conditional
// UPDATE. SQLite serialises writers, so the statement is atomic and no two
// claimants can receive the same row.
func (s *SQLiteStore) ClaimNextJob(ctx context.Context) (*model.RecalculationJob, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx,
		`UPDATE recalc_jobs
		 SET status = 'processing', attempt_count = attempt_count + 1, claimed_at = ?, updated_at = ?
		 WHERE id = (
			SELECT j.id FROM recalc_jobs j
			JOIN recalc_batches b ON b.id = j.batch_id
			WHERE j.status = 'pending' AND j.next_retry_at <= ? AND b.status != 'cancelled'
			ORDER BY j.priority DESC, j.created_at ASC
			LIMIT 1)
		 RETURNING id, batch_id, product_id, status, priority, attempt_count, max_attempts,
		           COALESCE(last_error, ''), next_retry_at, claimed_at, created_at, updated_at`,
		now, now, now,
	)

	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim next job")
	}

	// First claim moves the batch out of pending.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE recalc_batches SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.BatchRunning), now, j.BatchID, string(model.BatchPending),
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: mark batch running")
	}
	return j, nil
}

func (s *SQLiteStore) MarkJobCompleted(ctx context.Context, jobID string) error {
	return s.finishJob(ctx, jobID, string(model.JobCompleted), "", "completed")
}

func (s *SQLiteStore) MarkJobFailed(ctx context.Context, jobID, lastError string) error {
	return s.finishJob(ctx, jobID, string(model.JobFailed), lastError, "failed")
}

// finishJob moves a processing job to a terminal state, bumps the batch
// counter, and closes the batch when every job is terminal.
func (s *SQLiteStore) finishJob(ctx context.Context, jobID, status, lastError, counter string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin finish job")
	}
	defer tx.Rollback()

	var batchID string
	err = tx.QueryRowContext(ctx,
		`UPDATE recalc_jobs SET status = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = 'processing'
		 RETURNING batch_id`,
		status, lastError, now, jobID,
	).Scan(&batchID)
	if err == sql.ErrNoRows {
		return eris.Errorf("job not processing: %s", jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish job %s", jobID)
	}

	// counter is a column name from a fixed internal set, not user input.
	if _, err := tx.ExecContext(ctx,
		`UPDATE recalc_batches SET `+counter+` = `+counter+` + 1, updated_at = ? WHERE id = ?`,
		now, batchID,
	); err != nil {
		return eris.Wrap(err, "sqlite: bump batch counter")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE recalc_batches SET status = ?, updated_at = ?
		 WHERE id = ? AND completed + failed >= total AND status != ?`,
		string(model.BatchCompleted), now, batchID, string(model.BatchCompleted),
	); err != nil {
		return eris.Wrap(err, "sqlite: close batch")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit finish job")
}

func (s *SQLiteStore) RetryJob(ctx context.Context, jobID, lastError string, nextRetryAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recalc_jobs
		 SET status = 'pending', last_error = ?, next_retry_at = ?, claimed_at = NULL, updated_at = ?
		 WHERE id = ? AND status = 'processing'`,
		lastError, nextRetryAt, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: retry job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) SweepStaleJobs(ctx context.Context, lease time.Duration) (int, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE recalc_jobs
		 SET status = 'pending', claimed_at = NULL, next_retry_at = ?, updated_at = ?
		 WHERE status = 'processing' AND claimed_at <= ?`,
		now, now, now.Add(-lease),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sweep stale jobs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: sweep rows affected")
}

// helpers

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.RecalculationJob, error) {
	var j model.RecalculationJob
	var claimedAt sql.NullTime
	err := row.Scan(&j.ID, &j.BatchID, &j.ProductID, &j.Status, &j.Priority,
		&j.AttemptCount, &j.MaxAttempts, &j.LastError, &j.NextRetryAt,
		&claimedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		j.ClaimedAt = &t
	}
	return &j, nil
}
