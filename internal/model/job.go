package model

import "time"

// JobStatus is the state of one recalculation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status is immutable.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// BatchStatus is the state of one recalculation batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	// BatchCancelled is advisory: workers stop claiming from a cancelled
	// batch but in-flight jobs run to completion.
	BatchCancelled BatchStatus = "cancelled"
)

// RecalculationJob is one unit of queued re-aggregation work, referencing
// one product assessment.
type RecalculationJob struct {
	ID           string    `json:"id"`
	BatchID      string    `json:"batch_id"`
	ProductID    string    `json:"product_id"`
	Status       JobStatus `json:"status"`
	Priority     int       `json:"priority"`
	AttemptCount int       `json:"attempt_count"`
	MaxAttempts  int       `json:"max_attempts"`
	LastError    string    `json:"last_error,omitempty"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BatchMetadata describes why a batch was enqueued.
type BatchMetadata struct {
	Reason      string `json:"reason,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// RecalculationBatch groups jobs and tracks aggregate progress. The batch
// transitions to completed when completed + failed == total, regardless of
// whether any jobs failed.
type RecalculationBatch struct {
	ID        string        `json:"id"`
	Status    BatchStatus   `json:"status"`
	Metadata  BatchMetadata `json:"metadata"`
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// JobSelector chooses which products a batch covers. An empty selector is
// platform-wide over completed assessments.
type JobSelector struct {
	OrganisationID string `json:"organisation_id,omitempty"`
	// MissingScoreOnly restricts selection to completed assessments that
	// have no current single score.
	MissingScoreOnly bool `json:"missing_score_only,omitempty"`
	// ProductIDs, when non-empty, bypasses selection and enqueues exactly
	// these products.
	ProductIDs []string `json:"product_ids,omitempty"`
	Priority   int      `json:"priority,omitempty"`
}
