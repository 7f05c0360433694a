package types

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// ActivityRow is one row of the loyalty_activity table. Columns that do not apply to
// an event type stay null.
type ActivityRow struct {
	EventID       string              `bigquery:"event_id"`
	EventType     string              `bigquery:"event_type"`
	AggregateType string              `bigquery:"aggregate_type"`
	AggregateID   string              `bigquery:"aggregate_id"`
	TenantID      bigquery.NullString `bigquery:"tenant_id"`
	MembershipID  bigquery.NullString `bigquery:"membership_id"`
	TransactionID bigquery.NullString `bigquery:"transaction_id"`
	PointsDelta   bigquery.NullInt64  `bigquery:"points_delta"`
	Balance       bigquery.NullInt64  `bigquery:"balance"`
	TierChange    bigquery.NullString `bigquery:"tier_change"`
	TierID        bigquery.NullString `bigquery:"tier_id"`
	Resource      bigquery.NullString `bigquery:"resource"`
	OccurredAt    time.Time           `bigquery:"occurred_at"`
	Payload       bigquery.NullJSON   `bigquery:"payload"`
}

// ActivitySchema is the BigQuery schema inferred from ActivityRow.
func ActivitySchema() (bigquery.Schema, error) {
	return bigquery.InferSchema(ActivityRow{})
}
