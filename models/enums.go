package models

// ReadinessClass is the per-run classification of a tracked title.
type ReadinessClass string

const (
	ReadinessPendingRelease  ReadinessClass = "pending_release"
	ReadinessProblematic     ReadinessClass = "problematic"
	ReadinessNotReady        ReadinessClass = "not_ready"
	ReadinessAlreadyReleased ReadinessClass = "already_released"
)

// ProblemSubtype narrows a problematic classification.
type ProblemSubtype string

const (
	ProblemPastPubDate      ProblemSubtype = "past_pub_date"
	ProblemMissingPubDate   ProblemSubtype = "missing_pub_date"
	ProblemMalformedPubDate ProblemSubtype = "malformed_pub_date"
)

// BatchState is the approval batch lifecycle.
type BatchState string

const (
	BatchAwaitingDecision BatchState = "awaiting_decision"
	BatchApproved         BatchState = "approved"
	BatchRejected         BatchState = "rejected"
	BatchExpired          BatchState = "expired"
)

// ReportSource tags where a report line's quantity came from.
type ReportSource string

const (
	SourceRegularSale     ReportSource = "regular_sale"
	SourcePreorderRelease ReportSource = "preorder_release"
)

// ExclusionReason explains why a title was filtered out of the report.
// Every excluded title carries exactly one.
type ExclusionReason string

const (
	ExcludedNotIsbn         ExclusionReason = "not_isbn"
	ExcludedZeroQuantity    ExclusionReason = "zero_quantity"
	ExcludedRefundedToZero  ExclusionReason = "refunded_to_zero"
	ExcludedPendingApproval ExclusionReason = "pending_approval"
)

// Outbox publish lifecycle for release events.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusPublished  = "PUBLISHED"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
