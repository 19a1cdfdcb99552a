package models

import (
	"time"

	"gorm.io/gorm"
)

// ReleaseOutboxRecord implements the transactional outbox for release
// notifications: the record is written inside the merge transaction, and a
// dispatcher publishes it to Pub/Sub after commit. A release is therefore
// never announced unless its ledger entry committed.
type ReleaseOutboxRecord struct {
	ID                 int        `gorm:"primary_key" json:"id"`
	Isbn               string     `gorm:"size:13;not null" json:"isbn"`
	Title              string     `gorm:"size:500" json:"title"`
	ReleaseDate        time.Time  `gorm:"not null" json:"release_date"`
	ApprovedBy         string     `gorm:"size:100" json:"approved_by"`
	PresaleQty         int        `gorm:"not null" json:"presale_qty"`
	InventoryOnRelease int        `json:"inventory_on_release"`
	CorrelationId      string     `gorm:"size:36" json:"correlation_id"`
	IsProcessed        bool       `gorm:"not null;default:false" json:"is_processed"`
	PublishStatus      string     `gorm:"size:20;not null;default:PENDING;index" json:"publish_status"`
	PublishAttempts    int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt      *time.Time `json:"next_attempt_at"`
	LockedAt           *time.Time `json:"locked_at"`
	LockedBy           *string    `gorm:"size:36" json:"locked_by"`
	LastPublishError   *string    `gorm:"size:1000" json:"last_publish_error"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// EnqueueReleaseEvent writes the outbox record inside the caller's
// transaction. It does NOT publish; publishing happens asynchronously in the
// outbox dispatcher after commit.
func EnqueueReleaseEvent(tx *gorm.DB, entry *Release, correlationID string) error {
	record := ReleaseOutboxRecord{
		Isbn:               entry.Isbn,
		Title:              entry.Title,
		ReleaseDate:        entry.ReleasedOn,
		ApprovedBy:         entry.ApprovedBy,
		PresaleQty:         entry.TotalPresales,
		InventoryOnRelease: entry.InventoryOnRelease,
		CorrelationId:      correlationID,
		PublishStatus:      OutboxPublishStatusPending,
	}
	return tx.Create(&record).Error
}
