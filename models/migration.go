package models

import (
	"gorm.io/gorm"
)

// Migrate creates/updates the engine's tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Release{},
		&PresaleLog{},
		&RefundLog{},
		&Anomaly{},
		&ApprovalBatch{},
		&ApprovalBatchRow{},
		&ReleaseOutboxRecord{},
		&PubDateOverride{},
		&EarlyStockException{},
	)
}
