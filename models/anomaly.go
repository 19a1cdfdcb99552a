package models

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Anomaly is one problematic-classification record. The log surfaces bad or
// stale catalog data for human review; it never gates releases. One row per
// (isbn, reason) so repeated runs do not spam the log.
type Anomaly struct {
	ID        int            `gorm:"primary_key" json:"id"`
	Isbn      string         `gorm:"size:13;not null;uniqueIndex:idx_anomaly" json:"isbn"`
	Subtype   ProblemSubtype `gorm:"size:30;not null;uniqueIndex:idx_anomaly" json:"subtype"`
	Detail    string         `gorm:"size:500" json:"detail"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// LogAnomaly inserts one anomaly row, ignoring an existing (isbn, subtype)
// pair.
func LogAnomaly(tx *gorm.DB, isbn string, subtype ProblemSubtype, detail string) error {
	row := Anomaly{Isbn: isbn, Subtype: subtype, Detail: detail}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func ListAnomalies(ctx context.Context, db *gorm.DB) ([]Anomaly, error) {
	var rows []Anomaly
	if err := db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
