package models

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PresaleLog accumulates units sold for a title while it is still in preorder
// status (order placed before the publication date). One row per ISBN,
// upserted on every sync.
type PresaleLog struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Isbn        string    `gorm:"size:13;uniqueIndex;not null" json:"isbn"`
	Title       string    `gorm:"size:500" json:"title"`
	PresaleQty  int       `gorm:"not null" json:"presale_qty"`
	LastUpdated time.Time `gorm:"autoUpdateTime" json:"last_updated"`
}

// UpsertPresaleTotal inserts or replaces the accumulated presale quantity for
// one ISBN.
func UpsertPresaleTotal(tx *gorm.DB, isbn, title string, qty int) error {
	row := PresaleLog{Isbn: isbn, Title: title, PresaleQty: qty}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "isbn"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "presale_qty", "last_updated"}),
	}).Create(&row).Error
}

// PresaleTotals returns accumulated presale quantity per ISBN.
func PresaleTotals(ctx context.Context, db *gorm.DB) (map[string]int, error) {
	var rows []PresaleLog
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	totals := make(map[string]int, len(rows))
	for _, r := range rows {
		totals[r.Isbn] = r.PresaleQty
	}
	return totals, nil
}

// RefundLog records refunded units fed in by the commerce refund webhook.
// The composite unique index makes webhook redelivery a no-op.
type RefundLog struct {
	ID         int       `gorm:"primary_key" json:"id"`
	Isbn       string    `gorm:"size:13;not null;uniqueIndex:idx_refund_event" json:"isbn"`
	OrderID    string    `gorm:"size:64;not null;uniqueIndex:idx_refund_event" json:"order_id"`
	Quantity   int       `gorm:"not null" json:"quantity"`
	RefundDate time.Time `gorm:"not null;uniqueIndex:idx_refund_event" json:"refund_date"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// RecordRefund inserts one refund event, ignoring exact duplicates.
// Returns true when a new row was written.
func RecordRefund(tx *gorm.DB, isbn, orderID string, qty int, refundDate time.Time) (bool, error) {
	row := RefundLog{Isbn: isbn, OrderID: orderID, Quantity: qty, RefundDate: refundDate}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RefundTotals returns refunded quantity per ISBN within [from, until).
func RefundTotals(ctx context.Context, db *gorm.DB, from, until time.Time) (map[string]int, error) {
	type agg struct {
		Isbn  string
		Total int
	}
	var rows []agg
	if err := db.WithContext(ctx).Model(&RefundLog{}).
		Select("isbn, SUM(quantity) AS total").
		Where("refund_date >= ? AND refund_date < ?", from, until).
		Group("isbn").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	totals := make(map[string]int, len(rows))
	for _, r := range rows {
		totals[r.Isbn] = r.Total
	}
	return totals, nil
}
