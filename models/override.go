package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// PubDateOverride corrects a bad catalog publication date for one ISBN
// without touching the catalog itself. The classifier consults overrides
// before the stored date.
type PubDateOverride struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Isbn      string    `gorm:"size:13;uniqueIndex;not null" json:"isbn"`
	PubDate   string    `gorm:"size:20;not null" json:"pub_date"`
	Note      string    `gorm:"size:500" json:"note"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// EarlyStockException forces the early-release carve-out for a product even
// when its inventory feed lags (stock known to have arrived).
type EarlyStockException struct {
	ID        int       `gorm:"primary_key" json:"id"`
	ProductID string    `gorm:"size:64;uniqueIndex;not null" json:"product_id"`
	Note      string    `gorm:"size:500" json:"note"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// LoadPubDateOverrides returns ISBN → overridden publication date.
func LoadPubDateOverrides(ctx context.Context, db *gorm.DB) (map[string]string, error) {
	var rows []PubDateOverride
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	overrides := make(map[string]string, len(rows))
	for _, r := range rows {
		overrides[r.Isbn] = r.PubDate
	}
	return overrides, nil
}

// LoadEarlyStockExceptions returns the forced-early product id set.
func LoadEarlyStockExceptions(ctx context.Context, db *gorm.DB) (map[string]bool, error) {
	var rows []EarlyStockException
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(rows))
	for _, r := range rows {
		set[r.ProductID] = true
	}
	return set, nil
}
