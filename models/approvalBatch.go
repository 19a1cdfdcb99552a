package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ApprovalBatch is one cycle's set of pending-release titles submitted for a
// human decision. State is mirrored from the external ticket: the waiting
// process may be killed and relaunched between polls, so nothing here is
// authoritative about the decision until DecidedAt is set.
type ApprovalBatch struct {
	ID        int              `gorm:"primary_key" json:"id"`
	RunID     string           `gorm:"size:36;index;not null" json:"run_id"`
	State     BatchState       `gorm:"size:20;not null;index" json:"state"`
	TicketRef string           `gorm:"size:200" json:"ticket_ref"`
	ExpiresAt time.Time        `gorm:"not null" json:"expires_at"`
	DecidedAt *time.Time       `json:"decided_at"`
	DecidedBy string           `gorm:"size:100" json:"decided_by"`
	Rows      []ApprovalBatchRow `gorm:"foreignKey:BatchID" json:"rows"`
	CreatedAt time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// ApprovalBatchRow is one title inside a batch. Included defaults to false:
// a title is excluded unless the surface explicitly marks it (default-deny).
type ApprovalBatchRow struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BatchID    int    `gorm:"index;not null" json:"batch_id"`
	Isbn       string `gorm:"size:13;not null" json:"isbn"`
	Title      string `gorm:"size:500" json:"title"`
	PresaleQty int    `gorm:"not null" json:"presale_qty"`
	Inventory  int    `json:"inventory"`
	PubDate    string `gorm:"size:20" json:"pub_date"`
	Included   bool   `gorm:"not null;default:false" json:"included"`
}

var ErrNoOpenBatch = errors.New("no open approval batch")

// MostRecentOpenBatch returns the newest batch still awaiting a decision.
// Older open batches are not actionable; decisions are never merged across
// batches.
func MostRecentOpenBatch(ctx context.Context, db *gorm.DB) (*ApprovalBatch, error) {
	var batch ApprovalBatch
	err := db.WithContext(ctx).
		Where("state = ?", BatchAwaitingDecision).
		Order("id DESC").
		Preload("Rows").
		First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoOpenBatch
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// MarkDecided finalizes the batch state and flips Included on the rows the
// surface approved. Rows absent from decisions stay excluded.
func (b *ApprovalBatch) MarkDecided(tx *gorm.DB, state BatchState, decidedBy string, decisions map[string]bool) error {
	if b.State != BatchAwaitingDecision {
		return errors.New("batch already decided")
	}
	now := time.Now().UTC()
	if err := tx.Model(&ApprovalBatch{}).Where("id = ?", b.ID).Updates(map[string]interface{}{
		"state":      state,
		"decided_at": &now,
		"decided_by": decidedBy,
	}).Error; err != nil {
		return err
	}
	b.State = state
	b.DecidedAt = &now
	b.DecidedBy = decidedBy

	if state != BatchApproved {
		return nil
	}
	for i := range b.Rows {
		if decisions[b.Rows[i].Isbn] {
			if err := tx.Model(&ApprovalBatchRow{}).
				Where("id = ?", b.Rows[i].ID).
				Update("included", true).Error; err != nil {
				return err
			}
			b.Rows[i].Included = true
		}
	}
	return nil
}

// IncludedRows returns the rows explicitly approved for release.
func (b *ApprovalBatch) IncludedRows() []ApprovalBatchRow {
	var rows []ApprovalBatchRow
	for _, r := range b.Rows {
		if r.Included {
			rows = append(rows, r)
		}
	}
	return rows
}
