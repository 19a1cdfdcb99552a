package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// ErrDuplicateRelease is returned by RecordRelease when a ledger entry
// already exists for the title. This is the anti-double-count invariant:
// a title, once released, is never released again.
var ErrDuplicateRelease = errors.New("title already released")

// Release is one immutable ledger entry per (title, release event).
// Corrections require a superseding manual entry via the history-repair
// tooling, never an in-place edit.
type Release struct {
	ID                 int       `gorm:"primary_key" json:"id"`
	Isbn               string    `gorm:"size:13;uniqueIndex;not null" json:"isbn"`
	Title              string    `gorm:"size:500" json:"title"`
	ReleasedOn         time.Time `gorm:"not null" json:"released_on"`
	ApprovedBy         string    `gorm:"size:100" json:"approved_by"`
	InventoryOnRelease int       `json:"inventory_on_release"`
	TotalPresales      int       `gorm:"not null" json:"total_presales"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// The ledger is append-only; refuse writes that are not inserts.
func (Release) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("release ledger entries are immutable")
}

func (Release) BeforeDelete(tx *gorm.DB) error {
	return errors.New("release ledger entries are immutable")
}

// Validate checks the persisted shape of an entry on read. Malformed entries
// fail loudly; runtime logic never coerces them.
func (r *Release) Validate() error {
	if !IsValidIsbn(r.Isbn) {
		return fmt.Errorf("ledger entry %d: malformed isbn %q", r.ID, r.Isbn)
	}
	if r.ReleasedOn.IsZero() {
		return fmt.Errorf("ledger entry %d (%s): missing release date", r.ID, r.Isbn)
	}
	if r.TotalPresales < 0 {
		return fmt.Errorf("ledger entry %d (%s): negative presale quantity %d", r.ID, r.Isbn, r.TotalPresales)
	}
	return nil
}

// Ledger is the append-only history of released titles, keyed by ISBN.
// The Reconciliation Merger is its sole writer.
type Ledger struct {
	DB *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{DB: db}
}

func (l *Ledger) HasReleased(ctx context.Context, isbn string) (bool, error) {
	var count int64
	if err := l.DB.WithContext(ctx).Model(&Release{}).
		Where("isbn = ?", isbn).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordRelease appends one ledger entry. The unique index on isbn makes the
// insert the atomic mutation gate: a second attempt for the same title, from
// a retry or a concurrent run, surfaces as ErrDuplicateRelease instead of a
// second entry.
func (l *Ledger) RecordRelease(ctx context.Context, entry *Release) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if err := l.DB.WithContext(ctx).Create(entry).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return ErrDuplicateRelease
		}
		return err
	}
	return nil
}

// ReleasedSet returns every released ISBN, validating entry shape on read.
func (l *Ledger) ReleasedSet(ctx context.Context) (map[string]bool, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return nil, err
	}
	released := make(map[string]bool, len(entries))
	for _, e := range entries {
		released[e.Isbn] = true
	}
	return released, nil
}

func (l *Ledger) Entries(ctx context.Context) ([]Release, error) {
	var entries []Release
	if err := l.DB.WithContext(ctx).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return nil, fmt.Errorf("release ledger is corrupt: %w", err)
		}
	}
	return entries, nil
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
