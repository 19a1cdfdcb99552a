package workflow

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/kalbooks/preorder_backend/models"
	"bitbucket.org/kalbooks/preorder_backend/models/reports"
)

const mergeModule = "workflow/reconciliation"

// ReleaseLedger is the slice of the ledger the merge core needs. Tests supply
// an in-memory implementation; production wires models.Ledger bound to the
// merge transaction.
type ReleaseLedger interface {
	HasReleased(ctx context.Context, isbn string) (bool, error)
	RecordRelease(ctx context.Context, entry *models.Release) error
}

// MergeInput is one cycle's material for the merge step.
type MergeInput struct {
	RegularSales map[string]int // barcode -> units sold in the window
	Refunds      map[string]int // isbn -> units refunded in the window
	Batch        *models.ApprovalBatch
	PendingIsbns map[string]bool   // classified pending this run
	Titles       map[string]string // isbn -> display title
	ReleasedOn   time.Time
}

// MergeResult is the merge step's full output: the report lines, the audit
// trail of exclusions, and the ledger entries appended this cycle.
type MergeResult struct {
	Lines       []reports.ReportLine
	Exclusions  []reports.Exclusion
	NewReleases []models.Release
	TotalQty    int
}

// merge is the double-count-safe core. It consults and appends to the ledger
// through the interface so the same code path runs against the database in
// production and against a fake in tests.
//
// Regular sales flow in first: non-book barcodes, zero and refunded-to-zero
// quantities, and titles still awaiting approval are excluded with a reason.
// Then each approved batch row becomes a ledger entry plus a release line;
// a title already in the ledger contributes nothing and is logged, never
// double-counted.
func merge(ctx context.Context, ledger ReleaseLedger, in MergeInput, logger *logrus.Logger) (*MergeResult, error) {
	res := &MergeResult{}

	approvedNow := make(map[string]bool)
	if in.Batch != nil && in.Batch.State == models.BatchApproved {
		for _, row := range in.Batch.IncludedRows() {
			approvedNow[row.Isbn] = true
		}
	}

	barcodes := make([]string, 0, len(in.RegularSales))
	for barcode := range in.RegularSales {
		barcodes = append(barcodes, barcode)
	}
	sort.Strings(barcodes)

	for _, barcode := range barcodes {
		qty := in.RegularSales[barcode]
		title := in.Titles[barcode]

		if !models.IsReportableIsbn(barcode) {
			res.Exclusions = append(res.Exclusions, reports.Exclusion{
				Isbn: barcode, Title: title, Reason: models.ExcludedNotIsbn, Quantity: qty,
			})
			continue
		}
		if qty == 0 {
			res.Exclusions = append(res.Exclusions, reports.Exclusion{
				Isbn: barcode, Title: title, Reason: models.ExcludedZeroQuantity, Quantity: qty,
			})
			continue
		}
		net := qty - in.Refunds[barcode]
		if net <= 0 {
			res.Exclusions = append(res.Exclusions, reports.Exclusion{
				Isbn: barcode, Title: title, Reason: models.ExcludedRefundedToZero, Quantity: qty,
			})
			continue
		}
		if in.PendingIsbns[barcode] && !approvedNow[barcode] {
			// The title is still gated: its units stay banked in the presale
			// log until a batch releases it.
			res.Exclusions = append(res.Exclusions, reports.Exclusion{
				Isbn: barcode, Title: title, Reason: models.ExcludedPendingApproval, Quantity: net,
			})
			continue
		}
		res.Lines = append(res.Lines, reports.ReportLine{
			Isbn: barcode, Title: title, Quantity: net, Source: models.SourceRegularSale,
		})
	}

	if in.Batch != nil && in.Batch.State == models.BatchApproved {
		for _, row := range in.Batch.IncludedRows() {
			if !models.IsReportableIsbn(row.Isbn) {
				// Same filter the regular-sales path applies: a non-book
				// identifier never reaches the feed, approved or not.
				res.Exclusions = append(res.Exclusions, reports.Exclusion{
					Isbn: row.Isbn, Title: row.Title, Reason: models.ExcludedNotIsbn, Quantity: row.PresaleQty,
				})
				continue
			}
			entry := models.Release{
				Isbn:               row.Isbn,
				Title:              row.Title,
				ReleasedOn:         in.ReleasedOn,
				ApprovedBy:         in.Batch.DecidedBy,
				InventoryOnRelease: row.Inventory,
				TotalPresales:      row.PresaleQty,
			}
			err := ledger.RecordRelease(ctx, &entry)
			if errors.Is(err, models.ErrDuplicateRelease) {
				logger.WithFields(logrus.Fields{
					"module": mergeModule, "isbn": row.Isbn,
				}).Warn("title already in release ledger; dropping release line")
				continue
			}
			if err != nil {
				return nil, err
			}
			res.NewReleases = append(res.NewReleases, entry)
			res.Lines = append(res.Lines, reports.ReportLine{
				Isbn:     row.Isbn,
				Title:    row.Title,
				Quantity: row.PresaleQty,
				Source:   models.SourcePreorderRelease,
			})
		}
	}

	for _, line := range res.Lines {
		res.TotalQty += line.Quantity
	}
	return res, nil
}

// Merger runs the merge inside one database transaction: ledger appends, row
// decisions and outbox records commit together or not at all.
type Merger struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewMerger(db *gorm.DB, logger *logrus.Logger) *Merger {
	return &Merger{DB: db, Logger: logger}
}

// Merge produces the cycle's report content and appends any approved
// releases to the ledger. correlationID ties the outbox notifications back to
// this run.
func (m *Merger) Merge(ctx context.Context, in MergeInput, correlationID string) (*MergeResult, error) {
	var result *MergeResult
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := merge(ctx, models.NewLedger(tx), in, m.Logger)
		if err != nil {
			return err
		}
		for i := range res.NewReleases {
			if err := models.EnqueueReleaseEvent(tx, &res.NewReleases[i], correlationID); err != nil {
				return err
			}
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.Logger.WithFields(logrus.Fields{
		"module": mergeModule, "correlationId": correlationID,
		"lines": len(result.Lines), "exclusions": len(result.Exclusions),
		"newReleases": len(result.NewReleases), "totalQty": result.TotalQty,
	}).Info("reconciliation merge complete")
	return result, nil
}
