package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"bitbucket.org/kalbooks/preorder_backend/approval"
	"bitbucket.org/kalbooks/preorder_backend/config"
	"bitbucket.org/kalbooks/preorder_backend/models"
	"bitbucket.org/kalbooks/preorder_backend/models/reports"
	"bitbucket.org/kalbooks/preorder_backend/shopify"
	"bitbucket.org/kalbooks/preorder_backend/utils"
)

const runModule = "workflow/weeklyReport"

// RunConfig drives one reconciliation cycle.
type RunConfig struct {
	PeriodStart  time.Time
	PeriodEnd    time.Time
	GraceDays    int
	ApprovalWait time.Duration
	PollInterval time.Duration
	OutputDir    string
	DryRun       bool
}

// WeeklyReportWorkflow is the end-to-end cycle: snapshot, classify, gate,
// merge, artifacts, cleanup.
type WeeklyReportWorkflow struct {
	DB      *gorm.DB
	Source  shopify.Source
	Surface approval.Surface
	Logger  *logrus.Logger
}

// RunResult summarizes one completed cycle.
type RunResult struct {
	RunID      string
	Report     *reports.WeeklyReport
	Released   []models.Release
	BatchState models.BatchState
	SalesCsv   string
}

// Run executes one full reconciliation cycle. The period lock guarantees a
// single writer; everything after the gate commits in one transaction.
func (w *WeeklyReportWorkflow) Run(ctx context.Context, cfg RunConfig) (*RunResult, error) {
	runID := uuid.NewString()
	ctx, span := otel.Tracer("preorder_backend/workflow").Start(ctx, "weekly-report-run")
	span.SetAttributes(attribute.String("run.id", runID))
	defer span.End()
	log := w.Logger.WithFields(logrus.Fields{"module": runModule, "runId": runID})

	period := cfg.PeriodEnd.Format("2006-01-02")
	lock, err := AcquireRunLock(ctx, period, 8*time.Hour)
	if err != nil {
		return nil, err
	}
	if lock != nil {
		defer lock.Release(context.WithoutCancel(ctx))
	}

	snapshot, err := w.Source.FetchPreorderTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog snapshot: %w", err)
	}
	orders, err := w.Source.FetchOrders(ctx, cfg.PeriodStart, cfg.PeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("orders window: %w", err)
	}
	log.WithFields(logrus.Fields{"titles": len(snapshot), "orders": len(orders)}).
		Info("window snapshot loaded")

	overrides, err := models.LoadPubDateOverrides(ctx, w.DB)
	if err != nil {
		return nil, err
	}
	exceptions, err := models.LoadEarlyStockExceptions(ctx, w.DB)
	if err != nil {
		return nil, err
	}
	released, err := models.NewLedger(w.DB).ReleasedSet(ctx)
	if err != nil {
		return nil, err
	}

	regular, err := w.syncPresales(ctx, snapshot, overrides, orders)
	if err != nil {
		return nil, fmt.Errorf("presale sync: %w", err)
	}
	presaleTotals, err := models.PresaleTotals(ctx, w.DB)
	if err != nil {
		return nil, err
	}

	classified := Classify(ClassifierInput{
		Snapshot:             snapshot,
		Released:             released,
		PresaleTotals:        presaleTotals,
		PubDateOverrides:     overrides,
		EarlyStockExceptions: exceptions,
		Today:                cfg.PeriodEnd,
		GraceDays:            cfg.GraceDays,
	})
	for _, rec := range classified.Problems {
		detail := fmt.Sprintf("%s (pub date %q)", rec.Title, rec.PubDate)
		if err := models.LogAnomaly(w.DB, rec.Isbn, rec.Problem, detail); err != nil {
			config.LogError(w.Logger, runModule, "Run", "log anomaly", rec.Isbn, err)
		}
	}
	// Stock on hand lets a stale-dated title release anyway, but the stale
	// date is still worth an anomaly row. Anomalies never gate.
	grace := cfg.GraceDays
	if grace <= 0 {
		grace = DefaultGraceDays
	}
	staleCutoff := cfg.PeriodEnd.UTC().Truncate(24 * time.Hour).AddDate(0, 0, -grace)
	for _, rec := range classified.Pending {
		if d, err := models.ParsePubDate(rec.PubDate); err == nil && d.Before(staleCutoff) {
			detail := fmt.Sprintf("%s (pub date %q, releasing on stock on hand)", rec.Title, rec.PubDate)
			if err := models.LogAnomaly(w.DB, rec.Isbn, models.ProblemPastPubDate, detail); err != nil {
				config.LogError(w.Logger, runModule, "Run", "log anomaly", rec.Isbn, err)
			}
		}
	}
	log.WithFields(logrus.Fields{
		"pending": len(classified.Pending), "problems": len(classified.Problems),
		"notReady": len(classified.NotReady), "released": len(classified.AlreadyReleased),
	}).Info("snapshot classified")

	gate := NewApprovalGate(w.DB, w.Surface, w.Logger)
	if cfg.ApprovalWait > 0 {
		gate.WaitBudget = cfg.ApprovalWait
	}
	if cfg.PollInterval > 0 {
		gate.PollInterval = cfg.PollInterval
	}
	batch, err := gate.OpenOrResume(ctx, runID, classified.Pending)
	if err != nil {
		w.writeDiagnostics(ctx, cfg, runID, nil, err)
		return nil, fmt.Errorf("open approval batch: %w", err)
	}
	decided, err := gate.Await(ctx, batch)
	if err != nil {
		w.writeDiagnostics(ctx, cfg, runID, batch, err)
		return nil, fmt.Errorf("await approval: %w", err)
	}
	batch = decided

	refunds, err := models.RefundTotals(ctx, w.DB, cfg.PeriodStart, cfg.PeriodEnd)
	if err != nil {
		return nil, err
	}

	pendingSet := make(map[string]bool, len(classified.Pending))
	titles := make(map[string]string, len(snapshot))
	for _, rec := range classified.Pending {
		pendingSet[rec.Isbn] = true
	}
	for _, t := range snapshot {
		if t.Isbn != "" {
			titles[t.Isbn] = t.Title
		}
	}

	in := MergeInput{
		RegularSales: regular,
		Refunds:      refunds,
		Batch:        batch,
		PendingIsbns: pendingSet,
		Titles:       titles,
		ReleasedOn:   cfg.PeriodEnd,
	}
	result, err := NewMerger(w.DB, w.Logger).Merge(ctx, in, runID)
	if err != nil {
		w.writeDiagnostics(ctx, cfg, runID, batch, err)
		return nil, fmt.Errorf("reconciliation merge: %w", err)
	}

	report := &reports.WeeklyReport{
		PeriodStart: cfg.PeriodStart,
		PeriodEnd:   cfg.PeriodEnd,
		RunID:       runID,
		Lines:       result.Lines,
		Exclusions:  result.Exclusions,
	}
	salesPath, err := reports.SaveReportFiles(report, cfg.OutputDir)
	if err != nil {
		w.writeDiagnostics(ctx, cfg, runID, batch, err)
		return nil, fmt.Errorf("write report files: %w", err)
	}
	if _, err := reports.ExportExcel(report, cfg.OutputDir); err != nil {
		config.LogError(w.Logger, runModule, "Run", "export excel workbook", runID, err)
	}
	if !cfg.DryRun {
		if err := utils.UploadArtifact(ctx, salesPath); err != nil {
			config.LogError(w.Logger, runModule, "Run", "upload sales csv", salesPath, err)
		}
	}

	if len(result.NewReleases) > 0 && !cfg.DryRun {
		var releasedIsbns []string
		for _, r := range result.NewReleases {
			releasedIsbns = append(releasedIsbns, r.Isbn)
		}
		if err := w.Source.RemoveFromPreorderCollection(ctx, releasedIsbns); err != nil {
			// Cleanup is retryable next cycle; the ledger already committed.
			config.LogError(w.Logger, runModule, "Run", "preorder collection cleanup", releasedIsbns, err)
		}
	}

	log.WithFields(logrus.Fields{
		"batchState": batch.State, "lines": len(result.Lines),
		"newReleases": len(result.NewReleases), "totalQty": result.TotalQty,
	}).Info("reconciliation cycle complete")

	return &RunResult{
		RunID:      runID,
		Report:     report,
		Released:   result.NewReleases,
		BatchState: batch.State,
		SalesCsv:   salesPath,
	}, nil
}

// syncPresales banks window orders placed before each tracked title's
// publication date into the presale log and returns the remaining
// regular-sale quantities per barcode. Tracked titles with no parseable date
// are banked too; they cannot reach the report until the date is fixed and a
// batch releases them.
func (w *WeeklyReportWorkflow) syncPresales(ctx context.Context, snapshot []models.CatalogTitle, overrides map[string]string, orders []shopify.Order) (map[string]int, error) {
	type tracked struct {
		title   string
		pubDate *time.Time
	}
	byIsbn := make(map[string]tracked, len(snapshot))
	for _, t := range snapshot {
		if t.Isbn == "" {
			continue
		}
		raw := t.PubDate
		if o, ok := overrides[t.Isbn]; ok {
			raw = o
		}
		tr := tracked{title: t.Title}
		if d, err := models.ParsePubDate(raw); err == nil {
			tr.pubDate = &d
		}
		byIsbn[t.Isbn] = tr
	}

	adds := make(map[string]int)
	regular := make(map[string]int)
	for _, order := range orders {
		for _, item := range order.LineItems {
			if item.Barcode == "" {
				continue
			}
			tr, isTracked := byIsbn[item.Barcode]
			if !isTracked {
				regular[item.Barcode] += item.Quantity
				continue
			}
			if tr.pubDate == nil || order.CreatedAt.Before(*tr.pubDate) {
				adds[item.Barcode] += item.Quantity
			} else {
				regular[item.Barcode] += item.Quantity
			}
		}
	}

	if len(adds) > 0 {
		existing, err := models.PresaleTotals(ctx, w.DB)
		if err != nil {
			return nil, err
		}
		err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for isbn, qty := range adds {
				total := existing[isbn] + qty
				if err := models.UpsertPresaleTotal(tx, isbn, byIsbn[isbn].title, total); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return regular, nil
}

// writeDiagnostics drops a JSON snapshot of the failed merge's inputs so the
// cycle can be replayed by hand.
func (w *WeeklyReportWorkflow) writeDiagnostics(ctx context.Context, cfg RunConfig, runID string, batch *models.ApprovalBatch, cause error) {
	payload := map[string]interface{}{
		"run_id": runID,
		"period": cfg.PeriodEnd.Format("2006-01-02"),
		"error":  cause.Error(),
		"batch":  batch,
	}
	if w.DB != nil {
		entries, ledgerErr := models.NewLedger(w.DB).Entries(ctx)
		payload["ledger"] = entries
		if ledgerErr != nil {
			payload["ledger_error"] = ledgerErr.Error()
		}
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return
	}
	path := filepath.Join(cfg.OutputDir, fmt.Sprintf("merge_failure_%s.json", runID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		config.LogError(w.Logger, runModule, "writeDiagnostics", "write diagnostics", path, err)
	}
}
