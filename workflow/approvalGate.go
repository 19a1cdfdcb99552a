package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/kalbooks/preorder_backend/approval"
	"bitbucket.org/kalbooks/preorder_backend/config"
	"bitbucket.org/kalbooks/preorder_backend/models"
)

const gateModule = "workflow/approvalGate"

// RejectedLabel on a closed ticket rejects the whole batch regardless of
// marker state in the body.
const RejectedLabel = "rejected"

// BatchStore persists approval batch state for the gate. The gorm-backed
// implementation is the production one; tests run the gate against an
// in-memory store.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch *models.ApprovalBatch) error
	SetTicketRef(ctx context.Context, batchID int, ticketRef string) error
	FinalizeBatch(ctx context.Context, batch *models.ApprovalBatch, state models.BatchState, decidedBy string, decisions map[string]bool) error
	MostRecentOpenBatch(ctx context.Context) (*models.ApprovalBatch, error)
}

type gormBatchStore struct {
	db *gorm.DB
}

func NewBatchStore(db *gorm.DB) BatchStore {
	return &gormBatchStore{db: db}
}

func (s *gormBatchStore) CreateBatch(ctx context.Context, batch *models.ApprovalBatch) error {
	return s.db.WithContext(ctx).Create(batch).Error
}

func (s *gormBatchStore) SetTicketRef(ctx context.Context, batchID int, ticketRef string) error {
	return s.db.WithContext(ctx).Model(&models.ApprovalBatch{}).
		Where("id = ?", batchID).
		Update("ticket_ref", ticketRef).Error
}

func (s *gormBatchStore) FinalizeBatch(ctx context.Context, batch *models.ApprovalBatch, state models.BatchState, decidedBy string, decisions map[string]bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return batch.MarkDecided(tx, state, decidedBy, decisions)
	})
}

func (s *gormBatchStore) MostRecentOpenBatch(ctx context.Context) (*models.ApprovalBatch, error) {
	return models.MostRecentOpenBatch(ctx, s.db)
}

// ApprovalGate publishes pending-release batches to the approval surface and
// blocks the run until a human decision lands. All gate state is derived from
// the external ticket, so a restarted process resumes by re-reading it.
type ApprovalGate struct {
	Store        BatchStore
	Surface      approval.Surface
	Logger       *logrus.Logger
	WaitBudget   time.Duration // how long a batch may await a decision
	PollInterval time.Duration
	Now          func() time.Time
}

func NewApprovalGate(db *gorm.DB, surface approval.Surface, logger *logrus.Logger) *ApprovalGate {
	return &ApprovalGate{
		Store:        NewBatchStore(db),
		Surface:      surface,
		Logger:       logger,
		WaitBudget:   6 * time.Hour,
		PollInterval: 5 * time.Minute,
		Now:          time.Now,
	}
}

// OpenOrResume returns the batch this run must wait on. A batch left
// awaiting a decision by a killed process is picked up as-is instead of
// publishing a second ticket; only the newest open batch is ever actionable.
func (g *ApprovalGate) OpenOrResume(ctx context.Context, runID string, pending []models.ReadinessRecord) (*models.ApprovalBatch, error) {
	batch, err := g.Store.MostRecentOpenBatch(ctx)
	if err == nil {
		g.Logger.WithFields(logrus.Fields{
			"module": gateModule, "runId": runID, "batchId": batch.ID,
			"ticketRef": batch.TicketRef, "batchRunId": batch.RunID,
		}).Info("resuming open approval batch")
		return batch, nil
	}
	if !errors.Is(err, models.ErrNoOpenBatch) {
		return nil, fmt.Errorf("look up open approval batch: %w", err)
	}
	return g.Open(ctx, runID, pending)
}

// Open persists a new batch for this run's pending titles and publishes it.
// An empty pending set needs no human: the batch is recorded approved
// immediately so the cycle's audit trail stays complete.
func (g *ApprovalGate) Open(ctx context.Context, runID string, pending []models.ReadinessRecord) (*models.ApprovalBatch, error) {
	now := g.Now().UTC()
	batch := &models.ApprovalBatch{
		RunID:     runID,
		State:     models.BatchAwaitingDecision,
		ExpiresAt: now.Add(g.WaitBudget),
	}
	for _, rec := range pending {
		batch.Rows = append(batch.Rows, models.ApprovalBatchRow{
			Isbn:       rec.Isbn,
			Title:      rec.Title,
			PresaleQty: rec.PresaleQty,
			Inventory:  rec.Inventory,
			PubDate:    rec.PubDate,
		})
	}

	if len(pending) == 0 {
		batch.State = models.BatchApproved
		batch.DecidedAt = &now
		batch.DecidedBy = "system:empty-batch"
		if err := g.Store.CreateBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("persist empty approval batch: %w", err)
		}
		g.Logger.WithFields(logrus.Fields{
			"module": gateModule, "runId": runID, "batchId": batch.ID,
		}).Info("no pending titles; batch auto-approved")
		return batch, nil
	}

	if err := g.Store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("persist approval batch: %w", err)
	}
	ticketRef, err := g.Surface.Publish(ctx, batch)
	if err != nil {
		config.LogError(g.Logger, gateModule, "Open", "publish batch", batch.ID, err)
		return nil, err
	}
	if err := g.Store.SetTicketRef(ctx, batch.ID, ticketRef); err != nil {
		return nil, fmt.Errorf("store ticket ref: %w", err)
	}
	batch.TicketRef = ticketRef
	g.Logger.WithFields(logrus.Fields{
		"module": gateModule, "runId": runID, "batchId": batch.ID,
		"ticketRef": ticketRef, "titles": len(batch.Rows),
	}).Info("approval batch published")
	return batch, nil
}

// Await polls the surface until the batch reaches a terminal state. The
// decision is then persisted, flipping Included on approved rows. The wait is
// bounded by the batch's decision window even when the surface is down: a
// fetch error past ExpiresAt expires the batch rather than retrying forever.
func (g *ApprovalGate) Await(ctx context.Context, batch *models.ApprovalBatch) (*models.ApprovalBatch, error) {
	if batch.State != models.BatchAwaitingDecision {
		return batch, nil
	}

	backoff := g.PollInterval
	for {
		st, err := g.Surface.Fetch(ctx, batch.TicketRef)
		if err != nil {
			config.LogError(g.Logger, gateModule, "Await", "fetch ticket "+batch.TicketRef, batch.ID, err)
			if g.Now().UTC().After(batch.ExpiresAt) {
				return g.finalize(ctx, batch, models.BatchExpired, "", nil)
			}
			backoff *= 2
			if backoff > 15*time.Minute {
				backoff = 15 * time.Minute
			}
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
			continue
		}
		backoff = g.PollInterval

		state, decisions := resolveTicket(st, batch.ExpiresAt, g.Now().UTC())
		if state == models.BatchAwaitingDecision {
			if err := sleepCtx(ctx, g.PollInterval); err != nil {
				return nil, err
			}
			continue
		}
		return g.finalize(ctx, batch, state, st.ClosedBy, decisions)
	}
}

func (g *ApprovalGate) finalize(ctx context.Context, batch *models.ApprovalBatch, state models.BatchState, decidedBy string, decisions map[string]bool) (*models.ApprovalBatch, error) {
	if decidedBy == "" && state == models.BatchExpired {
		decidedBy = "system:expired"
	}
	if err := g.Store.FinalizeBatch(ctx, batch, state, decidedBy, decisions); err != nil {
		return nil, fmt.Errorf("finalize batch %d: %w", batch.ID, err)
	}
	g.Logger.WithFields(logrus.Fields{
		"module": gateModule, "batchId": batch.ID, "state": state,
		"approved": len(batch.IncludedRows()), "decidedBy": decidedBy,
	}).Info("approval batch decided")
	return batch, nil
}

// resolveTicket maps a ticket snapshot onto a batch state. An open ticket
// past its decision window expires; a closed ticket carrying the rejected
// label rejects; any other closed ticket approves exactly the rows whose
// markers parse.
func resolveTicket(st *approval.TicketState, expiresAt, now time.Time) (models.BatchState, map[string]bool) {
	if st.Open {
		if now.After(expiresAt) {
			return models.BatchExpired, nil
		}
		return models.BatchAwaitingDecision, nil
	}
	if st.HasLabel(RejectedLabel) {
		return models.BatchRejected, nil
	}
	return models.BatchApproved, approval.Decisions(st.Body)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
