package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/kalbooks/preorder_backend/config"
	"bitbucket.org/kalbooks/preorder_backend/models"
)

// OutboxDispatcher drains the release outbox: it claims committed records and
// publishes them to Pub/Sub. Claiming uses SKIP LOCKED plus a worker lease so
// several replicas can run; publishing is at-least-once and consumers key on
// (isbn, correlation_id).
type OutboxDispatcher struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	WorkerID    string
	BatchSize   int
	Interval    time.Duration
	LockTTL     time.Duration
	MaxAttempts int
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:          db,
		Logger:      logger,
		WorkerID:    "dispatcher-" + uuid.NewString(),
		BatchSize:   50,
		Interval:    5 * time.Second,
		LockTTL:     30 * time.Second,
		MaxAttempts: 8,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if d == nil || d.DB == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.processOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.Interval):
		}
	}
}

func (d *OutboxDispatcher) processOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTTL)

	var claimed []models.ReleaseOutboxRecord
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("publish_status IN ?", []string{
				models.OutboxPublishStatusPending,
				models.OutboxPublishStatusFailed,
				models.OutboxPublishStatusProcessing,
			}).
			Where("(locked_at IS NULL OR locked_at <= ?)", staleBefore).
			Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if err := tx.Model(&models.ReleaseOutboxRecord{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{
					"publish_status": models.OutboxPublishStatusProcessing,
					"locked_at":      &now,
					"locked_by":      &d.WorkerID,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		config.LogError(d.Logger, "workflow/outboxDispatcher", "processOnce", "claim outbox batch", nil, err)
		return
	}
	if len(claimed) == 0 {
		return
	}

	for _, rec := range claimed {
		d.publishOne(ctx, rec)
	}
}

func (d *OutboxDispatcher) publishOne(ctx context.Context, rec models.ReleaseOutboxRecord) {
	msg := config.ReleaseEventMessage{
		ID:            rec.ID,
		Isbn:          rec.Isbn,
		Title:         rec.Title,
		ReleaseDate:   rec.ReleaseDate.Format(models.PubDateLayout),
		ApprovedBy:    rec.ApprovedBy,
		PresaleQty:    rec.PresaleQty,
		Inventory:     rec.InventoryOnRelease,
		CorrelationId: rec.CorrelationId,
	}

	msgID, err := config.PublishReleaseEvent(ctx, msg)
	if err != nil {
		attempts := rec.PublishAttempts + 1
		status := models.OutboxPublishStatusFailed
		if attempts >= d.MaxAttempts {
			status = models.OutboxPublishStatusDead
		}
		backoff := time.Duration(1<<minInt(attempts, 6)) * time.Second
		next := time.Now().UTC().Add(backoff)
		errMsg := err.Error()
		if len(errMsg) > 1000 {
			errMsg = errMsg[:1000]
		}
		_ = d.DB.WithContext(ctx).Model(&models.ReleaseOutboxRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"publish_status":     status,
				"publish_attempts":   attempts,
				"next_attempt_at":    &next,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": &errMsg,
			}).Error
		d.Logger.WithFields(logrus.Fields{
			"module": "workflow/outboxDispatcher", "recordId": rec.ID,
			"isbn": rec.Isbn, "attempts": attempts, "status": status,
		}).Error("release event publish failed: " + errMsg)
		return
	}

	_ = d.DB.WithContext(ctx).Model(&models.ReleaseOutboxRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"publish_status":   models.OutboxPublishStatusPublished,
			"publish_attempts": rec.PublishAttempts + 1,
			"is_processed":     true,
			"locked_at":        nil,
			"locked_by":        nil,
		}).Error
	d.Logger.WithFields(logrus.Fields{
		"module": "workflow/outboxDispatcher", "recordId": rec.ID,
		"isbn": rec.Isbn, "messageId": msgID,
	}).Info("release event published")
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
