package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bitbucket.org/kalbooks/preorder_backend/config"
	"bitbucket.org/kalbooks/preorder_backend/email"
	"bitbucket.org/kalbooks/preorder_backend/models"
	"bitbucket.org/kalbooks/preorder_backend/workflow"
)

const defaultPort = "8080"

var validate = validator.New()

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the orchestrator health check passes. Until DB/Redis
	// are ready, app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Set("correlationId", cid)
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	r.Use(cors.New(corsConfig))
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/webhooks/refund", refundWebhookHandler(logger))
	r.POST("/pubsub", releaseEventPushHandler(logger))
	r.GET("/internal/anomalies", anomaliesHandler())
	r.NoRoute(func(c *gin.Context) { c.JSON(http.StatusNotFound, gin.H{"error": "not found"}) })

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.Migrate(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Panic(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Outbox dispatcher publishes release events AFTER commit.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

	logger.WithFields(logrus.Fields{"info": "Connection Established"}).
		Info("listening on :", port)

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// RefundWebhookRequest is the commerce platform's refund notification, already
// flattened by the storefront middleware to one row per refunded line item.
type RefundWebhookRequest struct {
	OrderID    string `json:"order_id" validate:"required"`
	Barcode    string `json:"barcode" validate:"required,len=13,numeric"`
	Quantity   int    `json:"quantity" validate:"required,gt=0"`
	RefundedAt string `json:"refunded_at" validate:"required"`
}

func refundWebhookHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RefundWebhookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := validate.Struct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		refundedAt, err := time.Parse(time.RFC3339, req.RefundedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "refunded_at must be RFC3339"})
			return
		}

		inserted, err := models.RecordRefund(config.GetDB().WithContext(c.Request.Context()),
			req.Barcode, req.OrderID, req.Quantity, refundedAt.UTC())
		if err != nil {
			config.LogError(logger, "server", "refundWebhookHandler", "record refund", req, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record refund"})
			return
		}
		logger.WithFields(logrus.Fields{
			"module": "server", "isbn": req.Barcode, "orderId": req.OrderID,
			"quantity": req.Quantity, "duplicate": !inserted,
		}).Info("refund recorded")
		c.JSON(http.StatusOK, gin.H{"recorded": inserted})
	}
}

// pubSubPushEnvelope is the Pub/Sub push delivery wrapper.
type pubSubPushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// releaseEventPushHandler consumes published release events and mails the
// admin notification. Returning non-2xx makes Pub/Sub redeliver.
func releaseEventPushHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var envelope pubSubPushEnvelope
		if err := c.ShouldBindJSON(&envelope); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad message encoding"})
			return
		}
		var msg config.ReleaseEventMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad message payload"})
			return
		}

		sender, err := email.NewSender()
		if err != nil {
			// Mail not configured: ack anyway, the ledger is the source of truth.
			logger.WithFields(logrus.Fields{"module": "server", "isbn": msg.Isbn}).
				Warn("email not configured; dropping release notification: " + err.Error())
			c.Status(http.StatusNoContent)
			return
		}
		if err := sender.SendReleaseNotification(c.Request.Context(), msg); err != nil {
			config.LogError(logger, "server", "releaseEventPushHandler", "send notification", msg.Isbn, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "notification failed"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func anomaliesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := models.ListAnomalies(c.Request.Context(), config.GetDB())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

// customErrorLogger logs only requests that accumulated errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
