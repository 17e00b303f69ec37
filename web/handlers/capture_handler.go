package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeti47/replaybuffer/capture"
	"github.com/yeti47/replaybuffer/ccc/logging"
)

// CaptureController starts and stops the capture session
type CaptureController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() capture.Status
}

// ClockStatus reports the network clock state
type ClockStatus interface {
	Offset() int64
	Synced() bool
	LastSync() time.Time
	CorrectedTimeMs() int64
}

// RetentionStatus reports buffer sweep activity
type RetentionStatus interface {
	LastSweep() time.Time
	TotalDeleted() int
}

// CaptureHandler handles capture control and status
type CaptureHandler struct {
	logger     logging.Logger
	controller CaptureController
	clock      ClockStatus
	retention  RetentionStatus
}

// NewCaptureHandler creates a new capture handler
func NewCaptureHandler(logger logging.Logger, controller CaptureController, clock ClockStatus, retention RetentionStatus) *CaptureHandler {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &CaptureHandler{
		logger:     logger,
		controller: controller,
		clock:      clock,
		retention:  retention,
	}
}

// StartCapture handles POST /api/capture/start
func (h *CaptureHandler) StartCapture(c *gin.Context) {
	err := h.controller.Start(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, h.controller.Status())
	case errors.Is(err, capture.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case capture.IsSpawnError(err):
		h.logger.Error("Encoder failed to start", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Failed to start capture", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start capture"})
	}
}

// StopCapture handles POST /api/capture/stop
func (h *CaptureHandler) StopCapture(c *gin.Context) {
	err := h.controller.Stop(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, h.controller.Status())
	case errors.Is(err, capture.ErrNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Failed to stop capture", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to stop capture"})
	}
}

// GetStatus handles GET /api/status
func (h *CaptureHandler) GetStatus(c *gin.Context) {
	clock := gin.H{"synced": false, "offset_ms": int64(0)}
	if h.clock != nil {
		clock["synced"] = h.clock.Synced()
		clock["offset_ms"] = h.clock.Offset()
		clock["corrected_time_ms"] = h.clock.CorrectedTimeMs()
		if last := h.clock.LastSync(); !last.IsZero() {
			clock["last_sync"] = last
		}
	}

	body := gin.H{
		"capture": h.controller.Status(),
		"clock":   clock,
	}
	if h.retention != nil {
		sweep := gin.H{"total_deleted": h.retention.TotalDeleted()}
		if last := h.retention.LastSweep(); !last.IsZero() {
			sweep["last_sweep"] = last
		}
		body["retention"] = sweep
	}

	c.JSON(http.StatusOK, body)
}
