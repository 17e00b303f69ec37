package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeti47/replaybuffer/ccc/logging"
	"github.com/yeti47/replaybuffer/clips"
	"github.com/yeti47/replaybuffer/config"
	"github.com/yeti47/replaybuffer/replay"
	"github.com/yeti47/replaybuffer/segments"
)

// ReplaySaver saves the replay window ending at a trigger
type ReplaySaver interface {
	SaveReplay(ctx context.Context, triggerEpochMs *int64) (*replay.Result, error)
}

// ReplayHandler handles replay triggers and the replay catalog
type ReplayHandler struct {
	logger  logging.Logger
	saver   ReplaySaver
	repo    clips.ReplayRepository
	deleter clips.ReplayDeleter
}

// NewReplayHandler creates a new replay handler
func NewReplayHandler(logger logging.Logger, saver ReplaySaver, repo clips.ReplayRepository, deleter clips.ReplayDeleter) *ReplayHandler {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &ReplayHandler{
		logger:  logger,
		saver:   saver,
		repo:    repo,
		deleter: deleter,
	}
}

// SaveReplayRequest is the optional body of a replay trigger
type SaveReplayRequest struct {
	// TriggerEpochMs is the moment to save up to in network time; omitted means now
	TriggerEpochMs *int64 `json:"trigger_epoch_ms"`
}

// ReplayResponse is the JSON form of a catalog entry
type ReplayResponse struct {
	ID             string    `json:"id"`
	FilePath       string    `json:"file_path"`
	TriggerTime    time.Time `json:"trigger_time"`
	StartTimeUTCMs *int64    `json:"start_time_utc_ms,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	HasAudio       bool      `json:"has_audio"`
	FormatVersion  int       `json:"format_version"`
	CreatedAt      time.Time `json:"created_at"`
}

func toReplayResponse(r *clips.Replay) ReplayResponse {
	return ReplayResponse{
		ID:             r.ID,
		FilePath:       r.FilePath,
		TriggerTime:    r.TriggerTime,
		StartTimeUTCMs: r.StartTimeUTC,
		DurationMs:     r.Duration.Milliseconds(),
		HasAudio:       r.HasAudio,
		FormatVersion:  r.FormatVersion,
		CreatedAt:      r.CreatedAt,
	}
}

// SaveReplay handles POST /api/replay
func (h *ReplayHandler) SaveReplay(c *gin.Context) {
	var req SaveReplayRequest
	// the body is optional
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			h.logger.Warn("Invalid replay request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
	}
	if req.TriggerEpochMs != nil && *req.TriggerEpochMs <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trigger_epoch_ms must be positive"})
		return
	}

	h.logger.Info("Received replay request", "trigger_epoch_ms", req.TriggerEpochMs)

	result, err := h.saver.SaveReplay(c.Request.Context(), req.TriggerEpochMs)
	if err != nil {
		switch {
		case segments.IsNoSegmentsError(err), segments.IsMetadataNotFoundError(err):
			h.logger.Warn("Nothing to save", "error", err)
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case config.IsConfigurationError(err):
			h.logger.Error("Replay output is misconfigured", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			h.logger.Error("Failed to save replay", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save replay"})
		}
		return
	}

	c.JSON(http.StatusCreated, result)
}

// ListReplays handles GET /api/replays
func (h *ReplayHandler) ListReplays(c *gin.Context) {
	query := clips.ReplayQuery{Page: 1}

	if s := c.Query("page"); s != "" {
		page, err := strconv.Atoi(s)
		if err != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page"})
			return
		}
		query.Page = page
	}
	if s := c.Query("page_size"); s != "" {
		size, err := strconv.Atoi(s)
		if err != nil || size < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page_size"})
			return
		}
		query.PageSize = size
	}
	if s := c.Query("has_audio"); s != "" {
		hasAudio, err := strconv.ParseBool(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid has_audio. Expected boolean"})
			return
		}
		query.HasAudio = &hasAudio
	}

	replays, total, err := h.repo.Query(c.Request.Context(), query)
	if err != nil {
		h.logger.Error("Failed to query replays", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list replays"})
		return
	}

	items := make([]ReplayResponse, 0, len(replays))
	for _, r := range replays {
		items = append(items, toReplayResponse(r))
	}

	c.JSON(http.StatusOK, gin.H{
		"replays":   items,
		"total":     total,
		"page":      query.Page,
		"page_size": query.PageSize,
	})
}

// GetReplay handles GET /api/replays/:id
func (h *ReplayHandler) GetReplay(c *gin.Context) {
	r, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toReplayResponse(r))
}

// DownloadReplay handles GET /api/replays/:id/file
func (h *ReplayHandler) DownloadReplay(c *gin.Context) {
	r, ok := h.lookup(c)
	if !ok {
		return
	}

	isVideo, format, err := sniffVideoFile(r.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("Replay file is missing", "id", r.ID, "path", r.FilePath)
			c.JSON(http.StatusGone, gin.H{"error": "Replay file no longer exists"})
			return
		}
		h.logger.Error("Failed to read replay file", "id", r.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read replay file"})
		return
	}
	if !isVideo {
		h.logger.Error("Replay file is not a video", "id", r.ID, "path", r.FilePath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Replay file is corrupt"})
		return
	}

	h.logger.Debug("Serving replay file", "id", r.ID, "format", format)
	c.FileAttachment(r.FilePath, filepath.Base(r.FilePath))
}

// DeleteReplays handles DELETE /api/replays
func (h *ReplayHandler) DeleteReplays(c *gin.Context) {
	var req clips.DeleteReplaysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if len(req.ReplayIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No replay IDs provided"})
		return
	}

	resp, err := h.deleter.DeleteReplays(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to delete replays", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete replays"})
		return
	}

	status := http.StatusOK
	if len(resp.FailedReplays) > 0 && len(resp.DeletedReplays) > 0 {
		status = http.StatusMultiStatus
	} else if len(resp.FailedReplays) > 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, resp)
}

func (h *ReplayHandler) lookup(c *gin.Context) (*clips.Replay, bool) {
	id := c.Param("id")
	r, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get replay", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get replay"})
		return nil, false
	}
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Replay not found"})
		return nil, false
	}
	return r, true
}
