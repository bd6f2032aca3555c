package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"SegmentSync/internal/model"
	"SegmentSync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LeaderboardReader 排行榜只读查询
type LeaderboardReader interface {
	Overall(ctx context.Context) ([]service.LeaderboardEntry, error)
	BySegment(ctx context.Context, segmentID int64) (*service.SegmentLeaderboard, error)
	Feed(ctx context.Context, limit int) ([]model.FeedEntry, error)
	Status(ctx context.Context) (*service.SyncStatus, error)
}

// LeaderboardHandler 排行榜、动态流与同步状态
type LeaderboardHandler struct {
	leaderboard LeaderboardReader
	logger      *logrus.Logger
}

func NewLeaderboardHandler(leaderboard LeaderboardReader, logger *logrus.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{leaderboard: leaderboard, logger: logger}
}

// Overall 总榜
// GET /api/leaderboard
func (h *LeaderboardHandler) Overall(c *gin.Context) {
	entries, err := h.leaderboard.Overall(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Overall failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// BySegment 单路段榜
// GET /api/leaderboard/segments/:segment_id
func (h *LeaderboardHandler) BySegment(c *gin.Context) {
	segmentID, err := strconv.ParseInt(c.Param("segment_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "segment_id must be an integer"})
		return
	}

	board, err := h.leaderboard.BySegment(c.Request.Context(), segmentID)
	if err != nil {
		if errors.Is(err, service.ErrUnknownSegment) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).Error("BySegment failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, board)
}

// Feed 动态流
// GET /api/feed?limit=50
func (h *LeaderboardHandler) Feed(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	entries, err := h.leaderboard.Feed(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Feed failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Status 最近一次同步状态
// GET /api/status
func (h *LeaderboardHandler) Status(c *gin.Context) {
	st, err := h.leaderboard.Status(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Status failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}
