package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"SegmentSync/internal/adapter/strava"
	"SegmentSync/internal/interfaces"
	"SegmentSync/internal/model"
	"SegmentSync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Registrar OAuth 回调注册
type Registrar interface {
	Register(ctx context.Context, code string) (*service.RegistrationResult, error)
}

// RunnerAdmin 管理员对选手的直接修改
type RunnerAdmin interface {
	UpdateCounts(ctx context.Context, athleteID int64, counts model.SegmentCounts) (*model.RunnerRecord, error)
	AddManualRunner(ctx context.Context, name string, counts model.SegmentCounts) (*model.RunnerRecord, error)
	AddPlaceholder(ctx context.Context, name string) (*model.RunnerRecord, error)
	DeleteRunner(ctx context.Context, athleteID int64) error
}

// RunnerView 选手记录的对外视图（不含凭据）
type RunnerView struct {
	AthleteID      int64                `json:"athlete_id"`
	Name           string               `json:"name"`
	CredentialMode model.CredentialMode `json:"credential_mode"`
	LastSynced     int64                `json:"last_synced"`
	TotalCount     int                  `json:"total_count"`
	SegmentCounts  model.SegmentCounts  `json:"segment_counts"`
}

func newRunnerView(rec *model.RunnerRecord) RunnerView {
	return RunnerView{
		AthleteID:      rec.AthleteID,
		Name:           rec.DisplayName,
		CredentialMode: rec.Credential.Mode(),
		LastSynced:     rec.LastSyncedEpoch,
		TotalCount:     rec.TotalCount,
		SegmentCounts:  rec.SegmentCounts,
	}
}

// ManualRunnerRequest 新增手工选手请求
type ManualRunnerRequest struct {
	Name   string              `json:"name" binding:"required"`
	Counts model.SegmentCounts `json:"counts"`
}

// PlaceholderRequest 新增占位选手请求
type PlaceholderRequest struct {
	Name string `json:"name" binding:"required"`
}

// UpdateCountsRequest 修改路段计数请求，键为路段ID
type UpdateCountsRequest struct {
	Counts model.SegmentCounts `json:"counts" binding:"required"`
}

// RunnerHandler 选手注册与管理接口
type RunnerHandler struct {
	registrar Registrar
	admin     RunnerAdmin
	logger    *logrus.Logger
}

func NewRunnerHandler(registrar Registrar, admin RunnerAdmin, logger *logrus.Logger) *RunnerHandler {
	return &RunnerHandler{registrar: registrar, admin: admin, logger: logger}
}

// OAuthCallback 授权回调：用授权码注册选手并立即回填
// GET /oauth/callback?code=xxx
func (h *RunnerHandler) OAuthCallback(c *gin.Context) {
	if denied := c.Query("error"); denied != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization denied: " + denied})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	// 回填耗时较长，客户端断开不应中断注册
	result, err := h.registrar.Register(context.WithoutCancel(c.Request.Context()), code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAlreadyRegistered):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, strava.ErrCredentialExpired):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, strava.ErrUpstreamUnavailable):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			h.logger.WithError(err).Error("Register failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// AddManualRunner 新增手工录入选手
// POST /api/admin/runners/manual
func (h *RunnerHandler) AddManualRunner(c *gin.Context) {
	var req ManualRunnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.admin.AddManualRunner(c.Request.Context(), req.Name, req.Counts)
	if err != nil {
		h.writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newRunnerView(rec))
}

// AddPlaceholder 新增占位选手
// POST /api/admin/runners/placeholder
func (h *RunnerHandler) AddPlaceholder(c *gin.Context) {
	var req PlaceholderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.admin.AddPlaceholder(c.Request.Context(), req.Name)
	if err != nil {
		h.writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newRunnerView(rec))
}

// UpdateCounts 覆盖路段计数
// PUT /api/admin/runners/:athlete_id/counts
func (h *RunnerHandler) UpdateCounts(c *gin.Context) {
	athleteID, ok := athleteIDParam(c)
	if !ok {
		return
	}
	var req UpdateCountsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.admin.UpdateCounts(c.Request.Context(), athleteID, req.Counts)
	if err != nil {
		h.writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRunnerView(rec))
}

// DeleteRunner 删除选手
// DELETE /api/admin/runners/:athlete_id
func (h *RunnerHandler) DeleteRunner(c *gin.Context) {
	athleteID, ok := athleteIDParam(c)
	if !ok {
		return
	}
	if err := h.admin.DeleteRunner(c.Request.Context(), athleteID); err != nil {
		h.writeAdminError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RunnerHandler) writeAdminError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, interfaces.ErrRunnerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUnknownSegment),
		errors.Is(err, service.ErrInvalidCount),
		errors.Is(err, service.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.WithError(err).Error("admin operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func athleteIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("athlete_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "athlete_id must be an integer"})
		return 0, false
	}
	return id, true
}
