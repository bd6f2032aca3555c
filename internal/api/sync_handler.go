package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"SegmentSync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CycleRunner 执行一轮同步
type CycleRunner interface {
	RunCycle(ctx context.Context, opts service.RunOptions) (*service.SyncSummary, error)
}

type SyncHandler struct {
	syncService CycleRunner
	logger      *logrus.Logger
}

func NewSyncHandler(syncService CycleRunner, logger *logrus.Logger) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		logger:      logger,
	}
}

// RunSyncHandler 手动触发一轮同步
// @Summary 触发同步
// @Param force query bool false "强制全量重算"
// @Success 200 {object} service.SyncSummary
// @Failure 409 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /sync/run [post]
func (h *SyncHandler) RunSyncHandler(c *gin.Context) {
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))

	// 客户端断开不应打断已开始的同步
	ctx := context.WithoutCancel(c.Request.Context())
	summary, err := h.syncService.RunCycle(ctx, service.RunOptions{ForceFull: force})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSyncInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrStoreWrite):
			h.logger.WithError(err).Error("同步写回失败")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": summary})
		default:
			h.logger.WithError(err).Error("同步失败")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, summary)
}
