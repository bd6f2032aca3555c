package api

import "github.com/gin-gonic/gin"

// RegisterRoutes 注册全部路由
func RegisterRoutes(r gin.IRouter, syncHandler *SyncHandler, leaderboardHandler *LeaderboardHandler, runnerHandler *RunnerHandler) {
	r.POST("/sync/run", syncHandler.RunSyncHandler)

	// 排行榜与动态流（给前端页面用）
	r.GET("/api/status", leaderboardHandler.Status)
	r.GET("/api/leaderboard", leaderboardHandler.Overall)
	r.GET("/api/leaderboard/segments/:segment_id", leaderboardHandler.BySegment)
	r.GET("/api/feed", leaderboardHandler.Feed)

	// 选手授权回调
	r.GET("/oauth/callback", runnerHandler.OAuthCallback)

	admin := r.Group("/api/admin/runners")
	admin.POST("/manual", runnerHandler.AddManualRunner)
	admin.POST("/placeholder", runnerHandler.AddPlaceholder)
	admin.PUT("/:athlete_id/counts", runnerHandler.UpdateCounts)
	admin.DELETE("/:athlete_id", runnerHandler.DeleteRunner)
}
