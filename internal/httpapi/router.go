package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"chatgate/internal/common"
	"chatgate/internal/httpapi/handlers"
	"chatgate/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, adminToken string, log *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	api := r.Group("/api")
	api.GET("/nonce", h.GetNonce)
	api.POST("/chat", h.SendChatMessage)
	api.GET("/chat/stream", h.StreamChatMessage)
	api.POST("/consent", h.RecordConsent)
	api.DELETE("/consent", h.RevokeConsent)
	api.GET("/consent", h.CheckConsent)
	api.POST("/feedback", h.SubmitFeedback)
	api.GET("/conversation/export", h.ExportConversation)
	api.DELETE("/conversation", h.ClearHistory)
	api.POST("/upload", h.Upload)

	admin := r.Group("/admin")
	admin.Use(middleware.AdminAuth(adminToken))
	admin.GET("/stats/summary", h.AdminStatsSummary)
	admin.GET("/stats/chart", h.AdminStatsChart)
	admin.GET("/stats/today", h.AdminStatsToday)
	admin.GET("/conversations", h.AdminListConversations)
	admin.GET("/conversations/:id/messages", h.AdminListMessages)
	admin.DELETE("/conversations/:id", h.AdminDeleteConversation)
	admin.POST("/test-connection", h.AdminTestConnection)
	admin.GET("/workspaces", h.AdminWorkspaces)
	admin.POST("/gdpr/erase", h.AdminGDPRErase)
	admin.POST("/cache/clear", h.AdminClearCache)

	return r
}
