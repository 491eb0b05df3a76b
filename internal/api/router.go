package api

import (
	"time"

	"github.com/gin-contrib/gzip"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/localsync/config"
	_ "github.com/d60-Lab/localsync/docs"
	"github.com/d60-Lab/localsync/internal/api/handler"
	"github.com/d60-Lab/localsync/internal/api/middleware"
)

// SetupRouter 注册全部路由
func SetupRouter(cfg *config.Config, h *handler.Handler) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Sentry.DSN != "" {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true, Timeout: 2 * time.Second}))
	}
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(middleware.RequestLogger())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(cfg.JWT.Secret), middleware.RateLimit(cfg.RateLimit))
	{
		convs := v1.Group("/conversations")
		convs.POST("", h.CreateConversation)
		convs.GET("", h.ListConversations)
		convs.DELETE("/:id", h.DeleteConversation)
		convs.GET("/:id/messages", h.GetMessages)
		convs.POST("/:id/messages", h.SendMessage)
		convs.POST("/:id/read", h.MarkRead)
		convs.PUT("/:id/messages/:messageId", h.EditMessage)
		convs.DELETE("/:id/messages/:messageId", h.DeleteMessage)
		convs.PATCH("/:id/messages/:messageId/status", h.UpdateMessageStatus)
		convs.POST("/:id/messages/:messageId/reactions", h.ToggleReaction)

		notes := v1.Group("/notifications")
		notes.GET("", h.ListNotifications)
		notes.DELETE("", h.ClearNotifications)
		notes.GET("/unread-count", h.UnreadCount)
		notes.POST("/read-all", h.MarkAllNotificationsRead)
		notes.GET("/settings", h.GetNotificationSettings)
		notes.PUT("/settings", h.UpdateNotificationSettings)
		notes.POST("/:id/read", h.MarkNotificationRead)
		notes.DELETE("/:id", h.DeleteNotification)

		rel := v1.Group("/relations")
		rel.POST("/follow", h.Follow)
		rel.POST("/unfollow", h.Unfollow)
		rel.GET("/:user_id/following", h.ListFollowing)
		rel.GET("/:user_id/fans", h.ListFans)
	}
	return r
}
