package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/localsync/internal/api/middleware"
	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/pkg/response"
)

// ListNotifications 通知列表（新的在前）
// @Summary 通知列表
// @Tags 通知
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]model.Notification}
// @Router /api/v1/notifications [get]
func (h *Handler) ListNotifications(c *gin.Context) {
	response.Success(c, h.notifications.GetNotifications(c.Request.Context(), middleware.UserID(c)))
}

// UnreadCount 未读数
// @Summary 未读通知数
// @Tags 通知
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=map[string]int}
// @Router /api/v1/notifications/unread-count [get]
func (h *Handler) UnreadCount(c *gin.Context) {
	response.Success(c, gin.H{"count": h.notifications.GetUnreadCount(c.Request.Context(), middleware.UserID(c))})
}

// MarkNotificationRead 标记单条已读
// @Summary 标记通知已读
// @Tags 通知
// @Security BearerAuth
// @Param id path string true "通知ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/notifications/{id}/read [post]
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	ok, err := h.notifications.MarkAsRead(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if !ok {
		response.NotFound(c, "notification not found")
		return
	}
	response.Success(c, nil)
}

// MarkAllNotificationsRead 全部已读
// @Summary 全部标记已读
// @Tags 通知
// @Security BearerAuth
// @Success 200 {object} response.Response{data=map[string]int}
// @Router /api/v1/notifications/read-all [post]
func (h *Handler) MarkAllNotificationsRead(c *gin.Context) {
	n, err := h.notifications.MarkAllAsRead(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"updated": n})
}

// DeleteNotification 删除单条
// @Summary 删除通知
// @Tags 通知
// @Security BearerAuth
// @Param id path string true "通知ID"
// @Success 200 {object} response.Response
// @Router /api/v1/notifications/{id} [delete]
func (h *Handler) DeleteNotification(c *gin.Context) {
	if err := h.notifications.DeleteNotification(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, nil)
}

// ClearNotifications 清空
// @Summary 清空通知
// @Tags 通知
// @Security BearerAuth
// @Success 200 {object} response.Response{data=map[string]int}
// @Router /api/v1/notifications [delete]
func (h *Handler) ClearNotifications(c *gin.Context) {
	n, err := h.notifications.ClearAll(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": n})
}

// GetNotificationSettings 通知开关（首次读取时写入默认值）
// @Summary 获取通知设置
// @Tags 通知
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=model.NotificationSettings}
// @Router /api/v1/notifications/settings [get]
func (h *Handler) GetNotificationSettings(c *gin.Context) {
	response.Success(c, h.notifications.GetSettings(c.Request.Context(), middleware.UserID(c)))
}

// UpdateNotificationSettings 整体覆盖通知开关
// @Summary 更新通知设置
// @Tags 通知
// @Accept json
// @Security BearerAuth
// @Param request body model.NotificationSettings true "通知设置"
// @Success 200 {object} response.Response{data=model.NotificationSettings}
// @Router /api/v1/notifications/settings [put]
func (h *Handler) UpdateNotificationSettings(c *gin.Context) {
	var req model.NotificationSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.notifications.UpdateSettings(c.Request.Context(), middleware.UserID(c), req); err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, req)
}
