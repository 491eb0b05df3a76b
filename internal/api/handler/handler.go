package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/localsync/internal/notification"
	"github.com/d60-Lab/localsync/internal/service"
	"github.com/d60-Lab/localsync/pkg/response"
)

// Handler HTTP 处理器集合
type Handler struct {
	chatService   service.ChatService
	relService    service.RelationshipService
	notifications *notification.Pipeline
}

func NewHandler(chat service.ChatService, rel service.RelationshipService, notifications *notification.Pipeline) *Handler {
	return &Handler{chatService: chat, relService: rel, notifications: notifications}
}

// Health 存活探针
// @Summary 健康检查
// @Tags 系统
// @Produce json
// @Success 200 {object} response.Response
// @Router /healthz [get]
func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

// writeError 业务错误映射到状态码
func writeError(c *gin.Context, err error) {
	var verr validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrConversationNotFound), errors.Is(err, service.ErrMessageNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrNotParticipant), errors.Is(err, service.ErrNotSender):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrInvalidParticipants),
		errors.Is(err, service.ErrFollowSelf),
		errors.As(err, &verr):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
