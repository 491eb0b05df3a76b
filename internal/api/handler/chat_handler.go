package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/internal/api/middleware"
	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/internal/service"
	"github.com/d60-Lab/localsync/pkg/logger"
	"github.com/d60-Lab/localsync/pkg/response"
)

type createConversationRequest struct {
	Participants []string `json:"participants" binding:"required,min=1"`
}

type sendMessageRequest struct {
	Text     string            `json:"text"`
	Type     model.MessageType `json:"type"`
	FileData *model.FileData   `json:"fileData"`
	Location *model.Location   `json:"location"`
	ReplyTo  *model.ReplyRef   `json:"replyTo"`
}

type updateStatusRequest struct {
	Status model.MessageStatus `json:"status" binding:"required"`
}

type editMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

type reactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// CreateConversation 创建会话（当前用户自动作为创建者）
// @Summary 创建会话
// @Tags 会话
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createConversationRequest true "其他参与者"
// @Success 200 {object} response.Response{data=map[string]string}
// @Failure 400 {object} response.Response
// @Router /api/v1/conversations [post]
func (h *Handler) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	me := middleware.UserID(c)
	participants := append([]string{me}, req.Participants...)

	// 两人会话优先复用
	if len(participants) == 2 && participants[1] != me {
		if conv, ok := h.chatService.FindDirectConversation(c.Request.Context(), me, participants[1]); ok {
			response.Success(c, gin.H{"id": conv.ID})
			return
		}
	}
	id, err := h.chatService.CreateConversation(c.Request.Context(), participants)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"id": id})
}

// ListConversations 当前用户的会话列表
// @Summary 会话列表
// @Tags 会话
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]model.Conversation}
// @Router /api/v1/conversations [get]
func (h *Handler) ListConversations(c *gin.Context) {
	response.Success(c, h.chatService.GetConversations(c.Request.Context(), middleware.UserID(c)))
}

// DeleteConversation 只删除当前用户的副本
// @Summary 删除会话（仅自己）
// @Tags 会话
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} response.Response
// @Router /api/v1/conversations/{id} [delete]
func (h *Handler) DeleteConversation(c *gin.Context) {
	if err := h.chatService.DeleteConversation(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// GetMessages 当前用户分区里的消息（时间升序）
// @Summary 消息列表
// @Tags 会话
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} response.Response{data=[]model.Message}
// @Failure 404 {object} response.Response
// @Router /api/v1/conversations/{id}/messages [get]
func (h *Handler) GetMessages(c *gin.Context) {
	me := middleware.UserID(c)
	convID := c.Param("id")
	if _, ok := h.chatService.GetConversation(c.Request.Context(), convID, me); !ok {
		response.NotFound(c, service.ErrConversationNotFound.Error())
		return
	}
	response.Success(c, h.chatService.GetMessages(c.Request.Context(), convID, me))
}

// SendMessage 发送消息
// @Summary 发送消息
// @Tags 会话
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param request body sendMessageRequest true "消息内容"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/conversations/{id}/messages [post]
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	id, err := h.chatService.SendMessage(c.Request.Context(), model.Message{
		ConversationID: c.Param("id"),
		SenderID:       middleware.UserID(c),
		Text:           req.Text,
		Type:           req.Type,
		FileData:       req.FileData,
		Location:       req.Location,
		ReplyTo:        req.ReplyTo,
	})
	// 部分分区写失败时仍返回 id，并标记 partial
	if errors.Is(err, service.ErrPartialFanout) {
		logger.Warn("message partially replicated", zap.String("message", id), zap.Error(err))
		response.Success(c, gin.H{"id": id, "partial": true})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"id": id, "partial": false})
}

// MarkRead 把会话里对方发来的消息标记为已读
// @Summary 标记已读
// @Tags 会话
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} response.Response
// @Router /api/v1/conversations/{id}/read [post]
func (h *Handler) MarkRead(c *gin.Context) {
	if err := h.chatService.MarkMessagesAsRead(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// UpdateMessageStatus 推进消息状态
// @Summary 更新消息状态
// @Tags 会话
// @Accept json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param messageId path string true "消息ID"
// @Param request body updateStatusRequest true "目标状态"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/conversations/{id}/messages/{messageId}/status [patch]
func (h *Handler) UpdateMessageStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	err := h.chatService.UpdateMessageStatus(c.Request.Context(), c.Param("id"), c.Param("messageId"), middleware.UserID(c), req.Status)
	if err != nil && !errors.Is(err, service.ErrPartialFanout) {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// EditMessage 编辑自己发送的消息
// @Summary 编辑消息
// @Tags 会话
// @Accept json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param messageId path string true "消息ID"
// @Param request body editMessageRequest true "新内容"
// @Success 200 {object} response.Response
// @Router /api/v1/conversations/{id}/messages/{messageId} [put]
func (h *Handler) EditMessage(c *gin.Context) {
	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	err := h.chatService.EditMessage(c.Request.Context(), c.Param("id"), c.Param("messageId"), middleware.UserID(c), req.Text)
	if err != nil && !errors.Is(err, service.ErrPartialFanout) {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// DeleteMessage 软删除自己发送的消息
// @Summary 删除消息
// @Tags 会话
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param messageId path string true "消息ID"
// @Success 200 {object} response.Response
// @Router /api/v1/conversations/{id}/messages/{messageId} [delete]
func (h *Handler) DeleteMessage(c *gin.Context) {
	err := h.chatService.DeleteMessage(c.Request.Context(), c.Param("id"), c.Param("messageId"), middleware.UserID(c))
	if err != nil && !errors.Is(err, service.ErrPartialFanout) {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// ToggleReaction 添加/取消表情回应
// @Summary 表情回应
// @Tags 会话
// @Accept json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param messageId path string true "消息ID"
// @Param request body reactionRequest true "表情"
// @Success 200 {object} response.Response
// @Router /api/v1/conversations/{id}/messages/{messageId}/reactions [post]
func (h *Handler) ToggleReaction(c *gin.Context) {
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	err := h.chatService.ToggleReaction(c.Request.Context(), c.Param("id"), c.Param("messageId"), middleware.UserID(c), req.Emoji)
	if err != nil && !errors.Is(err, service.ErrPartialFanout) {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}
