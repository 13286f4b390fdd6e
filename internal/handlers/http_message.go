package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"commune/internal/database"
	"commune/internal/handlers/dto"
	"commune/internal/middleware"
	"commune/internal/models"
)

type HTTPMessageHandler struct {
	db *database.Database
}

func NewHTTPMessageHandler(db *database.Database) *HTTPMessageHandler {
	return &HTTPMessageHandler{db: db}
}

// GetRoomMessages получает историю сообщений комнаты, свежие первыми
func (h *HTTPMessageHandler) GetRoomMessages(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID := c.Param("id")

	roomUUID, err := uuid.Parse(roomID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	member, err := h.db.IsRoomMember(userID, roomUUID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "you are not a member of this room"})
		return
	}

	// Параметры пагинации
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	var beforeID *uuid.UUID
	if before := c.Query("before"); before != "" {
		if id, err := uuid.Parse(before); err == nil {
			beforeID = &id
		}
	}

	messages, err := h.db.GetRoomMessages(roomID, limit, beforeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get messages"})
		return
	}

	result := make([]dto.MessageResponse, len(messages))
	for i := range messages {
		result[i] = formatMessageResponse(&messages[i])
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": result,
		"has_more": len(messages) == limit,
	})
}

// SendMessage — устойчивый путь записи (дублирует сокетный по дизайну:
// live-событие даёт латентность, HTTP-запись — подтверждение отправителю)
func (h *HTTPMessageHandler) SendMessage(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	var req struct {
		RoomID uuid.UUID `json:"room_id" binding:"required"`
		dto.SendPayload
	}

	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id and content are required"})
		return
	}

	roomID := req.RoomID

	member, err := h.db.IsRoomMember(userID, roomID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "you are not a member of this room"})
		return
	}

	msgType := models.MessageTypeText
	if req.Type != "" {
		msgType = req.Type
	}

	if req.ReplyToID != nil {
		replyTo, err := h.db.GetMessage(req.ReplyToID.String())
		if err != nil || replyTo.RoomID != roomID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reply target"})
			return
		}
	}

	message := &models.Message{
		RoomID:    roomID,
		UserID:    userID,
		Content:   req.Content,
		Type:      msgType,
		ReplyToID: req.ReplyToID,
		CreatedAt: time.Now(),
	}

	if err := h.db.SaveMessage(message); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save message"})
		return
	}

	h.db.TouchRoomActivity(roomID, message.CreatedAt)

	fullMessage, err := h.db.GetMessage(message.ID.String())
	if err != nil {
		fullMessage = message
	}

	c.JSON(http.StatusCreated, formatMessageResponse(fullMessage))
}

// MarkRead — устойчивый путь для квитанций (идемпотентный)
func (h *HTTPMessageHandler) MarkRead(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	var req dto.ReadPayload
	if err := c.ShouldBindJSON(&req); err != nil || len(req.MessageIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_ids are required"})
		return
	}

	messages, err := h.db.GetMessagesByIDs(req.MessageIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	readAt := time.Now()
	receipts := make([]models.ReadReceipt, 0, len(messages))
	for _, msg := range messages {
		member, err := h.db.IsRoomMember(userID, msg.RoomID)
		if err != nil || !member {
			continue
		}
		receipts = append(receipts, models.ReadReceipt{
			MessageID: msg.ID,
			UserID:    userID,
			ReadAt:    readAt,
		})
	}

	if err := h.db.CreateReadReceipts(receipts); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save receipts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": len(receipts)})
}

// formatMessageResponse форматирует ответ для сообщения
func formatMessageResponse(msg *models.Message) dto.MessageResponse {
	response := dto.MessageResponse{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		UserID:    msg.UserID,
		Content:   msg.Content,
		Type:      msg.Type,
		ReplyToID: msg.ReplyToID,
		Edited:    msg.Edited,
		Deleted:   msg.Deleted,
		CreatedAt: msg.CreatedAt,
	}

	// Tombstone отдаём без содержимого
	if msg.Deleted {
		response.Content = ""
	}

	if msg.User.ID != uuid.Nil {
		response.User = dto.UserInfo{
			ID:        msg.User.ID,
			Username:  msg.User.Username,
			AvatarURL: msg.User.AvatarURL,
		}
	}

	if msg.ReplyTo != nil {
		preview := &dto.ReplyPreview{
			ID:      msg.ReplyTo.ID,
			UserID:  msg.ReplyTo.UserID,
			Content: msg.ReplyTo.Content,
		}
		if msg.ReplyTo.User.ID != uuid.Nil {
			preview.Username = msg.ReplyTo.User.Username
		}
		if msg.ReplyTo.Deleted {
			preview.Content = ""
		}
		response.ReplyTo = preview
	}

	return response
}
