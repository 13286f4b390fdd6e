package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"commune/internal/database"
	"commune/internal/middleware"
	"commune/internal/models"
	"commune/internal/ws"
)

type RoomHandler struct {
	db  *database.Database
	hub *ws.Hub
}

func NewRoomHandler(db *database.Database, hub *ws.Hub) *RoomHandler {
	return &RoomHandler{db: db, hub: hub}
}

// CreateRoom создает групповую комнату
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	var req struct {
		Name      string   `json:"name" binding:"required"`
		MemberIDs []string `json:"member_ids"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room := &models.Room{
		Name:          req.Name,
		Type:          models.RoomTypeGroup,
		CreatedBy:     userID,
		CreatedAt:     time.Now(),
		LastMessageAt: time.Now(),
	}

	if err := h.db.CreateRoom(room); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	// Добавляем создателя в комнату
	if err := h.db.AddUserToRoom(userID.String(), room.ID.String()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add creator to room"})
		return
	}

	// Добавляем других участников
	for _, memberID := range req.MemberIDs {
		if memberID != userID.String() {
			h.db.AddUserToRoom(memberID, room.ID.String())
		}
	}

	fullRoom, _ := h.db.GetRoom(room.ID.String())

	c.JSON(http.StatusCreated, formatRoomResponse(fullRoom))
}

// CreateDirectRoom создает или возвращает direct комнату между двумя
// пользователями: повторное создание для той же пары — lookup, не новая строка
func (h *RoomHandler) CreateDirectRoom(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	targetUserID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	if userID == targetUserID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot create direct room with yourself"})
		return
	}

	room, err := h.db.GetOrCreateDirectRoom(userID, targetUserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create direct room"})
		return
	}

	c.JSON(http.StatusOK, formatRoomResponse(room))
}

// GetMyRooms получает комнаты пользователя с последним сообщением и числом
// непрочитанных — этим кормится room list клиента
func (h *RoomHandler) GetMyRooms(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	rooms, err := h.db.GetUserRooms(userID.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get rooms"})
		return
	}

	roomsResponse := make([]gin.H, len(rooms))
	for i, room := range rooms {
		roomResponse := formatRoomResponse(&room)

		messages, _ := h.db.GetRoomMessages(room.ID.String(), 1, nil)
		if len(messages) > 0 {
			roomResponse["last_message"] = formatMessageResponse(&messages[0])
		}

		unread, _ := h.db.CountUnread(userID, room.ID)
		roomResponse["unread_count"] = unread

		onlineUsers := h.hub.GetRoomUsers(room.ID)
		roomResponse["online_count"] = len(onlineUsers)

		roomsResponse[i] = roomResponse
	}

	c.JSON(http.StatusOK, gin.H{"rooms": roomsResponse})
}

// GetRoom получает информацию о конкретной комнате
func (h *RoomHandler) GetRoom(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID := c.Param("id")

	room, err := h.db.GetRoom(roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	if !isMember(room, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "you are not a member of this room"})
		return
	}

	response := formatRoomResponse(room)
	response["online_users"] = h.hub.GetRoomUsers(room.ID)

	c.JSON(http.StatusOK, response)
}

// GetRoomMembers получает список участников комнаты
func (h *RoomHandler) GetRoomMembers(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID := c.Param("id")

	room, err := h.db.GetRoom(roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	if !isMember(room, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "you are not a member of this room"})
		return
	}

	members := make([]gin.H, len(room.Members))
	for i, member := range room.Members {
		members[i] = gin.H{
			"id":           member.ID,
			"username":     member.Username,
			"avatar_url":   member.AvatarURL,
			"last_seen_at": member.LastSeenAt,
			"is_online":    h.hub.IsUserOnline(member.ID),
			"is_creator":   member.ID == room.CreatedBy,
		}
	}

	c.JSON(http.StatusOK, gin.H{"members": members})
}

func isMember(room *models.Room, userID uuid.UUID) bool {
	for _, member := range room.Members {
		if member.ID == userID {
			return true
		}
	}
	return false
}

// formatRoomResponse форматирует ответ для комнаты
func formatRoomResponse(room *models.Room) gin.H {
	members := make([]gin.H, len(room.Members))
	for i, member := range room.Members {
		members[i] = gin.H{
			"id":         member.ID,
			"username":   member.Username,
			"avatar_url": member.AvatarURL,
		}
	}

	return gin.H{
		"id":              room.ID,
		"name":            room.Name,
		"type":            room.Type,
		"created_by":      room.CreatedBy,
		"created_at":      room.CreatedAt,
		"last_message_at": room.LastMessageAt,
		"members":         members,
	}
}
