package handlers

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"commune/internal/handlers/dto"
	"commune/internal/models"
	"commune/internal/ws"
	"commune/pkg/auth"
)

// ChatStore — срез хранилища, нужный сокетному слою. Интерфейс, а не
// *database.Database, чтобы обработчик тестировался без базы.
type ChatStore interface {
	GetUser(id string) (*models.User, error)
	UpdateLastSeen(id string) error
	UserRoomIDs(userID uuid.UUID) ([]uuid.UUID, error)
	IsRoomMember(userID, roomID uuid.UUID) (bool, error)
	SaveMessage(message *models.Message) error
	GetMessage(id string) (*models.Message, error)
	UpdateMessage(message *models.Message) error
	GetMessagesByIDs(ids []uuid.UUID) ([]models.Message, error)
	TouchRoomActivity(roomID uuid.UUID, at time.Time) error
	CreateReadReceipts(receipts []models.ReadReceipt) error
}

type EventHandler struct {
	store      ChatStore
	hub        *ws.Hub
	jwtManager *auth.JWTManager
}

func NewEventHandler(store ChatStore, hub *ws.Hub, jwtManager *auth.JWTManager) *EventHandler {
	return &EventHandler{
		store:      store,
		hub:        hub,
		jwtManager: jwtManager,
	}
}

func (h *EventHandler) HandleEvent(client *ws.Client, ev *ws.Event) error {
	switch ev.Type {
	case ws.TypeUserJoin:
		return h.handleUserJoin(client, ev)

	case ws.TypeChatJoin:
		return h.handleChatJoin(client, ev)

	case ws.TypeChatLeave:
		return h.handleChatLeave(client, ev)

	case ws.TypeMessageSend:
		return h.handleMessageSend(client, ev)

	case ws.TypeMessageEdit:
		return h.handleMessageEdit(client, ev)

	case ws.TypeMessageDelete:
		return h.handleMessageDelete(client, ev)

	case ws.TypeMessageRead:
		return h.handleMessageRead(client, ev)

	case ws.TypeTypingStart:
		return h.handleTyping(client, ev, true)

	case ws.TypeTypingStop:
		return h.handleTyping(client, ev, false)

	default:
		log.Printf("Unknown event type: %s", ev.Type)
		return nil
	}
}

// handleUserJoin аутентифицирует соединение и подписывает его на все комнаты
// пользователя. Невалидный токен отбрасывается молча: до аутентификации
// соединению не сообщаем даже о том, что токен плох.
func (h *EventHandler) handleUserJoin(client *ws.Client, ev *ws.Event) error {
	if client.Authenticated() {
		return nil
	}

	var payload dto.AuthPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return nil
	}

	claims, err := h.jwtManager.Verify(payload.Token)
	if err != nil {
		log.Printf("Socket auth rejected for connection %s: %v", client.ID, err)
		return nil
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil
	}

	h.hub.Authenticate(client, userID, claims.Username)

	roomIDs, err := h.store.UserRoomIDs(userID)
	if err != nil {
		log.Printf("Failed to load rooms for user %s: %v", userID, err)
		return err
	}
	h.hub.JoinRooms(client, roomIDs)

	go h.store.UpdateLastSeen(userID.String())

	return nil
}

// handleChatJoin — явная подписка при открытии комнаты. Подписка не может
// выйти за пределы устойчивого членства, поэтому сверяемся с базой.
func (h *EventHandler) handleChatJoin(client *ws.Client, ev *ws.Event) error {
	if ev.RoomID == nil {
		return ws.ErrInvalidEvent
	}

	member, err := h.store.IsRoomMember(client.UserID, *ev.RoomID)
	if err != nil {
		return err
	}
	if !member {
		return ws.ErrUserNotInRoom
	}

	h.hub.JoinRoom(client, *ev.RoomID)
	return nil
}

func (h *EventHandler) handleChatLeave(client *ws.Client, ev *ws.Event) error {
	if ev.RoomID == nil {
		return ws.ErrInvalidEvent
	}

	h.hub.LeaveRoom(client, *ev.RoomID)
	return nil
}

// handleMessageSend: persist -> broadcast, строго в этом порядке. Всё, что
// ушло в рассылку, гарантированно восстановимо из истории при reconnect.
func (h *EventHandler) handleMessageSend(client *ws.Client, ev *ws.Event) error {
	if ev.RoomID == nil {
		return ws.ErrInvalidEvent
	}

	// Проверка по подписке, не по базе: осознанный размен консистентности
	// на латентность каждого send.
	if !client.IsInRoom(*ev.RoomID) {
		return ws.ErrUserNotInRoom
	}

	var payload dto.SendPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return err
	}

	if payload.Content == "" {
		return ws.ErrInvalidEvent
	}

	msgType := models.MessageTypeText
	if payload.Type != "" {
		msgType = payload.Type
	}

	var replyTo *models.Message
	if payload.ReplyToID != nil {
		var err error
		replyTo, err = h.store.GetMessage(payload.ReplyToID.String())
		if err != nil {
			return ws.ErrInvalidEvent
		}
		// Цитировать можно только внутри той же комнаты
		if replyTo.RoomID != *ev.RoomID {
			return ws.ErrInvalidEvent
		}
	}

	message := &models.Message{
		RoomID:    *ev.RoomID,
		UserID:    client.UserID,
		Content:   payload.Content,
		Type:      msgType,
		ReplyToID: payload.ReplyToID,
		CreatedAt: time.Now(),
	}

	if err := h.store.SaveMessage(message); err != nil {
		log.Printf("Failed to save message: %v", err)
		return err
	}

	if err := h.store.TouchRoomActivity(message.RoomID, message.CreatedAt); err != nil {
		// Устаревший last_message_at — принятая неконсистентность
		log.Printf("Failed to touch room activity: %v", err)
	}

	response := h.hydrateMessage(message, client, replyTo)

	data, err := ws.MarshalEvent(ws.TypeMessageNew, ev.RoomID, client.UserID, response)
	if err != nil {
		return err
	}

	// Включая остальные соединения отправителя
	h.hub.SendToRoom(*ev.RoomID, data)

	go h.store.UpdateLastSeen(client.UserID.String())

	return nil
}

func (h *EventHandler) handleMessageEdit(client *ws.Client, ev *ws.Event) error {
	var payload dto.EditPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return err
	}

	if payload.Content == "" {
		return ws.ErrInvalidEvent
	}

	message, err := h.store.GetMessage(payload.MessageID.String())
	if err != nil {
		return err
	}

	if message.UserID != client.UserID {
		return ws.ErrUnauthorized
	}

	if message.Deleted {
		return ws.ErrInvalidEvent
	}

	message.Content = payload.Content
	message.Edited = true

	if err := h.store.UpdateMessage(message); err != nil {
		return err
	}

	data, err := ws.MarshalEvent(ws.TypeMessageUpdated, &message.RoomID, client.UserID, map[string]interface{}{
		"message_id": message.ID,
		"content":    message.Content,
		"edited":     true,
	})
	if err != nil {
		return err
	}

	h.hub.SendToRoom(message.RoomID, data)
	return nil
}

// handleMessageDelete ставит tombstone: строка остаётся, рассылается
// редактированная форма без содержимого.
func (h *EventHandler) handleMessageDelete(client *ws.Client, ev *ws.Event) error {
	var payload dto.DeletePayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return err
	}

	message, err := h.store.GetMessage(payload.MessageID.String())
	if err != nil {
		return err
	}

	if message.UserID != client.UserID {
		return ws.ErrUnauthorized
	}

	message.Deleted = true

	if err := h.store.UpdateMessage(message); err != nil {
		return err
	}

	data, err := ws.MarshalEvent(ws.TypeMessageUpdated, &message.RoomID, client.UserID, map[string]interface{}{
		"message_id": message.ID,
		"deleted":    true,
	})
	if err != nil {
		return err
	}

	h.hub.SendToRoom(message.RoomID, data)
	return nil
}

// handleMessageRead — пакетная фиксация прочтения: одна вставка в базу,
// одна дельта на комнату всем, кроме самого читателя.
func (h *EventHandler) handleMessageRead(client *ws.Client, ev *ws.Event) error {
	var payload dto.ReadPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return err
	}

	if len(payload.MessageIDs) == 0 {
		return nil
	}

	messages, err := h.store.GetMessagesByIDs(payload.MessageIDs)
	if err != nil {
		return err
	}

	readAt := time.Now()
	receipts := make([]models.ReadReceipt, 0, len(messages))
	byRoom := make(map[uuid.UUID][]uuid.UUID)

	for _, msg := range messages {
		// Чужие комнаты молча пропускаем
		if !client.IsInRoom(msg.RoomID) {
			continue
		}
		receipts = append(receipts, models.ReadReceipt{
			MessageID: msg.ID,
			UserID:    client.UserID,
			ReadAt:    readAt,
		})
		byRoom[msg.RoomID] = append(byRoom[msg.RoomID], msg.ID)
	}

	if len(receipts) == 0 {
		return nil
	}

	// Дубликаты гасятся уникальностью пары (message, reader)
	if err := h.store.CreateReadReceipts(receipts); err != nil {
		return err
	}

	for roomID, messageIDs := range byRoom {
		delta := dto.ReadDelta{
			MessageIDs: messageIDs,
			ReadAt:     readAt,
		}
		data, err := ws.MarshalEvent(ws.TypeMessageRead, &roomID, client.UserID, delta)
		if err != nil {
			continue
		}
		// Свои соединения читателя пропускаем: клиент и так знает,
		// что он прочитал
		h.hub.SendToRoomExceptUser(roomID, data, client.UserID)
	}

	return nil
}

func (h *EventHandler) handleTyping(client *ws.Client, ev *ws.Event, start bool) error {
	if ev.RoomID == nil {
		return ws.ErrInvalidEvent
	}

	if !client.IsInRoom(*ev.RoomID) {
		return ws.ErrUserNotInRoom
	}

	if start {
		h.hub.TypingStart(*ev.RoomID, client.UserID, client.Username)
	} else {
		h.hub.TypingStop(*ev.RoomID, client.UserID)
	}
	return nil
}

// hydrateMessage собирает полную форму для рассылки: поля отправителя и,
// если есть, выжимку цитируемого сообщения.
func (h *EventHandler) hydrateMessage(message *models.Message, client *ws.Client, replyTo *models.Message) dto.MessageResponse {
	response := dto.MessageResponse{
		ID:        message.ID,
		RoomID:    message.RoomID,
		UserID:    message.UserID,
		Content:   message.Content,
		Type:      message.Type,
		ReplyToID: message.ReplyToID,
		Edited:    message.Edited,
		Deleted:   message.Deleted,
		CreatedAt: message.CreatedAt,
		User: dto.UserInfo{
			ID:       client.UserID,
			Username: client.Username,
		},
	}

	if user, err := h.store.GetUser(client.UserID.String()); err == nil {
		response.User.AvatarURL = user.AvatarURL
	}

	if replyTo != nil {
		preview := &dto.ReplyPreview{
			ID:      replyTo.ID,
			UserID:  replyTo.UserID,
			Content: replyTo.Content,
		}
		if replyTo.User.ID != uuid.Nil {
			preview.Username = replyTo.User.Username
		} else if user, err := h.store.GetUser(replyTo.UserID.String()); err == nil {
			preview.Username = user.Username
		}
		if replyTo.Deleted {
			preview.Content = ""
		}
		response.ReplyTo = preview
	}

	return response
}
