package chatclient

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Имена событий дублируют серверный каталог: пакет — потребительская
// сторона протокола и не зависит от internal-пакетов сервера.
const (
	EventUserJoin       = "user:join"
	EventChatJoin       = "chat:join"
	EventChatLeave      = "chat:leave"
	EventMessageSend    = "message:send"
	EventMessageRead    = "message:read"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
	EventUserOnline     = "user:online"
	EventUserOffline    = "user:offline"
	EventMessageNew     = "message:new"
	EventMessageUpdated = "message:updated"
	EventError          = "error"
)

// Event — серверный конверт, как он приходит из сокета.
type Event struct {
	Type      string          `json:"type"`
	RoomID    *uuid.UUID      `json:"room_id,omitempty"`
	UserID    uuid.UUID       `json:"user_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// DeliveryStatus — локальное состояние оптимистично вставленного сообщения.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
)

type Message struct {
	ID        uuid.UUID  `json:"id"`
	RoomID    uuid.UUID  `json:"room_id"`
	UserID    uuid.UUID  `json:"user_id"`
	Content   string     `json:"content"`
	Type      string     `json:"type"`
	ReplyToID *uuid.UUID `json:"reply_to_id,omitempty"`
	Edited    bool       `json:"edited"`
	Deleted   bool       `json:"deleted"`
	CreatedAt time.Time  `json:"created_at"`

	// Локальные поля, сервером не заполняются
	LocalID uuid.UUID      `json:"-"`
	Status  DeliveryStatus `json:"-"`
}

type Room struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	LastMessage *Message  `json:"last_message,omitempty"`
	UnreadCount int64     `json:"unread_count"`
}

type messageUpdate struct {
	MessageID uuid.UUID `json:"message_id"`
	Content   string    `json:"content"`
	Edited    bool      `json:"edited"`
	Deleted   bool      `json:"deleted"`
}

type readDelta struct {
	MessageIDs []uuid.UUID `json:"message_ids"`
	ReadAt     time.Time   `json:"read_at"`
}

// Transport — живое соединение; отправка fire-and-forget.
type Transport interface {
	SendEvent(eventType string, roomID *uuid.UUID, payload interface{}) error
}

// API — постраничная история и устойчивый путь записи.
type API interface {
	ListRooms(page, size int) ([]Room, bool, error)
	ListMessages(roomID uuid.UUID, beforeID *uuid.UUID, limit int) ([]Message, bool, error)
	PostMessage(roomID uuid.UUID, content, msgType string, replyToID *uuid.UUID) (*Message, error)
}
