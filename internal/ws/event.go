package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType определяет типы событий
type EventType string

const (
	// Системные типы
	TypePing EventType = "ping"
	TypePong EventType = "pong"

	// Входящие от клиента
	TypeUserJoin      EventType = "user:join"
	TypeChatJoin      EventType = "chat:join"
	TypeChatLeave     EventType = "chat:leave"
	TypeMessageSend   EventType = "message:send"
	TypeMessageEdit   EventType = "message:edit"
	TypeMessageDelete EventType = "message:delete"
	TypeMessageRead   EventType = "message:read"
	TypeTypingStart   EventType = "typing:start"
	TypeTypingStop    EventType = "typing:stop"

	// Исходящие к клиентам
	TypeUserOnline     EventType = "user:online"
	TypeUserOffline    EventType = "user:offline"
	TypeMessageNew     EventType = "message:new"
	TypeMessageUpdated EventType = "message:updated"
	TypeError          EventType = "error"
)

type Event struct {
	Type      EventType       `json:"type"`
	RoomID    *uuid.UUID      `json:"room_id,omitempty"`
	UserID    uuid.UUID       `json:"user_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarshalEvent собирает конверт события для рассылки.
func MarshalEvent(eventType EventType, roomID *uuid.UUID, userID uuid.UUID, data interface{}) ([]byte, error) {
	ev := Event{
		Type:      eventType,
		RoomID:    roomID,
		UserID:    userID,
		Timestamp: time.Now(),
	}

	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		ev.Data = jsonData
	}

	return json.Marshal(ev)
}
