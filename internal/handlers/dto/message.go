package dto

import (
	"time"

	"github.com/google/uuid"
)

// SendPayload — входящее message:send
type SendPayload struct {
	Content   string     `json:"content"`
	Type      string     `json:"type,omitempty"` // text, image, file
	ReplyToID *uuid.UUID `json:"reply_to_id,omitempty"`
}

type EditPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	Content   string    `json:"content"`
}

type DeletePayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

// ReadPayload — входящее message:read; клиент шлёт пачку, а не по одному,
// чтобы прокрутка на 50 сообщений не превращалась в 50 событий.
type ReadPayload struct {
	MessageIDs []uuid.UUID `json:"message_ids"`
}

// ReadDelta — исходящая дельта прочтения; читатель лежит в конверте события.
type ReadDelta struct {
	MessageIDs []uuid.UUID `json:"message_ids"`
	ReadAt     time.Time   `json:"read_at"`
}

// MessageResponse — полностью гидрированное сообщение для рассылки и истории
type MessageResponse struct {
	ID        uuid.UUID     `json:"id"`
	RoomID    uuid.UUID     `json:"room_id"`
	UserID    uuid.UUID     `json:"user_id"`
	Content   string        `json:"content"`
	Type      string        `json:"type"`
	ReplyToID *uuid.UUID    `json:"reply_to_id,omitempty"`
	ReplyTo   *ReplyPreview `json:"reply_to,omitempty"`
	Edited    bool          `json:"edited"`
	Deleted   bool          `json:"deleted"`
	CreatedAt time.Time     `json:"created_at"`
	User      UserInfo      `json:"user"`
}

// ReplyPreview — вложенная выжимка цитируемого сообщения
type ReplyPreview struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Content  string    `json:"content"`
}

type UserInfo struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}
