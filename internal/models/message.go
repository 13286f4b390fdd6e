package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// Message append-only: редактирование ставит Edited, удаление ставит Deleted
// (tombstone), строки физически не удаляются — курсоры истории стабильны.
type Message struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoomID    uuid.UUID `gorm:"not null;index"`
	UserID    uuid.UUID `gorm:"not null"`
	Content   string    `gorm:"not null"`
	Type      string    `gorm:"default:'text'"`
	ReplyToID *uuid.UUID
	Edited    bool `gorm:"default:false"`
	Deleted   bool `gorm:"default:false"`
	CreatedAt time.Time

	// Связи
	User    User     `gorm:"foreignKey:UserID"`
	Room    Room     `gorm:"foreignKey:RoomID"`
	ReplyTo *Message `gorm:"foreignKey:ReplyToID"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
