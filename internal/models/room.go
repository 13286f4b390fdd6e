package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoomTypeDirect = "direct"
	RoomTypeGroup  = "group"
)

type Room struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name          string
	Type          string `gorm:"not null;check:type IN ('direct','group')"`
	CreatedBy     uuid.UUID
	CreatedAt     time.Time
	LastMessageAt time.Time

	// Связи
	Members  []User    `gorm:"many2many:room_members"`
	Messages []Message `gorm:"foreignKey:RoomID"`
}

// RoomMember — строка join-таблицы; JoinedAt фиксирует момент вступления.
type RoomMember struct {
	RoomID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	JoinedAt time.Time `gorm:"autoCreateTime"`
}

func (r *Room) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
