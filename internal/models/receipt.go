package models

import (
	"time"

	"github.com/google/uuid"
)

// ReadReceipt фиксирует, что пользователь видел сообщение. Составной
// первичный ключ делает повторную отметку no-op на уровне хранилища.
type ReadReceipt struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	ReadAt    time.Time
}
