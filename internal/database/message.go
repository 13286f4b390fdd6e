package database

import (
	"github.com/google/uuid"

	"commune/internal/models"
)

func (d *Database) SaveMessage(message *models.Message) error {
	return d.db.Create(message).Error
}

func (d *Database) GetMessage(id string) (*models.Message, error) {
	var message models.Message
	if err := d.db.Preload("User").First(&message, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

func (d *Database) UpdateMessage(message *models.Message) error {
	return d.db.Save(message).Error
}

// GetRoomMessages получает сообщения комнаты с пагинацией (before-курсор).
func (d *Database) GetRoomMessages(roomID string, limit int, beforeID *uuid.UUID) ([]models.Message, error) {
	var messages []models.Message

	query := d.db.Where("room_id = ?", roomID)

	if beforeID != nil {
		var beforeMsg models.Message
		if err := d.db.First(&beforeMsg, "id = ?", beforeID).Error; err == nil {
			query = query.Where("created_at < ?", beforeMsg.CreatedAt)
		}
	}

	err := query.
		Order("created_at DESC").
		Limit(limit).
		Preload("User").
		Preload("ReplyTo").
		Preload("ReplyTo.User").
		Find(&messages).Error

	if err != nil {
		return nil, err
	}

	return messages, nil
}

// GetMessagesByIDs нужен агрегатору квитанций для группировки по комнатам.
func (d *Database) GetMessagesByIDs(ids []uuid.UUID) ([]models.Message, error) {
	var messages []models.Message
	err := d.db.Where("id IN ?", ids).Find(&messages).Error
	return messages, err
}

// CountUnread считает чужие непрочитанные сообщения комнаты для пользователя.
func (d *Database) CountUnread(userID, roomID uuid.UUID) (int64, error) {
	var count int64
	err := d.db.Model(&models.Message{}).
		Where("room_id = ? AND user_id <> ? AND deleted = ?", roomID, userID, false).
		Where("NOT EXISTS (SELECT 1 FROM read_receipts r WHERE r.message_id = messages.id AND r.user_id = ?)", userID).
		Count(&count).Error
	return count, err
}
