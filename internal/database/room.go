package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"commune/internal/models"
)

func (d *Database) CreateRoom(room *models.Room) error {
	return d.db.Create(room).Error
}

func (d *Database) GetRoom(id string) (*models.Room, error) {
	var room models.Room
	if err := d.db.Preload("Members").First(&room, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

// GetUserRooms возвращает комнаты пользователя, свежие по активности первыми.
func (d *Database) GetUserRooms(userID string) ([]models.Room, error) {
	var rooms []models.Room
	err := d.db.
		Joins("JOIN room_members rm ON rm.room_id = rooms.id").
		Where("rm.user_id = ?", userID).
		Order("last_message_at DESC").
		Preload("Members").
		Find(&rooms).Error
	return rooms, err
}

// UserRoomIDs — только идентификаторы, для подписки сокета при подключении.
func (d *Database) UserRoomIDs(userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := d.db.Model(&models.RoomMember{}).
		Where("user_id = ?", userID).
		Pluck("room_id", &ids).Error
	return ids, err
}

func (d *Database) IsRoomMember(userID, roomID uuid.UUID) (bool, error) {
	var count int64
	err := d.db.Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	return count > 0, err
}

func (d *Database) GetRoomMembers(roomID string) ([]models.User, error) {
	var room models.Room
	if err := d.db.Preload("Members").First(&room, "id = ?", roomID).Error; err != nil {
		return nil, err
	}
	return room.Members, nil
}

func (d *Database) AddUserToRoom(userID, roomID string) error {
	var user models.User
	var room models.Room

	if err := d.db.First(&user, "id = ?", userID).Error; err != nil {
		return err
	}

	if err := d.db.First(&room, "id = ?", roomID).Error; err != nil {
		return err
	}

	return d.db.Model(&room).Association("Members").Append(&user)
}

func (d *Database) RemoveUserFromRoom(userID, roomID string) error {
	var user models.User
	var room models.Room

	if err := d.db.First(&user, "id = ?", userID).Error; err != nil {
		return err
	}

	if err := d.db.First(&room, "id = ?", roomID).Error; err != nil {
		return err
	}

	return d.db.Model(&room).Association("Members").Delete(&user)
}

// GetOrCreateDirectRoom идемпотентен для неупорядоченной пары пользователей:
// повторное "создание" возвращает существующую direct комнату.
func (d *Database) GetOrCreateDirectRoom(user1ID, user2ID uuid.UUID) (*models.Room, error) {
	var room models.Room

	err := d.db.
		Joins("JOIN room_members rm1 ON rm1.room_id = rooms.id").
		Joins("JOIN room_members rm2 ON rm2.room_id = rooms.id").
		Where("rooms.type = 'direct' AND rm1.user_id = ? AND rm2.user_id = ?", user1ID, user2ID).
		First(&room).Error

	if err == nil {
		d.db.Model(&room).Association("Members").Find(&room.Members)
		return &room, nil
	}

	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	room = models.Room{
		Type:          models.RoomTypeDirect,
		CreatedBy:     user1ID,
		CreatedAt:     time.Now(),
		LastMessageAt: time.Now(),
	}

	if err := d.db.Create(&room).Error; err != nil {
		return nil, err
	}

	if err := d.AddUserToRoom(user1ID.String(), room.ID.String()); err != nil {
		return nil, err
	}

	if err := d.AddUserToRoom(user2ID.String(), room.ID.String()); err != nil {
		return nil, err
	}

	d.db.Model(&room).Association("Members").Find(&room.Members)

	return &room, nil
}

// TouchRoomActivity обновляет last_message_at. Отдельный вызов от сохранения
// сообщения: падение между ними оставит устаревший timestamp, это принято.
func (d *Database) TouchRoomActivity(roomID uuid.UUID, at time.Time) error {
	return d.db.Model(&models.Room{}).
		Where("id = ?", roomID).
		Update("last_message_at", at).Error
}

func (d *Database) UpdateRoom(room *models.Room) error {
	return d.db.Save(room).Error
}
