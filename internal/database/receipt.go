package database

import (
	"gorm.io/gorm/clause"

	"commune/internal/models"
)

// CreateReadReceipts вставляет квитанции пачкой. Повторная отметка той же
// пары (message, reader) молча пропускается — ON CONFLICT DO NOTHING.
func (d *Database) CreateReadReceipts(receipts []models.ReadReceipt) error {
	if len(receipts) == 0 {
		return nil
	}

	return d.db.
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&receipts).Error
}

func (d *Database) GetMessageReaders(messageID string) ([]models.ReadReceipt, error) {
	var receipts []models.ReadReceipt
	err := d.db.Where("message_id = ?", messageID).Find(&receipts).Error
	return receipts, err
}
