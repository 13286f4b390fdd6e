package database

import (
	"errors"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"commune/internal/models"
)

func (d *Database) Connect() error {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return errors.New("DATABASE_URL is not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return err
	}

	if err := Migrate(db); err != nil {
		return err
	}

	d.db = db

	return nil
}

// Migrate вынесен отдельно, чтобы тесты могли поднимать схему на sqlite.
func Migrate(db *gorm.DB) error {
	if err := db.SetupJoinTable(&models.Room{}, "Members", &models.RoomMember{}); err != nil {
		return err
	}

	return db.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.Message{},
		&models.ReadReceipt{},
	)
}
