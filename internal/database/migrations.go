package database

import (
	"gorm.io/gorm"

	"github.com/corralhq/corral/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.GroupMember{},
		&models.ServiceAccount{},
		&models.Schema{},
		&models.Resource{},
		&models.Grant{},
		&models.Event{},
		&models.Lock{},
	)
}
