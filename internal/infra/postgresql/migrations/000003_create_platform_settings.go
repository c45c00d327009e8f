package migrations

import (
	"github.com/florana/mailroom/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createPlatformSettingsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_platform_settings",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.PlatformSettingsModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PlatformSettingsModel{})
		},
	}
}
