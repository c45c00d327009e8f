package migrations

import (
	"github.com/florana/mailroom/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createTenantMailConfigsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_tenant_mail_configs",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.TenantMailConfigModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TenantMailConfigModel{})
		},
	}
}
