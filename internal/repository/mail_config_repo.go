package repository

import (
	"context"
	"errors"

	"github.com/florana/mailroom/internal/domain"
	"gorm.io/gorm"
)

// MailConfigRepository reads tenant SMTP credentials. The pipeline never
// writes these rows; the tenant dashboard owns them.
type MailConfigRepository interface {
	GetByTenantID(ctx context.Context, tenantID string) (*domain.TenantMailConfig, error)
}

type GormMailConfigRepo struct {
	db *gorm.DB
}

func NewGormMailConfigRepo(db *gorm.DB) *GormMailConfigRepo {
	return &GormMailConfigRepo{db: db}
}

func (r *GormMailConfigRepo) GetByTenantID(ctx context.Context, tenantID string) (*domain.TenantMailConfig, error) {
	var model TenantMailConfigModel
	err := r.db.WithContext(ctx).First(&model, "tenant_id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tenantMailConfigModelToDomain(&model), nil
}
