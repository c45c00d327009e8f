package repository

import (
	"context"
	"errors"

	"github.com/florana/mailroom/internal/domain"
	"gorm.io/gorm"
)

const platformSettingsRowID = 1

// PlatformSettingsRepository reads the singleton platform configuration.
// Absence of the row is a normal bootstrap condition, reported as
// domain.ErrNotFound so the resolver can fall back to the environment.
type PlatformSettingsRepository interface {
	Get(ctx context.Context) (*domain.PlatformMailConfig, error)
}

type GormPlatformSettingsRepo struct {
	db *gorm.DB
}

func NewGormPlatformSettingsRepo(db *gorm.DB) *GormPlatformSettingsRepo {
	return &GormPlatformSettingsRepo{db: db}
}

func (r *GormPlatformSettingsRepo) Get(ctx context.Context) (*domain.PlatformMailConfig, error) {
	var model PlatformSettingsModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", platformSettingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return platformSettingsModelToDomain(&model), nil
}
