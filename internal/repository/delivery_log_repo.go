package repository

import (
	"context"
	"time"

	"github.com/florana/mailroom/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	TenantID     *string
	Status       *domain.Status
	TemplateName *string
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}

// DeliveryLogRepository is the append-only delivery audit store. There is
// no update path: every state observation is a new row.
type DeliveryLogRepository interface {
	Create(ctx context.Context, l *domain.DeliveryLog) error
	List(ctx context.Context, params ListParams) ([]domain.DeliveryLog, int64, error)
}

type GormDeliveryLogRepo struct {
	db *gorm.DB
}

func NewGormDeliveryLogRepo(db *gorm.DB) *GormDeliveryLogRepo {
	return &GormDeliveryLogRepo{db: db}
}

func (r *GormDeliveryLogRepo) Create(ctx context.Context, l *domain.DeliveryLog) error {
	model := deliveryLogModelFromDomain(l)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if l != nil {
		*l = *deliveryLogModelToDomain(model)
	}
	return nil
}

func (r *GormDeliveryLogRepo) List(ctx context.Context, params ListParams) ([]domain.DeliveryLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&DeliveryLogModel{})

	if params.TenantID != nil {
		query = query.Where("tenant_id = ?", *params.TenantID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.TemplateName != nil {
		query = query.Where("template_name = ?", *params.TemplateName)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []DeliveryLogModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	logs := make([]domain.DeliveryLog, 0, len(models))
	for i := range models {
		logs = append(logs, *deliveryLogModelToDomain(&models[i]))
	}

	return logs, total, nil
}
