package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/florana/mailroom/internal/domain"
)

// MetadataMap persists the opaque metadata bag as a jsonb column.
type MetadataMap map[string]string

func (m MetadataMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *MetadataMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}

	return json.Unmarshal(data, m)
}

func (MetadataMap) GormDataType() string {
	return "jsonb"
}

// DeliveryLogModel is the persistence model for the delivery_logs table.
type DeliveryLogModel struct {
	ID           string        `gorm:"type:uuid;primaryKey"`
	TenantID     string        `gorm:"type:varchar(64);not null;index"`
	Recipient    string        `gorm:"type:text;not null"`
	Subject      string        `gorm:"type:text;not null"`
	TemplateName string        `gorm:"type:varchar(128);not null"`
	Status       domain.Status `gorm:"type:varchar(10);not null"`
	Metadata     MetadataMap   `gorm:"type:jsonb"`
	Error        *string       `gorm:"type:text"`
	SentAt       *time.Time    `gorm:"type:timestamptz"`
	CreatedAt    time.Time
}

func (DeliveryLogModel) TableName() string {
	return "delivery_logs"
}

// TenantMailConfigModel is the persistence model for tenant_mail_configs.
// Password holds the encrypted iv:authTag:cipher string; rows are written
// by the tenant dashboard and read-only from the pipeline's perspective.
type TenantMailConfigModel struct {
	TenantID  string `gorm:"type:varchar(64);primaryKey"`
	Host      string `gorm:"type:varchar(255);not null"`
	Port      int    `gorm:"not null"`
	Secure    bool   `gorm:"not null;default:false"`
	Username  string `gorm:"type:varchar(255);not null"`
	Password  string `gorm:"type:text;not null"`
	FromEmail string `gorm:"type:varchar(255)"`
	FromName  string `gorm:"type:varchar(255)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TenantMailConfigModel) TableName() string {
	return "tenant_mail_configs"
}

// PlatformSettingsModel is the singleton platform configuration row.
type PlatformSettingsModel struct {
	ID          int    `gorm:"primaryKey"`
	EmailServer string `gorm:"type:text"`
	EmailFrom   string `gorm:"type:varchar(255)"`
	UpdatedAt   time.Time
}

func (PlatformSettingsModel) TableName() string {
	return "platform_settings"
}

func deliveryLogModelFromDomain(l *domain.DeliveryLog) *DeliveryLogModel {
	if l == nil {
		return nil
	}

	return &DeliveryLogModel{
		ID:           l.ID,
		TenantID:     l.TenantID,
		Recipient:    l.Recipient,
		Subject:      l.Subject,
		TemplateName: l.TemplateName,
		Status:       l.Status,
		Metadata:     MetadataMap(l.Metadata),
		Error:        l.Error,
		SentAt:       l.SentAt,
		CreatedAt:    l.CreatedAt,
	}
}

func deliveryLogModelToDomain(m *DeliveryLogModel) *domain.DeliveryLog {
	if m == nil {
		return nil
	}

	return &domain.DeliveryLog{
		ID:           m.ID,
		TenantID:     m.TenantID,
		Recipient:    m.Recipient,
		Subject:      m.Subject,
		TemplateName: m.TemplateName,
		Status:       m.Status,
		Metadata:     map[string]string(m.Metadata),
		Error:        m.Error,
		SentAt:       m.SentAt,
		CreatedAt:    m.CreatedAt,
	}
}

func tenantMailConfigModelToDomain(m *TenantMailConfigModel) *domain.TenantMailConfig {
	if m == nil {
		return nil
	}

	return &domain.TenantMailConfig{
		TenantID:  m.TenantID,
		Host:      m.Host,
		Port:      m.Port,
		Secure:    m.Secure,
		Username:  m.Username,
		Password:  m.Password,
		FromEmail: m.FromEmail,
		FromName:  m.FromName,
	}
}

func platformSettingsModelToDomain(m *PlatformSettingsModel) *domain.PlatformMailConfig {
	if m == nil {
		return nil
	}

	return &domain.PlatformMailConfig{
		EmailServer: m.EmailServer,
		EmailFrom:   m.EmailFrom,
	}
}
