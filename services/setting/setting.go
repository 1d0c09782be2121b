package setting

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"smmpanel/pkg/repository"
)

var Module = fx.Module("setting", fx.Provide(NewService))

const KeyAffiliateCommissionPct = "affiliate_commission_percentage"

type Setting struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Setting) TableName() string { return "settings" }

type Service struct {
	db       *gorm.DB
	settings repository.Repository[Setting]
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, settings: repository.ProvideStore[Setting](db)}
}

func (s *Service) Get(ctx context.Context, key, fallback string) string {
	var row Setting
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error; err != nil {
		return fallback
	}
	return row.Value
}

func (s *Service) GetFloat(ctx context.Context, key string, fallback float64) float64 {
	raw := s.Get(ctx, key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func (s *Service) Set(ctx context.Context, key, value string) error {
	row := Setting{Key: key, Value: value}
	return s.db.WithContext(ctx).Save(&row).Error
}
