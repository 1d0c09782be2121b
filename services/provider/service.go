package provider

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smmpanel/pkg/errutil"
	"smmpanel/pkg/repository"
	"smmpanel/services/currency"
)

var Module = fx.Module("provider", fx.Provide(NewService))

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	gateway   Gateway
	converter *currency.Service

	providers repository.Repository[Provider]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Gateway   Gateway
	Converter *currency.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		gateway:   p.Gateway,
		converter: p.Converter,
		providers: repository.ProvideStore[Provider](p.DB),
	}
}

type CreateRequest struct {
	Name     string `json:"name" binding:"required"`
	APIURL   string `json:"api_url" binding:"required"`
	APIKey   string `json:"api_key" binding:"required"`
	Currency string `json:"currency"`
}

// Create registers a new vendor. The balance endpoint is probed first so bad
// credentials are rejected before anything is persisted.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Provider, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	quoted := strings.ToUpper(strings.TrimSpace(req.Currency))
	if quoted == "" {
		quoted = s.converter.Settlement()
	}

	probe := &Provider{APIURL: req.APIURL, APIKey: req.APIKey}
	rawBalance, err := s.gateway.Balance(ctx, probe)
	if err != nil {
		zap.L().Warn("provider balance probe failed",
			zap.String("api_url", req.APIURL), zap.Error(err))
		return nil, errutil.BadGateway("provider credentials rejected", errutil.WithErr(err))
	}

	row := &Provider{
		ID:         s.node.Generate().String(),
		Name:       strings.TrimSpace(req.Name),
		APIURL:     req.APIURL,
		APIKey:     req.APIKey,
		Currency:   quoted,
		Balance:    s.converter.Convert(ctx, rawBalance, quoted),
		SyncStatus: SyncIdle,
		Active:     true,
	}
	if err := s.providers.Create(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Provider, error) {
	row, err := s.providers.FindOne(ctx, &Provider{ID: id})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errutil.NotFound("provider not found")
	}
	return row, nil
}

func (s *Service) List(ctx context.Context) ([]*Provider, error) {
	return s.providers.Find(ctx, &Provider{})
}

func (s *Service) ListActive(ctx context.Context) ([]*Provider, error) {
	var rows []*Provider
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

type UpdateRequest struct {
	Name   *string `json:"name"`
	APIKey *string `json:"api_key"`
	Active *bool   `json:"active"`
}

func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*Provider, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	values := map[string]any{}
	if req.Name != nil {
		values["name"] = strings.TrimSpace(*req.Name)
	}
	if req.APIKey != nil {
		values["api_key"] = *req.APIKey
	}
	if req.Active != nil {
		values["active"] = *req.Active
	}
	if len(values) > 0 {
		if err := s.providers.Update(ctx, id, values); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

// Delete deactivates a vendor. Rows are kept so catalog entries and order
// history stay resolvable.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.providers.Update(ctx, id, map[string]any{"active": false})
}
