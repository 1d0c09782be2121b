package catalog

import (
	"context"

	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"smmpanel/pkg/errutil"
	"smmpanel/pkg/repository"
	"smmpanel/pkg/repository/option"
)

var Module = fx.Module("catalog",
	fx.Provide(
		NewCache,
		NewCatalog,
		repository.ProvideStore[Service],
	),
)

// Catalog serves listings and admin edits over the reconciled service table.
type Catalog struct {
	db       *gorm.DB
	cache    *Cache
	services repository.Repository[Service]
}

type CatalogParams struct {
	fx.In
	DB       *gorm.DB
	Cache    *Cache `optional:"true"`
	Services repository.Repository[Service]
}

func NewCatalog(p CatalogParams) *Catalog {
	return &Catalog{db: p.DB, cache: p.Cache, services: p.Services}
}

// ServiceView is the customer-facing shape: curated fields only, vendor cost
// replaced by the marked-up rate.
type ServiceView struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Rate        float64 `json:"rate"`
	Min         int     `json:"min"`
	Max         int     `json:"max"`
	Type        string  `json:"type,omitempty"`
	Description string  `json:"description,omitempty"`
	AverageTime string  `json:"average_time,omitempty"`
	Guarantee   string  `json:"guarantee,omitempty"`
	Refill      bool    `json:"refill"`
	StartTime   string  `json:"start_time,omitempty"`
	Speed       string  `json:"speed,omitempty"`
}

func toView(s *Service) ServiceView {
	return ServiceView{
		ID:          s.ID,
		Name:        s.Name,
		Category:    s.Category,
		Rate:        s.CustomerRate(),
		Min:         s.Min,
		Max:         s.Max,
		Type:        s.Type,
		Description: s.Description,
		AverageTime: s.AverageTime,
		Guarantee:   s.Guarantee,
		Refill:      s.Refill,
		StartTime:   s.StartTime,
		Speed:       s.Speed,
	}
}

func listCacheKey(category string) string {
	if category == "" {
		return cacheKeyPrefix + "services:all"
	}
	return cacheKeyPrefix + "services:" + slug.Make(category)
}

// ListPublic returns active services, optionally filtered by category,
// served from cache when possible.
func (c *Catalog) ListPublic(ctx context.Context, category string) ([]ServiceView, error) {
	key := listCacheKey(category)
	if c.cache != nil {
		var cached []ServiceView
		if c.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}

	q := c.db.WithContext(ctx).Where("status = ?", StatusActive)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var rows []Service
	if err := q.Order("category, name").Find(&rows).Error; err != nil {
		return nil, err
	}

	views := make([]ServiceView, 0, len(rows))
	for i := range rows {
		views = append(views, toView(&rows[i]))
	}
	if c.cache != nil {
		c.cache.Set(ctx, key, views)
	}
	return views, nil
}

// ListAdmin returns raw rows, inactive included, optionally scoped to one
// provider.
func (c *Catalog) ListAdmin(ctx context.Context, providerID string) ([]*Service, error) {
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "category", OrderBy: "asc"}),
	}
	filter := &Service{}
	if providerID != "" {
		filter.ProviderID = providerID
	}
	return c.services.Find(ctx, filter, opts...)
}

func (c *Catalog) Get(ctx context.Context, id string) (*Service, error) {
	svc, err := c.services.FindOne(ctx, &Service{ID: id})
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, errutil.NotFound("service not found")
	}
	return svc, nil
}

type UpdateServiceRequest struct {
	Name     *string  `json:"name"`
	Category *string  `json:"category"`
	Status   *Status  `json:"status"`
	Margin   *float64 `json:"margin"`
}

// Update applies admin edits to curated fields. Edited names and categories
// survive later syncs; see the reconciler for how that sticks.
func (c *Catalog) Update(ctx context.Context, id string, req *UpdateServiceRequest) (*Service, error) {
	svc, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	values := map[string]any{}
	if req.Name != nil {
		values["name"] = *req.Name
	}
	if req.Category != nil {
		values["category"] = *req.Category
	}
	if req.Status != nil {
		if *req.Status != StatusActive && *req.Status != StatusInactive {
			return nil, errutil.ValidationFailed("status must be active or inactive")
		}
		values["status"] = *req.Status
	}
	if req.Margin != nil {
		if *req.Margin < 0 {
			return nil, errutil.ValidationFailed("margin cannot be negative")
		}
		values["margin"] = *req.Margin
	}
	if len(values) == 0 {
		return svc, nil
	}

	if err := c.db.WithContext(ctx).Model(&Service{}).
		Where("id = ?", id).Updates(values).Error; err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Invalidate(ctx)
	}
	return c.Get(ctx, id)
}
