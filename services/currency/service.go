package currency

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"smmpanel/pkg/config"
)

var Module = fx.Module("currency", fx.Provide(NewService))

var (
	rateCacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "exchange_rate_cache_hits_total"})
	rateCacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "exchange_rate_cache_miss_total"})
)

const (
	cacheTTL = time.Hour

	// legacyINRRate covers historic vendor feeds quoting INR before the rate
	// table existed. Conservative on purpose.
	legacyINRCode = "INR"
	legacyINRRate = 1.6
)

// Service converts vendor-quoted amounts into the settlement currency. The
// whole rate table is cached in memory with a bounded TTL; concurrent cache
// misses collapse into one table load.
type Service struct {
	db         *gorm.DB
	settlement string

	mu       sync.RWMutex
	rates    map[string]float64
	loadedAt time.Time

	group singleflight.Group
}

type Params struct {
	fx.In
	DB  *gorm.DB
	Cfg *config.Config
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		settlement: strings.ToUpper(p.Cfg.Settlement.Currency),
	}
}

func (s *Service) Settlement() string { return s.settlement }

// Rate returns the multiplier for code, or (0, false) when no row exists.
func (s *Service) Rate(ctx context.Context, code string) (float64, bool, error) {
	code = strings.ToUpper(code)

	s.mu.RLock()
	fresh := s.rates != nil && time.Since(s.loadedAt) < cacheTTL
	rate, ok := s.rates[code]
	s.mu.RUnlock()

	if fresh {
		rateCacheHits.Inc()
		return rate, ok, nil
	}
	rateCacheMiss.Inc()

	if _, err, _ := s.group.Do("rates", func() (any, error) {
		return nil, s.reload(ctx)
	}); err != nil {
		return 0, false, err
	}

	s.mu.RLock()
	rate, ok = s.rates[code]
	s.mu.RUnlock()
	return rate, ok, nil
}

// Convert translates amount from the quoted currency into the settlement
// currency. Unknown currencies fall back to a multiplier of 1.0, except the
// legacy INR code which keeps its historical constant.
func (s *Service) Convert(ctx context.Context, amount float64, from string) float64 {
	from = strings.ToUpper(strings.TrimSpace(from))
	if from == "" || from == s.settlement {
		return amount
	}

	rate, ok, err := s.Rate(ctx, from)
	if err != nil {
		zap.L().Warn("exchange rate lookup failed, converting 1:1",
			zap.String("currency", from), zap.Error(err))
		return amount
	}

	if !ok {
		if from == legacyINRCode {
			return amount * legacyINRRate
		}
		return amount
	}
	return amount * rate
}

// SetRate upserts a rate row and invalidates the cached table.
func (s *Service) SetRate(ctx context.Context, code string, rate float64) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	row := ExchangeRate{Code: code, Rate: rate}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return err
	}

	s.mu.Lock()
	s.rates = nil
	s.mu.Unlock()
	return nil
}

func (s *Service) List(ctx context.Context) ([]ExchangeRate, error) {
	var rows []ExchangeRate
	if err := s.db.WithContext(ctx).Order("code asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) reload(ctx context.Context) error {
	var rows []ExchangeRate
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return err
	}

	rates := make(map[string]float64, len(rows))
	for _, r := range rows {
		rates[strings.ToUpper(r.Code)] = r.Rate
	}

	s.mu.Lock()
	s.rates = rates
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return nil
}
