package currency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smmpanel/pkg/config"
	"smmpanel/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &ExchangeRate{})
	cfg := &config.Config{}
	cfg.Settlement.Currency = "USD"
	return NewService(Params{DB: db, Cfg: cfg}), db
}

func TestConvertSettlementIsIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.Equal(t, 12.5, svc.Convert(ctx, 12.5, "USD"))
	require.Equal(t, 12.5, svc.Convert(ctx, 12.5, "usd"))
	require.Equal(t, 12.5, svc.Convert(ctx, 12.5, ""))
}

func TestConvertUsesStoredRate(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&ExchangeRate{Code: "EUR", Rate: 1.1}).Error)
	require.InDelta(t, 11.0, svc.Convert(ctx, 10, "EUR"), 1e-9)
}

func TestConvertLegacyINRFallback(t *testing.T) {
	svc, _ := newTestService(t)

	require.InDelta(t, 16.0, svc.Convert(context.Background(), 10, "INR"), 1e-9)
}

func TestConvertStoredINRBeatsLegacy(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&ExchangeRate{Code: "INR", Rate: 0.012}).Error)
	require.InDelta(t, 0.12, svc.Convert(ctx, 10, "INR"), 1e-9)
}

func TestConvertUnknownCurrencyOneToOne(t *testing.T) {
	svc, _ := newTestService(t)

	require.Equal(t, 10.0, svc.Convert(context.Background(), 10, "XYZ"))
}

func TestSetRateInvalidatesCache(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetRate(ctx, "eur", 1.1))
	require.InDelta(t, 11.0, svc.Convert(ctx, 10, "EUR"), 1e-9)

	// Without invalidation the cached table would still say 1.1.
	require.NoError(t, svc.SetRate(ctx, "EUR", 2.0))
	require.InDelta(t, 20.0, svc.Convert(ctx, 10, "EUR"), 1e-9)
}

func TestRateMissNoRow(t *testing.T) {
	svc, _ := newTestService(t)

	_, ok, err := svc.Rate(context.Background(), "GBP")
	require.NoError(t, err)
	require.False(t, ok)
}
