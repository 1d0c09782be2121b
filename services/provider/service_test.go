package provider

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"smmpanel/pkg/config"
	"smmpanel/pkg/errutil"
	"smmpanel/services/currency"
	"smmpanel/services/testutil"
)

type stubGateway struct {
	balanceFn func(ctx context.Context, p *Provider) (float64, error)
}

func (s *stubGateway) Balance(ctx context.Context, p *Provider) (float64, error) {
	if s.balanceFn != nil {
		return s.balanceFn(ctx, p)
	}
	return 0, nil
}

func (s *stubGateway) Services(context.Context, *Provider) ([]RemoteService, error) {
	return nil, nil
}
func (s *stubGateway) OrderStatus(context.Context, *Provider, string) (*RemoteOrderStatus, error) {
	return nil, nil
}
func (s *stubGateway) AddOrder(context.Context, *Provider, AddOrderRequest) (string, error) {
	return "", nil
}
func (s *stubGateway) CancelOrder(context.Context, *Provider, string) error { return nil }
func (s *stubGateway) RefillOrder(context.Context, *Provider, string) error { return nil }

func newTestService(t *testing.T, gw Gateway) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Provider{}, &currency.ExchangeRate{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Settlement.Currency = "USD"
	converter := currency.NewService(currency.Params{DB: db, Cfg: cfg})

	return NewService(ServiceParams{DB: db, Node: node, Gateway: gw, Converter: converter}), db
}

func TestCreateProbesBalance(t *testing.T) {
	gw := &stubGateway{
		balanceFn: func(_ context.Context, p *Provider) (float64, error) {
			require.Equal(t, "http://vendor.example", p.APIURL)
			require.Equal(t, "secret", p.APIKey)
			return 55.5, nil
		},
	}
	svc, _ := newTestService(t, gw)

	row, err := svc.Create(context.Background(), CreateRequest{
		Name:   "Vendor",
		APIURL: "http://vendor.example",
		APIKey: "secret",
	})
	require.NoError(t, err)
	require.Equal(t, "USD", row.Currency)
	require.InDelta(t, 55.5, row.Balance, 1e-9)
	require.Equal(t, SyncIdle, row.SyncStatus)
	require.True(t, row.Active)
}

func TestCreateRejectedCredentialsPersistNothing(t *testing.T) {
	gw := &stubGateway{
		balanceFn: func(context.Context, *Provider) (float64, error) {
			return 0, &GatewayError{Kind: ErrVendorReported, Message: "Invalid API key"}
		},
	}
	svc, db := newTestService(t, gw)

	_, err := svc.Create(context.Background(), CreateRequest{
		Name: "Vendor", APIURL: "http://vendor.example", APIKey: "bad",
	})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusBadGateway, be.Code)

	var count int64
	require.NoError(t, db.Model(&Provider{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCreateConvertsVendorBalance(t *testing.T) {
	gw := &stubGateway{
		balanceFn: func(context.Context, *Provider) (float64, error) { return 100, nil },
	}
	svc, _ := newTestService(t, gw)

	row, err := svc.Create(context.Background(), CreateRequest{
		Name: "Vendor", APIURL: "http://vendor.example", APIKey: "k", Currency: "inr",
	})
	require.NoError(t, err)
	require.Equal(t, "INR", row.Currency)
	require.InDelta(t, 160.0, row.Balance, 1e-9)
}

func TestDeleteDeactivates(t *testing.T) {
	svc, db := newTestService(t, &stubGateway{})

	row, err := svc.Create(context.Background(), CreateRequest{
		Name: "Vendor", APIURL: "http://vendor.example", APIKey: "k",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), row.ID))

	var fresh Provider
	require.NoError(t, db.First(&fresh, "id = ?", row.ID).Error)
	require.False(t, fresh.Active)

	active, err := svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Empty(t, active)
}
