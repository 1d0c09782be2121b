package order

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smmpanel/pkg/config"
	"smmpanel/pkg/errutil"
	"smmpanel/pkg/repository"
	"smmpanel/services/account"
	"smmpanel/services/catalog"
	"smmpanel/services/currency"
	"smmpanel/services/ledger"
	"smmpanel/services/provider"
	"smmpanel/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type gatewayMock struct {
	addOrderFn    func(ctx context.Context, p *provider.Provider, req provider.AddOrderRequest) (string, error)
	orderStatusFn func(ctx context.Context, p *provider.Provider, externalID string) (*provider.RemoteOrderStatus, error)
	cancelFn      func(ctx context.Context, p *provider.Provider, externalID string) error
	refillFn      func(ctx context.Context, p *provider.Provider, externalID string) error

	statusCalls atomic.Int32
	addCalls    atomic.Int32
}

func (m *gatewayMock) Balance(context.Context, *provider.Provider) (float64, error) { return 0, nil }
func (m *gatewayMock) Services(context.Context, *provider.Provider) ([]provider.RemoteService, error) {
	return nil, nil
}

func (m *gatewayMock) AddOrder(ctx context.Context, p *provider.Provider, req provider.AddOrderRequest) (string, error) {
	m.addCalls.Add(1)
	if m.addOrderFn != nil {
		return m.addOrderFn(ctx, p, req)
	}
	return "ext-1", nil
}

func (m *gatewayMock) OrderStatus(ctx context.Context, p *provider.Provider, externalID string) (*provider.RemoteOrderStatus, error) {
	m.statusCalls.Add(1)
	if m.orderStatusFn != nil {
		return m.orderStatusFn(ctx, p, externalID)
	}
	return &provider.RemoteOrderStatus{}, nil
}

func (m *gatewayMock) CancelOrder(ctx context.Context, p *provider.Provider, externalID string) error {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, p, externalID)
	}
	return nil
}

func (m *gatewayMock) RefillOrder(ctx context.Context, p *provider.Provider, externalID string) error {
	if m.refillFn != nil {
		return m.refillFn(ctx, p, externalID)
	}
	return nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return nil, nil
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	gw       *gatewayMock
	enqueuer *fakeEnqueuer
	user     *account.User
	entry    *catalog.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&account.User{},
		&provider.Provider{},
		&catalog.Service{},
		&Order{},
		&ledger.Transaction{},
		&currency.ExchangeRate{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Settlement.Currency = "USD"
	converter := currency.NewService(currency.Params{DB: db, Cfg: cfg})

	gw := &gatewayMock{}
	enqueuer := &fakeEnqueuer{}

	providers := provider.NewService(provider.ServiceParams{
		DB: db, Node: node, Gateway: gw, Converter: converter,
	})
	cat := catalog.NewCatalog(catalog.CatalogParams{
		DB: db, Services: repository.ProvideStore[catalog.Service](db),
	})

	svc := NewService(ServiceParams{
		DB:        db,
		Node:      node,
		Gateway:   gw,
		Providers: providers,
		Catalog:   cat,
		Accounts:  account.NewStore(db),
		Enqueuer:  enqueuer,
	})

	user := &account.User{ID: "user-1", Email: "u@example.com", Balance: 100}
	require.NoError(t, db.Create(user).Error)

	p := &provider.Provider{ID: "prov-1", Name: "Vendor", APIURL: "http://vendor", APIKey: "k", Currency: "USD", Active: true}
	require.NoError(t, db.Create(p).Error)

	entry := &catalog.Service{
		ID:         "svc-1",
		ProviderID: p.ID,
		ExternalID: "42",
		Name:       "IG Followers",
		Category:   "Instagram",
		Rate:       10,
		Min:        100,
		Max:        10000,
		Status:     catalog.StatusActive,
	}
	require.NoError(t, db.Create(entry).Error)

	return &fixture{svc: svc, db: db, gw: gw, enqueuer: enqueuer, user: user, entry: entry}
}

func TestCreateOrderDebitsAndRecordsSpend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	row, err := f.svc.Create(ctx, f.user.ID, CreateRequest{
		ServiceID: f.entry.ID,
		Link:      "https://example.com/p/1",
		Quantity:  500,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, row.Status)
	require.InDelta(t, 5.0, row.Charge, 1e-9)

	balance, err := account.NewStore(f.db).GetBalance(ctx, f.user.ID)
	require.NoError(t, err)
	require.InDelta(t, 95.0, balance, 1e-9)

	var spend ledger.Transaction
	require.NoError(t, f.db.Where("order_id = ?", row.ID).First(&spend).Error)
	require.Equal(t, ledger.KindSpend, spend.Kind)
	require.Equal(t, ledger.TxApproved, spend.Status)
	require.InDelta(t, 5.0, spend.Amount, 1e-9)

	require.Len(t, f.enqueuer.tasks, 1)
	require.Equal(t, TypeDispatch, f.enqueuer.tasks[0].Type())
}

func TestCreateOrderInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.Model(&account.User{}).Where("id = ?", f.user.ID).Update("balance", 1).Error)

	_, err := f.svc.Create(ctx, f.user.ID, CreateRequest{
		ServiceID: f.entry.ID, Link: "x", Quantity: 500,
	})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Code)

	// Nothing was written: no order, no spend, balance untouched.
	var orders int64
	require.NoError(t, f.db.Model(&Order{}).Count(&orders).Error)
	require.Zero(t, orders)
	var spends int64
	require.NoError(t, f.db.Model(&ledger.Transaction{}).Count(&spends).Error)
	require.Zero(t, spends)

	balance, err := account.NewStore(f.db).GetBalance(ctx, f.user.ID)
	require.NoError(t, err)
	require.InDelta(t, 1.0, balance, 1e-9)
}

func TestCreateOrderQuantityOutOfRange(t *testing.T) {
	f := newFixture(t)

	for _, quantity := range []int{99, 10001} {
		_, err := f.svc.Create(context.Background(), f.user.ID, CreateRequest{
			ServiceID: f.entry.ID, Link: "x", Quantity: quantity,
		})
		require.Error(t, err)

		var be errutil.BaseError
		require.ErrorAs(t, err, &be)
		require.Equal(t, errutil.StatusUnprocessableEntity, be.Code)
	}
}

func TestCreateOrderInactiveService(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&catalog.Service{}).
		Where("id = ?", f.entry.ID).Update("status", catalog.StatusInactive).Error)

	_, err := f.svc.Create(context.Background(), f.user.ID, CreateRequest{
		ServiceID: f.entry.ID, Link: "x", Quantity: 500,
	})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusNotFound, be.Code)
}

func TestCreateOrderAppliesMargin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&catalog.Service{}).
		Where("id = ?", f.entry.ID).Update("margin", 20).Error)

	row, err := f.svc.Create(context.Background(), f.user.ID, CreateRequest{
		ServiceID: f.entry.ID, Link: "x", Quantity: 1000,
	})
	require.NoError(t, err)
	require.InDelta(t, 12.0, row.Charge, 1e-9)
}

func TestCreateOrderFallsBackToDetachedDispatch(t *testing.T) {
	f := newFixture(t)
	f.enqueuer.err = errors.New("redis down")

	gate := make(chan struct{})
	f.gw.addOrderFn = func(context.Context, *provider.Provider, provider.AddOrderRequest) (string, error) {
		<-gate
		return "ext-7", nil
	}

	row, err := f.svc.Create(context.Background(), f.user.ID, CreateRequest{
		ServiceID: f.entry.ID, Link: "x", Quantity: 500,
	})
	require.NoError(t, err)

	// The response comes back while the vendor call is still blocked.
	var fresh Order
	require.NoError(t, f.db.First(&fresh, "id = ?", row.ID).Error)
	require.Equal(t, StatusPending, fresh.Status)

	close(gate)
	require.Eventually(t, func() bool {
		var o Order
		if err := f.db.First(&o, "id = ?", row.ID).Error; err != nil {
			return false
		}
		return o.Status == StatusProcessing && o.ProviderOrderID != nil && *o.ProviderOrderID == "ext-7"
	}, 2*time.Second, 10*time.Millisecond)
}

func placeOrder(t *testing.T, f *fixture) *Order {
	t.Helper()
	row, err := f.svc.Create(context.Background(), f.user.ID, CreateRequest{
		ServiceID: f.entry.ID, Link: "https://example.com/p/1", Quantity: 500,
	})
	require.NoError(t, err)
	return row
}

func TestDispatchMarksProcessing(t *testing.T) {
	f := newFixture(t)
	f.gw.addOrderFn = func(_ context.Context, _ *provider.Provider, req provider.AddOrderRequest) (string, error) {
		require.Equal(t, "42", req.Service)
		require.Equal(t, 500, req.Quantity)
		return "999", nil
	}
	row := placeOrder(t, f)

	require.NoError(t, f.svc.dispatch(context.Background(), row.ID))

	var fresh Order
	require.NoError(t, f.db.First(&fresh, "id = ?", row.ID).Error)
	require.Equal(t, StatusProcessing, fresh.Status)
	require.Equal(t, "999", *fresh.ProviderOrderID)
}

func TestDispatchFailureLeavesPending(t *testing.T) {
	f := newFixture(t)
	f.gw.addOrderFn = func(context.Context, *provider.Provider, provider.AddOrderRequest) (string, error) {
		return "", &provider.GatewayError{Kind: provider.ErrVendorReported, Message: "not enough funds"}
	}
	row := placeOrder(t, f)

	err := f.svc.dispatch(context.Background(), row.ID)
	require.Error(t, err)

	var fresh Order
	require.NoError(t, f.db.First(&fresh, "id = ?", row.ID).Error)
	require.Equal(t, StatusPending, fresh.Status)
	require.Nil(t, fresh.ProviderOrderID)
	require.Contains(t, fresh.LastDispatchError, "not enough funds")
}

func TestDispatchFailurePreservesCustomerComment(t *testing.T) {
	f := newFixture(t)
	row, err := f.svc.Create(context.Background(), f.user.ID, CreateRequest{
		ServiceID: f.entry.ID, Link: "x", Quantity: 500, Comment: "please start slow",
	})
	require.NoError(t, err)

	f.gw.addOrderFn = func(context.Context, *provider.Provider, provider.AddOrderRequest) (string, error) {
		return "", &provider.GatewayError{Kind: provider.ErrTimeout, Message: "timed out"}
	}
	require.Error(t, f.svc.dispatch(context.Background(), row.ID))

	var fresh Order
	require.NoError(t, f.db.First(&fresh, "id = ?", row.ID).Error)
	require.Equal(t, "please start slow", fresh.Comment)
	require.Contains(t, fresh.LastDispatchError, "timed out")

	// The retry sends the customer's text, not the recorded failure.
	var sent string
	f.gw.addOrderFn = func(_ context.Context, _ *provider.Provider, req provider.AddOrderRequest) (string, error) {
		sent = req.Comment
		return "ext-9", nil
	}
	require.NoError(t, f.svc.dispatch(context.Background(), row.ID))
	require.Equal(t, "please start slow", sent)

	require.NoError(t, f.db.First(&fresh, "id = ?", row.ID).Error)
	require.Equal(t, "please start slow", fresh.Comment)
	require.Empty(t, fresh.LastDispatchError)
}

func TestCreateOrderStartsWithZeroCounts(t *testing.T) {
	f := newFixture(t)
	row := placeOrder(t, f)

	var fresh Order
	require.NoError(t, f.db.First(&fresh, "id = ?", row.ID).Error)
	require.Zero(t, fresh.StartCount)
	require.Zero(t, fresh.Remains)
}

func TestDispatchIsIdempotent(t *testing.T) {
	f := newFixture(t)
	row := placeOrder(t, f)

	require.NoError(t, f.svc.dispatch(context.Background(), row.ID))
	require.NoError(t, f.svc.dispatch(context.Background(), row.ID))
	require.EqualValues(t, 1, f.gw.addCalls.Load())
}

func TestDispatchSkipsCanceledOrder(t *testing.T) {
	f := newFixture(t)
	row := placeOrder(t, f)
	require.NoError(t, f.db.Model(&Order{}).Where("id = ?", row.ID).Update("status", StatusCanceled).Error)

	require.NoError(t, f.svc.dispatch(context.Background(), row.ID))
	require.EqualValues(t, 0, f.gw.addCalls.Load())
}

func TestRefreshAdoptsVendorState(t *testing.T) {
	f := newFixture(t)
	row := placeOrder(t, f)
	require.NoError(t, f.svc.dispatch(context.Background(), row.ID))

	start := 0
	remains := 120
	f.gw.orderStatusFn = func(context.Context, *provider.Provider, string) (*provider.RemoteOrderStatus, error) {
		return &provider.RemoteOrderStatus{Status: "In Progress", StartCount: &start, Remains: &remains}, nil
	}

	fresh, err := f.svc.Get(context.Background(), f.user.ID, row.ID)
	require.NoError(t, err)
	require.Equal(t, "in progress", fresh.Status)
	require.Equal(t, 0, fresh.StartCount)
	require.Equal(t, 120, fresh.Remains)
}

func TestRefreshSkipsTerminalOrders(t *testing.T) {
	f := newFixture(t)
	row := placeOrder(t, f)
	require.NoError(t, f.svc.dispatch(context.Background(), row.ID))
	require.NoError(t, f.db.Model(&Order{}).Where("id = ?", row.ID).Update("status", StatusCompleted).Error)

	_, err := f.svc.Get(context.Background(), f.user.ID, row.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, f.gw.statusCalls.Load())
}

func TestRefreshSwallowsVendorErrors(t *testing.T) {
	f := newFixture(t)
	row := placeOrder(t, f)
	require.NoError(t, f.svc.dispatch(context.Background(), row.ID))

	f.gw.orderStatusFn = func(context.Context, *provider.Provider, string) (*provider.RemoteOrderStatus, error) {
		return nil, &provider.GatewayError{Kind: provider.ErrTimeout, Message: "timed out"}
	}

	fresh, err := f.svc.Get(context.Background(), f.user.ID, row.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, fresh.Status)
}

func TestGetRejectsForeignOrder(t *testing.T) {
	f := newFixture(t)
	row := placeOrder(t, f)

	_, err := f.svc.Get(context.Background(), "someone-else", row.ID)
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusNotFound, be.Code)
}

func TestCancelBeforeDispatch(t *testing.T) {
	f := newFixture(t)
	row := placeOrder(t, f)

	fresh, err := f.svc.Cancel(context.Background(), f.user.ID, row.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, fresh.Status)

	// Dispatch arriving later must not resurrect it.
	require.NoError(t, f.svc.dispatch(context.Background(), row.ID))
	require.EqualValues(t, 0, f.gw.addCalls.Load())
}

func TestRefillRequiresServiceSupport(t *testing.T) {
	f := newFixture(t)
	row := placeOrder(t, f)
	require.NoError(t, f.svc.dispatch(context.Background(), row.ID))

	_, err := f.svc.Refill(context.Background(), f.user.ID, row.ID)
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Code)
}

func TestRefillSurfacesVendorRejection(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&catalog.Service{}).
		Where("id = ?", f.entry.ID).Update("refill", true).Error)
	row := placeOrder(t, f)
	require.NoError(t, f.svc.dispatch(context.Background(), row.ID))

	f.gw.refillFn = func(context.Context, *provider.Provider, string) error {
		return &provider.GatewayError{Kind: provider.ErrVendorReported, Message: "refill window expired"}
	}

	_, err := f.svc.Refill(context.Background(), f.user.ID, row.ID)
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusBadGateway, be.Code)
}

func TestListMineRefreshesOnlyInFlight(t *testing.T) {
	f := newFixture(t)

	first := placeOrder(t, f)
	require.NoError(t, f.svc.dispatch(context.Background(), first.ID))
	require.NoError(t, f.db.Model(&Order{}).Where("id = ?", first.ID).Update("status", StatusCompleted).Error)

	second := placeOrder(t, f)
	require.NoError(t, f.svc.dispatch(context.Background(), second.ID))

	rows, err := f.svc.ListMine(context.Background(), f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// Only the in-flight order was polled.
	require.EqualValues(t, 1, f.gw.statusCalls.Load())
}
