package order

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"smmpanel/pkg/errutil"
	"smmpanel/pkg/repository"
	"smmpanel/pkg/repository/option"
	"smmpanel/pkg/task"
	"smmpanel/services/account"
	"smmpanel/services/catalog"
	"smmpanel/services/ledger"
	"smmpanel/services/provider"
)

var Module = fx.Module("order", fx.Provide(NewService))

// refreshLimit caps how many orders one listing will poll the vendor for.
const refreshLimit = 5

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	gateway   provider.Gateway
	providers *provider.Service
	catalog   *catalog.Catalog
	accounts  account.Store
	enqueuer  task.Enqueuer

	orders repository.Repository[Order]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Gateway   provider.Gateway
	Providers *provider.Service
	Catalog   *catalog.Catalog
	Accounts  account.Store
	Enqueuer  task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		gateway:   p.Gateway,
		providers: p.Providers,
		catalog:   p.Catalog,
		accounts:  p.Accounts,
		enqueuer:  p.Enqueuer,
		orders:    repository.ProvideStore[Order](p.DB),
	}
}

type CreateRequest struct {
	ServiceID string `json:"service_id" binding:"required"`
	Link      string `json:"link" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
	Comment   string `json:"comment"`
}

// Create places an order: the charge is debited and the order plus its spend
// ledger row are written in one transaction, then dispatch to the vendor is
// handed to the queue. The customer pays at placement; the vendor call
// happens later.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*Order, error) {
	var (
		svc  *catalog.Service
		user *account.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		svc, err = s.catalog.Get(gctx, req.ServiceID)
		return err
	})
	g.Go(func() error {
		var err error
		user, err = s.accounts.Get(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if svc.Status != catalog.StatusActive {
		return nil, errutil.NotFound("service not found")
	}
	if req.Quantity < svc.Min || req.Quantity > svc.Max {
		return nil, errutil.UnprocessableEntity("quantity out of range")
	}

	charge := svc.CustomerRate() * float64(req.Quantity) / 1000

	row := &Order{
		ID:        s.node.Generate().String(),
		UserID:    user.ID,
		ServiceID: svc.ID,
		Link:      req.Link,
		Quantity:  req.Quantity,
		Charge:    charge,
		Status:    StatusPending,
		Comment:   req.Comment,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.accounts.WithTrx(tx).Debit(ctx, user.ID, charge); err != nil {
			return err
		}
		if err := s.orders.WithTrx(tx).Create(ctx, row); err != nil {
			return err
		}
		return tx.Create(ledger.NewSpend(s.node, user.ID, row.ID, charge)).Error
	})
	if err != nil {
		return nil, err
	}

	s.enqueueDispatch(ctx, row.ID)
	return row, nil
}

func (s *Service) enqueueDispatch(ctx context.Context, orderID string) {
	if s.enqueuer != nil {
		dispatchTask, err := NewDispatchTask(orderID)
		if err == nil {
			if _, err = s.enqueuer.Enqueue(dispatchTask); err == nil {
				return
			}
		}
		zap.L().Warn("dispatch enqueue failed, dispatching in background",
			zap.String("order_id", orderID), zap.Error(err))
	}
	// The caller never waits on the vendor: the fallback runs detached from
	// the request, same as the queued path.
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := s.dispatch(bg, orderID); err != nil {
			zap.L().Error("background dispatch failed, order stays pending",
				zap.String("order_id", orderID), zap.Error(err))
		}
	}()
}

// dispatch forwards a pending order to its vendor. Safe to call more than
// once: an order that already has a vendor id, or that was canceled before
// dispatch ran, is left alone.
func (s *Service) dispatch(ctx context.Context, orderID string) error {
	row, err := s.orders.FindOne(ctx, &Order{ID: orderID})
	if err != nil {
		return err
	}
	if row == nil {
		return errutil.NotFound("order not found")
	}
	if row.ProviderOrderID != nil || row.Status != StatusPending {
		return nil
	}

	svc, p, err := s.vendorFor(ctx, row)
	if err != nil {
		return err
	}

	externalID, err := s.gateway.AddOrder(ctx, p, provider.AddOrderRequest{
		Service:  svc.ExternalID,
		Link:     row.Link,
		Quantity: row.Quantity,
		Comment:  row.Comment,
	})
	if err != nil {
		// Stays pending; the queue retries with backoff.
		if uerr := s.orders.Update(ctx, row.ID, map[string]any{"last_dispatch_error": err.Error()}); uerr != nil {
			zap.L().Error("failed to record dispatch error", zap.String("order_id", row.ID), zap.Error(uerr))
		}
		return err
	}

	return s.orders.Update(ctx, row.ID, map[string]any{
		"provider_order_id":   externalID,
		"status":              StatusProcessing,
		"last_dispatch_error": "",
	})
}

func (s *Service) vendorFor(ctx context.Context, row *Order) (*catalog.Service, *provider.Provider, error) {
	svc, err := s.catalog.Get(ctx, row.ServiceID)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.providers.Get(ctx, svc.ProviderID)
	if err != nil {
		return nil, nil, err
	}
	return svc, p, nil
}

// refresh pulls the vendor's view of an order into the local row. Vendor
// errors are swallowed: a status poll must never break a listing.
func (s *Service) refresh(ctx context.Context, row *Order) {
	if row.ProviderOrderID == nil || isTerminal(row.Status) {
		return
	}

	_, p, err := s.vendorFor(ctx, row)
	if err != nil {
		zap.L().Warn("order refresh skipped", zap.String("order_id", row.ID), zap.Error(err))
		return
	}

	remote, err := s.gateway.OrderStatus(ctx, p, *row.ProviderOrderID)
	if err != nil {
		zap.L().Warn("order status poll failed", zap.String("order_id", row.ID), zap.Error(err))
		return
	}

	values := map[string]any{}
	if status := strings.ToLower(strings.TrimSpace(remote.Status)); status != "" && status != row.Status {
		values["status"] = status
		row.Status = status
	}
	if remote.StartCount != nil && *remote.StartCount != row.StartCount {
		values["start_count"] = *remote.StartCount
		row.StartCount = *remote.StartCount
	}
	if remote.Remains != nil && *remote.Remains != row.Remains {
		values["remains"] = *remote.Remains
		row.Remains = *remote.Remains
	}
	if len(values) == 0 {
		return
	}
	if err := s.orders.Update(ctx, row.ID, values); err != nil {
		zap.L().Error("order refresh write failed", zap.String("order_id", row.ID), zap.Error(err))
	}
}

// ListMine returns the user's orders, newest first, after refreshing the
// most recent in-flight ones against their vendors.
func (s *Service) ListMine(ctx context.Context, userID string, limit int) ([]*Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.orders.Find(ctx, &Order{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithLimit(limit),
	)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshLimit)
	refreshed := 0
	for _, row := range rows {
		if row.ProviderOrderID == nil || isTerminal(row.Status) {
			continue
		}
		if refreshed >= refreshLimit {
			break
		}
		refreshed++
		g.Go(func() error {
			s.refresh(gctx, row)
			return nil
		})
	}
	_ = g.Wait()

	return rows, nil
}

func (s *Service) Get(ctx context.Context, userID, orderID string) (*Order, error) {
	row, err := s.orders.FindOne(ctx, &Order{ID: orderID})
	if err != nil {
		return nil, err
	}
	if row == nil || row.UserID != userID {
		return nil, errutil.NotFound("order not found")
	}
	s.refresh(ctx, row)
	return row, nil
}

// Cancel requests cancellation. An order the vendor never saw is canceled
// locally; otherwise the vendor decides, and the refreshed status reflects
// its answer. No automatic refund: partial delivery is settled manually.
func (s *Service) Cancel(ctx context.Context, userID, orderID string) (*Order, error) {
	row, err := s.Get(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	if row.ProviderOrderID == nil {
		if err := s.orders.Update(ctx, row.ID, map[string]any{"status": StatusCanceled}); err != nil {
			return nil, err
		}
		row.Status = StatusCanceled
		return row, nil
	}

	if isTerminal(row.Status) {
		return nil, errutil.UnprocessableEntity("order already finished")
	}

	_, p, err := s.vendorFor(ctx, row)
	if err != nil {
		return nil, err
	}
	if err := s.gateway.CancelOrder(ctx, p, *row.ProviderOrderID); err != nil {
		zap.L().Warn("vendor cancel failed", zap.String("order_id", row.ID), zap.Error(err))
	}
	s.refresh(ctx, row)
	return row, nil
}

// Refill asks the vendor to top a delivered order back up. Unlike cancel,
// a vendor rejection is surfaced: the customer needs to know the refill was
// not accepted.
func (s *Service) Refill(ctx context.Context, userID, orderID string) (*Order, error) {
	row, err := s.Get(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if row.ProviderOrderID == nil {
		return nil, errutil.UnprocessableEntity("order was never dispatched")
	}

	svc, p, err := s.vendorFor(ctx, row)
	if err != nil {
		return nil, err
	}
	if !svc.Refill {
		return nil, errutil.UnprocessableEntity("service does not support refill")
	}

	if err := s.gateway.RefillOrder(ctx, p, *row.ProviderOrderID); err != nil {
		return nil, errutil.BadGateway("vendor rejected refill", errutil.WithErr(err))
	}
	s.refresh(ctx, row)
	return row, nil
}
