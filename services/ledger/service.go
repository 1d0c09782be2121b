package ledger

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smmpanel/pkg/config"
	"smmpanel/pkg/errutil"
	"smmpanel/pkg/repository"
	"smmpanel/pkg/repository/option"
	"smmpanel/services/account"
	"smmpanel/services/notify"
	"smmpanel/services/setting"
)

var Module = fx.Module("ledger", fx.Provide(NewService))

// Service settles deposits and their reversals. Every balance mutation rides
// in the same database transaction as the ledger rows describing it.
type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	accounts account.Store
	settings *setting.Service
	notifier notify.Dispatcher

	transactions repository.Repository[Transaction]
	methods      repository.Repository[PaymentMethod]

	defaultCommissionPct float64
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Accounts account.Store
	Settings *setting.Service
	Notifier notify.Dispatcher
	Cfg      *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:                   p.DB,
		node:                 p.Node,
		accounts:             p.Accounts,
		settings:             p.Settings,
		notifier:             p.Notifier,
		transactions:         repository.ProvideStore[Transaction](p.DB),
		methods:              repository.ProvideStore[PaymentMethod](p.DB),
		defaultCommissionPct: p.Cfg.Settlement.AffiliateCommissionPct,
	}
}

type CreateDepositRequest struct {
	PaymentMethodID string  `json:"payment_method_id" binding:"required"`
	Amount          float64 `json:"amount" binding:"required"`
}

// CreateDeposit records a pending deposit awaiting admin approval. No money
// moves until approval.
func (s *Service) CreateDeposit(ctx context.Context, userID string, req CreateDepositRequest) (*Transaction, error) {
	if req.Amount <= 0 {
		return nil, errutil.ValidationFailed("amount must be positive")
	}

	method, err := s.methods.FindOne(ctx, &PaymentMethod{ID: req.PaymentMethodID})
	if err != nil {
		return nil, err
	}
	if method == nil || !method.Active {
		return nil, errutil.NotFound("payment method not found")
	}

	if _, err := s.accounts.Get(ctx, userID); err != nil {
		return nil, err
	}

	row := &Transaction{
		ID:              s.node.Generate().String(),
		UserID:          userID,
		Kind:            KindDeposit,
		Amount:          req.Amount,
		Status:          TxPending,
		PaymentMethodID: &method.ID,
	}
	if err := s.transactions.Create(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// Approve settles a pending deposit: the deposit itself, the payment
// method's bonus and fee as child rows, the net balance credit, and the
// referrer commission, all in one transaction. The notification fires only
// after commit.
func (s *Service) Approve(ctx context.Context, txID string) (*Transaction, error) {
	deposit, err := s.pendingDeposit(ctx, txID)
	if err != nil {
		return nil, err
	}

	method, err := s.methods.FindOne(ctx, &PaymentMethod{ID: *deposit.PaymentMethodID})
	if err != nil {
		return nil, err
	}
	if method == nil {
		return nil, errutil.Internal("payment method missing for deposit")
	}

	user, err := s.accounts.Get(ctx, deposit.UserID)
	if err != nil {
		return nil, err
	}

	bonus := deposit.Amount * method.BonusPct / 100
	fee := deposit.Amount * method.ChargeFeePct / 100
	net := Effect(KindDeposit, deposit.Amount) + Effect(KindBonus, bonus) + Effect(KindFee, fee)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := s.transactions.WithTrx(tx)

		if err := store.Update(ctx, deposit.ID, map[string]any{"status": TxApproved}); err != nil {
			return err
		}
		if bonus > 0 {
			if err := store.Create(ctx, s.child(deposit, KindBonus, bonus)); err != nil {
				return err
			}
		}
		if fee > 0 {
			if err := store.Create(ctx, s.child(deposit, KindFee, fee)); err != nil {
				return err
			}
		}
		if err := s.accounts.WithTrx(tx).Apply(ctx, deposit.UserID, net); err != nil {
			return err
		}
		return s.settleCommission(ctx, tx, user, deposit)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.DepositApproved(ctx, deposit.UserID, deposit.Amount)

	return s.get(ctx, deposit.ID)
}

func (s *Service) child(parent *Transaction, kind Kind, amount float64) *Transaction {
	return &Transaction{
		ID:              s.node.Generate().String(),
		UserID:          parent.UserID,
		Kind:            kind,
		Amount:          amount,
		Status:          TxApproved,
		ParentID:        &parent.ID,
		PaymentMethodID: parent.PaymentMethodID,
	}
}

func (s *Service) settleCommission(ctx context.Context, tx *gorm.DB, user *account.User, deposit *Transaction) error {
	if user.ReferredBy == nil || *user.ReferredBy == "" {
		return nil
	}
	pct := s.settings.GetFloat(ctx, setting.KeyAffiliateCommissionPct, s.defaultCommissionPct)
	commission := deposit.Amount * pct / 100
	if commission <= 0 {
		return nil
	}

	row := &AffiliateCommission{
		ID:            s.node.Generate().String(),
		UserID:        *user.ReferredBy,
		SourceUserID:  user.ID,
		TransactionID: deposit.ID,
		Amount:        commission,
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	return s.accounts.WithTrx(tx).CreditAffiliate(ctx, *user.ReferredBy, commission)
}

// Reject closes a pending deposit without moving money. The reason is kept
// on the row for the customer to see.
func (s *Service) Reject(ctx context.Context, txID, reason string) (*Transaction, error) {
	deposit, err := s.pendingDeposit(ctx, txID)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{"status": TxRejected}
	if reason != "" {
		updates["note"] = reason
	}
	if err := s.transactions.Update(ctx, deposit.ID, updates); err != nil {
		return nil, err
	}
	return s.get(ctx, deposit.ID)
}

// Refund reverses an approved deposit or manual credit by the exact net
// amount its approval moved: deposit plus bonus minus fee, recomputed from
// the stored child rows rather than the payment method's current
// percentages. The parent and its approved children all flip to refunded in
// the same transaction. The balance may go negative; a user who deposits,
// spends, and is refunded owes the difference.
func (s *Service) Refund(ctx context.Context, txID, reason string) (*Transaction, error) {
	parent, err := s.get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if parent.Kind != KindDeposit && parent.Kind != KindManual {
		return nil, errutil.UnprocessableEntity("only deposits and manual credits can be refunded")
	}
	if parent.Status != TxApproved {
		return nil, errutil.UnprocessableEntity("only approved transactions can be refunded")
	}

	children, err := s.transactions.Find(ctx, &Transaction{ParentID: &parent.ID})
	if err != nil {
		return nil, err
	}

	net := Effect(parent.Kind, parent.Amount)
	for _, c := range children {
		net += Effect(c.Kind, c.Amount)
	}

	var refund *Transaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := s.transactions.WithTrx(tx)

		updates := map[string]any{"status": TxRefunded}
		if reason != "" {
			updates["note"] = reason
		}
		if err := store.Update(ctx, parent.ID, updates); err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Model(&Transaction{}).
			Where("parent_id = ? AND status = ?", parent.ID, TxApproved).
			Update("status", TxRefunded).Error; err != nil {
			return err
		}
		refund = &Transaction{
			ID:       s.node.Generate().String(),
			UserID:   parent.UserID,
			Kind:     KindRefund,
			Amount:   net,
			Status:   TxApproved,
			ParentID: &parent.ID,
		}
		if err := store.Create(ctx, refund); err != nil {
			return err
		}
		return s.accounts.WithTrx(tx).Apply(ctx, parent.UserID, Effect(KindRefund, net))
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("transaction refunded",
		zap.String("transaction_id", parent.ID),
		zap.String("user_id", parent.UserID),
		zap.Float64("net", net),
	)
	return refund, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
	}
	if limit > 0 {
		opts = append(opts, option.WithLimit(limit))
	}
	return s.transactions.Find(ctx, &Transaction{UserID: userID}, opts...)
}

// ListPending returns deposits awaiting review, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]*Transaction, error) {
	return s.transactions.Find(ctx,
		&Transaction{Kind: KindDeposit, Status: TxPending},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}),
	)
}

func (s *Service) get(ctx context.Context, txID string) (*Transaction, error) {
	row, err := s.transactions.FindOne(ctx, &Transaction{ID: txID})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errutil.NotFound("transaction not found")
	}
	return row, nil
}

func (s *Service) pendingDeposit(ctx context.Context, txID string) (*Transaction, error) {
	row, err := s.get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if row.Kind != KindDeposit {
		return nil, errutil.UnprocessableEntity("transaction is not a deposit")
	}
	if row.Status != TxPending {
		return nil, errutil.Conflict("deposit already settled")
	}
	return row, nil
}
