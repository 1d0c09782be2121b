package account

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"smmpanel/pkg/errutil"
	"smmpanel/pkg/repository"
)

var Module = fx.Module("account", fx.Provide(NewStore))

// Store is the user-balance contract consumed by the order and ledger
// services. Debit never lets a balance go negative.
type Store interface {
	WithTrx(tx *gorm.DB) Store
	Get(ctx context.Context, userID string) (*User, error)
	GetBalance(ctx context.Context, userID string) (float64, error)
	Debit(ctx context.Context, userID string, amount float64) error
	Credit(ctx context.Context, userID string, amount float64) error
	// Apply adjusts the balance by a signed delta without the overdraw guard.
	// Reversals must always succeed even when the user already spent the funds.
	Apply(ctx context.Context, userID string, delta float64) error
	CreditAffiliate(ctx context.Context, userID string, amount float64) error
}

type gormStore struct {
	db    *gorm.DB
	users repository.Repository[User]
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db, users: repository.ProvideStore[User](db)}
}

func (s *gormStore) WithTrx(tx *gorm.DB) Store {
	if tx == nil {
		return s
	}
	return &gormStore{db: tx, users: s.users.WithTrx(tx)}
}

func (s *gormStore) Get(ctx context.Context, userID string) (*User, error) {
	user, err := s.users.FindOne(ctx, &User{ID: userID})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errutil.NotFound("user not found")
	}
	return user, nil
}

func (s *gormStore) GetBalance(ctx context.Context, userID string) (float64, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Balance, nil
}

// Debit applies a guarded decrement. The balance check rides inside the
// UPDATE so concurrent debits cannot overdraw the account.
func (s *gormStore) Debit(ctx context.Context, userID string, amount float64) error {
	res := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		user, err := s.users.FindOne(ctx, &User{ID: userID})
		if err != nil {
			return err
		}
		if user == nil {
			return errutil.NotFound("user not found")
		}
		return errutil.UnprocessableEntity("insufficient balance")
	}
	return nil
}

func (s *gormStore) Credit(ctx context.Context, userID string, amount float64) error {
	res := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("user not found")
	}
	return nil
}

func (s *gormStore) Apply(ctx context.Context, userID string, delta float64) error {
	res := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("user not found")
	}
	return nil
}

func (s *gormStore) CreditAffiliate(ctx context.Context, userID string, amount float64) error {
	res := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("affiliate_balance", gorm.Expr("affiliate_balance + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("user not found")
	}
	return nil
}
