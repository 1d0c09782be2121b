package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smmpanel/pkg/errutil"
	"smmpanel/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestStore(t *testing.T) Store {
	t.Helper()
	db := testutil.NewTestDB(t, &User{})
	require.NoError(t, db.Create(&User{ID: "user-1", Email: "u@example.com", Balance: 10}).Error)
	return NewStore(db)
}

func TestDebitGuardsOverdraw(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Debit(ctx, "user-1", 4))

	err := store.Debit(ctx, "user-1", 7)
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Code)

	balance, err := store.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.InDelta(t, 6.0, balance, 1e-9)
}

func TestDebitUnknownUser(t *testing.T) {
	store := newTestStore(t)

	err := store.Debit(context.Background(), "ghost", 1)
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusNotFound, be.Code)
}

func TestApplyAllowsNegativeBalance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Apply(ctx, "user-1", -25))

	balance, err := store.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	require.InDelta(t, -15.0, balance, 1e-9)
}

func TestCreditAffiliateSeparateFromBalance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreditAffiliate(ctx, "user-1", 3))

	user, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	require.InDelta(t, 3.0, user.AffiliateBalance, 1e-9)
	require.InDelta(t, 10.0, user.Balance, 1e-9)
}
