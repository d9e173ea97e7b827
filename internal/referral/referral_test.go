package referral

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mysticorb/mysticorb-server/internal/auth"
	"github.com/mysticorb/mysticorb-server/internal/ledger"
)

func setupRedeemer(t *testing.T) (*Redeemer, ledger.Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auth.User{}, &ledger.Account{}, &ledger.Transaction{}, &Redemption{}))

	ledgerSvc := ledger.NewService(db, nil, time.Hour, nil)
	return NewRedeemer(db, ledgerSvc, nil, 3), ledgerSvc, db
}

func createUser(t *testing.T, db *gorm.DB, id, code string, verified bool) {
	t.Helper()
	require.NoError(t, db.Create(&auth.User{
		ID:            id,
		Email:         id + "@example.com",
		APIKey:        "sk-" + id,
		Status:        "active",
		ReferralCode:  code,
		EmailVerified: verified,
	}).Error)
}

func TestRedeemCreditsBothSides(t *testing.T) {
	redeemer, ledgerSvc, db := setupRedeemer(t)
	createUser(t, db, "referrer", "AAAA1111", true)
	createUser(t, db, "referee", "BBBB2222", true)
	ctx := context.Background()

	res, err := redeemer.Redeem(ctx, "referee", "AAAA1111")
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Reward)
	require.Equal(t, "referrer", res.ReferrerID)
	require.Equal(t, int64(3), res.Balance)

	acc, err := ledgerSvc.GetAccount(ctx, "referrer")
	require.NoError(t, err)
	require.Equal(t, int64(3), acc.Balance)
}

func TestRedeemIsCaseInsensitive(t *testing.T) {
	redeemer, _, db := setupRedeemer(t)
	createUser(t, db, "referrer", "AAAA1111", true)
	createUser(t, db, "referee", "BBBB2222", true)

	_, err := redeemer.Redeem(context.Background(), "referee", "  aaaa1111 ")
	require.NoError(t, err)
}

func TestRedeemExactlyOnce(t *testing.T) {
	redeemer, ledgerSvc, db := setupRedeemer(t)
	createUser(t, db, "referrer", "AAAA1111", true)
	createUser(t, db, "other", "CCCC3333", true)
	createUser(t, db, "referee", "BBBB2222", true)
	ctx := context.Background()

	_, err := redeemer.Redeem(ctx, "referee", "AAAA1111")
	require.NoError(t, err)

	// Retrying the same code, and trying a different one, both fail.
	_, err = redeemer.Redeem(ctx, "referee", "AAAA1111")
	require.ErrorIs(t, err, ErrAlreadyRedeemed)
	_, err = redeemer.Redeem(ctx, "referee", "CCCC3333")
	require.ErrorIs(t, err, ErrAlreadyRedeemed)

	acc, err := ledgerSvc.GetAccount(ctx, "referee")
	require.NoError(t, err)
	require.Equal(t, int64(3), acc.Balance)
}

func TestReferrerCreditedPerReferee(t *testing.T) {
	redeemer, ledgerSvc, db := setupRedeemer(t)
	createUser(t, db, "referrer", "AAAA1111", true)
	createUser(t, db, "referee1", "BBBB2222", true)
	createUser(t, db, "referee2", "CCCC3333", true)
	ctx := context.Background()

	_, err := redeemer.Redeem(ctx, "referee1", "AAAA1111")
	require.NoError(t, err)
	_, err = redeemer.Redeem(ctx, "referee2", "AAAA1111")
	require.NoError(t, err)

	acc, err := ledgerSvc.GetAccount(ctx, "referrer")
	require.NoError(t, err)
	require.Equal(t, int64(6), acc.Balance)
}

func TestRedeemInvalidCode(t *testing.T) {
	redeemer, _, db := setupRedeemer(t)
	createUser(t, db, "referee", "BBBB2222", true)

	_, err := redeemer.Redeem(context.Background(), "referee", "NOPE0000")
	require.ErrorIs(t, err, ErrInvalidCode)

	_, err = redeemer.Redeem(context.Background(), "referee", "")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestRedeemOwnCode(t *testing.T) {
	redeemer, _, db := setupRedeemer(t)
	createUser(t, db, "u1", "AAAA1111", true)

	_, err := redeemer.Redeem(context.Background(), "u1", "AAAA1111")
	require.ErrorIs(t, err, ErrSelfReferral)
}

func TestRedeemRequiresVerifiedEmail(t *testing.T) {
	redeemer, ledgerSvc, db := setupRedeemer(t)
	createUser(t, db, "referrer", "AAAA1111", true)
	createUser(t, db, "referee", "BBBB2222", false)
	ctx := context.Background()

	_, err := redeemer.Redeem(ctx, "referee", "AAAA1111")
	require.ErrorIs(t, err, ErrEmailUnverified)

	acc, err := ledgerSvc.GetAccount(ctx, "referrer")
	require.NoError(t, err)
	require.Equal(t, int64(0), acc.Balance)
}
