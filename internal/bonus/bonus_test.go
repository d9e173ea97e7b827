package bonus

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

func setupScheduler(t *testing.T) (*Scheduler, ledger.Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auth.User{}, &ledger.Account{}, &ledger.Transaction{}))

	ledgerSvc := ledger.NewService(db, nil, time.Hour, nil)
	return NewScheduler(db, nil, ledgerSvc, nil, 1), ledgerSvc, db
}

func createUser(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	require.NoError(t, db.Create(&auth.User{
		ID:     id,
		Email:  id + "@example.com",
		APIKey: "sk-" + id,
		Status: "active",
	}).Error)
}

func at(day int, hour int) time.Time {
	return time.Date(2026, time.March, day, hour, 0, 0, 0, time.UTC)
}

func TestClaimOncePerCalendarDay(t *testing.T) {
	sched, ledgerSvc, db := setupScheduler(t)
	createUser(t, db, "u1")
	ctx := context.Background()

	sched.SetClock(func() time.Time { return at(1, 9) })
	res, err := sched.Claim(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Reward)
	require.Equal(t, 1, res.Streak)

	// Second claim the same day, hours later.
	sched.SetClock(func() time.Time { return at(1, 23) })
	_, err = sched.Claim(ctx, "u1")
	require.ErrorIs(t, err, ErrAlreadyClaimedToday)

	acc, err := ledgerSvc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), acc.Balance)
}

func TestClaimAcrossMidnight(t *testing.T) {
	sched, ledgerSvc, db := setupScheduler(t)
	createUser(t, db, "u1")
	ctx := context.Background()

	// 23:00 and 01:00 the next day are different calendar days even
	// though only two hours apart.
	sched.SetClock(func() time.Time { return at(1, 23) })
	_, err := sched.Claim(ctx, "u1")
	require.NoError(t, err)

	sched.SetClock(func() time.Time { return at(2, 1) })
	res, err := sched.Claim(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, res.Streak)

	acc, err := ledgerSvc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(2), acc.Balance)
}

func TestStreakResetsAfterMissedDay(t *testing.T) {
	sched, _, db := setupScheduler(t)
	createUser(t, db, "u1")
	ctx := context.Background()

	sched.SetClock(func() time.Time { return at(1, 9) })
	res, err := sched.Claim(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Streak)

	sched.SetClock(func() time.Time { return at(2, 9) })
	res, err = sched.Claim(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, res.Streak)

	// Day 3 skipped.
	sched.SetClock(func() time.Time { return at(4, 9) })
	res, err = sched.Claim(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Streak)
}

func TestClaimWritesDailyBonusLedgerEntry(t *testing.T) {
	sched, ledgerSvc, db := setupScheduler(t)
	createUser(t, db, "u1")
	ctx := context.Background()

	sched.SetClock(func() time.Time { return at(1, 9) })
	_, err := sched.Claim(ctx, "u1")
	require.NoError(t, err)

	txns, err := ledgerSvc.History(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Equal(t, ledger.TxDailyBonus, txns[0].Type)
	require.Equal(t, int64(1), txns[0].Amount)
}

func TestEligible(t *testing.T) {
	sched, _, _ := setupScheduler(t)

	now := at(2, 12)
	require.True(t, sched.Eligible(&auth.User{}, now))

	yesterday := at(1, 23)
	require.True(t, sched.Eligible(&auth.User{LastLoginAt: &yesterday}, now))

	today := at(2, 1)
	require.False(t, sched.Eligible(&auth.User{LastLoginAt: &today}, now))
}
