package auth

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupUserService(t *testing.T) UserService {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&User{}))
	return NewUserService(db)
}

func TestRegisterIssuesKeyAndCode(t *testing.T) {
	svc := setupUserService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Alice@Example.com", "secret123", "Alice")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
	require.True(t, strings.HasPrefix(user.APIKey, "sk-"))
	require.Len(t, user.ReferralCode, 8)
	require.Equal(t, user.ReferralCode, strings.ToUpper(user.ReferralCode))
	require.False(t, user.EmailVerified)
	require.Equal(t, "active", user.Status)

	_, err = svc.Register(ctx, "alice@example.com", "other", "Alice2")
	require.ErrorIs(t, err, ErrEmailExists)
}

func TestLogin(t *testing.T) {
	svc := setupUserService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "alice@example.com", "secret123", "Alice")
	require.NoError(t, err)

	user, err := svc.Login(ctx, "alice@example.com", "secret123")
	require.NoError(t, err)
	require.Equal(t, reg.ID, user.ID)

	_, err = svc.Login(ctx, "alice@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredential)
	_, err = svc.Login(ctx, "nobody@example.com", "secret123")
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyEmailBurnsToken(t *testing.T) {
	svc := setupUserService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "alice@example.com", "secret123", "Alice")
	require.NoError(t, err)
	require.NotEmpty(t, reg.VerifyToken)

	user, err := svc.VerifyEmail(ctx, reg.VerifyToken)
	require.NoError(t, err)
	require.True(t, user.EmailVerified)

	// One-shot: the token is gone after use.
	_, err = svc.VerifyEmail(ctx, reg.VerifyToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestGetByAPIKey(t *testing.T) {
	svc := setupUserService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "alice@example.com", "secret123", "Alice")
	require.NoError(t, err)

	user, err := svc.GetByAPIKey(ctx, reg.APIKey)
	require.NoError(t, err)
	require.Equal(t, reg.ID, user.ID)

	_, err = svc.GetByAPIKey(ctx, "sk-bogus")
	require.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestResetAPIKeyInvalidatesOld(t *testing.T) {
	svc := setupUserService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "alice@example.com", "secret123", "Alice")
	require.NoError(t, err)

	updated, err := svc.ResetAPIKey(ctx, reg.ID)
	require.NoError(t, err)
	require.NotEqual(t, reg.APIKey, updated.APIKey)

	_, err = svc.GetByAPIKey(ctx, reg.APIKey)
	require.ErrorIs(t, err, ErrInvalidAPIKey)
	_, err = svc.GetByAPIKey(ctx, updated.APIKey)
	require.NoError(t, err)
}

func TestSetStatus(t *testing.T) {
	svc := setupUserService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "alice@example.com", "secret123", "Alice")
	require.NoError(t, err)

	require.NoError(t, svc.SetStatus(ctx, reg.ID, "banned"))
	user, err := svc.GetByID(ctx, reg.ID)
	require.NoError(t, err)
	require.Equal(t, "banned", user.Status)

	require.ErrorIs(t, svc.SetStatus(ctx, "nope", "banned"), ErrUserNotFound)
}
