package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/database/testutil"
	"github.com/corralhq/corral/internal/models"
	apperrors "github.com/corralhq/corral/pkg/errors"
)

func newAuthStack(t *testing.T) (*gorm.DB, *AuthService, *UserService, *ServiceAccountService, *auth.TokenService) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)

	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: "test-secret", Issuer: "corral"})
	require.NoError(t, err)

	users, err := NewUserService(db)
	require.NoError(t, err)

	accounts, err := NewServiceAccountService(db)
	require.NoError(t, err)

	authSvc, err := NewAuthService(db, tokens, users)
	require.NoError(t, err)

	return db, authSvc, users, accounts, tokens
}

func TestLoginPassword(t *testing.T) {
	_, authSvc, users, _, tokens := newAuthStack(t)
	ctx := context.Background()

	user, err := users.Create(ctx, adminClaims(), CreateUserInput{
		Name:     "alice",
		Email:    "alice@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)

	pair, err := authSvc.LoginPassword(ctx, "alice@example.com", "correct horse")
	require.NoError(t, err)

	claims, err := tokens.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.Subject)
	require.False(t, claims.Admin)

	_, err = authSvc.LoginPassword(ctx, "alice@example.com", "wrong")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	_, err = authSvc.LoginPassword(ctx, "nobody@example.com", "whatever")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestLoginStampsGroups(t *testing.T) {
	db, authSvc, users, _, tokens := newAuthStack(t)
	ctx := context.Background()

	user, err := users.Create(ctx, adminClaims(), CreateUserInput{
		Name:     "bob",
		Email:    "bob@example.com",
		Password: "hunter2hunter2",
	})
	require.NoError(t, err)

	groupID := models.DeriveNamedID("ops")
	require.NoError(t, db.Create(&models.Group{BaseModel: models.BaseModel{ID: groupID}, Name: "ops"}).Error)
	require.NoError(t, db.Create(&models.GroupMember{GroupID: groupID, UserID: user.ID}).Error)

	pair, err := authSvc.LoginPassword(ctx, "bob@example.com", "hunter2hunter2")
	require.NoError(t, err)

	claims, err := tokens.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, []string{groupID}, claims.Groups)
}

func TestServiceAccountLogin(t *testing.T) {
	_, authSvc, _, accounts, tokens := newAuthStack(t)
	ctx := context.Background()

	created, err := accounts.Create(ctx, adminClaims(), "deployer", false)
	require.NoError(t, err)
	require.Len(t, created.Secret, 32)
	require.Equal(t, models.DeriveNamedID("deployer"), created.Account.ID)

	pair, err := authSvc.LoginServiceAccount(ctx, "deployer", created.Secret)
	require.NoError(t, err)

	claims, err := tokens.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, created.Account.ID, claims.Subject)

	_, err = authSvc.LoginServiceAccount(ctx, "deployer", "bad-secret")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestRefreshReResolvesMembership(t *testing.T) {
	db, authSvc, users, _, tokens := newAuthStack(t)
	ctx := context.Background()

	user, err := users.Create(ctx, adminClaims(), CreateUserInput{
		Name:     "carol",
		Email:    "carol@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	pair, err := authSvc.LoginPassword(ctx, "carol@example.com", "password123")
	require.NoError(t, err)

	// Membership changes after login; the refreshed token must reflect it.
	groupID := models.DeriveNamedID("auditors")
	require.NoError(t, db.Create(&models.Group{BaseModel: models.BaseModel{ID: groupID}, Name: "auditors"}).Error)
	require.NoError(t, db.Create(&models.GroupMember{GroupID: groupID, UserID: user.ID}).Error)

	refreshed, err := authSvc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	claims, err := tokens.VerifyAccessToken(refreshed.AccessToken)
	require.NoError(t, err)
	require.Equal(t, []string{groupID}, claims.Groups)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	_, authSvc, _, _, _ := newAuthStack(t)
	ctx := context.Background()

	_, err := authSvc.Refresh(ctx, "not-a-token")
	require.Error(t, err)
}

func TestEnsureRootAccountIdempotent(t *testing.T) {
	_, authSvc, _, accounts, _ := newAuthStack(t)
	ctx := context.Background()

	secret, err := accounts.EnsureRootAccount(ctx)
	require.NoError(t, err)
	require.Len(t, secret, 32)

	// Second call finds the account and reveals nothing.
	again, err := accounts.EnsureRootAccount(ctx)
	require.NoError(t, err)
	require.Empty(t, again)

	pair, err := authSvc.LoginServiceAccount(ctx, RootAccountName, secret)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
}
