package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/models"
	apperrors "github.com/corralhq/corral/pkg/errors"
)

// AuthService exchanges credentials for token pairs. It is the only component
// that reads password and secret hashes.
type AuthService struct {
	db     *gorm.DB
	tokens *auth.TokenService
	users  *UserService
}

// NewAuthService constructs the service.
func NewAuthService(db *gorm.DB, tokens *auth.TokenService, users *UserService) (*AuthService, error) {
	if db == nil {
		return nil, errors.New("auth service requires database handle")
	}
	if tokens == nil {
		return nil, errors.New("auth service requires token service")
	}
	if users == nil {
		return nil, errors.New("auth service requires user service")
	}
	return &AuthService{db: db, tokens: tokens, users: users}, nil
}

// TokenPair is an access/refresh token bundle.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoginPassword authenticates a user by email and password.
func (s *AuthService) LoginPassword(ctx context.Context, email, password string) (*TokenPair, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("load user: %w", err))
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, apperrors.ErrInvalidCredentials
	}

	groups, err := s.users.GroupIDs(ctx, user.ID)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	return s.issuePair(auth.TokenInput{Subject: user.ID, Groups: groups, Admin: user.IsAdmin})
}

// LoginServiceAccount authenticates a machine principal by name and secret.
func (s *AuthService) LoginServiceAccount(ctx context.Context, name, secret string) (*TokenPair, error) {
	var account models.ServiceAccount
	err := s.db.WithContext(ensureContext(ctx)).
		First(&account, "id = ?", models.DeriveNamedID(name)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("load service account: %w", err))
	}

	if bcrypt.CompareHashAndPassword([]byte(account.SecretKeyHash), []byte(secret)) != nil {
		return nil, apperrors.ErrInvalidCredentials
	}

	return s.issuePair(auth.TokenInput{Subject: account.ID, Admin: account.IsAdmin})
}

// Refresh exchanges a refresh token for a fresh pair. Group membership and
// the admin flag are re-resolved from the store, never copied from the old
// token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, apperrors.ErrUnauthorized.WithInternal(err)
	}

	ctx = ensureContext(ctx)

	var user models.User
	err = s.db.WithContext(ctx).First(&user, "id = ?", claims.Subject).Error
	if err == nil {
		groups, gerr := s.users.GroupIDs(ctx, user.ID)
		if gerr != nil {
			return nil, apperrors.ErrInternalServer.WithInternal(gerr)
		}
		return s.issuePair(auth.TokenInput{Subject: user.ID, Groups: groups, Admin: user.IsAdmin})
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("load user: %w", err))
	}

	var account models.ServiceAccount
	err = s.db.WithContext(ctx).First(&account, "id = ?", claims.Subject).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrUnauthorized
		}
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("load service account: %w", err))
	}

	return s.issuePair(auth.TokenInput{Subject: account.ID, Admin: account.IsAdmin})
}

func (s *AuthService) issuePair(input auth.TokenInput) (*TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(input)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	refresh, err := s.tokens.IssueRefreshToken(input)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
