package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/models"
	apperrors "github.com/corralhq/corral/pkg/errors"
)

const (
	secretLength   = 32
	secretAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// RootAccountName is the admin service account created at startup.
	RootAccountName = "root"
)

// ServiceAccountService manages machine principals. Account ids derive from
// the account name, so shares may reference an account by name before it is
// created. The generated secret is returned exactly once at creation.
type ServiceAccountService struct {
	db *gorm.DB
}

// NewServiceAccountService constructs the service.
func NewServiceAccountService(db *gorm.DB) (*ServiceAccountService, error) {
	if db == nil {
		return nil, errors.New("service account service requires database handle")
	}
	return &ServiceAccountService{db: db}, nil
}

// CreatedServiceAccount pairs the stored account with its one-time secret.
type CreatedServiceAccount struct {
	Account *models.ServiceAccount `json:"account"`
	Secret  string                 `json:"secret"`
}

// Create registers a service account with a freshly generated secret. Admin
// only.
func (s *ServiceAccountService) Create(ctx context.Context, claims *auth.Claims, name string, isAdmin bool) (*CreatedServiceAccount, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}
	if !claims.Admin {
		return nil, apperrors.ErrForbidden
	}
	if name == "" {
		return nil, apperrors.NewBadRequest("service account name is required")
	}

	return s.create(ensureContext(ctx), name, isAdmin)
}

func (s *ServiceAccountService) create(ctx context.Context, name string, isAdmin bool) (*CreatedServiceAccount, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("generate secret: %w", err))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("hash secret: %w", err))
	}

	account := &models.ServiceAccount{
		BaseModel:     models.BaseModel{ID: models.DeriveNamedID(name)},
		Name:          name,
		IsAdmin:       isAdmin,
		SecretKeyHash: string(hash),
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("create service account: %w", err))
	}

	return &CreatedServiceAccount{Account: account, Secret: secret}, nil
}

// Get fetches a service account by id. Admin only.
func (s *ServiceAccountService) Get(ctx context.Context, claims *auth.Claims, id string) (*models.ServiceAccount, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}
	if !claims.Admin {
		return nil, apperrors.ErrForbidden
	}

	var account models.ServiceAccount
	err := s.db.WithContext(ensureContext(ctx)).First(&account, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("load service account: %w", err))
	}
	return &account, nil
}

// List returns all service accounts. Admin only.
func (s *ServiceAccountService) List(ctx context.Context, claims *auth.Claims) ([]models.ServiceAccount, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}
	if !claims.Admin {
		return nil, apperrors.ErrForbidden
	}

	var accounts []models.ServiceAccount
	err := s.db.WithContext(ensureContext(ctx)).Order("name").Find(&accounts).Error
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("list service accounts: %w", err))
	}
	return accounts, nil
}

// Delete removes a service account. Admin only; the root account cannot be
// deleted.
func (s *ServiceAccountService) Delete(ctx context.Context, claims *auth.Claims, id string) error {
	if claims == nil {
		return apperrors.ErrUnauthorized
	}
	if !claims.Admin {
		return apperrors.ErrForbidden
	}
	if id == models.DeriveNamedID(RootAccountName) {
		return apperrors.NewBadRequest("the root account cannot be deleted")
	}

	result := s.db.WithContext(ensureContext(ctx)).Delete(&models.ServiceAccount{}, "id = ?", id)
	if result.Error != nil {
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("delete service account: %w", result.Error))
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// EnsureRootAccount creates the admin "root" service account if it does not
// exist yet and returns its one-time secret. When the account already exists
// the returned secret is empty.
func (s *ServiceAccountService) EnsureRootAccount(ctx context.Context) (string, error) {
	ctx = ensureContext(ctx)

	var existing models.ServiceAccount
	err := s.db.WithContext(ctx).First(&existing, "id = ?", models.DeriveNamedID(RootAccountName)).Error
	if err == nil {
		return "", nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("lookup root account: %w", err)
	}

	created, createErr := s.create(ctx, RootAccountName, true)
	if createErr != nil {
		return "", createErr
	}
	return created.Secret, nil
}

func generateSecret() (string, error) {
	max := big.NewInt(int64(len(secretAlphabet)))
	secret := make([]byte, secretLength)
	for i := range secret {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		secret[i] = secretAlphabet[n.Int64()]
	}
	return string(secret), nil
}
