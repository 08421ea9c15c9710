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

// UserService manages human principals. The catalog core treats users as an
// opaque principal source; this service only does keyed CRUD plus password
// hashing.
type UserService struct {
	db *gorm.DB
}

// NewUserService constructs the service.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service requires database handle")
	}
	return &UserService{db: db}, nil
}

// CreateUserInput describes a new user.
type CreateUserInput struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	IsAdmin  bool   `json:"is_admin"`
}

// Create registers a user. Admin only.
func (s *UserService) Create(ctx context.Context, claims *auth.Claims, input CreateUserInput) (*models.User, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}
	if !claims.Admin {
		return nil, apperrors.ErrForbidden
	}
	if input.Name == "" || input.Email == "" {
		return nil, apperrors.NewBadRequest("name and email are required")
	}
	if len(input.Password) < 8 {
		return nil, apperrors.NewBadRequest("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("hash password: %w", err))
	}

	user := &models.User{
		Name:         input.Name,
		Email:        input.Email,
		IsAdmin:      input.IsAdmin,
		PasswordHash: string(hash),
	}
	if err := s.db.WithContext(ensureContext(ctx)).Create(user).Error; err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("create user: %w", err))
	}
	return user, nil
}

// Get fetches a user. Callers may read themselves; admins may read anyone.
func (s *UserService) Get(ctx context.Context, claims *auth.Claims, id string) (*models.User, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}
	if !claims.Admin && claims.Subject != id {
		return nil, apperrors.ErrForbidden
	}

	var user models.User
	err := s.db.WithContext(ensureContext(ctx)).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("load user: %w", err))
	}
	return &user, nil
}

// List returns all users. Admin only.
func (s *UserService) List(ctx context.Context, claims *auth.Claims) ([]models.User, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}
	if !claims.Admin {
		return nil, apperrors.ErrForbidden
	}

	var users []models.User
	err := s.db.WithContext(ensureContext(ctx)).Order("name").Find(&users).Error
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("list users: %w", err))
	}
	return users, nil
}

// UpdateUserInput carries optional user changes; empty fields are left alone.
type UpdateUserInput struct {
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// Update changes a user's email or password. Self or admin.
func (s *UserService) Update(ctx context.Context, claims *auth.Claims, id string, input UpdateUserInput) (*models.User, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}
	if !claims.Admin && claims.Subject != id {
		return nil, apperrors.ErrForbidden
	}

	db := s.db.WithContext(ensureContext(ctx))

	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("load user: %w", err))
	}

	if input.Email != "" {
		user.Email = input.Email
	}
	if input.Password != "" {
		if len(input.Password) < 8 {
			return nil, apperrors.NewBadRequest("password must be at least 8 characters")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("hash password: %w", err))
		}
		user.PasswordHash = string(hash)
	}

	if err := db.Save(&user).Error; err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("update user: %w", err))
	}
	return &user, nil
}

// Delete removes a user and its group memberships. Admin only.
func (s *UserService) Delete(ctx context.Context, claims *auth.Claims, id string) error {
	if claims == nil {
		return apperrors.ErrUnauthorized
	}
	if !claims.Admin {
		return apperrors.ErrForbidden
	}

	return s.db.WithContext(ensureContext(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.GroupMember{}).Error; err != nil {
			return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("delete memberships: %w", err))
		}

		result := tx.Delete(&models.User{}, "id = ?", id)
		if result.Error != nil {
			return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("delete user: %w", result.Error))
		}
		if result.RowsAffected == 0 {
			return apperrors.ErrNotFound
		}
		return nil
	})
}

// GroupIDs returns the ids of every group the user belongs to. Token issuance
// uses it to stamp the grp claim.
func (s *UserService) GroupIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ensureContext(ctx)).
		Model(&models.GroupMember{}).
		Where("user_id = ?", userID).
		Pluck("group_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("resolve user groups: %w", err)
	}
	return ids, nil
}
