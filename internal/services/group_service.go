package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/models"
	apperrors "github.com/corralhq/corral/pkg/errors"
)

// GroupService manages group principals and their membership. Group ids are
// derived from the group name, so grants issued against a not-yet-created
// group become effective the moment it exists.
type GroupService struct {
	db *gorm.DB
}

// NewGroupService constructs the service.
func NewGroupService(db *gorm.DB) (*GroupService, error) {
	if db == nil {
		return nil, errors.New("group service requires database handle")
	}
	return &GroupService{db: db}, nil
}

// Create registers a group and makes the creator its first admin member.
func (s *GroupService) Create(ctx context.Context, claims *auth.Claims, name string) (*models.Group, error) {
	if claims == nil || claims.Subject == "" {
		return nil, apperrors.ErrUnauthorized
	}
	if name == "" {
		return nil, apperrors.NewBadRequest("group name is required")
	}

	group := &models.Group{
		BaseModel: models.BaseModel{ID: models.DeriveNamedID(name)},
		Name:      name,
	}

	err := s.db.WithContext(ensureContext(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("create group: %w", err))
		}

		member := &models.GroupMember{
			GroupID: group.ID,
			UserID:  claims.Subject,
			IsAdmin: true,
		}
		if err := tx.Create(member).Error; err != nil {
			return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("create group member: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.FromError(err)
	}
	return group, nil
}

// Get fetches a group by id.
func (s *GroupService) Get(ctx context.Context, claims *auth.Claims, id string) (*models.Group, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}

	var group models.Group
	err := s.db.WithContext(ensureContext(ctx)).First(&group, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("load group: %w", err))
	}
	return &group, nil
}

// List returns all groups ordered by name.
func (s *GroupService) List(ctx context.Context, claims *auth.Claims) ([]models.Group, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}

	var groups []models.Group
	err := s.db.WithContext(ensureContext(ctx)).Order("name").Find(&groups).Error
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("list groups: %w", err))
	}
	return groups, nil
}

// Members returns a group's membership.
func (s *GroupService) Members(ctx context.Context, claims *auth.Claims, groupID string) ([]models.GroupMember, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}

	var members []models.GroupMember
	err := s.db.WithContext(ensureContext(ctx)).
		Where("group_id = ?", groupID).
		Order("user_id").
		Find(&members).Error
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("list group members: %w", err))
	}
	return members, nil
}

// AddMember adds a user to a group. Caller must be a group admin or a global
// admin.
func (s *GroupService) AddMember(ctx context.Context, claims *auth.Claims, groupID, userID string, isAdmin bool) error {
	if err := s.requireGroupAdmin(ctx, claims, groupID); err != nil {
		return err
	}

	member := &models.GroupMember{GroupID: groupID, UserID: userID, IsAdmin: isAdmin}
	err := s.db.WithContext(ensureContext(ctx)).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "group_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_admin"}),
		}).
		Create(member).Error
	if err != nil {
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("add group member: %w", err))
	}
	return nil
}

// RemoveMember drops a user from a group. Caller must be a group admin or a
// global admin.
func (s *GroupService) RemoveMember(ctx context.Context, claims *auth.Claims, groupID, userID string) error {
	if err := s.requireGroupAdmin(ctx, claims, groupID); err != nil {
		return err
	}

	result := s.db.WithContext(ensureContext(ctx)).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&models.GroupMember{})
	if result.Error != nil {
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("remove group member: %w", result.Error))
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Delete removes a group and its memberships. Group admin or global admin.
func (s *GroupService) Delete(ctx context.Context, claims *auth.Claims, groupID string) error {
	if err := s.requireGroupAdmin(ctx, claims, groupID); err != nil {
		return err
	}

	return s.db.WithContext(ensureContext(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", groupID).Delete(&models.GroupMember{}).Error; err != nil {
			return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("delete group members: %w", err))
		}

		result := tx.Delete(&models.Group{}, "id = ?", groupID)
		if result.Error != nil {
			return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("delete group: %w", result.Error))
		}
		if result.RowsAffected == 0 {
			return apperrors.ErrNotFound
		}
		return nil
	})
}

func (s *GroupService) requireGroupAdmin(ctx context.Context, claims *auth.Claims, groupID string) error {
	if claims == nil {
		return apperrors.ErrUnauthorized
	}
	if claims.Admin {
		return nil
	}

	var count int64
	err := s.db.WithContext(ensureContext(ctx)).
		Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ? AND is_admin = ?", groupID, claims.Subject, true).
		Count(&count).Error
	if err != nil {
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("resolve group admin: %w", err))
	}
	if count == 0 {
		return apperrors.ErrForbidden
	}
	return nil
}
