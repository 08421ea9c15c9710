package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/models"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/metrics"
)

// PermissionService owns the grant table and answers every authorization
// question in the catalog. A grant attaches to a permission root; a check
// resolves the target resource's root with a single join, never transitively.
type PermissionService struct {
	db *gorm.DB
}

// NewPermissionService constructs the service.
func NewPermissionService(db *gorm.DB) (*PermissionService, error) {
	if db == nil {
		return nil, errors.New("permission service requires database handle")
	}
	return &PermissionService{db: db}, nil
}

// PrincipalGrants aggregates the actions a single principal holds at a
// permission root.
type PrincipalGrants struct {
	PrincipalID string   `json:"principal_id"`
	Actions     []string `json:"actions"`
}

// Check reports whether the caller may perform action on the resource.
// Admin claims always pass. Failure is terminal: ErrForbidden is returned,
// never retried or downgraded.
func (s *PermissionService) Check(ctx context.Context, claims *auth.Claims, resourceID, action string) error {
	return s.CheckTx(s.db.WithContext(ensureContext(ctx)), claims, resourceID, action)
}

// CheckTx is Check running against a caller-supplied transaction so grant
// evaluation can share the transaction of a surrounding catalog write.
func (s *PermissionService) CheckTx(tx *gorm.DB, claims *auth.Claims, resourceID, action string) error {
	if claims == nil {
		return apperrors.ErrUnauthorized
	}

	if claims.Admin {
		metrics.PermissionChecks.WithLabelValues(action, "allow").Inc()
		return nil
	}

	var count int64
	err := tx.Model(&models.Grant{}).
		Joins("JOIN resources ON resources.permission_parent_id = grants.resource_id").
		Where("resources.id = ?", resourceID).
		Where("grants.principal_id IN ?", claims.Principals()).
		Where("grants.action = ?", action).
		Count(&count).Error
	if err != nil {
		metrics.PermissionChecks.WithLabelValues(action, "error").Inc()
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("permission check: %w", err))
	}

	if count == 0 {
		metrics.PermissionChecks.WithLabelValues(action, "deny").Inc()
		return apperrors.ErrForbidden
	}

	metrics.PermissionChecks.WithLabelValues(action, "allow").Inc()
	return nil
}

// CheckWithGroupResolution authorizes an action on behalf of a second
// identity. The caller needs read on the resource; the subject's grants are
// then evaluated with group membership resolved from the membership table
// rather than trusted from any token, so stale claims cannot widen the
// subject's access.
func (s *PermissionService) CheckWithGroupResolution(ctx context.Context, claims *auth.Claims, resourceID, subjectUserID, action string) error {
	if err := s.Check(ctx, claims, resourceID, models.ActionRead); err != nil {
		return err
	}

	db := s.db.WithContext(ensureContext(ctx))

	var admin int64
	if err := db.Model(&models.User{}).
		Where("id = ? AND is_admin = ?", subjectUserID, true).
		Count(&admin).Error; err != nil {
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("permission check: resolve subject: %w", err))
	}
	if admin > 0 {
		return nil
	}

	groups := db.Model(&models.GroupMember{}).
		Select("group_id").
		Where("user_id = ?", subjectUserID)

	var count int64
	err := db.Model(&models.Grant{}).
		Joins("JOIN resources ON resources.permission_parent_id = grants.resource_id").
		Where("resources.id = ?", resourceID).
		Where("grants.action = ?", action).
		Where("grants.principal_id = ? OR grants.principal_id IN (?)", subjectUserID, groups).
		Count(&count).Error
	if err != nil {
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("permission check: %w", err))
	}

	if count == 0 {
		return apperrors.ErrForbidden
	}
	return nil
}

// Share grants the listed actions to a principal at the given permission
// root. The caller must hold grant on the resource. The principal may be a
// UUID or a name; names are derived to their stable id. Returns the
// principal's aggregated action set after the change.
func (s *PermissionService) Share(ctx context.Context, claims *auth.Claims, resourceID, principal string, actions []string) (*PrincipalGrants, error) {
	if err := s.Check(ctx, claims, resourceID, models.ActionGrant); err != nil {
		return nil, err
	}
	return s.ShareTx(s.db.WithContext(ensureContext(ctx)), resourceID, principal, actions)
}

// ShareTx inserts grant tuples inside the caller's transaction without an
// authorization check. It exists so resource creation can seed grants
// atomically with the resource row.
func (s *PermissionService) ShareTx(tx *gorm.DB, resourceID, principal string, actions []string) (*PrincipalGrants, error) {
	if len(actions) == 0 {
		return nil, apperrors.NewBadRequest("at least one action is required")
	}

	principalID := resolvePrincipalID(principal)

	grants := make([]models.Grant, 0, len(actions))
	for _, action := range actions {
		if action == "" {
			return nil, apperrors.NewBadRequest("action must not be empty")
		}
		grants = append(grants, models.Grant{
			ResourceID:  resourceID,
			PrincipalID: principalID,
			Action:      action,
		})
	}

	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&grants).Error; err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("share: insert grants: %w", err))
	}

	return s.aggregate(tx, resourceID, principalID)
}

// Unshare removes the listed actions for a principal and returns the
// remaining aggregated set. The caller must hold grant on the resource.
func (s *PermissionService) Unshare(ctx context.Context, claims *auth.Claims, resourceID, principal string, actions []string) (*PrincipalGrants, error) {
	if err := s.Check(ctx, claims, resourceID, models.ActionGrant); err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, apperrors.NewBadRequest("at least one action is required")
	}

	principalID := resolvePrincipalID(principal)
	db := s.db.WithContext(ensureContext(ctx))

	err := db.Where("resource_id = ? AND principal_id = ? AND action IN ?", resourceID, principalID, actions).
		Delete(&models.Grant{}).Error
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("unshare: delete grants: %w", err))
	}

	return s.aggregate(db, resourceID, principalID)
}

// Get returns the aggregated actions one principal holds at a resource.
// Requires read on the resource.
func (s *PermissionService) Get(ctx context.Context, claims *auth.Claims, resourceID, principal string) (*PrincipalGrants, error) {
	if err := s.Check(ctx, claims, resourceID, models.ActionRead); err != nil {
		return nil, err
	}
	return s.GetTx(s.db.WithContext(ensureContext(ctx)), resourceID, principal)
}

// GetTx is Get without an authorization check, for callers already inside an
// authorized transaction.
func (s *PermissionService) GetTx(tx *gorm.DB, resourceID, principal string) (*PrincipalGrants, error) {
	return s.aggregate(tx, resourceID, resolvePrincipalID(principal))
}

// List returns every (principal, actions) pair recorded at the resource's
// permission root, resolved with the same single hop every check uses: listing
// a delegated resource shows the root's grant set. Requires grant on the
// resource.
func (s *PermissionService) List(ctx context.Context, claims *auth.Claims, resourceID string) ([]PrincipalGrants, error) {
	if err := s.Check(ctx, claims, resourceID, models.ActionGrant); err != nil {
		return nil, err
	}

	var rows []models.Grant
	err := s.db.WithContext(ensureContext(ctx)).
		Model(&models.Grant{}).
		Select("grants.*").
		Joins("JOIN resources ON resources.permission_parent_id = grants.resource_id").
		Where("resources.id = ?", resourceID).
		Order("grants.principal_id, grants.action").
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("list grants: %w", err))
	}

	byPrincipal := make(map[string]*PrincipalGrants)
	order := make([]string, 0)
	for _, row := range rows {
		pg, ok := byPrincipal[row.PrincipalID]
		if !ok {
			pg = &PrincipalGrants{PrincipalID: row.PrincipalID}
			byPrincipal[row.PrincipalID] = pg
			order = append(order, row.PrincipalID)
		}
		pg.Actions = append(pg.Actions, row.Action)
	}

	result := make([]PrincipalGrants, 0, len(order))
	for _, id := range order {
		result = append(result, *byPrincipal[id])
	}
	return result, nil
}

func (s *PermissionService) aggregate(tx *gorm.DB, resourceID, principalID string) (*PrincipalGrants, error) {
	var rows []models.Grant
	err := tx.Where("resource_id = ? AND principal_id = ?", resourceID, principalID).
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("aggregate grants: %w", err))
	}

	pg := &PrincipalGrants{PrincipalID: principalID, Actions: make([]string, 0, len(rows))}
	for _, row := range rows {
		pg.Actions = append(pg.Actions, row.Action)
	}
	sort.Strings(pg.Actions)
	return pg, nil
}
