package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/database"
	"github.com/corralhq/corral/internal/models"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/logger"
)

// FencingChecker verifies that a lock lease token is still current. The lock
// manager implements it; the resource store consults it for writes guarded by
// a fencing header.
type FencingChecker interface {
	CheckFencingToken(ctx context.Context, key string, token int64) (bool, error)
}

// ResourceService owns resource rows and the transactional write path of the
// catalog. Every mutation authorizes through the permission engine, validates
// through the schema registry, persists in one transaction, and publishes an
// event afterwards. The publish step is outside the transaction; see Publish
// on EventService for the resulting at-most-once delivery gap.
type ResourceService struct {
	db          *gorm.DB
	schemas     *SchemaService
	permissions *PermissionService
	events      *EventService
	fencing     FencingChecker
	logger      *zap.Logger
}

// NewResourceService constructs the resource store. fencing may be nil when
// no lock manager is wired in; guarded writes are then rejected.
func NewResourceService(db *gorm.DB, schemas *SchemaService, permissions *PermissionService, events *EventService, fencing FencingChecker) (*ResourceService, error) {
	if db == nil {
		return nil, errors.New("resource service requires database handle")
	}
	if schemas == nil {
		return nil, errors.New("resource service requires schema service")
	}
	if permissions == nil {
		return nil, errors.New("resource service requires permission service")
	}
	if events == nil {
		return nil, errors.New("resource service requires event service")
	}
	return &ResourceService{
		db:          db,
		schemas:     schemas,
		permissions: permissions,
		events:      events,
		fencing:     fencing,
		logger:      logger.WithModule("services.resource"),
	}, nil
}

// ShareInput names a principal (id or name) and the actions to grant it.
type ShareInput struct {
	Principal string   `json:"principal"`
	Actions   []string `json:"actions"`
}

// CreateResourceInput carries everything needed to create a resource.
type CreateResourceInput struct {
	Kind               string            `json:"kind"`
	ParentID           *string           `json:"parent_id,omitempty"`
	PermissionParentID string            `json:"permission_parent_id,omitempty"`
	Data               json.RawMessage   `json:"data"`
	Labels             map[string]string `json:"labels,omitempty"`
	Shares             []ShareInput      `json:"shares,omitempty"`
}

// Create validates the payload against the kind's schema and inserts the
// resource with its grants in a single transaction. When no permission parent
// is given the resource becomes its own permission root and the creator is
// granted grant/read/write on it; with an explicit parent the parent's grant
// set governs access and no creator grants are seeded. The create event is
// published after the transaction commits.
func (s *ResourceService) Create(ctx context.Context, claims *auth.Claims, input CreateResourceInput) (*models.Resource, error) {
	if claims == nil || claims.Subject == "" {
		return nil, apperrors.ErrUnauthorized
	}
	if input.Kind == "" {
		return nil, apperrors.NewBadRequest("kind is required")
	}
	if len(input.Data) == 0 {
		return nil, apperrors.NewBadRequest("data is required")
	}

	ctx = ensureContext(ctx)

	if err := s.schemas.Validate(ctx, input.Kind, input.Data); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	permissionParent := input.PermissionParentID
	explicitParent := permissionParent != ""
	if !explicitParent {
		permissionParent = id
	}

	labels := datatypes.JSONMap{}
	for k, v := range input.Labels {
		labels[k] = v
	}

	resource := &models.Resource{
		ID:                 id,
		Kind:               input.Kind,
		ParentID:           input.ParentID,
		PermissionParentID: permissionParent,
		CreatorID:          claims.Subject,
		Data:               datatypes.JSON(input.Data),
		Labels:             labels,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if explicitParent {
			if err := s.permissions.CheckTx(tx, claims, permissionParent, models.ActionWrite); err != nil {
				return err
			}
		}

		if err := tx.Create(resource).Error; err != nil {
			return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("create resource: %w", err))
		}

		if !explicitParent {
			creatorActions := []string{models.ActionGrant, models.ActionRead, models.ActionWrite}
			if _, err := s.permissions.ShareTx(tx, id, claims.Subject, creatorActions); err != nil {
				return err
			}
		}

		for _, share := range input.Shares {
			if _, err := s.permissions.ShareTx(tx, id, share.Principal, share.Actions); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.FromError(err)
	}

	s.publish(ctx, resource, models.EventTypeCreate, input.Data)
	return resource, nil
}

// Get fetches a resource. The caller needs read on its permission root.
func (s *ResourceService) Get(ctx context.Context, claims *auth.Claims, id string) (*models.Resource, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}

	ctx = ensureContext(ctx)

	resource, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.permissions.Check(ctx, claims, id, models.ActionRead); err != nil {
		return nil, err
	}
	return resource, nil
}

// UpdateResourceInput carries an optional RFC 7396 merge patch for the data
// document and a label patch. An empty-string label value deletes the key.
type UpdateResourceInput struct {
	Data   json.RawMessage   `json:"data,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

// Update applies a merge patch and label patch to a resource. Requires write;
// the merged document must still satisfy the kind's schema, otherwise the
// stored row is left unchanged. A fencing guard, when supplied, must name a
// token that is still current.
func (s *ResourceService) Update(ctx context.Context, claims *auth.Claims, id string, input UpdateResourceInput, guard *auth.FencingGuard) (*models.Resource, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}

	ctx = ensureContext(ctx)

	resource, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.permissions.Check(ctx, claims, id, models.ActionWrite); err != nil {
		return nil, err
	}
	if err := s.verifyFencing(ctx, guard); err != nil {
		return nil, err
	}

	if len(input.Data) > 0 {
		merged, err := jsonpatch.MergePatch([]byte(resource.Data), input.Data)
		if err != nil {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("invalid merge patch: %v", err))
		}
		if err := s.schemas.Validate(ctx, resource.Kind, merged); err != nil {
			return nil, err
		}
		resource.Data = datatypes.JSON(merged)
	}

	if len(input.Labels) > 0 {
		if resource.Labels == nil {
			resource.Labels = datatypes.JSONMap{}
		}
		for k, v := range input.Labels {
			if v == "" {
				delete(resource.Labels, k)
			} else {
				resource.Labels[k] = v
			}
		}
	}

	if err := s.db.WithContext(ctx).Save(resource).Error; err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("update resource: %w", err))
	}

	s.publish(ctx, resource, models.EventTypeUpdate, json.RawMessage(resource.Data))
	return resource, nil
}

// Delete removes a resource and, through the containment tree, its children.
// Requires write. The delete event carries the pre-delete snapshot.
func (s *ResourceService) Delete(ctx context.Context, claims *auth.Claims, id string, guard *auth.FencingGuard) error {
	if claims == nil {
		return apperrors.ErrUnauthorized
	}

	ctx = ensureContext(ctx)

	resource, err := s.fetch(ctx, id)
	if err != nil {
		return err
	}
	if err := s.permissions.Check(ctx, claims, id, models.ActionWrite); err != nil {
		return err
	}
	if err := s.verifyFencing(ctx, guard); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&models.Resource{}, "id = ?", id).Error; err != nil {
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("delete resource: %w", err))
	}

	s.publish(ctx, resource, models.EventTypeDelete, json.RawMessage(resource.Data))
	return nil
}

// ListQuery restricts a listing. Empty fields are skipped; non-empty
// predicates are ANDed together.
type ListQuery struct {
	Labels   map[string]string
	JSONPath string
	Kind     string
	Search   string
}

// List returns every resource visible to the caller, newest first. Non-admin
// callers see exactly the rows whose permission root carries a read grant for
// one of their principals. JSONPath predicates require the postgres dialect.
func (s *ResourceService) List(ctx context.Context, claims *auth.Claims, query ListQuery) ([]models.Resource, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}

	db := s.db.WithContext(ensureContext(ctx))
	tx := db.Model(&models.Resource{}).Distinct("resources.*")

	if !claims.Admin {
		tx = tx.Joins("JOIN grants ON grants.resource_id = resources.permission_parent_id").
			Where("grants.principal_id IN ?", claims.Principals()).
			Where("grants.action = ?", models.ActionRead)
	}

	for key, value := range query.Labels {
		tx = tx.Where(datatypes.JSONQuery("labels").Equals(value, key))
	}

	if query.JSONPath != "" {
		if !database.IsPostgres(db) {
			return nil, apperrors.NewBadRequest("jsonpath filters require the postgres dialect")
		}
		tx = tx.Where("resources.data @? ?::jsonpath", query.JSONPath)
	}

	if query.Kind != "" {
		tx = tx.Where("resources.kind = ?", query.Kind)
	}

	if query.Search != "" {
		if database.IsPostgres(db) {
			tx = tx.Where("to_tsvector('english', resources.data::text) @@ websearch_to_tsquery('english', ?)", query.Search)
		} else {
			tx = tx.Where("resources.data LIKE ?", "%"+strings.ReplaceAll(query.Search, "%", "\\%")+"%")
		}
	}

	var resources []models.Resource
	if err := tx.Order("resources.created_at DESC").Find(&resources).Error; err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("list resources: %w", err))
	}
	return resources, nil
}

func (s *ResourceService) fetch(ctx context.Context, id string) (*models.Resource, error) {
	var resource models.Resource
	err := s.db.WithContext(ctx).First(&resource, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("load resource: %w", err))
	}
	return &resource, nil
}

func (s *ResourceService) verifyFencing(ctx context.Context, guard *auth.FencingGuard) error {
	if guard == nil {
		return nil
	}
	if s.fencing == nil {
		return apperrors.NewBadRequest("fencing guards are not supported by this deployment")
	}

	current, err := s.fencing.CheckFencingToken(ctx, guard.Key, guard.Token)
	if err != nil {
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("verify fencing token: %w", err))
	}
	if !current {
		return apperrors.ErrInvalidFencingToken
	}
	return nil
}

// publish records the event for a committed mutation. Failures here cannot
// roll the mutation back anymore, so they are logged and swallowed.
func (s *ResourceService) publish(ctx context.Context, resource *models.Resource, eventType string, data json.RawMessage) {
	labels := make(map[string]string, len(resource.Labels))
	for k, v := range resource.Labels {
		if str, ok := v.(string); ok {
			labels[k] = str
		}
	}

	_, err := s.events.Publish(ctx, auth.SystemClaims(), PublishInput{
		ResourceID:   resource.ID,
		ResourceKind: resource.Kind,
		EventType:    eventType,
		Data:         data,
		Labels:       labels,
	})
	if err != nil {
		s.logger.Error("event publication failed after committed write",
			zap.String("resource_id", resource.ID),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
