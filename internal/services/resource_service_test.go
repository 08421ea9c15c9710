package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/models"
	apperrors "github.com/corralhq/corral/pkg/errors"
)

func TestCreateThenGetRoundtrip(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	mustRegisterSchema(t, stack, "widget", widgetSchema)

	creator := userClaims(uuid.NewString())
	created := mustCreateResource(t, stack, creator, CreateResourceInput{
		Kind:   "widget",
		Data:   json.RawMessage(`{"name":"a"}`),
		Labels: map[string]string{"env": "prod"},
	})

	require.Equal(t, created.ID, created.PermissionParentID)
	require.Equal(t, creator.Subject, created.CreatorID)

	got, err := stack.resources.Get(ctx, creator, created.ID)
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"a"}`, string(got.Data))
	require.Equal(t, "prod", got.Labels["env"])
}

func TestCreateRejectsSchemaViolation(t *testing.T) {
	stack := newTestStack(t)

	mustRegisterSchema(t, stack, "widget", widgetSchema)

	_, err := stack.resources.Create(context.Background(), userClaims(uuid.NewString()), CreateResourceInput{
		Kind: "widget",
		Data: json.RawMessage(`{"label":"missing name"}`),
	})
	require.Error(t, err)

	appErr := apperrors.FromError(err)
	require.Equal(t, apperrors.ErrBadRequest.Code, appErr.Code)
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	stack := newTestStack(t)

	_, err := stack.resources.Create(context.Background(), userClaims(uuid.NewString()), CreateResourceInput{
		Kind: "mystery",
		Data: json.RawMessage(`{}`),
	})
	require.Error(t, err)
	require.Equal(t, apperrors.ErrBadRequest.Code, apperrors.FromError(err).Code)
}

func TestCreateWithExplicitPermissionParentSkipsCreatorGrants(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	mustRegisterSchema(t, stack, "widget", widgetSchema)

	creator := userClaims(uuid.NewString())
	root := mustCreateResource(t, stack, creator, CreateResourceInput{
		Kind: "widget",
		Data: json.RawMessage(`{"name":"root"}`),
	})

	child := mustCreateResource(t, stack, creator, CreateResourceInput{
		Kind:               "widget",
		PermissionParentID: root.ID,
		Data:               json.RawMessage(`{"name":"child"}`),
	})

	// No grants were seeded on the child itself.
	var count int64
	require.NoError(t, stack.db.Model(&models.Grant{}).Where("resource_id = ?", child.ID).Count(&count).Error)
	require.Zero(t, count)

	// Access still works through the delegated root.
	require.NoError(t, stack.permissions.Check(ctx, creator, child.ID, models.ActionWrite))
}

func TestUpdateMergePatch(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	mustRegisterSchema(t, stack, "widget", widgetSchema)

	creator := userClaims(uuid.NewString())
	created := mustCreateResource(t, stack, creator, CreateResourceInput{
		Kind:   "widget",
		Data:   json.RawMessage(`{"name":"a","color":"red"}`),
		Labels: map[string]string{"env": "prod", "team": "ops"},
	})

	updated, err := stack.resources.Update(ctx, creator, created.ID, UpdateResourceInput{
		Data:   json.RawMessage(`{"name":"b","color":null}`),
		Labels: map[string]string{"env": "staging", "team": ""},
	}, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"b"}`, string(updated.Data))
	require.Equal(t, "staging", updated.Labels["env"])
	require.NotContains(t, updated.Labels, "team")
}

func TestUpdateSchemaViolationLeavesDocumentUnchanged(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	mustRegisterSchema(t, stack, "widget", widgetSchema)

	creator := userClaims(uuid.NewString())
	created := mustCreateResource(t, stack, creator, CreateResourceInput{
		Kind: "widget",
		Data: json.RawMessage(`{"name":"a"}`),
	})

	// Removing the required property violates the schema.
	_, err := stack.resources.Update(ctx, creator, created.ID, UpdateResourceInput{
		Data: json.RawMessage(`{"name":null}`),
	}, nil)
	require.Error(t, err)
	require.Equal(t, apperrors.ErrBadRequest.Code, apperrors.FromError(err).Code)

	got, err := stack.resources.Get(ctx, creator, created.ID)
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"a"}`, string(got.Data))
}

func TestUpdateRequiresWrite(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	mustRegisterSchema(t, stack, "widget", widgetSchema)

	creator := userClaims(uuid.NewString())
	created := mustCreateResource(t, stack, creator, CreateResourceInput{
		Kind: "widget",
		Data: json.RawMessage(`{"name":"a"}`),
	})

	reader := userClaims(uuid.NewString())
	_, err := stack.permissions.Share(ctx, creator, created.ID, reader.Subject, []string{models.ActionRead})
	require.NoError(t, err)

	_, err = stack.resources.Update(ctx, reader, created.ID, UpdateResourceInput{
		Data: json.RawMessage(`{"name":"b"}`),
	}, nil)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestDeleteThenGetNotFound(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	mustRegisterSchema(t, stack, "widget", widgetSchema)

	creator := userClaims(uuid.NewString())
	created := mustCreateResource(t, stack, creator, CreateResourceInput{
		Kind: "widget",
		Data: json.RawMessage(`{"name":"a"}`),
	})

	require.NoError(t, stack.resources.Delete(ctx, creator, created.ID, nil))

	_, err := stack.resources.Get(ctx, creator, created.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateWithStaleFencingTokenRejected(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	mustRegisterSchema(t, stack, "widget", widgetSchema)

	creator := userClaims(uuid.NewString())
	created := mustCreateResource(t, stack, creator, CreateResourceInput{
		Kind: "widget",
		Data: json.RawMessage(`{"name":"a"}`),
	})

	lease, err := stack.locks.TryAcquire(ctx, "widget-writer")
	require.NoError(t, err)
	token := lease.FencingToken
	lease.Release()

	// A second acquisition supersedes the first token.
	lease2, err := stack.locks.TryAcquire(ctx, "widget-writer")
	require.NoError(t, err)
	defer lease2.Release()

	_, err = stack.resources.Update(ctx, creator, created.ID, UpdateResourceInput{
		Data: json.RawMessage(`{"name":"b"}`),
	}, &auth.FencingGuard{Key: "widget-writer", Token: token})
	require.ErrorIs(t, err, apperrors.ErrInvalidFencingToken)

	_, err = stack.resources.Update(ctx, creator, created.ID, UpdateResourceInput{
		Data: json.RawMessage(`{"name":"b"}`),
	}, &auth.FencingGuard{Key: "widget-writer", Token: lease2.FencingToken})
	require.NoError(t, err)
}

func TestListVisibility(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	mustRegisterSchema(t, stack, "widget", widgetSchema)
	mustRegisterSchema(t, stack, "gadget", widgetSchema)

	alice := userClaims(uuid.NewString())
	bob := userClaims(uuid.NewString())

	mine := mustCreateResource(t, stack, alice, CreateResourceInput{
		Kind:   "widget",
		Data:   json.RawMessage(`{"name":"mine"}`),
		Labels: map[string]string{"env": "prod"},
	})
	shared := mustCreateResource(t, stack, bob, CreateResourceInput{
		Kind:   "gadget",
		Data:   json.RawMessage(`{"name":"shared"}`),
		Shares: []ShareInput{{Principal: alice.Subject, Actions: []string{models.ActionRead}}},
	})
	mustCreateResource(t, stack, bob, CreateResourceInput{
		Kind: "widget",
		Data: json.RawMessage(`{"name":"hidden"}`),
	})

	listed, err := stack.resources.List(ctx, alice, ListQuery{})
	require.NoError(t, err)
	require.Len(t, listed, 2)

	ids := []string{listed[0].ID, listed[1].ID}
	require.ElementsMatch(t, []string{mine.ID, shared.ID}, ids)

	// Kind filter ANDs with the authorization predicate.
	listed, err = stack.resources.List(ctx, alice, ListQuery{Kind: "gadget"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, shared.ID, listed[0].ID)

	// Label containment.
	listed, err = stack.resources.List(ctx, alice, ListQuery{Labels: map[string]string{"env": "prod"}})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, mine.ID, listed[0].ID)

	// Admins see everything.
	listed, err = stack.resources.List(ctx, adminClaims(), ListQuery{})
	require.NoError(t, err)
	require.Len(t, listed, 3)
}

func TestListDeduplicatesMultipleGrantPaths(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	mustRegisterSchema(t, stack, "widget", widgetSchema)

	groupID := models.DeriveNamedID("readers")
	alice := userClaims(uuid.NewString(), groupID)

	// Alice can read through her own grant and through the group grant.
	resource := mustCreateResource(t, stack, alice, CreateResourceInput{
		Kind:   "widget",
		Data:   json.RawMessage(`{"name":"a"}`),
		Shares: []ShareInput{{Principal: "readers", Actions: []string{models.ActionRead}}},
	})

	listed, err := stack.resources.List(ctx, alice, ListQuery{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, resource.ID, listed[0].ID)
}

func TestListSearchFallback(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	mustRegisterSchema(t, stack, "widget", widgetSchema)

	alice := userClaims(uuid.NewString())
	mustCreateResource(t, stack, alice, CreateResourceInput{
		Kind: "widget",
		Data: json.RawMessage(`{"name":"turbine"}`),
	})
	mustCreateResource(t, stack, alice, CreateResourceInput{
		Kind: "widget",
		Data: json.RawMessage(`{"name":"sprocket"}`),
	})

	listed, err := stack.resources.List(ctx, alice, ListQuery{Search: "turbine"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.JSONEq(t, `{"name":"turbine"}`, string(listed[0].Data))
}

func TestJSONPathRequiresPostgres(t *testing.T) {
	stack := newTestStack(t)

	_, err := stack.resources.List(context.Background(), adminClaims(), ListQuery{JSONPath: `$.name ? (@ == "a")`})
	require.Error(t, err)
	require.Equal(t, apperrors.ErrBadRequest.Code, apperrors.FromError(err).Code)
}
