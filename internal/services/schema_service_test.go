package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/corralhq/corral/pkg/errors"
)

func TestSchemaCreateRequiresAdmin(t *testing.T) {
	stack := newTestStack(t)

	_, err := stack.schemas.Create(context.Background(), userClaims("someone"), "widget", json.RawMessage(widgetSchema))
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestSchemaCreateRejectsBrokenDocument(t *testing.T) {
	stack := newTestStack(t)

	_, err := stack.schemas.Create(context.Background(), adminClaims(), "widget", json.RawMessage(`{"type": 12}`))
	require.Error(t, err)
	require.Equal(t, apperrors.ErrBadRequest.Code, apperrors.FromError(err).Code)
}

func TestSchemaValidate(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	mustRegisterSchema(t, stack, "widget", widgetSchema)

	require.NoError(t, stack.schemas.Validate(ctx, "widget", json.RawMessage(`{"name":"a"}`)))

	err := stack.schemas.Validate(ctx, "widget", json.RawMessage(`{"nope":true}`))
	require.Error(t, err)
	require.Equal(t, apperrors.ErrBadRequest.Code, apperrors.FromError(err).Code)

	err = stack.schemas.Validate(ctx, "unknown", json.RawMessage(`{}`))
	require.Error(t, err)
	require.Equal(t, apperrors.ErrBadRequest.Code, apperrors.FromError(err).Code)
}

func TestSchemaUpdateRecompiles(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	created, err := stack.schemas.Create(ctx, adminClaims(), "widget", json.RawMessage(widgetSchema))
	require.NoError(t, err)

	_, err = stack.schemas.Update(ctx, adminClaims(), created.ID, json.RawMessage(`{"required": "name"}`))
	require.Error(t, err)

	relaxed := `{"type":"object"}`
	updated, err := stack.schemas.Update(ctx, adminClaims(), created.ID, json.RawMessage(relaxed))
	require.NoError(t, err)
	require.JSONEq(t, relaxed, string(updated.Data))

	require.NoError(t, stack.schemas.Validate(ctx, "widget", json.RawMessage(`{"anything":1}`)))
}

func TestLoadDirectoryUpserts(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "widget.json"), []byte(widgetSchema), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gadget.json"), []byte(`{"type":"object"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	require.NoError(t, stack.schemas.LoadDirectory(ctx, dir))

	schemas, err := stack.schemas.List(ctx, adminClaims())
	require.NoError(t, err)
	require.Len(t, schemas, 2)

	// Loading again replaces instead of duplicating.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gadget.json"), []byte(`{"type":"object","required":["id"]}`), 0o644))
	require.NoError(t, stack.schemas.LoadDirectory(ctx, dir))

	schemas, err = stack.schemas.List(ctx, adminClaims())
	require.NoError(t, err)
	require.Len(t, schemas, 2)

	err = stack.schemas.Validate(ctx, "gadget", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestLoadDirectoryMissingIsNoop(t *testing.T) {
	stack := newTestStack(t)
	require.NoError(t, stack.schemas.LoadDirectory(context.Background(), filepath.Join(t.TempDir(), "absent")))
}

func TestUniqueAnnotationCreatesIndex(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	schema := `{
		"type": "object",
		"required": ["serial"],
		"properties": {
			"serial": {"type": "string", "x-unique": true}
		}
	}`
	mustRegisterSchema(t, stack, "device", schema)

	alice := userClaims("11111111-1111-4111-8111-111111111111")
	mustCreateResource(t, stack, alice, CreateResourceInput{
		Kind: "device",
		Data: json.RawMessage(`{"serial":"sn-1"}`),
	})

	// A second resource with the same unique value is rejected by the index.
	_, err := stack.resources.Create(ctx, alice, CreateResourceInput{
		Kind: "device",
		Data: json.RawMessage(`{"serial":"sn-1"}`),
	})
	require.Error(t, err)

	// Distinct values and other kinds are unaffected.
	mustCreateResource(t, stack, alice, CreateResourceInput{
		Kind: "device",
		Data: json.RawMessage(`{"serial":"sn-2"}`),
	})
}
