package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/database/testutil"
	"github.com/corralhq/corral/internal/models"
	"github.com/corralhq/corral/internal/realtime"
)

type testStack struct {
	db          *gorm.DB
	permissions *PermissionService
	schemas     *SchemaService
	events      *EventService
	resources   *ResourceService
	locks       *LockService
	broker      *realtime.Broker
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db := testutil.MustOpenTestDB(t)

	permissions, err := NewPermissionService(db)
	require.NoError(t, err)

	schemas, err := NewSchemaService(db)
	require.NoError(t, err)

	broker := realtime.NewBroker(16)
	events, err := NewEventService(db, permissions, broker, realtime.NewLocalNotifier(broker))
	require.NoError(t, err)

	locks, err := NewLockService(db, LockConfig{})
	require.NoError(t, err)

	resources, err := NewResourceService(db, schemas, permissions, events, locks)
	require.NoError(t, err)

	return &testStack{
		db:          db,
		permissions: permissions,
		schemas:     schemas,
		events:      events,
		resources:   resources,
		locks:       locks,
		broker:      broker,
	}
}

func adminClaims() *auth.Claims {
	return &auth.Claims{
		Admin:            true,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "9f1c1c4e-0000-4000-8000-00000000adad"},
	}
}

func userClaims(subject string, groups ...string) *auth.Claims {
	return &auth.Claims{
		Groups:           groups,
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}
}

func mustRegisterSchema(t *testing.T, stack *testStack, kind, doc string) {
	t.Helper()
	_, err := stack.schemas.Create(context.Background(), adminClaims(), kind, json.RawMessage(doc))
	require.NoError(t, err)
}

func mustCreateResource(t *testing.T, stack *testStack, claims *auth.Claims, input CreateResourceInput) *models.Resource {
	t.Helper()
	resource, err := stack.resources.Create(context.Background(), claims, input)
	require.NoError(t, err)
	return resource
}

const widgetSchema = `{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string"}
	}
}`
