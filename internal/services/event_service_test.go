package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/models"
	"github.com/corralhq/corral/internal/realtime"
	apperrors "github.com/corralhq/corral/pkg/errors"
)

func awaitEvent(t *testing.T, feed <-chan realtime.EventMessage) realtime.EventMessage {
	t.Helper()
	select {
	case msg, ok := <-feed:
		require.True(t, ok, "feed closed before an event arrived")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return realtime.EventMessage{}
	}
}

func requireNoEvent(t *testing.T, feed <-chan realtime.EventMessage) {
	t.Helper()
	select {
	case msg := <-feed:
		t.Fatalf("unexpected event delivered: %s %s", msg.EventType, msg.ResourceID)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPublishRequiresAdmin(t *testing.T) {
	stack := newTestStack(t)

	_, err := stack.events.Publish(context.Background(), userClaims(uuid.NewString()), PublishInput{
		ResourceID:   uuid.NewString(),
		ResourceKind: "widget",
		EventType:    models.EventTypeCreate,
		Data:         json.RawMessage(`{}`),
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestPublishAssignsIncreasingSerials(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	first, err := stack.events.Publish(ctx, adminClaims(), PublishInput{
		ResourceID:   uuid.NewString(),
		ResourceKind: "widget",
		EventType:    models.EventTypeCreate,
		Data:         json.RawMessage(`{"name":"a"}`),
	})
	require.NoError(t, err)

	second, err := stack.events.Publish(ctx, adminClaims(), PublishInput{
		ResourceID:   uuid.NewString(),
		ResourceKind: "widget",
		EventType:    models.EventTypeDelete,
		Data:         json.RawMessage(`{"name":"b"}`),
	})
	require.NoError(t, err)

	require.Greater(t, second.Serial, first.Serial)
}

func TestSubscribeKindFilter(t *testing.T) {
	stack := newTestStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := stack.events.Subscribe(ctx, adminClaims(), SubscribeFilters{ResourceKind: "widget"})
	require.NoError(t, err)

	_, err = stack.events.Publish(ctx, adminClaims(), PublishInput{
		ResourceID:   uuid.NewString(),
		ResourceKind: "gadget",
		EventType:    models.EventTypeCreate,
		Data:         json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	widgetID := uuid.NewString()
	_, err = stack.events.Publish(ctx, adminClaims(), PublishInput{
		ResourceID:   widgetID,
		ResourceKind: "widget",
		EventType:    models.EventTypeCreate,
		Data:         json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	msg := awaitEvent(t, feed)
	require.Equal(t, "widget", msg.ResourceKind)
	require.Equal(t, widgetID, msg.ResourceID)
}

func TestSubscribeAuthorizationDropsUnreadableEvents(t *testing.T) {
	stack := newTestStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mustRegisterSchema(t, stack, "widget", widgetSchema)

	alice := userClaims(uuid.NewString())
	bob := userClaims(uuid.NewString())

	aliceFeed, err := stack.events.Subscribe(ctx, alice, SubscribeFilters{})
	require.NoError(t, err)
	bobFeed, err := stack.events.Subscribe(ctx, bob, SubscribeFilters{})
	require.NoError(t, err)

	// Creating a resource publishes a create event through the live feed.
	created := mustCreateResource(t, stack, alice, CreateResourceInput{
		Kind: "widget",
		Data: json.RawMessage(`{"name":"private"}`),
	})

	msg := awaitEvent(t, aliceFeed)
	require.Equal(t, created.ID, msg.ResourceID)
	require.Equal(t, models.EventTypeCreate, msg.EventType)

	// Bob holds no read grant: the event is silently dropped for him.
	requireNoEvent(t, bobFeed)
}

func TestSubscribeEventTypeAndResourceFilters(t *testing.T) {
	stack := newTestStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mustRegisterSchema(t, stack, "widget", widgetSchema)

	alice := userClaims(uuid.NewString())
	created := mustCreateResource(t, stack, alice, CreateResourceInput{
		Kind: "widget",
		Data: json.RawMessage(`{"name":"a"}`),
	})

	// Admin subscription: delete events are only observable by admins, since
	// the per-event read check runs after the resource row is gone.
	feed, err := stack.events.Subscribe(ctx, adminClaims(), SubscribeFilters{
		ResourceID: created.ID,
		EventType:  models.EventTypeDelete,
	})
	require.NoError(t, err)

	_, err = stack.resources.Update(ctx, alice, created.ID, UpdateResourceInput{
		Data: json.RawMessage(`{"name":"b"}`),
	}, nil)
	require.NoError(t, err)
	requireNoEvent(t, feed)

	require.NoError(t, stack.resources.Delete(ctx, alice, created.ID, nil))

	msg := awaitEvent(t, feed)
	require.Equal(t, models.EventTypeDelete, msg.EventType)
	require.Equal(t, created.ID, msg.ResourceID)
	// Delete events carry the pre-delete snapshot.
	require.JSONEq(t, `{"name":"b"}`, string(msg.Data))
}

func TestSubscribeDeleteEventDroppedForNonAdmin(t *testing.T) {
	stack := newTestStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mustRegisterSchema(t, stack, "widget", widgetSchema)

	alice := userClaims(uuid.NewString())
	created := mustCreateResource(t, stack, alice, CreateResourceInput{
		Kind: "widget",
		Data: json.RawMessage(`{"name":"a"}`),
	})

	feed, err := stack.events.Subscribe(ctx, alice, SubscribeFilters{
		ResourceID: created.ID,
		EventType:  models.EventTypeDelete,
	})
	require.NoError(t, err)

	require.NoError(t, stack.resources.Delete(ctx, alice, created.ID, nil))

	// The read check for the delete event runs after the row is removed, so
	// the grant join matches nothing: even the creator never sees the delete.
	requireNoEvent(t, feed)
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	stack := newTestStack(t)
	ctx, cancel := context.WithCancel(context.Background())

	feed, err := stack.events.Subscribe(ctx, adminClaims(), SubscribeFilters{})
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-feed:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not close after cancellation")
	}
}
