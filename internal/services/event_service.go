package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/models"
	"github.com/corralhq/corral/internal/realtime"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/logger"
	"github.com/corralhq/corral/pkg/metrics"
)

// EventService appends catalog events to the durable log and bridges them to
// live subscribers. The log append and the notification are separate steps:
// a crash between them durably applies the triggering write but loses its
// notification, so delivery is at-most-once.
type EventService struct {
	db          *gorm.DB
	permissions *PermissionService
	broker      *realtime.Broker
	notifier    realtime.Notifier
}

// NewEventService constructs the event bus.
func NewEventService(db *gorm.DB, permissions *PermissionService, broker *realtime.Broker, notifier realtime.Notifier) (*EventService, error) {
	if db == nil {
		return nil, errors.New("event service requires database handle")
	}
	if permissions == nil {
		return nil, errors.New("event service requires permission service")
	}
	if broker == nil {
		return nil, errors.New("event service requires broker")
	}
	if notifier == nil {
		return nil, errors.New("event service requires notifier")
	}
	return &EventService{db: db, permissions: permissions, broker: broker, notifier: notifier}, nil
}

// PublishInput describes one catalog event to append.
type PublishInput struct {
	ResourceID   string
	ResourceKind string
	EventType    string
	Data         json.RawMessage
	Labels       map[string]string
}

// Publish appends the event and sends its live notification. Only admin
// claims may publish; external callers never reach this directly with
// non-admin tokens. The stored row keeps the full payload; the notification
// nulls oversized payloads so subscribers re-fetch the resource instead.
func (s *EventService) Publish(ctx context.Context, claims *auth.Claims, input PublishInput) (*models.Event, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}
	if !claims.Admin {
		return nil, apperrors.ErrForbidden
	}

	switch input.EventType {
	case models.EventTypeCreate, models.EventTypeUpdate, models.EventTypeDelete:
	default:
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown event type %q", input.EventType))
	}

	labels := datatypes.JSONMap{}
	for k, v := range input.Labels {
		labels[k] = v
	}

	event := &models.Event{
		ID:           uuid.NewString(),
		ResourceID:   input.ResourceID,
		ResourceKind: input.ResourceKind,
		EventType:    input.EventType,
		Data:         datatypes.JSON(input.Data),
		Labels:       labels,
	}

	if err := s.db.WithContext(ensureContext(ctx)).Create(event).Error; err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("publish event: %w", err))
	}
	metrics.EventsPublished.WithLabelValues(input.EventType).Inc()

	msg := realtime.TruncateOversize(realtime.EventMessage{
		ID:           event.ID,
		Serial:       event.Serial,
		ResourceID:   event.ResourceID,
		ResourceKind: event.ResourceKind,
		EventType:    event.EventType,
		Data:         input.Data,
		Labels:       input.Labels,
		CreatedAt:    event.CreatedAt,
	})

	if err := s.notifier.Publish(ensureContext(ctx), msg); err != nil {
		return event, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("publish event notification: %w", err))
	}
	return event, nil
}

// SubscribeFilters restrict a subscription; zero values match everything and
// non-zero fields must all match for an event to be delivered.
type SubscribeFilters struct {
	ResourceID   string
	ResourceKind string
	EventType    string
}

// Matches reports whether the message passes every non-empty filter.
func (f SubscribeFilters) Matches(msg realtime.EventMessage) bool {
	if f.ResourceID != "" && f.ResourceID != msg.ResourceID {
		return false
	}
	if f.ResourceKind != "" && f.ResourceKind != msg.ResourceKind {
		return false
	}
	if f.EventType != "" && f.EventType != msg.EventType {
		return false
	}
	return true
}

// Subscribe attaches a live event feed for the caller. Non-admin subscribers
// get a read permission check per event; events failing the check or any
// filter are silently dropped for that subscriber only. The feed closes when
// ctx is cancelled. Delivery is lossy: a subscriber that stops draining the
// channel misses events rather than blocking the fan-out.
func (s *EventService) Subscribe(ctx context.Context, claims *auth.Claims, filters SubscribeFilters) (<-chan realtime.EventMessage, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}

	ctx = ensureContext(ctx)
	sub := s.broker.Subscribe()
	out := make(chan realtime.EventMessage, 16)
	metrics.ActiveSubscribers.Inc()

	go func() {
		defer func() {
			sub.Close()
			close(out)
			metrics.ActiveSubscribers.Dec()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.C():
				if !ok {
					return
				}

				if !claims.Admin {
					if err := s.permissions.Check(ctx, claims, msg.ResourceID, models.ActionRead); err != nil {
						var appErr *apperrors.AppError
						if !errors.As(err, &appErr) || appErr.Code != apperrors.ErrForbidden.Code {
							logger.Warn("dropping event after failed permission check")
						}
						continue
					}
				}

				if !filters.Matches(msg) {
					continue
				}

				select {
				case out <- msg:
				case <-ctx.Done():
					return
				default:
					metrics.EventsDropped.Inc()
				}
			}
		}
	}()

	return out, nil
}

// List returns events from the durable log in ascending serial order,
// starting after the given serial. Admin only; the log is an operator
// surface, live consumption goes through Subscribe.
func (s *EventService) List(ctx context.Context, claims *auth.Claims, afterSerial int64, limit int) ([]models.Event, error) {
	if claims == nil {
		return nil, apperrors.ErrUnauthorized
	}
	if !claims.Admin {
		return nil, apperrors.ErrForbidden
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var events []models.Event
	err := s.db.WithContext(ensureContext(ctx)).
		Where("serial > ?", afterSerial).
		Order("serial").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("list events: %w", err))
	}
	return events, nil
}
