package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/corralhq/corral/pkg/logger"
)

// MaxNotifyPayload bounds the serialized size of a live-notification payload.
// Oversized payloads have their data nulled; the event row itself keeps the
// full document.
const MaxNotifyPayload = 8000

// Notifier propagates event messages between processes and feeds them into
// the local broker.
type Notifier interface {
	Publish(ctx context.Context, msg EventMessage) error
	Close() error
}

// TruncateOversize nulls the data payload of messages whose serialized form
// exceeds the notification transport limit.
func TruncateOversize(msg EventMessage) EventMessage {
	payload, err := json.Marshal(msg)
	if err != nil || len(payload) <= MaxNotifyPayload {
		return msg
	}
	msg.Data = json.RawMessage("null")
	return msg
}

// LocalNotifier dispatches directly into the in-process broker. It is used
// when no cross-process transport is configured, keeping single-node
// behaviour identical to the clustered setup.
type LocalNotifier struct {
	broker *Broker
}

// NewLocalNotifier constructs a notifier bound to the given broker.
func NewLocalNotifier(broker *Broker) *LocalNotifier {
	return &LocalNotifier{broker: broker}
}

// Publish hands the message straight to the broker.
func (n *LocalNotifier) Publish(_ context.Context, msg EventMessage) error {
	n.broker.Dispatch(msg)
	return nil
}

// Close is a no-op for the local notifier.
func (n *LocalNotifier) Close() error { return nil }

// RedisNotifier bridges a Redis pub/sub channel to the local broker so every
// running instance observes events published by any of them.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	broker  *Broker
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRedisNotifier connects the notifier and starts tailing the channel.
func NewRedisNotifier(client *redis.Client, channel string, broker *Broker) *RedisNotifier {
	if channel == "" {
		channel = "corral:events"
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &RedisNotifier{
		client:  client,
		channel: channel,
		broker:  broker,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go n.listen(ctx)
	return n
}

// Publish serializes the message onto the shared channel. Local delivery also
// happens through the channel, so ordering is uniform across instances.
func (n *RedisNotifier) Publish(ctx context.Context, msg EventMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

func (n *RedisNotifier) listen(ctx context.Context) {
	defer close(n.done)

	log := logger.WithModule("realtime.notifier")

	for {
		pubsub := n.client.Subscribe(ctx, n.channel)
		ch := pubsub.Channel()

	recv:
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case m, ok := <-ch:
				if !ok {
					break recv
				}

				var msg EventMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					log.Error("failed to decode event notification", zap.Error(err))
					continue
				}
				n.broker.Dispatch(msg)
			}
		}

		_ = pubsub.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
			// reconnect
		}
	}
}

// Close stops the tailer and waits for it to exit.
func (n *RedisNotifier) Close() error {
	n.cancel()
	<-n.done
	return nil
}
