package redis

import (
	"context"
	"encoding/json"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stagepulse/stagepulse/internal/domain"
)

// Envelope is the message published via Redis Pub/Sub for cross-instance
// fanout. Payload is pre-marshaled so subscribers forward it untouched.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func fanoutChannel(channelKey string) string {
	return "fanout:" + channelKey
}

// PubSub bridges the engine's fanout contract across instances: publishes
// go to Redis, and each instance's websocket hub subscribes per session.
type PubSub struct {
	rdb *goredis.Client
}

func NewPubSub(client *Client) *PubSub {
	return &PubSub{rdb: client.rdb}
}

var _ domain.Publisher = (*PubSub)(nil)

// Publish sends an event to the session's fanout channel. Fire-and-forget:
// failures are logged, never surfaced, and never retried.
func (ps *PubSub) Publish(channelKey string, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal fanout payload", "event", event, "error", err)
		return
	}
	env, err := json.Marshal(Envelope{Event: event, Payload: data})
	if err != nil {
		slog.Error("Failed to marshal fanout envelope", "event", event, "error", err)
		return
	}
	if err := ps.rdb.Publish(context.Background(), fanoutChannel(channelKey), env).Err(); err != nil {
		slog.Error("Failed to publish fanout event", "event", event, "channel", channelKey, "error", err)
	}
}

// Subscription is an active Pub/Sub subscription for one fanout channel.
type Subscription struct {
	sub    *goredis.PubSub
	Ch     <-chan Envelope
	cancel context.CancelFunc
}

// Close unsubscribes and closes the subscription.
func (s *Subscription) Close() {
	s.cancel()
	_ = s.sub.Close()
}

// Subscribe listens for fanout events on one channel. Slow receivers drop
// messages rather than backing up the Pub/Sub reader.
func (ps *PubSub) Subscribe(ctx context.Context, channelKey string) *Subscription {
	sub := ps.rdb.Subscribe(ctx, fanoutChannel(channelKey))

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan Envelope, 16)

	go func() {
		defer close(ch)
		msgCh := sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					slog.Error("Failed to unmarshal fanout message", "error", err)
					continue
				}
				select {
				case ch <- env:
				default:
				}
			case <-subCtx.Done():
				return
			}
		}
	}()

	return &Subscription{sub: sub, Ch: ch, cancel: cancel}
}
