package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/stagepulse/stagepulse/internal/redis"
)

// Relay forwards fanout events from Redis Pub/Sub to the local hub. Every
// instance runs one relay; a session's subscription lives exactly as long
// as the session has local viewers.
type Relay struct {
	pubsub *redis.PubSub
	hub    *Hub

	mu   sync.Mutex
	subs map[uuid.UUID]*redis.Subscription
}

func NewRelay(pubsub *redis.PubSub, hub *Hub) *Relay {
	return &Relay{
		pubsub: pubsub,
		hub:    hub,
		subs:   make(map[uuid.UUID]*redis.Subscription),
	}
}

// Start subscribes to a session's fanout channel and forwards every
// envelope to the hub. Idempotent per session.
func (r *Relay) Start(ctx context.Context, sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subs[sessionID]; exists {
		return
	}

	sub := r.pubsub.Subscribe(ctx, sessionID.String())
	r.subs[sessionID] = sub

	go func() {
		for env := range sub.Ch {
			data, err := json.Marshal(env)
			if err != nil {
				slog.Error("Failed to marshal relay envelope", "event", env.Event, "error", err)
				continue
			}
			r.hub.Broadcast(sessionID, data)
		}
	}()
}

// Stop tears down a session's subscription. Safe to call when no
// subscription exists.
func (r *Relay) Stop(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, exists := r.subs[sessionID]
	if !exists {
		return
	}
	delete(r.subs, sessionID)
	sub.Close()
}

// Close tears down every active subscription.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sessionID, sub := range r.subs {
		sub.Close()
		delete(r.subs, sessionID)
	}
}
