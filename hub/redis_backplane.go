package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yeremiapane/tablesync/utils"
)

type envelope struct {
	Hub       string          `json:"hub"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CloseCode int             `json:"close_code,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// RedisBackplane relays broadcasts through Redis pub/sub so every instance
// delivers to its own local sockets. While the subscription is down, local
// sockets are served directly.
type RedisBackplane struct {
	client *redis.Client
	topic  string
	hubs   map[string]*Hub

	MinBackoff time.Duration
	MaxBackoff time.Duration

	subscribed atomic.Bool
}

func NewRedisBackplane(client *redis.Client, topic string, hubs ...*Hub) *RedisBackplane {
	b := &RedisBackplane{
		client:     client,
		topic:      topic,
		hubs:       make(map[string]*Hub),
		MinBackoff: time.Second,
		MaxBackoff: 30 * time.Second,
	}
	for _, h := range hubs {
		b.hubs[h.Name()] = h
	}
	return b
}

// For returns the Broadcaster that publishes on behalf of h.
func (b *RedisBackplane) For(h *Hub) Broadcaster {
	return &backplanePublisher{backplane: b, hub: h}
}

// Subscribed reports whether messages published now will come back to this
// instance.
func (b *RedisBackplane) Subscribed() bool { return b.subscribed.Load() }

// Run keeps a subscription to the topic and dispatches to local hubs,
// resubscribing with backoff, until ctx ends.
func (b *RedisBackplane) Run(ctx context.Context) error {
	backoff := b.MinBackoff
	for {
		err := b.listen(ctx)
		wasUp := b.subscribed.Swap(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if wasUp {
			backoff = b.MinBackoff
		}
		utils.ErrorLogger.WithError(err).WithField("topic", b.topic).
			Warnf("redis backplane unsubscribed, retrying in %s", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > b.MaxBackoff {
			backoff = b.MaxBackoff
		}
	}
}

func (b *RedisBackplane) listen(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.topic)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	b.subscribed.Store(true)
	utils.InfoLogger.WithField("topic", b.topic).Info("redis backplane subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			b.dispatch([]byte(msg.Payload))
		}
	}
}

func (b *RedisBackplane) dispatch(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		utils.ErrorLogger.WithError(err).Warn("dropping malformed backplane message")
		return
	}
	h, ok := b.hubs[env.Hub]
	if !ok {
		return
	}
	if env.CloseCode != 0 {
		h.CloseChannel(env.Channel, env.CloseCode, env.Reason)
		return
	}
	h.BroadcastRaw(env.Channel, env.Payload)
}

func (b *RedisBackplane) publish(env envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(context.Background(), b.topic, raw).Err()
}

type backplanePublisher struct {
	backplane *RedisBackplane
	hub       *Hub
}

// Broadcast publishes to Redis. Local sockets are served directly while the
// backplane is unsubscribed or the publish fails.
func (p *backplanePublisher) Broadcast(channel string, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		utils.ErrorLogger.WithError(err).WithField("event", msg.Event).Error("marshal broadcast")
		return
	}
	local := !p.backplane.Subscribed()
	if local {
		p.hub.BroadcastRaw(channel, payload)
	}
	env := envelope{Hub: p.hub.Name(), Channel: channel, Payload: payload}
	if err := p.backplane.publish(env); err != nil {
		utils.ErrorLogger.WithError(err).Warn("redis publish failed, delivering locally")
		if !local {
			p.hub.BroadcastRaw(channel, payload)
		}
	}
}

func (p *backplanePublisher) CloseChannel(channel string, code int, reason string) {
	local := !p.backplane.Subscribed()
	if local {
		p.hub.CloseChannel(channel, code, reason)
	}
	env := envelope{Hub: p.hub.Name(), Channel: channel, CloseCode: code, Reason: reason}
	if err := p.backplane.publish(env); err != nil {
		utils.ErrorLogger.WithError(err).Warn("redis publish failed, closing locally")
		if !local {
			p.hub.CloseChannel(channel, code, reason)
		}
	}
}
