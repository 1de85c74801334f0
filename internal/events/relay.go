package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel out-of-process subscribers (billing
// timers, webhook fan-out) listen on.
const DefaultChannel = "calldesk:events"

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisRelay forwards bus events to a Redis pub/sub channel.
// Payloads carry the redacted record only.
type RedisRelay struct {
	pub     publisher
	channel string
	log     *slog.Logger
}

func NewRedisRelay(rdb publisher, channel string, log *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisRelay{pub: rdb, channel: channel, log: log.With("component", "events_relay")}
}

// Attach subscribes the relay to every lifecycle event. The returned function detaches it.
func (r *RedisRelay) Attach(b *Bus) func() {
	stopStarted := b.Subscribe(CallStarted, r.Forward)
	stopCompleted := b.Subscribe(CallCompleted, r.Forward)
	return func() {
		stopStarted()
		stopCompleted()
	}
}

func (r *RedisRelay) Forward(ctx context.Context, e Event) {
	e.Record = e.Record.Redacted()
	raw, err := json.Marshal(e)
	if err != nil {
		r.log.Error("encode event failed", "type", string(e.Type), "err", err)
		return
	}
	if err := r.pub.Publish(ctx, r.channel, raw).Err(); err != nil {
		r.log.Warn("publish event failed", "type", string(e.Type), "record_id", e.Record.ID.String(), "err", err)
	}
}
