package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/identity"
	"github.com/redis/go-redis/v9"
)

const DefaultRelayChannel = "carebook:realtime"

type relayEnvelope struct {
	Origin string          `json:"origin"`
	Room   identity.Room   `json:"room"`
	Data   json.RawMessage `json:"data"`
}

// RedisRelay fans publishes out over Redis Pub/Sub so clients connected to
// other instances receive them. Each instance ignores its own messages.
type RedisRelay struct {
	rdb     redis.UniversalClient
	channel string
	origin  string
	logger  *slog.Logger
}

func NewRedisRelay(rdb redis.UniversalClient, channel string, logger *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{rdb: rdb, channel: channel, origin: uuid.NewString(), logger: logger}
}

func (r *RedisRelay) Publish(ctx context.Context, room identity.Room, data []byte) error {
	payload, err := json.Marshal(relayEnvelope{Origin: r.origin, Room: room, Data: data})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

// Run subscribes until ctx is done and hands foreign messages to deliver.
func (r *RedisRelay) Run(ctx context.Context, deliver func(identity.Room, []byte) int) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("discarding malformed relay message", "err", err)
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			deliver(env.Room, env.Data)
		}
	}
}
