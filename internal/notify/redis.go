package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis is a Channel backed by Redis pub/sub, letting several service
// instances share vote notifications. Pub/sub is fire-and-forget: events
// published while a subscriber is disconnected are lost, which the live
// units recover from by resyncing against the store.
type Redis struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

// NewRedis connects to addr and verifies the connection with PING.
func NewRedis(ctx context.Context, addr, password string, db int, channel string, log zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &Redis{client: client, channel: channel, log: log}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, channel string, log zerolog.Logger) *Redis {
	return &Redis{client: client, channel: channel, log: log}
}

// Publish sends ev as JSON on the configured channel.
func (r *Redis) Publish(ctx context.Context, ev Event) error {
	payload, err := encode(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Subscribe listens on the channel until ctx ends. Undecodable messages are
// logged and skipped.
func (r *Redis) Subscribe(ctx context.Context, h Handler) error {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	go func() {
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := decode([]byte(msg.Payload))
				if err != nil {
					r.log.Warn().Err(err).Str("channel", msg.Channel).Msg("skipping malformed notification")
					continue
				}
				h(ctx, ev)
			}
		}
	}()
	return nil
}

// Close releases the underlying client.
func (r *Redis) Close() error { return r.client.Close() }
