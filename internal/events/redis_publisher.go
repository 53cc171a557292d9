package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisPublisher PUBLISHes JSON envelopes on one channel and keeps the
// latest close summary per register for late dashboard readers.
type RedisPublisher struct {
	client     *redis.Client
	channel    string
	summaryTTL time.Duration
}

func NewRedisPublisher(addr string, password string, db int, channel string) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if channel == "" {
		channel = "kasa.events"
	}

	return &RedisPublisher{client: client, channel: channel, summaryTTL: 36 * time.Hour}
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return err
	}
	if closed, ok := event.Payload.(RegisterClosedPayload); ok {
		return p.client.Set(ctx, LastCloseKey(p.channel, closed.RegisterID), payload, p.summaryTTL).Err()
	}
	return nil
}

func LastCloseKey(channel string, registerID string) string {
	return fmt.Sprintf("%s:register:%s:last_close", channel, registerID)
}
