package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type Local interface {
	ListsChanged(ctx context.Context, ownerIDs ...string)
}

type changeEvent struct {
	OwnerIDs []string `json:"ownerIds"`
}

// RedisNotifier fans change events out to every server instance through a
// Redis channel. Each instance runs Run and relays what it hears to its own
// connections, including events it published itself.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	local   Local
}

func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisNotifier(client *redis.Client, channel string, local Local) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel, local: local}
}

// ListsChanged publishes the event. If Redis is unreachable the event is
// delivered locally so clients on this instance still hear about it.
func (n *RedisNotifier) ListsChanged(ctx context.Context, ownerIDs ...string) {
	if len(ownerIDs) == 0 {
		return
	}
	payload, err := json.Marshal(changeEvent{OwnerIDs: ownerIDs})
	if err != nil {
		log.Printf("[Notify] marshal event: %v", err)
		return
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		log.Printf("[Notify] publish failed, delivering locally: %v", err)
		n.local.ListsChanged(ctx, ownerIDs...)
	}
}

// Run relays published events until ctx is cancelled. ready, when non-nil,
// is closed once the subscription is active.
func (n *RedisNotifier) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := n.client.Subscribe(ctx, n.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", n.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	log.Printf("[Notify] relaying events from redis channel %s", n.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev changeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("[Notify] bad event on %s: %v", n.channel, err)
				continue
			}
			n.local.ListsChanged(ctx, ev.OwnerIDs...)
		}
	}
}
