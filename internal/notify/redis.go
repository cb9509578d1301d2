package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes advisories over Redis pub/sub, one channel per
// tenant so subscribers never observe another tenant's routes.
type RedisNotifier struct {
	rdb *redis.Client
}

// NewRedisNotifier creates a notifier over an existing Redis client.
// The caller retains ownership of the client's lifecycle when sharing it;
// Close here closes the client.
func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

// Channel returns the pub/sub channel carrying advisories for a tenant.
func Channel(tenantID string) string {
	return fmt.Sprintf("backplane:%s:route_events", tenantID)
}

// PublishRouteChange publishes change on the tenant's channel.
func (n *RedisNotifier) PublishRouteChange(ctx context.Context, change RouteChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("notify: marshal route change: %w", err)
	}
	if err := n.rdb.Publish(ctx, Channel(change.RouteKey.TenantID), payload).Err(); err != nil {
		return fmt.Errorf("notify: publish route change: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (n *RedisNotifier) Close() error {
	return n.rdb.Close()
}
