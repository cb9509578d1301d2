package spine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
)

// RedisAdapter persists spine events in Redis: one hash of event JSON per
// run plus a sorted set ordered by timestamp that assigns replay positions.
// Ties on identical timestamps fall back to the sorted set's lexicographic
// member order, which is stable across reads.
type RedisAdapter struct {
	rdb *redis.Client
}

// NewRedisAdapter creates an adapter over an existing client.
func NewRedisAdapter(rdb *redis.Client) *RedisAdapter {
	return &RedisAdapter{rdb: rdb}
}

func (a *RedisAdapter) eventsKey(tenantID, runID string) string {
	return fmt.Sprintf("backplane:%s:spine:%s:events", tenantID, runID)
}

func (a *RedisAdapter) orderKey(tenantID, runID string) string {
	return fmt.Sprintf("backplane:%s:spine:%s:order", tenantID, runID)
}

// AppendEvent stores event and registers its replay position.
func (a *RedisAdapter) AppendEvent(ctx context.Context, event model.SpineEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("spine: marshal event: %w", err)
	}
	pipe := a.rdb.TxPipeline()
	pipe.HSet(ctx, a.eventsKey(event.TenantID, event.RunID), event.EventID.String(), payload)
	pipe.ZAdd(ctx, a.orderKey(event.TenantID, event.RunID), redis.Z{
		Score:  float64(event.Timestamp.UnixMicro()),
		Member: event.EventID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("spine: append event: %w", err)
	}
	return nil
}

// ListEvents returns events in replay order, strictly after the cursor when
// one is supplied.
func (a *RedisAdapter) ListEvents(ctx context.Context, q ListQuery) ([]model.SpineEvent, error) {
	orderKey := a.orderKey(q.TenantID, q.RunID)

	start := int64(0)
	if q.AfterEventID != nil {
		rank, err := a.rdb.ZRank(ctx, orderKey, q.AfterEventID.String()).Result()
		if errors.Is(err, redis.Nil) {
			return nil, fault.InvalidCursor(q.AfterEventID.String())
		}
		if err != nil {
			return nil, fmt.Errorf("spine: resolve cursor: %w", err)
		}
		start = rank + 1
	}

	eventsKey := a.eventsKey(q.TenantID, q.RunID)
	var out []model.SpineEvent

	// Page through the order set; the event-type filter can skip members,
	// so keep fetching until the limit fills or the set ends.
	for int64(len(out)) < int64(q.Limit) {
		batch := int64(q.Limit)
		ids, err := a.rdb.ZRange(ctx, orderKey, start, start+batch-1).Result()
		if err != nil {
			return nil, fmt.Errorf("spine: range order set: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		raw, err := a.rdb.HMGet(ctx, eventsKey, ids...).Result()
		if err != nil {
			return nil, fmt.Errorf("spine: fetch events: %w", err)
		}
		for _, item := range raw {
			s, ok := item.(string)
			if !ok {
				continue
			}
			var e model.SpineEvent
			if err := json.Unmarshal([]byte(s), &e); err != nil {
				return nil, fmt.Errorf("spine: unmarshal event: %w", err)
			}
			if q.EventType != "" && e.EventType != q.EventType {
				continue
			}
			out = append(out, e)
			if int64(len(out)) >= int64(q.Limit) {
				break
			}
		}
		start += int64(len(ids))
	}
	return out, nil
}
