package retry

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "botherd:retry:"

// RedisQueue is a shared due-queue over a redis sorted set, scored by
// retryAfter, for deployments where several sweepers share the work.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func key(workspaceID string) string {
	return redisKeyPrefix + workspaceID
}

func (q *RedisQueue) Push(ctx context.Context, workspaceID, botTaskID string, dueAtMillis int64) error {
	return q.client.ZAdd(ctx, key(workspaceID), redis.Z{
		Score:  float64(dueAtMillis),
		Member: botTaskID,
	}).Err()
}

func (q *RedisQueue) Due(ctx context.Context, workspaceID string, nowMillis int64) ([]string, error) {
	max := strconv.FormatInt(nowMillis, 10)

	due, err := q.client.ZRangeByScore(ctx, key(workspaceID), &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return nil, err
	}

	if len(due) > 0 {
		members := make([]interface{}, len(due))
		for i, member := range due {
			members[i] = member
		}

		if err := q.client.ZRem(ctx, key(workspaceID), members...).Err(); err != nil {
			return nil, err
		}
	}

	return due, nil
}
