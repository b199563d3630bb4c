package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"inss-case-tracker/internal/config"
)

// ImportQueue coordinates the ready list and in-flight lease set for CSV
// import jobs in Redis. Members are import batch ids.
type ImportQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	dlqKey        string
	visibilityTTL time.Duration
}

// NewImportQueue builds a queue client from config.
func NewImportQueue(cfg config.Config) *ImportQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Minute
	}
	return &ImportQueue{
		client:        client,
		readyKey:      "imports:ready",
		inflightKey:   "imports:inflight",
		dlqKey:        "imports:dead",
		visibilityTTL: visibility,
	}
}

// NewImportQueueWithClient wires an existing client, used by tests.
func NewImportQueueWithClient(client *redis.Client, visibility time.Duration) *ImportQueue {
	return &ImportQueue{
		client:        client,
		readyKey:      "imports:ready",
		inflightKey:   "imports:inflight",
		dlqKey:        "imports:dead",
		visibilityTTL: visibility,
	}
}

// Close releases the underlying Redis connection.
func (q *ImportQueue) Close() error {
	return q.client.Close()
}

// Ping verifies Redis is reachable.
func (q *ImportQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue appends a batch id to the ready list.
func (q *ImportQueue) Enqueue(ctx context.Context, batchID string) error {
	return q.client.RPush(ctx, q.readyKey, batchID).Err()
}

// DequeueWithLease pops the oldest ready batch and records it in-flight with a
// visibility deadline. Returns "" when the queue is empty.
func (q *ImportQueue) DequeueWithLease(ctx context.Context) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli(),
	).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	batchID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return batchID, nil
}

// ExtendLease pushes the visibility deadline forward for a batch still being
// processed. Workers call this between row chunks of large files.
func (q *ImportQueue) ExtendLease(ctx context.Context, batchID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: batchID,
	}).Err()
}

// Ack removes a finished batch from in-flight tracking.
func (q *ImportQueue) Ack(ctx context.Context, batchID string) error {
	return q.client.ZRem(ctx, q.inflightKey, batchID).Err()
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them so a
// crashed worker's batch is retried.
func (q *ImportQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// DLQPush appends a batch that failed terminally, for operational inspection.
func (q *ImportQueue) DLQPush(ctx context.Context, batchID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, batchID)
	pipe.RPush(ctx, q.dlqKey, batchID)
	_, err := pipe.Exec(ctx)
	return err
}

// DLQPeek reads the oldest dead-lettered batch ids.
func (q *ImportQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the length of the ready list.
func (q *ImportQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// InFlightCount returns how many batches hold a lease.
func (q *ImportQueue) InFlightCount(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
