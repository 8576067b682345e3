package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces all queue keys
const DefaultRedisKeyPrefix = "ordersync:queue"

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// popScript moves the earliest due job from the delayed set to the
// in-flight set, scored by its lease deadline.
var popScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
redis.call('ZREM', KEYS[1], ids[1])
redis.call('ZADD', KEYS[2], ARGV[2], ids[1])
return ids[1]
`)

// requeueScript moves jobs whose lease has expired back to the delayed set
var requeueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('ZADD', KEYS[1], ARGV[1], id)
end
return #ids
`)

// RedisBackend stores jobs in Redis. Per queue it keeps a hash of job
// bodies, a delayed sorted set scored by ready time, an in-flight sorted set
// scored by lease deadline and a dead-letter list.
type RedisBackend struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// NewRedisBackend connects to Redis and verifies the connection
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisBackendWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisBackendWithClient creates a backend over an existing client
func NewRedisBackendWithClient(client *redis.Client, keyPrefix string) *RedisBackend {
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisBackend{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

func (b *RedisBackend) jobsKey(queueName string) string {
	return b.keyPrefix + ":" + queueName + ":jobs"
}

func (b *RedisBackend) delayedKey(queueName string) string {
	return b.keyPrefix + ":" + queueName + ":delayed"
}

func (b *RedisBackend) inflightKey(queueName string) string {
	return b.keyPrefix + ":" + queueName + ":inflight"
}

func (b *RedisBackend) deadKey(queueName string) string {
	return b.keyPrefix + ":" + queueName + ":dead"
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Push implements Backend
func (b *RedisBackend) Push(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.jobsKey(job.Queue), job.ID, data)
		pipe.ZRem(ctx, b.inflightKey(job.Queue), job.ID)
		pipe.ZAdd(ctx, b.delayedKey(job.Queue), redis.Z{
			Score:  float64(job.RunAt.UnixMilli()),
			Member: job.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("push job %s: %w", job.ID, err)
	}
	return nil
}

// Pop implements Backend
func (b *RedisBackend) Pop(ctx context.Context, queueName string, lease time.Duration) (*Job, error) {
	now := b.now()
	id, err := popScript.Run(ctx, b.client,
		[]string{b.delayedKey(queueName), b.inflightKey(queueName)},
		millis(now), millis(now.Add(lease)),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop %s: %w", queueName, err)
	}

	data, err := b.client.HGet(ctx, b.jobsKey(queueName), id).Bytes()
	if errors.Is(err, redis.Nil) {
		// Body already gone: the job was acked by a previous lease holder.
		b.client.ZRem(ctx, b.inflightKey(queueName), id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// Ack implements Backend
func (b *RedisBackend) Ack(ctx context.Context, job *Job) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, b.inflightKey(job.Queue), job.ID)
		pipe.HDel(ctx, b.jobsKey(job.Queue), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	return nil
}

// Retry implements Backend
func (b *RedisBackend) Retry(ctx context.Context, job *Job) error {
	return b.Push(ctx, job)
}

// DeadLetter implements Backend
func (b *RedisBackend) DeadLetter(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, b.inflightKey(job.Queue), job.ID)
		pipe.ZRem(ctx, b.delayedKey(job.Queue), job.ID)
		pipe.HDel(ctx, b.jobsKey(job.Queue), job.ID)
		pipe.LPush(ctx, b.deadKey(job.Queue), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-letter job %s: %w", job.ID, err)
	}
	return nil
}

// RequeueExpired implements Backend
func (b *RedisBackend) RequeueExpired(ctx context.Context, queueName string) (int, error) {
	n, err := requeueScript.Run(ctx, b.client,
		[]string{b.delayedKey(queueName), b.inflightKey(queueName)},
		millis(b.now()),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("requeue expired %s: %w", queueName, err)
	}
	return n, nil
}

// ListDead implements Backend
func (b *RedisBackend) ListDead(ctx context.Context, queueName string, limit int) ([]*Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := b.client.LRange(ctx, b.deadKey(queueName), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead %s: %w", queueName, err)
	}
	jobs := make([]*Job, 0, len(raw))
	for _, item := range raw {
		var job Job
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			return nil, fmt.Errorf("decode dead job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// TakeDead implements Backend
func (b *RedisBackend) TakeDead(ctx context.Context, queueName, jobID string) (*Job, error) {
	raw, err := b.client.LRange(ctx, b.deadKey(queueName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead %s: %w", queueName, err)
	}
	for _, item := range raw {
		var job Job
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			continue
		}
		if job.ID != jobID {
			continue
		}
		removed, err := b.client.LRem(ctx, b.deadKey(queueName), 1, item).Result()
		if err != nil {
			return nil, fmt.Errorf("remove dead job %s: %w", jobID, err)
		}
		if removed == 0 {
			return nil, ErrJobNotFound
		}
		return &job, nil
	}
	return nil, ErrJobNotFound
}

// Close implements Backend
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

var _ Backend = (*RedisBackend)(nil)
