package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/common/metrics"
	"settlement-engine/internal/models"
)

// popDue removes and returns due members in score order. Members carry a
// zero-padded sequence prefix so equal scores pop in push order.
var popDue = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #items > 0 then
  redis.call('ZREM', KEYS[1], unpack(items))
end
return items
`)

// RedisQueue keeps jobs in a sorted set scored by NotBefore in milliseconds.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	logger logger.Logger
}

type RedisQueueOption func(*RedisQueue)

// WithQueueLogger reports members that could not be decoded.
func WithQueueLogger(log logger.Logger) RedisQueueOption {
	return func(q *RedisQueue) { q.logger = logger.ForComponent(log, "redis-queue") }
}

func NewRedisQueue(client redis.UniversalClient, key string, opts ...RedisQueueOption) *RedisQueue {
	q := &RedisQueue{client: client, key: key, logger: logger.NewNoOpLogger()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) seqKey() string {
	return q.key + ":seq"
}

func (q *RedisQueue) Push(ctx context.Context, job models.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	seq, err := q.client.Incr(ctx, q.seqKey()).Result()
	if err != nil {
		return apperrors.NewQueueError("push", err)
	}
	member := fmt.Sprintf("%016x|%s", seq, body)
	if err := q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(job.NotBefore.UnixMilli()),
		Member: member,
	}).Err(); err != nil {
		return apperrors.NewQueueError("push", err)
	}
	return nil
}

func (q *RedisQueue) PopDue(ctx context.Context, now time.Time, max int) ([]models.Job, error) {
	members, err := popDue.Run(ctx, q.client, []string{q.key}, now.UnixMilli(), max).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, apperrors.NewQueueError("pop", err)
	}
	jobs := make([]models.Job, 0, len(members))
	for _, m := range members {
		job, err := decodeMember(m)
		if err != nil {
			// already removed by the script; nothing can execute it
			metrics.SchedulerJobs.WithLabelValues("unknown", "corrupt").Inc()
			q.logger.Error("Dropped corrupt queue member", map[string]interface{}{
				"queue":  q.key,
				"member": truncate(m, 128),
				"error":  err,
			})
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, apperrors.NewQueueError("len", err)
	}
	return int(n), nil
}

func (q *RedisQueue) Scheduled(ctx context.Context, taskType string) (map[string]struct{}, error) {
	members, err := q.client.ZRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, apperrors.NewQueueError("scan", err)
	}
	out := make(map[string]struct{})
	for _, m := range members {
		job, err := decodeMember(m)
		if err != nil || job.TaskType != taskType {
			continue
		}
		out[job.ContractID] = struct{}{}
	}
	return out, nil
}

func decodeMember(member string) (models.Job, error) {
	var job models.Job
	_, body, ok := strings.Cut(member, "|")
	if !ok {
		return job, fmt.Errorf("malformed queue member")
	}
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return job, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
