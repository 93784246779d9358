// Package queue is the Redis control plane between the API and the workers:
// the pending job list, cancel notifications and per-job progress.
package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cancelChannelSuffix = ":cancel"
	progressKeyPrefix   = "render:progress:"
	progressTTL         = 24 * time.Hour
)

// Progress is the last frame count a worker reported for a job.
type Progress struct {
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RedisQueue struct {
	rdb       *redis.Client
	queueName string
}

func NewRedisQueue(rdb *redis.Client, queueName string) *RedisQueue {
	return &RedisQueue{rdb: rdb, queueName: queueName}
}

// Push appends a job id to the pending list.
func (q *RedisQueue) Push(ctx context.Context, id string) error {
	return q.rdb.LPush(ctx, q.queueName, id).Err()
}

// Pop blocks up to timeout waiting for a job id (BRPOP). It returns "" and a
// nil error when nothing arrived in time.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.queueName).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

// Len reports how many jobs are waiting.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.queueName).Result()
}

// PublishCancel notifies every worker that id should stop.
func (q *RedisQueue) PublishCancel(ctx context.Context, id string) error {
	return q.rdb.Publish(ctx, q.cancelChannel(), id).Err()
}

// SubscribeCancel streams cancelled job ids until ctx is done. The returned
// channel is closed when the subscription ends.
func (q *RedisQueue) SubscribeCancel(ctx context.Context) (<-chan string, error) {
	sub := q.rdb.Subscribe(ctx, q.cancelChannel())
	// Wait for the subscription confirmation so no publish is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- m.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// SetProgress records how many frames of a job have been emitted.
func (q *RedisQueue) SetProgress(ctx context.Context, id string, done, total int) error {
	key := progressKeyPrefix + id
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"done", done,
		"total", total,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, progressTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Progress returns the last reported progress, or nil when none exists.
func (q *RedisQueue) Progress(ctx context.Context, id string) (*Progress, error) {
	vals, err := q.rdb.HGetAll(ctx, progressKeyPrefix+id).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	p := &Progress{}
	p.Done, _ = strconv.Atoi(vals["done"])
	p.Total, _ = strconv.Atoi(vals["total"])
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, vals["updated_at"])
	return p, nil
}

func (q *RedisQueue) cancelChannel() string {
	return q.queueName + cancelChannelSuffix
}
