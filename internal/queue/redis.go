package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis implements Store on Redis: a list of ids for FIFO order plus one hash
// per job. LPOP hands each id to exactly one claimant, which is the atomicity
// the claim contract needs even with multiple worker processes.
type Redis struct {
	rdb       redis.UniversalClient
	keyPrefix string
}

// NewRedis returns a Store backed by the given Redis client.
func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb, keyPrefix: "backport"}
}

func (r *Redis) queuedKey() string       { return r.keyPrefix + ":queued" }
func (r *Redis) jobKey(id string) string { return r.keyPrefix + ":job:" + id }

func (r *Redis) Enqueue(ctx context.Context, params EnqueueParams) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:           uuid.NewString(),
		Repository:   params.Repository,
		TargetBranch: params.TargetBranch,
		FilterQuery:  params.FilterQuery,
		CallbackURL:  params.CallbackURL,
		Status:       StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.rdb.HSet(ctx, r.jobKey(job.ID), r.jobFields(job)...).Err(); err != nil {
		return nil, err
	}
	if err := r.rdb.RPush(ctx, r.queuedKey(), job.ID).Err(); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *Redis) ClaimNext(ctx context.Context) (*Job, error) {
	id, err := r.rdb.LPop(ctx, r.queuedKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	now := time.Now().UTC()
	if err := r.rdb.HSet(ctx, r.jobKey(id),
		"status", string(StatusRunning),
		"updated_at", now.Format(time.RFC3339Nano),
	).Err(); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *Redis) Complete(ctx context.Context, id string) error {
	return r.finish(ctx, id, StatusCompleted, "")
}

func (r *Redis) Fail(ctx context.Context, id string, errText string) error {
	return r.finish(ctx, id, StatusFailed, errText)
}

// finish transitions a running job to a terminal state. WATCH on the job key
// keeps the status check and the write atomic against concurrent finishers.
func (r *Redis) finish(ctx context.Context, id string, status Status, errText string) error {
	key := r.jobKey(id)
	return r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "status").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		if Status(current) != StatusRunning {
			return ErrInvalidTransition
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"status", string(status),
				"error", errText,
				"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
			)
			return nil
		})
		return err
	}, key)
}

func (r *Redis) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := r.rdb.HGetAll(ctx, r.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	job := &Job{
		ID:           id,
		Repository:   fields["repository"],
		TargetBranch: fields["target_branch"],
		FilterQuery:  fields["filter_query"],
		CallbackURL:  fields["callback_url"],
		Status:       Status(fields["status"]),
		Error:        fields["error"],
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		job.UpdatedAt = t
	}
	return job, nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) jobFields(job *Job) []interface{} {
	return []interface{}{
		"repository", job.Repository,
		"target_branch", job.TargetBranch,
		"filter_query", job.FilterQuery,
		"callback_url", job.CallbackURL,
		"status", string(job.Status),
		"error", job.Error,
		"created_at", job.CreatedAt.Format(time.RFC3339Nano),
		"updated_at", job.UpdatedAt.Format(time.RFC3339Nano),
	}
}

var _ Store = (*Redis)(nil)
