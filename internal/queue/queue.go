package queue

//go:generate go run go.uber.org/mock/mockgen -destination store_mock.gen.go -package queue . Store

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a job. Terminal states are never left.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Job is one cherry-pick request. Error is set only when Status is failed.
type Job struct {
	ID           string
	Repository   string
	TargetBranch string
	FilterQuery  string
	CallbackURL  string
	Status       Status
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EnqueueParams are the fields persisted for a new job. Field validation
// happens at the submission boundary before Enqueue is called.
type EnqueueParams struct {
	Repository   string
	TargetBranch string
	FilterQuery  string
	CallbackURL  string
}

// Store is the durable job queue. The worker loop, server, and CLI depend
// only on this interface so the backing store is swappable.
//
// ClaimNext is the single atomic primitive: it must hand the oldest queued
// job to exactly one caller even when multiple workers share the store, and
// returns (nil, nil) when nothing is queued. Complete and Fail reject jobs
// that are not currently running with ErrInvalidTransition.
type Store interface {
	Enqueue(ctx context.Context, params EnqueueParams) (*Job, error)
	ClaimNext(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, errText string) error
	Get(ctx context.Context, id string) (*Job, error)
}
