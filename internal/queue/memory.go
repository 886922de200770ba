package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory implements Store with an in-process map. Used for tests and for
// single-process deployments that do not need durability (QUEUE_DRIVER=memory).
type Memory struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	order []string
}

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*Job)}
}

func (m *Memory) Enqueue(ctx context.Context, params EnqueueParams) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
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
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	out := *job
	return &out, nil
}

func (m *Memory) ClaimNext(ctx context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		job := m.jobs[id]
		if job.Status != StatusQueued {
			continue
		}
		job.Status = StatusRunning
		job.UpdatedAt = time.Now()
		out := *job
		return &out, nil
	}
	return nil, nil
}

func (m *Memory) Complete(ctx context.Context, id string) error {
	return m.finish(id, StatusCompleted, "")
}

func (m *Memory) Fail(ctx context.Context, id string, errText string) error {
	return m.finish(id, StatusFailed, errText)
}

func (m *Memory) finish(id string, status Status, errText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != StatusRunning {
		return ErrInvalidTransition
	}
	job.Status = status
	job.Error = errText
	job.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *job
	return &out, nil
}

var _ Store = (*Memory)(nil)
