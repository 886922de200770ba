// Package worker drives claimed jobs through resolution, workspace
// preparation, and replay, then records the terminal state and dispatches
// the outcome notification.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/backport-service/internal/github"
	"github.com/backport-service/internal/notify"
	"github.com/backport-service/internal/queue"
	"github.com/backport-service/internal/replay"
	"github.com/backport-service/internal/workspace"
)

// Resolver lists merged changesets (e.g. github.Client).
type Resolver interface {
	ListMergedChangesets(ctx context.Context, repo, filterQuery string) ([]github.Changeset, error)
}

// Workspaces prepares exclusive clones (e.g. workspace.Manager).
type Workspaces interface {
	Prepare(ctx context.Context, repo, branch string) (*workspace.Workspace, error)
}

// Replayer applies commits to a workspace (e.g. replay.Engine).
type Replayer interface {
	Apply(ctx context.Context, ws *workspace.Workspace, commits []string) (*replay.Result, error)
}

// Notifier dispatches outcome events (e.g. notify.Notifier).
type Notifier interface {
	Deliver(endpoint string, event notify.Event)
}

// Loop is the single job consumer: claim, execute, terminate, notify.
type Loop struct {
	queue        queue.Store
	resolver     Resolver
	workspaces   Workspaces
	replayer     Replayer
	notifier     Notifier
	pollInterval time.Duration
	log          *slog.Logger
}

// NewLoop returns a worker loop polling the queue at pollInterval.
func NewLoop(q queue.Store, r Resolver, w Workspaces, rp Replayer, n Notifier, pollInterval time.Duration) *Loop {
	return &Loop{
		queue:        q,
		resolver:     r,
		workspaces:   w,
		replayer:     rp,
		notifier:     n,
		pollInterval: pollInterval,
		log:          slog.Default(),
	}
}

// Run claims and executes jobs until ctx is cancelled. A claim failure means
// the queue store is unreachable, which is fatal: the error is returned for
// the process to act on. Job-stage failures never escape; they become failed
// jobs.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("worker running", "poll_interval", l.pollInterval)
	for {
		select {
		case <-ctx.Done():
			l.log.Info("worker stopping")
			return nil
		default:
		}
		job, err := l.queue.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.log.Info("worker stopping")
				return nil
			}
			return fmt.Errorf("claim next job: %w", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				l.log.Info("worker stopping")
				return nil
			case <-time.After(l.pollInterval):
			}
			continue
		}
		l.execute(ctx, job)
	}
}

// execute drives one claimed job to a terminal state.
func (l *Loop) execute(ctx context.Context, job *queue.Job) {
	l.log.Info("job claimed", "job_id", job.ID, "repo", job.Repository,
		"branch", job.TargetBranch, "filter", job.FilterQuery)

	changesets, err := l.resolver.ListMergedChangesets(ctx, job.Repository, job.FilterQuery)
	if err != nil {
		l.fail(ctx, job, fmt.Sprintf("resolve changesets: %v", err))
		return
	}
	if len(changesets) == 0 {
		l.log.Info("no matching changesets", "job_id", job.ID)
		l.complete(ctx, job)
		return
	}

	commits := make([]string, 0, len(changesets))
	for _, cs := range changesets {
		commits = append(commits, cs.MergeCommitSHA)
	}

	ws, err := l.workspaces.Prepare(ctx, job.Repository, job.TargetBranch)
	if err != nil {
		l.fail(ctx, job, fmt.Sprintf("prepare workspace: %v", err))
		return
	}
	res, err := l.replayer.Apply(ctx, ws, commits)
	ws.Release()
	if err != nil {
		l.fail(ctx, job, fmt.Sprintf("replay: %v", err))
		return
	}

	l.log.Info("job finished", "job_id", job.ID,
		"applied", len(res.Applied), "skipped", len(res.Skipped))
	l.complete(ctx, job)
}

func (l *Loop) complete(ctx context.Context, job *queue.Job) {
	if err := l.queue.Complete(ctx, job.ID); err != nil {
		l.log.Error("complete job", "job_id", job.ID, "err", err)
		return
	}
	l.notifier.Deliver(job.CallbackURL, notify.Event{
		JobID:      job.ID,
		Status:     string(queue.StatusCompleted),
		Repository: job.Repository,
	})
}

func (l *Loop) fail(ctx context.Context, job *queue.Job, detail string) {
	l.log.Warn("job failed", "job_id", job.ID, "err", detail)
	if err := l.queue.Fail(ctx, job.ID, detail); err != nil {
		l.log.Error("fail job", "job_id", job.ID, "err", err)
		return
	}
	l.notifier.Deliver(job.CallbackURL, notify.Event{
		JobID:      job.ID,
		Status:     string(queue.StatusFailed),
		Repository: job.Repository,
		Error:      &detail,
	})
}
