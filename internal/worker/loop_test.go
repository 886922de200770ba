package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/backport-service/internal/github"
	"github.com/backport-service/internal/gitx"
	"github.com/backport-service/internal/notify"
	"github.com/backport-service/internal/queue"
	"github.com/backport-service/internal/replay"
	"github.com/backport-service/internal/workspace"
)

type stubResolver struct {
	changesets []github.Changeset
	err        error
}

func (r *stubResolver) ListMergedChangesets(ctx context.Context, repo, filterQuery string) ([]github.Changeset, error) {
	return r.changesets, r.err
}

type recordingNotifier struct {
	endpoints []string
	events    []notify.Event
}

func (n *recordingNotifier) Deliver(endpoint string, event notify.Event) {
	n.endpoints = append(n.endpoints, endpoint)
	n.events = append(n.events, event)
}

type harness struct {
	loop     *Loop
	queue    *queue.Memory
	git      *gitx.Fake
	notifier *recordingNotifier
}

func newHarness(t *testing.T, remote map[string][]string, resolver Resolver) *harness {
	t.Helper()
	q := queue.NewMemory()
	git := gitx.NewFake(remote)
	mgr := workspace.NewManager(t.TempDir(), "https://github.com", "tok", git)
	n := &recordingNotifier{}
	return &harness{
		loop:     NewLoop(q, resolver, mgr, replay.NewEngine(git), n, 10*time.Millisecond),
		queue:    q,
		git:      git,
		notifier: n,
	}
}

func (h *harness) claim(t *testing.T, ctx context.Context) *queue.Job {
	t.Helper()
	if _, err := h.queue.Enqueue(ctx, queue.EnqueueParams{
		Repository:   "org/app",
		TargetBranch: "release/2.1",
		FilterQuery:  "label:backport",
		CallbackURL:  "https://hooks.example.com/done",
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := h.queue.ClaimNext(ctx)
	if err != nil || job == nil {
		t.Fatalf("ClaimNext: job=%v err=%v", job, err)
	}
	return job
}

func mergedChangesets() []github.Changeset {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []github.Changeset{
		{Number: 2, Title: "fix B", MergedAt: base, MergeCommitSHA: "c_B"},
		{Number: 1, Title: "fix A", MergedAt: base.Add(time.Hour), MergeCommitSHA: "c_A"},
		{Number: 3, Title: "fix C", MergedAt: base.Add(2 * time.Hour), MergeCommitSHA: "c_C"},
	}
}

func TestExecute_AppliesChangesetsAndCompletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string][]string{"release/2.1": {"base"}},
		&stubResolver{changesets: mergedChangesets()})
	job := h.claim(t, ctx)

	h.loop.execute(ctx, job)

	got, err := h.queue.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != queue.StatusCompleted {
		t.Fatalf("status = %q, want %q", got.Status, queue.StatusCompleted)
	}
	wantRemote := []string{"base", "c_B", "c_A", "c_C"}
	remote := h.git.RemoteCommits("release/2.1")
	if len(remote) != len(wantRemote) {
		t.Fatalf("remote = %v, want %v", remote, wantRemote)
	}
	for i := range wantRemote {
		if remote[i] != wantRemote[i] {
			t.Fatalf("remote = %v, want %v", remote, wantRemote)
		}
	}
	if len(h.notifier.events) != 1 {
		t.Fatalf("got %d notifications, want 1", len(h.notifier.events))
	}
	ev := h.notifier.events[0]
	if h.notifier.endpoints[0] != "https://hooks.example.com/done" {
		t.Errorf("endpoint = %q", h.notifier.endpoints[0])
	}
	if ev.JobID != job.ID || ev.Status != "completed" || ev.Error != nil {
		t.Errorf("event = %+v", ev)
	}
}

func TestExecute_ConflictFailsJobAndLeavesRemoteUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string][]string{"release/2.1": {"base"}},
		&stubResolver{changesets: mergedChangesets()})
	h.git.ConflictOn["c_A"] = true
	job := h.claim(t, ctx)

	h.loop.execute(ctx, job)

	got, err := h.queue.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %q, want %q", got.Status, queue.StatusFailed)
	}
	if !strings.Contains(got.Error, "c_A") {
		t.Errorf("error %q does not name the conflicting commit", got.Error)
	}
	if remote := h.git.RemoteCommits("release/2.1"); len(remote) != 1 || remote[0] != "base" {
		t.Errorf("remote = %v, want [base]", remote)
	}
	if local := h.git.LocalCommits("release/2.1"); len(local) != 2 || local[1] != "c_B" {
		t.Errorf("local = %v, want [base c_B]", local)
	}
	if h.git.PickInProgress() {
		t.Error("cherry-pick left in progress")
	}
	if len(h.notifier.events) != 1 || h.notifier.events[0].Status != "failed" {
		t.Fatalf("notifications = %+v", h.notifier.events)
	}
	if h.notifier.events[0].Error == nil || !strings.Contains(*h.notifier.events[0].Error, "c_A") {
		t.Errorf("notification error = %v", h.notifier.events[0].Error)
	}
}

func TestExecute_NoChangesetsCompletesWithoutWorkspace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string][]string{"release/2.1": {"base"}}, &stubResolver{})
	job := h.claim(t, ctx)

	h.loop.execute(ctx, job)

	got, _ := h.queue.Get(ctx, job.ID)
	if got.Status != queue.StatusCompleted {
		t.Fatalf("status = %q, want %q", got.Status, queue.StatusCompleted)
	}
	if len(h.git.Ops) != 0 {
		t.Errorf("git touched with no changesets: %v", h.git.Ops)
	}
	if len(h.notifier.events) != 1 || h.notifier.events[0].Status != "completed" {
		t.Fatalf("notifications = %+v", h.notifier.events)
	}
}

func TestExecute_ResolveFailureSkipsWorkspace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string][]string{"release/2.1": {"base"}},
		&stubResolver{err: errors.New("search API: 502")})
	job := h.claim(t, ctx)

	h.loop.execute(ctx, job)

	got, _ := h.queue.Get(ctx, job.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %q, want %q", got.Status, queue.StatusFailed)
	}
	if !strings.Contains(got.Error, "resolve changesets") {
		t.Errorf("error = %q", got.Error)
	}
	if len(h.git.Ops) != 0 {
		t.Errorf("git touched after resolve failure: %v", h.git.Ops)
	}
}

func TestExecute_PrepareFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string][]string{"release/2.1": {"base"}},
		&stubResolver{changesets: mergedChangesets()})
	h.git.FailClone = true
	job := h.claim(t, ctx)

	h.loop.execute(ctx, job)

	got, _ := h.queue.Get(ctx, job.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %q, want %q", got.Status, queue.StatusFailed)
	}
	if !strings.Contains(got.Error, "prepare workspace") {
		t.Errorf("error = %q", got.Error)
	}
}

func TestExecute_ReleasesWorkspaceOnFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string][]string{"release/2.1": {"base"}},
		&stubResolver{changesets: mergedChangesets()})
	h.git.FailPush = true
	job := h.claim(t, ctx)

	h.loop.execute(ctx, job)

	got, _ := h.queue.Get(ctx, job.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %q, want %q", got.Status, queue.StatusFailed)
	}

	// A released workspace can be prepared again.
	h.git.FailPush = false
	job2 := h.claim(t, ctx)
	h.loop.execute(ctx, job2)
	got2, _ := h.queue.Get(ctx, job2.ID)
	if got2.Status != queue.StatusCompleted {
		t.Fatalf("rerun status = %q, want %q", got2.Status, queue.StatusCompleted)
	}
}

func TestExecute_CallbackFailureDoesNotAffectStatus(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory()
	git := gitx.NewFake(map[string][]string{"release/2.1": {"base"}})
	mgr := workspace.NewManager(t.TempDir(), "https://github.com", "tok", git)
	n := notify.NewNotifier()
	l := NewLoop(q, &stubResolver{changesets: mergedChangesets()}, mgr,
		replay.NewEngine(git), n, 10*time.Millisecond)

	if _, err := q.Enqueue(ctx, queue.EnqueueParams{
		Repository:   "org/app",
		TargetBranch: "release/2.1",
		FilterQuery:  "label:backport",
		CallbackURL:  "http://127.0.0.1:1/unreachable",
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := q.ClaimNext(ctx)
	if err != nil || job == nil {
		t.Fatalf("ClaimNext: job=%v err=%v", job, err)
	}

	l.execute(ctx, job)
	n.Wait()

	got, _ := q.Get(ctx, job.ID)
	if got.Status != queue.StatusCompleted {
		t.Fatalf("status = %q, want %q", got.Status, queue.StatusCompleted)
	}
}

func TestRun_ProcessesQueuedJobsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, map[string][]string{"release/2.1": {"base"}},
		&stubResolver{changesets: mergedChangesets()})

	job, err := h.queue.Enqueue(ctx, queue.EnqueueParams{
		Repository:   "org/app",
		TargetBranch: "release/2.1",
		FilterQuery:  "label:backport",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		got, err := h.queue.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status == queue.StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never completed, status = %q", got.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
