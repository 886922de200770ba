// Package workspace owns the local clones replay jobs run in: one clone per
// repository, exclusive to the job holding it, reset to the target branch tip
// before every job.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/backport-service/internal/gitx"
)

// Error wraps a failed workspace operation with its repository and stage.
type Error struct {
	Repo string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("workspace %s: %s: %v", e.Repo, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Workspace is a prepared local clone checked out at the target branch.
// The holder must call Release when done, success or failure.
type Workspace struct {
	Repo   string
	Branch string
	Dir    string

	lock *flock.Flock
}

// Release gives up the exclusivity lock. The clone itself is kept: the
// skip-if-already-present check at the next run depends on it surviving.
func (w *Workspace) Release() {
	if w.lock != nil {
		_ = w.lock.Unlock()
	}
}

// Manager materializes per-repository clones under a root directory.
type Manager struct {
	root       string
	remoteBase string
	token      string
	git        gitx.Runner
	log        *slog.Logger
}

// NewManager returns a Manager cloning from remoteBase (e.g.
// https://github.com) with the given credential.
func NewManager(root, remoteBase, token string, git gitx.Runner) *Manager {
	return &Manager{
		root:       root,
		remoteBase: remoteBase,
		token:      token,
		git:        git,
		log:        slog.Default(),
	}
}

// Prepare returns an exclusive workspace for repo checked out at branch and
// hard-reset to the remote tip. Every job starts from this known-clean base
// regardless of what a prior job left behind.
func (m *Manager) Prepare(ctx context.Context, repo, branch string) (*Workspace, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, &Error{Repo: repo, Op: "create root", Err: err}
	}

	safe := strings.ReplaceAll(repo, "/", "__")
	lock := flock.New(filepath.Join(m.root, safe+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, &Error{Repo: repo, Op: "lock", Err: err}
	}
	if !locked {
		return nil, &Error{Repo: repo, Op: "lock", Err: fmt.Errorf("workspace busy")}
	}

	dir := filepath.Join(m.root, safe)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		m.log.Info("cloning repository", "repo", repo, "dir", dir)
		if err := m.git.Clone(ctx, m.remoteURL(repo), dir); err != nil {
			// A half-finished clone is useless; remove it so the next
			// attempt starts fresh.
			_ = os.RemoveAll(dir)
			_ = lock.Unlock()
			return nil, &Error{Repo: repo, Op: "clone", Err: err}
		}
	}

	for _, step := range []struct {
		op string
		fn func() error
	}{
		{"fetch", func() error { return m.git.Fetch(ctx, dir) }},
		{"checkout", func() error { return m.git.Checkout(ctx, dir, branch) }},
		{"reset", func() error { return m.git.ResetHard(ctx, dir, "origin/"+branch) }},
	} {
		if err := step.fn(); err != nil {
			// Clone is left in place for manual inspection.
			_ = lock.Unlock()
			return nil, &Error{Repo: repo, Op: step.op, Err: err}
		}
	}

	return &Workspace{Repo: repo, Branch: branch, Dir: dir, lock: lock}, nil
}

// remoteURL builds the clone URL, embedding the credential when present.
func (m *Manager) remoteURL(repo string) string {
	base := strings.TrimSuffix(m.remoteBase, "/")
	if m.token != "" {
		if u, err := url.Parse(base); err == nil {
			u.User = url.UserPassword("x-access-token", m.token)
			base = u.String()
		}
	}
	return base + "/" + repo + ".git"
}
