// Package replay applies an ordered list of commits onto a prepared
// workspace branch, skipping commits already present and aborting cleanly on
// conflict.
package replay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/backport-service/internal/gitx"
	"github.com/backport-service/internal/workspace"
)

// ConflictError reports a commit that could not be applied cleanly. Commits
// replayed before it remain applied; the failing commit and everything after
// it are not.
type ConflictError struct {
	SHA    string
	Detail string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cherry-pick conflict on %s: %s", e.SHA, e.Detail)
}

// PushError reports a replay that succeeded locally but could not be pushed.
// The remote is unchanged; the job must be treated as failed.
type PushError struct {
	Branch string
	Err    error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push %s: %v", e.Branch, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

// Result summarizes a successful Apply.
type Result struct {
	Applied []string
	Skipped []string
}

// Engine replays commits through a git Runner.
type Engine struct {
	git gitx.Runner
	log *slog.Logger
}

// NewEngine returns an Engine using the given git capability.
func NewEngine(git gitx.Runner) *Engine {
	return &Engine{git: git, log: slog.Default()}
}

// Apply replays commits in order onto ws's branch and pushes the result.
// Commits already reachable from the branch tip are skipped, which makes
// re-running a job after a full or partial prior success safe: nothing is
// ever applied twice. On conflict the in-progress pick is aborted, leaving
// the branch at its state before the failing attempt, and a ConflictError is
// returned. Push failure after a clean local replay returns a PushError.
func (e *Engine) Apply(ctx context.Context, ws *workspace.Workspace, commits []string) (*Result, error) {
	res := &Result{}
	for _, sha := range commits {
		present, err := e.git.ContainsCommit(ctx, ws.Dir, sha)
		if err != nil {
			return nil, fmt.Errorf("check commit %s: %w", sha, err)
		}
		if present {
			e.log.Debug("commit already present, skipping", "repo", ws.Repo, "sha", sha)
			res.Skipped = append(res.Skipped, sha)
			continue
		}
		if err := e.git.CherryPick(ctx, ws.Dir, sha); err != nil {
			if abortErr := e.git.AbortCherryPick(ctx, ws.Dir); abortErr != nil {
				e.log.Warn("abort cherry-pick", "repo", ws.Repo, "sha", sha, "err", abortErr)
			}
			return nil, &ConflictError{SHA: sha, Detail: err.Error()}
		}
		res.Applied = append(res.Applied, sha)
		e.log.Debug("commit applied", "repo", ws.Repo, "sha", sha)
	}

	if err := e.git.Push(ctx, ws.Dir, ws.Branch); err != nil {
		return nil, &PushError{Branch: ws.Branch, Err: err}
	}
	e.log.Info("replay pushed", "repo", ws.Repo, "branch", ws.Branch,
		"applied", len(res.Applied), "skipped", len(res.Skipped))
	return res, nil
}
