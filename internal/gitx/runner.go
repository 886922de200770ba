// Package gitx wraps git operations behind a capability interface so the
// replay and workspace layers never shell out directly and tests can run
// against an in-memory repository model.
package gitx

import "context"

// Runner is the git capability surface. Every call takes an explicit
// directory; nothing here mutates the process working directory.
type Runner interface {
	// Clone creates a clone of url at dir.
	Clone(ctx context.Context, url, dir string) error
	// Fetch updates all remote refs in dir.
	Fetch(ctx context.Context, dir string) error
	// Checkout switches dir to branch, creating a local branch tracking the
	// remote one when needed.
	Checkout(ctx context.Context, dir, branch string) error
	// ResetHard resets the current branch of dir to ref.
	ResetHard(ctx context.Context, dir, ref string) error
	// CherryPick applies sha onto the current branch tip. A non-nil error
	// means the pick did not complete and may have left a pick in progress.
	CherryPick(ctx context.Context, dir, sha string) error
	// AbortCherryPick aborts an in-progress pick, restoring the branch to
	// its state before the attempt.
	AbortCherryPick(ctx context.Context, dir string) error
	// ContainsCommit reports whether sha is reachable from the current
	// branch tip.
	ContainsCommit(ctx context.Context, dir, sha string) (bool, error)
	// Push updates the remote branch to the local tip.
	Push(ctx context.Context, dir, branch string) error
}
