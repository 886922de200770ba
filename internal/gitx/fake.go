package gitx

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Fake is an in-memory repository model implementing Runner. It simulates a
// single remote with named branches, a local clone, cherry-pick conflicts for
// configured commits, and push failures. Tests drive the replay and workspace
// layers against it deterministically.
type Fake struct {
	mu sync.Mutex

	remote map[string][]string // branch -> commit history, oldest first
	local  map[string][]string
	branch string // currently checked out
	cloned bool

	// ConflictOn marks commits whose cherry-pick fails with a conflict.
	ConflictOn map[string]bool
	// FailPush, FailFetch, FailClone, FailCheckout force the matching
	// operation to fail.
	FailPush     bool
	FailFetch    bool
	FailClone    bool
	FailCheckout bool

	pickInProgress bool
	Ops            []string // operation log, for assertions
}

// NewFake returns a Fake whose remote holds the given branch histories.
func NewFake(remote map[string][]string) *Fake {
	r := make(map[string][]string, len(remote))
	for b, commits := range remote {
		r[b] = append([]string(nil), commits...)
	}
	return &Fake{
		remote:     r,
		local:      make(map[string][]string),
		ConflictOn: make(map[string]bool),
	}
}

func (f *Fake) record(op string) { f.Ops = append(f.Ops, op) }

func (f *Fake) Clone(ctx context.Context, url, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("clone " + url)
	if f.FailClone {
		return errors.New("clone failed: remote unreachable")
	}
	f.cloned = true
	return nil
}

func (f *Fake) Fetch(ctx context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fetch")
	if f.FailFetch {
		return errors.New("fetch failed: remote unreachable")
	}
	return nil
}

func (f *Fake) Checkout(ctx context.Context, dir, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("checkout " + branch)
	if f.FailCheckout {
		return errors.New("checkout failed")
	}
	if _, ok := f.remote[branch]; !ok {
		if _, ok := f.local[branch]; !ok {
			return fmt.Errorf("checkout failed: no branch %q", branch)
		}
	}
	f.branch = branch
	return nil
}

// ResetHard only models resets to the remote tracking ref, which is the one
// reset the workspace manager performs.
func (f *Fake) ResetHard(ctx context.Context, dir, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reset " + ref)
	f.pickInProgress = false
	remote, ok := f.remote[f.branch]
	if !ok {
		return fmt.Errorf("reset failed: no remote branch %q", f.branch)
	}
	f.local[f.branch] = append([]string(nil), remote...)
	return nil
}

func (f *Fake) CherryPick(ctx context.Context, dir, sha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("cherry-pick " + sha)
	if f.pickInProgress {
		return errors.New("cherry-pick already in progress")
	}
	if f.ConflictOn[sha] {
		f.pickInProgress = true
		return fmt.Errorf("could not apply %s: merge conflict", sha)
	}
	f.local[f.branch] = append(f.local[f.branch], sha)
	return nil
}

func (f *Fake) AbortCherryPick(ctx context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("abort")
	if !f.pickInProgress {
		return errors.New("no cherry-pick in progress")
	}
	f.pickInProgress = false
	return nil
}

func (f *Fake) ContainsCommit(ctx context.Context, dir, sha string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.local[f.branch] {
		if c == sha {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) Push(ctx context.Context, dir, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("push " + branch)
	if f.FailPush {
		return errors.New("push failed: remote rejected update")
	}
	if f.pickInProgress {
		return errors.New("push failed: pick in progress")
	}
	f.remote[branch] = append([]string(nil), f.local[branch]...)
	return nil
}

// LocalCommits returns the local history of branch, oldest first.
func (f *Fake) LocalCommits(branch string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.local[branch]...)
}

// RemoteCommits returns the remote history of branch, oldest first.
func (f *Fake) RemoteCommits(branch string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.remote[branch]...)
}

// PickInProgress reports whether an aborted or conflicted pick is pending.
func (f *Fake) PickInProgress() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pickInProgress
}

// Cloned reports whether Clone has been called.
func (f *Fake) Cloned() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cloned
}

var _ Runner = (*Fake)(nil)
