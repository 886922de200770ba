package gitx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// CLI implements Runner by invoking the git binary.
type CLI struct {
	log *slog.Logger
}

// NewCLI returns a Runner that shells out to git.
func NewCLI() *CLI {
	return &CLI{log: slog.Default()}
}

// run executes git with args in dir and returns combined output. The output
// is folded into the error so callers get the git diagnostic verbatim.
func (g *CLI) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("git %s: %w: %s", args[0], err, text)
	}
	return text, nil
}

func (g *CLI) Clone(ctx context.Context, url, dir string) error {
	_, err := g.run(ctx, "", "clone", url, dir)
	return err
}

func (g *CLI) Fetch(ctx context.Context, dir string) error {
	_, err := g.run(ctx, dir, "fetch", "--all", "--prune")
	return err
}

func (g *CLI) Checkout(ctx context.Context, dir, branch string) error {
	_, err := g.run(ctx, dir, "checkout", branch)
	return err
}

func (g *CLI) ResetHard(ctx context.Context, dir, ref string) error {
	_, err := g.run(ctx, dir, "reset", "--hard", ref)
	return err
}

func (g *CLI) CherryPick(ctx context.Context, dir, sha string) error {
	out, err := g.run(ctx, dir, "cherry-pick", "-x", "--allow-empty", sha)
	if err == nil {
		return nil
	}
	// Merge commits need a mainline to pick against.
	if strings.Contains(out, "is a merge but no -m option was given") {
		_, err = g.run(ctx, dir, "cherry-pick", "-x", "--allow-empty", "-m", "1", sha)
	}
	return err
}

func (g *CLI) AbortCherryPick(ctx context.Context, dir string) error {
	_, err := g.run(ctx, dir, "cherry-pick", "--abort")
	return err
}

func (g *CLI) ContainsCommit(ctx context.Context, dir, sha string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "merge-base", "--is-ancestor", sha, "HEAD")
	cmd.Dir = dir
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("git merge-base: %w", err)
}

func (g *CLI) Push(ctx context.Context, dir, branch string) error {
	_, err := g.run(ctx, dir, "push", "origin", branch)
	return err
}

var _ Runner = (*CLI)(nil)
