// Package vcs performs the version-control side of a run: branch selection,
// per-step commits, pushes and merge requests.
//
// Every git and gh invocation goes through a runner.Runner with an argv
// slice and a bounded timeout. Transient failures (lock contention, flaky
// remotes, timeouts) are retried with capped exponential backoff; anything
// else fails immediately with a *VcsError.
package vcs

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/entrhq/anvil/pkg/runner"
)

// DirtyTreePolicy selects what EnsureBranch does with uncommitted changes.
type DirtyTreePolicy string

const (
	DirtyTreeAutoStash DirtyTreePolicy = "auto_stash"
	DirtyTreePrompt    DirtyTreePolicy = "prompt"
	DirtyTreeFail      DirtyTreePolicy = "fail"
)

// Valid reports whether p is a known policy.
func (p DirtyTreePolicy) Valid() bool {
	switch p {
	case DirtyTreeAutoStash, DirtyTreePrompt, DirtyTreeFail:
		return true
	default:
		return false
	}
}

// Config controls a Manager.
type Config struct {
	AuthorName  string
	AuthorEmail string
	Remote      string

	// BranchSafety enables the dirty-tree check before switching branches.
	BranchSafety bool
	DirtyTree    DirtyTreePolicy

	// Ignore lists paths, relative to the working directory, whose changes
	// never count as a dirty tree.
	Ignore []string

	GitTimeout     time.Duration
	HostingTimeout time.Duration
	Retry          RetryConfig
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Remote:         "origin",
		BranchSafety:   true,
		DirtyTree:      DirtyTreeAutoStash,
		GitTimeout:     30 * time.Second,
		HostingTimeout: 60 * time.Second,
		Retry:          DefaultRetryConfig(),
	}
}

// Manager runs VCS operations in one working directory.
type Manager struct {
	dir      string
	runner   runner.Runner
	cfg      Config
	prompter Prompter
}

// New creates a Manager for dir. prompter may be nil when no operator is present.
func New(dir string, r runner.Runner, cfg Config, prompter Prompter) *Manager {
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if !cfg.DirtyTree.Valid() {
		cfg.DirtyTree = DirtyTreeAutoStash
	}
	return &Manager{dir: dir, runner: r, cfg: cfg, prompter: prompter}
}

// CurrentBranch returns the checked-out branch, or "" on a detached HEAD.
func (m *Manager) CurrentBranch(ctx context.Context) (string, error) {
	out, err := m.git(ctx, "current branch", "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// EnsureBranch checks out name, creating it from HEAD when it does not exist.
// When branch safety is on and the tree is dirty, the dirty-tree policy
// decides whether to stash the changes or stop.
func (m *Manager) EnsureBranch(ctx context.Context, name string) error {
	if name == "" {
		return &VcsError{Op: "ensure branch", Err: fmt.Errorf("branch name cannot be empty")}
	}
	if _, err := m.git(ctx, "validate branch name", "check-ref-format", "--branch", name); err != nil {
		return err
	}

	current, err := m.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if current == name {
		return nil
	}

	if m.cfg.BranchSafety {
		if err := m.ensureClean(ctx, name); err != nil {
			return err
		}
	}

	exists, err := m.branchExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		_, err = m.git(ctx, "checkout branch", "checkout", name)
	} else {
		_, err = m.git(ctx, "create branch", "checkout", "-b", name)
	}
	return err
}

func (m *Manager) branchExists(ctx context.Context, name string) (bool, error) {
	res, err := m.exec(ctx, m.cfg.GitTimeout, "git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		return false, &VcsError{Op: "look up branch", Args: []string{name}, Output: res.Combined(), Err: err}
	}
	return res.ExitCode == 0, nil
}

// DirtyPaths lists changed or untracked paths, relative to the working
// directory, excluding the configured ignore list.
func (m *Manager) DirtyPaths(ctx context.Context) ([]string, error) {
	prefix, err := m.git(ctx, "show prefix", "rev-parse", "--show-prefix")
	if err != nil {
		return nil, err
	}
	prefix = strings.TrimSpace(prefix)

	out, err := m.git(ctx, "status", "status", "--porcelain", "-z", "--untracked-files=all")
	if err != nil {
		return nil, err
	}

	entries := strings.Split(out, "\x00")
	var dirty []string
	for i := 0; i < len(entries); i++ {
		entry := entries[i]
		if len(entry) < 4 {
			continue
		}
		status, p := entry[:2], entry[3:]
		if status[0] == 'R' || status[0] == 'C' {
			i++ // the rename source follows
		}
		if prefix != "" {
			if !strings.HasPrefix(p, prefix) {
				dirty = append(dirty, "/"+p)
				continue
			}
			p = strings.TrimPrefix(p, prefix)
		}
		if m.ignored(p) {
			continue
		}
		dirty = append(dirty, p)
	}
	return dirty, nil
}

func (m *Manager) ignored(p string) bool {
	for _, ig := range m.cfg.Ignore {
		ig = strings.TrimSuffix(path.Clean(ig), "/")
		if p == ig || strings.HasPrefix(p, ig+"/") {
			return true
		}
	}
	return false
}

func (m *Manager) ensureClean(ctx context.Context, target string) error {
	dirty, err := m.DirtyPaths(ctx)
	if err != nil {
		return err
	}
	if len(dirty) == 0 {
		return nil
	}

	switch m.cfg.DirtyTree {
	case DirtyTreeFail:
		return &VcsError{Op: "ensure branch", Args: []string{target}, Output: strings.Join(dirty, "\n"), Err: ErrDirtyTree}
	case DirtyTreePrompt:
		if m.prompter == nil {
			return &VcsError{Op: "ensure branch", Args: []string{target}, Err: fmt.Errorf("%w and no operator to confirm stashing", ErrDirtyTree)}
		}
		ok, err := m.prompter.Confirm(fmt.Sprintf("%d uncommitted change(s) in the working tree. Stash them and switch to %s?", len(dirty), target))
		if err != nil {
			return &VcsError{Op: "ensure branch", Args: []string{target}, Err: err}
		}
		if !ok {
			return &VcsError{Op: "ensure branch", Args: []string{target}, Output: strings.Join(dirty, "\n"), Err: fmt.Errorf("%w: stash declined", ErrDirtyTree)}
		}
	}
	return m.stash(ctx, target)
}

func (m *Manager) stash(ctx context.Context, target string) error {
	args := []string{"stash", "push", "--include-untracked", "-m", "anvil: auto-stash before switching to " + target, "--", ":/"}
	for _, ig := range m.cfg.Ignore {
		args = append(args, ":(exclude)"+ig)
	}
	_, err := m.git(ctx, "stash", args...)
	return err
}

// Commit stages exactly req.Files and commits them with a conventional
// message. It returns the new commit hash, or ErrNothingToCommit when the
// files carry no change.
func (m *Manager) Commit(ctx context.Context, req CommitRequest) (string, error) {
	if len(req.Files) == 0 {
		return "", ErrNothingToCommit
	}

	addArgs := append([]string{"add", "-A", "--"}, req.Files...)
	if _, err := m.git(ctx, "stage files", addArgs...); err != nil {
		return "", err
	}

	diffArgs := append([]string{"diff", "--cached", "--quiet", "--"}, req.Files...)
	res, err := m.exec(ctx, m.cfg.GitTimeout, "git", diffArgs...)
	if err != nil {
		return "", &VcsError{Op: "inspect staged changes", Output: res.Combined(), Err: err}
	}
	if res.ExitCode == 0 {
		return "", ErrNothingToCommit
	}

	var commitArgs []string
	if m.cfg.AuthorName != "" && m.cfg.AuthorEmail != "" {
		commitArgs = append(commitArgs,
			"-c", "user.name="+m.cfg.AuthorName,
			"-c", "user.email="+m.cfg.AuthorEmail,
		)
	}
	commitArgs = append(commitArgs, "commit", "-m", CommitMessage(req))
	if m.cfg.AuthorName != "" && m.cfg.AuthorEmail != "" {
		commitArgs = append(commitArgs, "--author", fmt.Sprintf("%s <%s>", m.cfg.AuthorName, m.cfg.AuthorEmail))
	}
	commitArgs = append(commitArgs, "--")
	commitArgs = append(commitArgs, req.Files...)
	if _, err := m.git(ctx, "commit", commitArgs...); err != nil {
		return "", err
	}

	hash, err := m.git(ctx, "resolve HEAD", "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(hash), nil
}

// Unstage removes files from the index, leaving the working tree alone.
func (m *Manager) Unstage(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return nil
	}
	args := append([]string{"reset", "-q", "--"}, files...)
	_, err := m.git(ctx, "unstage files", args...)
	return err
}

// Push publishes branch to the configured remote and sets its upstream.
func (m *Manager) Push(ctx context.Context, branch string) error {
	if branch == "" {
		var err error
		if branch, err = m.CurrentBranch(ctx); err != nil {
			return err
		}
	}
	_, err := m.gitWithTimeout(ctx, m.cfg.HostingTimeout, "push", "push", "-u", m.cfg.Remote, branch)
	return err
}

// git runs a git subcommand with retries. A non-zero exit is a *VcsError.
func (m *Manager) git(ctx context.Context, op string, args ...string) (string, error) {
	return m.gitWithTimeout(ctx, m.cfg.GitTimeout, op, args...)
}

func (m *Manager) gitWithTimeout(ctx context.Context, timeout time.Duration, op string, args ...string) (string, error) {
	var stdout string
	err := retry(ctx, m.cfg.Retry, func() error {
		res, err := m.exec(ctx, timeout, "git", args...)
		if err != nil {
			return &VcsError{Op: op, Args: args, Output: res.Combined(), Err: err}
		}
		if !res.Success() {
			return &VcsError{Op: op, Args: args, Output: res.Combined(), Err: fmt.Errorf("git exited with status %d", res.ExitCode)}
		}
		stdout = res.Stdout
		return nil
	})
	return stdout, err
}

func (m *Manager) exec(ctx context.Context, timeout time.Duration, name string, args ...string) (runner.Result, error) {
	return m.runner.Run(ctx, runner.Command{
		Name:    name,
		Args:    args,
		Dir:     m.dir,
		Timeout: timeout,
	})
}
