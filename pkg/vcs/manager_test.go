package vcs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/anvil/pkg/manifest"
	"github.com/entrhq/anvil/pkg/runner"
	"github.com/entrhq/anvil/pkg/vcs/vcstest"
)

type mockPrompter struct {
	mock.Mock
}

func (m *mockPrompter) Confirm(question string) (bool, error) {
	args := m.Called(question)
	return args.Bool(0), args.Error(1)
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	return cfg
}

func TestCommit_StagesOnlyStepFiles(t *testing.T) {
	fake := runner.NewFakeRunner().
		On("git diff --cached", runner.Exit(1, "", "")).
		On("git rev-parse HEAD", runner.Exit(0, "abc123\n", ""))
	cfg := fastConfig()
	cfg.AuthorName, cfg.AuthorEmail = "Anvil", "anvil@example.com"
	m := New("/repo", fake, cfg, nil)

	hash, err := m.Commit(context.Background(), CommitRequest{
		StepID: "s1",
		Kind:   manifest.KindCreateFile,
		Files:  []string{"foo.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", hash)

	add := fake.CallsMatching("git add")
	require.Len(t, add, 1)
	assert.Equal(t, []string{"add", "-A", "--", "foo.txt"}, add[0].Args)
	assert.Equal(t, "/repo", add[0].Dir)

	commit := fake.CallsMatching("git -c user.name=Anvil")
	require.Len(t, commit, 1)
	args := commit[0].Args
	assert.Contains(t, args, "--author")
	assert.Equal(t, []string{"--", "foo.txt"}, args[len(args)-2:])
	assert.Contains(t, args, "feat: add foo.txt\n\nStep: s1")
}

func TestCommit_NothingToCommit(t *testing.T) {
	fake := runner.NewFakeRunner().On("git diff --cached", runner.Exit(0, "", ""))
	m := New("/repo", fake, fastConfig(), nil)

	_, err := m.Commit(context.Background(), CommitRequest{StepID: "s1", Files: []string{"a"}})
	assert.ErrorIs(t, err, ErrNothingToCommit)
	assert.Empty(t, fake.CallsMatching("git commit"))

	_, err = m.Commit(context.Background(), CommitRequest{StepID: "s1"})
	assert.ErrorIs(t, err, ErrNothingToCommit)
}

func TestRetry_TransientFailureIsRetried(t *testing.T) {
	attempts := 0
	fake := runner.NewFakeRunner().
		On("git add", func(runner.Command) (runner.Result, error) {
			attempts++
			if attempts < 3 {
				return runner.Result{ExitCode: 128, Stderr: "fatal: Unable to create '/repo/.git/index.lock': File exists."}, nil
			}
			return runner.Result{}, nil
		}).
		On("git diff --cached", runner.Exit(1, "", "")).
		On("git rev-parse HEAD", runner.Exit(0, "def456\n", ""))
	m := New("/repo", fake, fastConfig(), nil)

	hash, err := m.Commit(context.Background(), CommitRequest{StepID: "s1", Files: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, "def456", hash)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustedAttempts(t *testing.T) {
	fake := runner.NewFakeRunner().
		On("git push", runner.Exit(128, "", "fatal: the remote end hung up unexpectedly"))
	m := New("/repo", fake, fastConfig(), nil)

	err := m.Push(context.Background(), "feature")

	var vcsErr *VcsError
	require.ErrorAs(t, err, &vcsErr)
	assert.Equal(t, 3, vcsErr.Attempts)
	assert.Len(t, fake.CallsMatching("git push"), 3)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRetry_PermanentFailureIsNotRetried(t *testing.T) {
	fake := runner.NewFakeRunner().
		On("git push", runner.Exit(1, "", "error: src refspec feature does not match any"))
	m := New("/repo", fake, fastConfig(), nil)

	err := m.Push(context.Background(), "feature")

	var vcsErr *VcsError
	require.ErrorAs(t, err, &vcsErr)
	assert.Equal(t, 1, vcsErr.Attempts)
	assert.Len(t, fake.CallsMatching("git push"), 1)
}

func TestRetry_TimeoutIsTransient(t *testing.T) {
	timeout := &runner.TimeoutError{Command: "git push", Timeout: time.Second}
	fake := runner.NewFakeRunner().On("git push", runner.Fail(timeout))
	m := New("/repo", fake, fastConfig(), nil)

	err := m.Push(context.Background(), "feature")
	assert.True(t, runner.IsTimeout(err))
	assert.Len(t, fake.CallsMatching("git push"), 3)
}

func TestPush_UsesHostingTimeoutAndUpstream(t *testing.T) {
	fake := runner.NewFakeRunner()
	cfg := fastConfig()
	cfg.HostingTimeout = 42 * time.Second
	m := New("/repo", fake, cfg, nil)

	require.NoError(t, m.Push(context.Background(), "feature"))

	push := fake.CallsMatching("git push")
	require.Len(t, push, 1)
	assert.Equal(t, []string{"push", "-u", "origin", "feature"}, push[0].Args)
	assert.Equal(t, 42*time.Second, push[0].Timeout)
}

func dirtyRunner() *runner.FakeRunner {
	return runner.NewFakeRunner().
		On("git branch --show-current", runner.Exit(0, "main\n", "")).
		On("git rev-parse --show-prefix", runner.Exit(0, "\n", "")).
		On("git status", runner.Exit(0, "?? notes.txt\x00 M plan.yaml\x00", "")).
		On("git show-ref", runner.Exit(1, "", ""))
}

func TestEnsureBranch_DirtyTreePolicies(t *testing.T) {
	tests := []struct {
		name      string
		policy    DirtyTreePolicy
		prompt    *bool
		wantErr   bool
		wantStash bool
	}{
		{name: "auto stash", policy: DirtyTreeAutoStash, wantStash: true},
		{name: "fail", policy: DirtyTreeFail, wantErr: true},
		{name: "prompt accepted", policy: DirtyTreePrompt, prompt: boolPtr(true), wantStash: true},
		{name: "prompt declined", policy: DirtyTreePrompt, prompt: boolPtr(false), wantErr: true},
		{name: "prompt without operator", policy: DirtyTreePrompt, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := dirtyRunner()
			cfg := fastConfig()
			cfg.DirtyTree = tt.policy
			cfg.Ignore = []string{"plan.yaml"}

			var prompter Prompter
			var mp *mockPrompter
			if tt.prompt != nil {
				mp = &mockPrompter{}
				mp.On("Confirm", mock.AnythingOfType("string")).Return(*tt.prompt, nil)
				prompter = mp
			}
			m := New("/repo", fake, cfg, prompter)

			err := m.EnsureBranch(context.Background(), "feature/x")

			stash := fake.CallsMatching("git stash")
			checkout := fake.CallsMatching("git checkout")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDirtyTree)
				assert.Empty(t, stash)
				assert.Empty(t, checkout)
			} else {
				require.NoError(t, err)
				require.Len(t, stash, 1)
				assert.Contains(t, stash[0].Args, ":(exclude)plan.yaml")
				require.Len(t, checkout, 1)
				assert.Equal(t, []string{"checkout", "-b", "feature/x"}, checkout[0].Args)
			}
			if mp != nil {
				mp.AssertExpectations(t)
			}
		})
	}
}

func TestEnsureBranch_IgnoredChangesAreClean(t *testing.T) {
	fake := runner.NewFakeRunner().
		On("git branch --show-current", runner.Exit(0, "main\n", "")).
		On("git status", runner.Exit(0, " M plan.yaml\x00?? .anvil/logs/run.log\x00", ""))
	cfg := fastConfig()
	cfg.DirtyTree = DirtyTreeFail
	cfg.Ignore = []string{"plan.yaml", ".anvil"}
	m := New("/repo", fake, cfg, nil)

	require.NoError(t, m.EnsureBranch(context.Background(), "feature/x"))
	assert.Empty(t, fake.CallsMatching("git stash"))
}

func TestEnsureBranch_AlreadyCurrent(t *testing.T) {
	fake := runner.NewFakeRunner().On("git branch --show-current", runner.Exit(0, "feature/x\n", ""))
	m := New("/repo", fake, fastConfig(), nil)

	require.NoError(t, m.EnsureBranch(context.Background(), "feature/x"))
	assert.Empty(t, fake.CallsMatching("git checkout"))
	assert.Empty(t, fake.CallsMatching("git status"))
}

func TestEnsureBranch_InvalidName(t *testing.T) {
	fake := runner.NewFakeRunner().On("git check-ref-format", runner.Exit(1, "", "fatal: 'bad..name' is not a valid branch name"))
	m := New("/repo", fake, fastConfig(), nil)

	var vcsErr *VcsError
	require.ErrorAs(t, m.EnsureBranch(context.Background(), "bad..name"), &vcsErr)
	assert.Empty(t, fake.CallsMatching("git checkout"))
}

func TestDirtyPaths_Subdirectory(t *testing.T) {
	fake := runner.NewFakeRunner().
		On("git rev-parse --show-prefix", runner.Exit(0, "svc/\n", "")).
		On("git status", runner.Exit(0, "R  svc/new.go\x00svc/old.go\x00 M svc/plan.yaml\x00?? other/x.txt\x00", ""))
	cfg := fastConfig()
	cfg.Ignore = []string{"plan.yaml"}
	m := New("/repo/svc", fake, cfg, nil)

	dirty, err := m.DirtyPaths(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"new.go", "/other/x.txt"}, dirty)
}

func TestManager_AgainstRealRepository(t *testing.T) {
	dir := vcstest.NewRepo(t)
	ctx := context.Background()
	m := New(dir, runner.New(time.Minute), DefaultConfig(), nil)

	require.NoError(t, m.EnsureBranch(ctx, "feature/greeting"))
	branch, err := m.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "feature/greeting", branch)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("keep out"), 0o644))

	hash, err := m.Commit(ctx, CommitRequest{StepID: "s1", Kind: manifest.KindCreateFile, Feature: "greeting", Files: []string{"foo.txt"}})
	require.NoError(t, err)
	assert.Equal(t, hash, vcstest.Git(t, dir, "rev-parse", "HEAD"))
	assert.Equal(t, 2, vcstest.CommitCount(t, dir))
	assert.Equal(t, "feat(greeting): add foo.txt", vcstest.Git(t, dir, "log", "-1", "--format=%s"))
	assert.Equal(t, "foo.txt", vcstest.Git(t, dir, "show", "--name-only", "--format=", "HEAD"))

	_, err = m.Commit(ctx, CommitRequest{StepID: "s2", Kind: manifest.KindCreateFile, Files: []string{"foo.txt"}})
	assert.ErrorIs(t, err, ErrNothingToCommit)

	require.NoError(t, os.Remove(filepath.Join(dir, "foo.txt")))
	hash, err = m.Commit(ctx, CommitRequest{StepID: "s3", Kind: manifest.KindDeleteFile, Files: []string{"foo.txt"}})
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.Equal(t, "chore: remove foo.txt", vcstest.Git(t, dir, "log", "-1", "--format=%s"))

	// Switching back stashes the untracked file under the default policy.
	require.NoError(t, m.EnsureBranch(ctx, "main"))
	_, statErr := os.Stat(filepath.Join(dir, "unrelated.txt"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
	assert.True(t, strings.Contains(vcstest.Git(t, dir, "stash", "list"), "auto-stash"))

	// An existing branch is checked out rather than created.
	require.NoError(t, m.EnsureBranch(ctx, "feature/greeting"))
	branch, err = m.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "feature/greeting", branch)
}

func TestUnstage(t *testing.T) {
	dir := vcstest.NewRepo(t)
	ctx := context.Background()
	m := New(dir, runner.New(time.Minute), DefaultConfig(), nil)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	vcstest.Git(t, dir, "add", "a.txt")
	require.NoError(t, m.Unstage(ctx, []string{"a.txt"}))
	assert.Equal(t, "", vcstest.Git(t, dir, "diff", "--cached", "--name-only"))
}

func boolPtr(b bool) *bool { return &b }
